// Package queue moves ingestion requests through the durable queue: the
// producer and inline fallback, the batch consumer with its pull loop, and
// the dead-letter handler.
package queue

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// ErrInvalidMessage means a message body carries no usable upload id.
var ErrInvalidMessage = eris.New("queue: invalid message body: missing uploadId")

// Envelope is the queued ingestion request.
type Envelope struct {
	UploadID int64 `json:"uploadId"`
}

// ParseEnvelope extracts the upload id from a message body. The body may
// be the envelope object or a JSON string holding it.
func ParseEnvelope(body json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		body = json.RawMessage(s)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return 0, eris.Wrap(ErrInvalidMessage, "queue: message body not JSON")
	}
	n, ok := fields["uploadId"].(float64)
	if !ok || n <= 0 || n != math.Trunc(n) || n > math.MaxInt64 {
		return 0, ErrInvalidMessage
	}
	return int64(n), nil
}
