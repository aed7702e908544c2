package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-ingest/internal/ingest"
	"github.com/sells-group/assessment-ingest/internal/resilience"
)

// SecretHeader carries the shared internal secret.
const SecretHeader = "x-internal-secret"

// ServiceClient calls the internal ingest endpoints of the API server.
type ServiceClient struct {
	base   string
	secret string
	http   *http.Client
}

// NewServiceClient creates a client for base (e.g. https://api.example.com).
func NewServiceClient(base, secret string, timeout time.Duration) *ServiceClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ServiceClient{
		base:   strings.TrimRight(base, "/"),
		secret: secret,
		http:   &http.Client{Timeout: timeout},
	}
}

// Timeout returns the budget for a single request to the server.
func (c *ServiceClient) Timeout() time.Duration { return c.http.Timeout }

// Ingest asks the server to process uploadID in-process.
func (c *ServiceClient) Ingest(ctx context.Context, uploadID int64) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/internal/ingest/%d", uploadID), nil)
	return eris.Wrap(err, "queue: internal ingest")
}

// Meta fetches the document metadata for an edge run.
func (c *ServiceClient) Meta(ctx context.Context, uploadID int64) (*ingest.Meta, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/internal/ingest/meta/%d", uploadID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "queue: meta fetch")
	}
	var meta ingest.Meta
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, eris.Wrap(err, "queue: decode meta")
	}
	return &meta, nil
}

// Complete posts an edge extraction for validation and persistence.
func (c *ServiceClient) Complete(ctx context.Context, req ingest.CompleteRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return eris.Wrap(err, "queue: marshal complete")
	}
	_, err = c.do(ctx, http.MethodPost, "/internal/ingest/complete", payload)
	return eris.Wrap(err, "queue: persist")
}

func (c *ServiceClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, eris.Wrap(err, "queue: create request")
	}
	req.Header.Set(SecretHeader, c.secret)
	if payload != nil || method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "queue: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "queue: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.StatusError("internal", resp, respBody)
	}
	return respBody, nil
}
