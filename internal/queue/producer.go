package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/config"
)

// ErrNotConfigured means the queue credentials or id are missing.
var ErrNotConfigured = eris.New("queue: not configured")

// Sender publishes a message body to a queue. *cloudflare.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, queueID string, body any) error
}

// Producer enqueues ingestion requests.
type Producer struct {
	sender  Sender
	queueID string
	missing []string
}

// NewProducer creates a producer for cfg.QueueID. A nil sender leaves the
// producer unconfigured.
func NewProducer(sender Sender, cfg config.QueueConfig) *Producer {
	missing := cfg.Missing()
	if sender == nil && len(missing) == 0 {
		missing = []string{"sender"}
	}
	return &Producer{sender: sender, queueID: cfg.QueueID, missing: missing}
}

// IsConfigured reports whether Enqueue can reach the queue.
func (p *Producer) IsConfigured() bool {
	if len(p.missing) > 0 {
		zap.L().Info("queue: ingest queue not fully configured", zap.Strings("missing", p.missing))
		return false
	}
	return true
}

// Enqueue posts {uploadId} to the ingest queue.
func (p *Producer) Enqueue(ctx context.Context, uploadID int64) error {
	if len(p.missing) > 0 {
		return eris.Wrapf(ErrNotConfigured, "queue: missing %v", p.missing)
	}

	start := time.Now()
	if err := p.sender.Send(ctx, p.queueID, Envelope{UploadID: uploadID}); err != nil {
		return eris.Wrapf(err, "queue: enqueue upload %d", uploadID)
	}
	zap.L().Info("queue: enqueued ingest message",
		zap.Int64("upload_id", uploadID),
		zap.String("queue_id", p.queueID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
