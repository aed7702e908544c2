package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/pkg/cloudflare"
)

// Puller leases and settles queue messages. *cloudflare.Client satisfies it.
type Puller interface {
	Pull(ctx context.Context, queueID string, batchSize int, visibilityTimeout time.Duration) ([]cloudflare.Message, error)
	Ack(ctx context.Context, queueID string, acks []string, retries []cloudflare.Retry) error
	Send(ctx context.Context, queueID string, body any) error
}

// PullConfig tunes a PullLoop.
type PullConfig struct {
	QueueID           string
	BatchSize         int
	VisibilityTimeout time.Duration
	// IdleWait is the pause after an empty pull or a pull error.
	IdleWait time.Duration
	// RetryDelay is how long a failed batch stays invisible.
	RetryDelay time.Duration
	// DeadLetterQueueID receives messages delivered more than
	// MaxRetries+1 times. Empty leaves exhaustion to the queue itself.
	DeadLetterQueueID string
	MaxRetries        int
}

// PullLoop drives a BatchHandler from an HTTP pull consumer. Batches are
// settled as a unit: all leases acked on success, all retried on error.
type PullLoop struct {
	client  Puller
	handler BatchHandler
	cfg     PullConfig
}

// NewPullLoop creates a PullLoop with defaults for unset fields.
func NewPullLoop(client Puller, handler BatchHandler, cfg PullConfig) *PullLoop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = time.Minute
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 2 * time.Second
	}
	return &PullLoop{client: client, handler: handler, cfg: cfg}
}

// Run pulls until ctx is cancelled.
func (l *PullLoop) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("queue_id", l.cfg.QueueID))
	log.Info("queue: pull loop started",
		zap.Int("batch_size", l.cfg.BatchSize),
		zap.Duration("visibility_timeout", l.cfg.VisibilityTimeout),
	)

	for {
		n, err := l.RunOnce(ctx)
		if ctx.Err() != nil {
			log.Info("queue: pull loop stopped")
			return nil
		}
		if err != nil {
			log.Warn("queue: pull cycle failed", zap.Error(err))
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("queue: pull loop stopped")
			return nil
		case <-time.After(l.cfg.IdleWait):
		}
	}
}

// RunOnce pulls and settles a single batch, returning how many messages
// were leased. Handler failures are settled by retry and not returned.
func (l *PullLoop) RunOnce(ctx context.Context) (int, error) {
	msgs, err := l.client.Pull(ctx, l.cfg.QueueID, l.cfg.BatchSize, l.cfg.VisibilityTimeout)
	if err != nil {
		return 0, eris.Wrap(err, "queue: pull")
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	batch := Batch{ID: uuid.NewString(), Queue: l.cfg.QueueID}
	var leases, exhausted []string
	for _, m := range msgs {
		if l.exhausted(m) {
			if err := l.client.Send(ctx, l.cfg.DeadLetterQueueID, m.Body); err != nil {
				zap.L().Error("queue: dead-letter forward failed",
					zap.String("message_id", m.ID),
					zap.Error(err),
				)
				leases = append(leases, m.LeaseID)
				batch.Messages = append(batch.Messages, toBatchMessage(m))
				continue
			}
			zap.L().Warn("queue: message exhausted retries, moved to dead-letter queue",
				zap.String("message_id", m.ID),
				zap.Int("attempts", m.Attempts),
			)
			exhausted = append(exhausted, m.LeaseID)
			continue
		}
		leases = append(leases, m.LeaseID)
		batch.Messages = append(batch.Messages, toBatchMessage(m))
	}

	var handleErr error
	if len(batch.Messages) > 0 {
		handleErr = l.handler.HandleBatch(ctx, batch)
	}

	acks := exhausted
	var retries []cloudflare.Retry
	if handleErr != nil {
		zap.L().Warn("queue: batch failed, retrying all messages",
			zap.String("batch_id", batch.ID),
			zap.Int("messages", len(leases)),
			zap.Error(handleErr),
		)
		for _, lease := range leases {
			retries = append(retries, cloudflare.Retry{LeaseID: lease, Delay: l.cfg.RetryDelay})
		}
	} else {
		acks = append(acks, leases...)
	}

	// Settle even if ctx was cancelled mid-batch so leases are not left
	// to time out.
	if err := l.client.Ack(context.WithoutCancel(ctx), l.cfg.QueueID, acks, retries); err != nil {
		return len(msgs), eris.Wrap(err, "queue: ack")
	}
	return len(msgs), nil
}

// exhausted reports whether m has used its first delivery and every retry.
// Attempts counts deliveries from 1.
func (l *PullLoop) exhausted(m cloudflare.Message) bool {
	return l.cfg.DeadLetterQueueID != "" && l.cfg.MaxRetries > 0 && m.Attempts > l.cfg.MaxRetries+1
}

func toBatchMessage(m cloudflare.Message) BatchMessage {
	return BatchMessage{ID: m.ID, Body: m.Body, Attempts: m.Attempts}
}
