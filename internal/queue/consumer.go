package queue

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/metrics"
	"github.com/sells-group/assessment-ingest/internal/resilience"
)

// ErrBatchFailed asks the queue to redeliver the whole batch.
var ErrBatchFailed = eris.New("queue: one or more messages failed; requeueing batch")

// BatchMessage is one message in a delivered batch.
type BatchMessage struct {
	ID       string
	Body     json.RawMessage
	Attempts int
}

// Batch is a set of messages delivered together.
type Batch struct {
	ID       string
	Queue    string
	Messages []BatchMessage
}

// BatchHandler consumes a batch. A non-nil error redelivers every message.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch Batch) error
}

// Consumer hands each message of a batch to a Processor.
type Consumer struct {
	proc Processor
}

// NewConsumer creates a Consumer.
func NewConsumer(proc Processor) *Consumer {
	return &Consumer{proc: proc}
}

// HandleBatch processes every message even when some fail, then returns
// ErrBatchFailed if any did.
func (c *Consumer) HandleBatch(ctx context.Context, batch Batch) error {
	log := zap.L().With(zap.String("batch_id", batch.ID), zap.String("queue", batch.Queue))

	failed := 0
	for _, msg := range batch.Messages {
		if err := c.handle(ctx, msg); err != nil {
			failed++
			metrics.ObserveMessage(batch.Queue, metrics.OutcomeFailed)
			log.Error("queue: ingest message failed",
				zap.String("message_id", msg.ID),
				zap.Int("attempts", msg.Attempts),
				zap.String("class", string(resilience.ClassifyError(err))),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveMessage(batch.Queue, metrics.OutcomeSucceeded)
	}

	if failed > 0 {
		return eris.Wrapf(ErrBatchFailed, "queue: %d of %d messages failed", failed, len(batch.Messages))
	}
	log.Debug("queue: batch done", zap.Int("messages", len(batch.Messages)))
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg BatchMessage) error {
	uploadID, err := ParseEnvelope(msg.Body)
	if err != nil {
		return err
	}
	return c.proc.Process(ctx, uploadID)
}
