package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/metrics"
)

// Notifier posts a human-readable alert. *monitoring.Alerter satisfies it.
type Notifier interface {
	Configured() bool
	Notify(ctx context.Context, text string) error
}

// DeadLetterHandler alerts on messages that exhausted their retries. It
// never retries them and never writes to the store.
type DeadLetterHandler struct {
	notifier Notifier
}

// NewDeadLetterHandler creates a DeadLetterHandler.
func NewDeadLetterHandler(notifier Notifier) *DeadLetterHandler {
	return &DeadLetterHandler{notifier: notifier}
}

// HandleBatch alerts once per message and always returns nil.
func (h *DeadLetterHandler) HandleBatch(ctx context.Context, batch Batch) error {
	for _, msg := range batch.Messages {
		text := DeadLetterText(msg)
		metrics.ObserveMessage(batch.Queue, "dead_letter")

		if h.notifier == nil || !h.notifier.Configured() {
			zap.L().Warn("queue: dlq message (no alert webhook set)", zap.String("text", text))
			continue
		}
		if err := h.notifier.Notify(ctx, text); err != nil {
			zap.L().Error("queue: failed to post dlq alert",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// DeadLetterText formats the alert for one message.
func DeadLetterText(msg BatchMessage) string {
	return fmt.Sprintf("AI ingest DLQ message: %s\n\n%s", msg.ID, bodyText(msg.Body))
}

func bodyText(body json.RawMessage) string {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil {
		return buf.String()
	}
	return string(body)
}
