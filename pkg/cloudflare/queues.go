package cloudflare

import (
	"context"
	"encoding/json"
	"net/url"
	"time"
)

// Message is one leased queue message.
type Message struct {
	ID       string          `json:"id"`
	Body     json.RawMessage `json:"body"`
	LeaseID  string          `json:"lease_id"`
	Attempts int             `json:"attempts"`
	// TimestampMS is the enqueue time in unix milliseconds.
	TimestampMS int64 `json:"timestamp_ms"`
}

// Retry asks for a leased message to be redelivered after Delay.
type Retry struct {
	LeaseID string
	Delay   time.Duration
}

type sendRequest struct {
	Body any `json:"body"`
}

type pullRequest struct {
	BatchSize           int   `json:"batch_size"`
	VisibilityTimeoutMS int64 `json:"visibility_timeout_ms"`
}

type pullResult struct {
	Messages []Message `json:"messages"`
}

type ackLease struct {
	LeaseID string `json:"lease_id"`
}

type retryLease struct {
	LeaseID      string `json:"lease_id"`
	DelaySeconds int    `json:"delay_seconds,omitempty"`
}

type ackRequest struct {
	Acks    []ackLease   `json:"acks"`
	Retries []retryLease `json:"retries"`
}

func queuePath(queueID, suffix string) string {
	return "/queues/" + url.PathEscape(queueID) + "/messages" + suffix
}

// Send publishes body to queueID.
func (c *Client) Send(ctx context.Context, queueID string, body any) error {
	return c.call(ctx, "queue_send", queuePath(queueID, ""), sendRequest{Body: body}, nil)
}

// Pull leases up to batchSize messages for visibilityTimeout.
func (c *Client) Pull(ctx context.Context, queueID string, batchSize int, visibilityTimeout time.Duration) ([]Message, error) {
	var res pullResult
	err := c.call(ctx, "queue_pull", queuePath(queueID, "/pull"), pullRequest{
		BatchSize:           batchSize,
		VisibilityTimeoutMS: visibilityTimeout.Milliseconds(),
	}, &res)
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// Ack acknowledges the given leases and schedules retries for the rest.
func (c *Client) Ack(ctx context.Context, queueID string, acks []string, retries []Retry) error {
	if len(acks) == 0 && len(retries) == 0 {
		return nil
	}
	req := ackRequest{
		Acks:    make([]ackLease, 0, len(acks)),
		Retries: make([]retryLease, 0, len(retries)),
	}
	for _, id := range acks {
		req.Acks = append(req.Acks, ackLease{LeaseID: id})
	}
	for _, r := range retries {
		req.Retries = append(req.Retries, retryLease{LeaseID: r.LeaseID, DelaySeconds: int(r.Delay / time.Second)})
	}
	return c.call(ctx, "queue_ack", queuePath(queueID, "/ack"), req, nil)
}
