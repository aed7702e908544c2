package queue

import (
	"context"

	"go.uber.org/zap"
)

// Route names where a dispatched upload went.
type Route string

const (
	RouteQueued Route = "queued"
	RouteInline Route = "inline"
)

// Dispatcher sends uploads to the queue, falling back to the background
// runner when the queue is unconfigured or the enqueue fails.
type Dispatcher struct {
	producer   *Producer
	background *Background
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(producer *Producer, background *Background) *Dispatcher {
	return &Dispatcher{producer: producer, background: background}
}

// Dispatch schedules ingestion of uploadID.
func (d *Dispatcher) Dispatch(ctx context.Context, uploadID int64) Route {
	if d.producer != nil && d.producer.IsConfigured() {
		err := d.producer.Enqueue(ctx, uploadID)
		if err == nil {
			return RouteQueued
		}
		zap.L().Warn("queue: enqueue failed, processing inline",
			zap.Int64("upload_id", uploadID),
			zap.Error(err),
		)
	}
	d.background.Submit(uploadID)
	return RouteInline
}
