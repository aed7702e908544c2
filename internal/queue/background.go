package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// TaskError reports a failed background ingestion.
type TaskError struct {
	UploadID int64
	Err      error
}

func (e TaskError) Error() string { return e.Err.Error() }

func (e TaskError) Unwrap() error { return e.Err }

// ProcessFunc runs one ingestion.
type ProcessFunc func(ctx context.Context, uploadID int64) error

// BackgroundOption configures a Background runner.
type BackgroundOption func(*Background)

// WithErrorCallback is invoked for every failed task.
func WithErrorCallback(fn func(TaskError)) BackgroundOption {
	return func(b *Background) { b.onError = fn }
}

// WithErrorBuffer sizes the error channel. Errors beyond a full buffer are
// dropped from the channel but still reach the callback.
func WithErrorBuffer(n int) BackgroundOption {
	return func(b *Background) { b.errs = make(chan TaskError, n) }
}

// Background runs ingestions inline in goroutines, for when the queue is
// unavailable.
type Background struct {
	ctx     context.Context
	process ProcessFunc
	onError func(TaskError)
	errs    chan TaskError
	wg      sync.WaitGroup
}

// NewBackground creates a runner whose tasks inherit ctx.
func NewBackground(ctx context.Context, process ProcessFunc, opts ...BackgroundOption) *Background {
	b := &Background{ctx: context.WithoutCancel(ctx), process: process}
	for _, o := range opts {
		o(b)
	}
	if b.errs == nil {
		b.errs = make(chan TaskError, 64)
	}
	return b
}

// Submit starts processing uploadID and returns immediately.
func (b *Background) Submit(uploadID int64) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.process(b.ctx, uploadID); err != nil {
			te := TaskError{UploadID: uploadID, Err: err}
			zap.L().Error("queue: background ingest failed",
				zap.Int64("upload_id", uploadID),
				zap.Error(err),
			)
			if b.onError != nil {
				b.onError(te)
			}
			select {
			case b.errs <- te:
			default:
			}
		}
	}()
}

// Errors exposes failed tasks.
func (b *Background) Errors() <-chan TaskError {
	return b.errs
}

// Wait blocks until every submitted task has finished.
func (b *Background) Wait() {
	b.wg.Wait()
}
