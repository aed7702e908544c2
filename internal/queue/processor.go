package queue

import (
	"context"

	"github.com/sells-group/assessment-ingest/internal/ingest"
)

// Processor handles one upload id taken off the queue.
type Processor interface {
	Process(ctx context.Context, uploadID int64) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, uploadID int64) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, uploadID int64) error { return f(ctx, uploadID) }

// JobProcessor runs the ingestion job in-process.
func JobProcessor(job *ingest.Job) ProcessorFunc {
	return func(ctx context.Context, uploadID int64) error {
		_, err := job.Process(ctx, uploadID)
		return err
	}
}

// ServiceProcessor asks the API server to run the job.
func ServiceProcessor(client *ServiceClient) ProcessorFunc {
	return client.Ingest
}
