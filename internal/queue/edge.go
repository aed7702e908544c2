package queue

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/ingest"
	"github.com/sells-group/assessment-ingest/internal/model"
	"github.com/sells-group/assessment-ingest/pkg/cloudflare"
)

// EdgeProvider is the provider name recorded for edge extractions.
const EdgeProvider = "cloudflare-workers-ai"

const (
	edgeSystem    = "Extract JSON only. No prose. Strict JSON."
	edgeMaxTokens = 400
)

// EdgeService is the server side of an edge run. *ServiceClient satisfies it.
type EdgeService interface {
	Meta(ctx context.Context, uploadID int64) (*ingest.Meta, error)
	Complete(ctx context.Context, req ingest.CompleteRequest) error
}

// AIRunner runs a Workers AI model. *cloudflare.Client satisfies it.
type AIRunner interface {
	RunAI(ctx context.Context, model string, req cloudflare.AIRequest) (*cloudflare.AIResponse, error)
}

// EdgeRunner extracts in the worker and reports the raw result back to
// the server for validation and persistence.
type EdgeRunner struct {
	service EdgeService
	fetcher ingest.Fetcher
	ai      AIRunner
	model   string
}

// NewEdgeRunner creates an EdgeRunner. An empty model uses
// cloudflare.DefaultVisionModel.
func NewEdgeRunner(service EdgeService, fetcher ingest.Fetcher, ai AIRunner, model string) *EdgeRunner {
	if model == "" {
		model = cloudflare.DefaultVisionModel
	}
	return &EdgeRunner{service: service, fetcher: fetcher, ai: ai, model: model}
}

// Process runs meta, bytes, inference and complete for uploadID. An
// inference failure is reported as a failed extraction, not an error.
func (r *EdgeRunner) Process(ctx context.Context, uploadID int64) error {
	meta, err := r.service.Meta(ctx, uploadID)
	if err != nil {
		return err
	}

	data, err := r.fetcher.GetBytes(ctx, meta.StorageKey)
	if err != nil {
		return eris.Wrapf(err, "queue: object not found for key %s", meta.StorageKey)
	}

	req := ingest.CompleteRequest{
		UploadID: meta.UploadID,
		TypeID:   meta.TypeID,
		TypeSlug: meta.TypeSlug,
		Provider: EdgeProvider,
		Model:    r.model,
		Status:   model.CallFailed,
	}

	resp, err := r.ai.RunAI(ctx, r.model, cloudflare.AIRequest{
		Messages: []cloudflare.AIMessage{
			{Role: "system", Content: edgeSystem},
			{Role: "user", Content: []any{
				cloudflare.TextPart(fmt.Sprintf("Extract fields for assessment type slug %q. Respond with ONLY JSON.", meta.TypeSlug)),
				cloudflare.ImagePart(data, meta.MIME),
			}},
		},
		MaxTokens: edgeMaxTokens,
	})
	if err != nil {
		zap.L().Error("queue: workers ai error",
			zap.Int64("upload_id", uploadID),
			zap.Error(err),
		)
	} else {
		req.RawText = resp.Output()
		if resp.Usage != nil {
			req.Usage = &ingest.CompleteUsage{
				TokensIn:  resp.Usage.PromptTokens,
				TokensOut: resp.Usage.CompletionTokens,
			}
		}
	}
	if req.RawText != "" {
		req.Status = model.CallSucceeded
	}

	return r.service.Complete(ctx, req)
}
