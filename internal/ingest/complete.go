package ingest

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/extract"
	"github.com/sells-group/assessment-ingest/internal/metrics"
	"github.com/sells-group/assessment-ingest/internal/model"
)

var (
	// ErrUploadNotFound means the upload id has no row.
	ErrUploadNotFound = eris.New("ingest: upload not found")
	// ErrTypeNotFound means the upload references a missing assessment type.
	ErrTypeNotFound = eris.New("ingest: assessment type not found")
)

// defaultEdgeConfidence is assigned to non-empty edge results that carry
// no confidence of their own.
const defaultEdgeConfidence = 70

// Meta is what an edge worker needs to run inference itself.
type Meta struct {
	UploadID   int64  `json:"uploadId"`
	StorageKey string `json:"storageKey"`
	MIME       string `json:"mime"`
	TypeID     int64  `json:"typeId"`
	TypeSlug   string `json:"typeSlug"`
}

// Meta returns the document metadata for uploadID.
func (j *Job) Meta(ctx context.Context, uploadID int64) (*Meta, error) {
	upload, err := j.repo.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: load upload %d", uploadID)
	}
	if upload == nil {
		return nil, ErrUploadNotFound
	}
	typ, err := j.repo.GetAssessmentType(ctx, upload.TypeID)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: load type %d", upload.TypeID)
	}
	if typ == nil {
		return nil, ErrTypeNotFound
	}
	return &Meta{
		UploadID:   upload.ID,
		StorageKey: upload.StorageKey,
		MIME:       upload.MIME,
		TypeID:     typ.ID,
		TypeSlug:   typ.Slug,
	}, nil
}

// CompleteUsage is the token count reported by an edge worker.
type CompleteUsage struct {
	TokensIn  int64 `json:"tokensIn" validate:"gte=0"`
	TokensOut int64 `json:"tokensOut" validate:"gte=0"`
}

// CompleteRequest is an edge worker's extraction report.
type CompleteRequest struct {
	UploadID      int64            `json:"uploadId" validate:"required,gt=0"`
	TypeID        int64            `json:"typeId" validate:"required,gt=0"`
	TypeSlug      string           `json:"typeSlug" validate:"required"`
	RawText       string           `json:"rawText,omitempty"`
	ResultsJSON   map[string]any   `json:"resultsJson,omitempty"`
	ConfidencePct *int             `json:"confidencePct,omitempty"`
	Usage         *CompleteUsage   `json:"usage,omitempty"`
	Provider      string           `json:"provider" validate:"required"`
	Model         string           `json:"model"`
	Status        model.CallStatus `json:"status,omitempty" validate:"omitempty,oneof=succeeded failed"`
}

// CompleteResult is returned after an edge report is persisted.
type CompleteResult struct {
	ResultID      int64 `json:"resultId"`
	ConfidencePct int   `json:"confidencePct"`
}

// Complete persists an externally produced extraction the same way
// Process would: upsert the result, move the upload to needs_review and
// append one call log. Results that fail schema validation are kept for
// human review.
func (j *Job) Complete(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	log := zap.L().With(zap.Int64("upload_id", req.UploadID), zap.String("provider", req.Provider))

	results := req.ResultsJSON
	if len(results) == 0 && req.RawText != "" {
		if obj, ok := extract.ScrapeJSON(req.RawText); ok {
			results = obj
		}
	}
	if results == nil {
		results = map[string]any{}
	}
	if j.registry != nil && len(results) > 0 {
		if err := j.registry.Resolve(req.TypeSlug).Validate(results); err != nil {
			log.Warn("ingest: edge result failed validation, keeping for review", zap.Error(err))
		}
	}

	confidence := 0
	switch {
	case req.ConfidencePct != nil:
		confidence = model.ClampConfidence(*req.ConfidencePct)
	case len(results) > 0:
		confidence = defaultEdgeConfidence
	}

	status := req.Status
	if status == "" {
		status = model.CallFailed
		if confidence > 0 {
			status = model.CallSucceeded
		}
	}

	saved, err := j.repo.UpsertResult(ctx, &model.ExtractionResult{
		UploadID:      req.UploadID,
		TypeID:        req.TypeID,
		Results:       results,
		ConfidencePct: confidence,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: upsert edge result")
	}
	metrics.ObserveConfidence(saved.ConfidencePct)

	if err := j.repo.SetUploadStatus(ctx, req.UploadID, model.StatusNeedsReview); err != nil {
		return nil, eris.Wrap(err, "ingest: mark needs_review")
	}

	entry := &model.CallLog{
		UploadID: req.UploadID,
		Provider: req.Provider,
		Model:    req.Model,
		Status:   status,
	}
	if req.Usage != nil {
		usage := &model.Usage{InputTokens: req.Usage.TokensIn, OutputTokens: req.Usage.TokensOut}
		entry.TokensIn = usage.InputTokens
		entry.TokensOut = usage.OutputTokens
		entry.CostMinorUnits = j.costs.MinorUnits(req.Model, usage)
	}
	if err := j.repo.InsertCallLog(ctx, entry); err != nil {
		return nil, eris.Wrap(err, "ingest: edge call log")
	}
	metrics.ObserveAttempt(entry.Provider, "edge", entry.TokensIn, entry.TokensOut)

	log.Info("ingest: edge result stored",
		zap.Int64("result_id", saved.ID),
		zap.Int("confidence_pct", saved.ConfidencePct),
		zap.String("status", string(status)),
	)
	return &CompleteResult{ResultID: saved.ID, ConfidencePct: saved.ConfidencePct}, nil
}

// DecodeCompleteRequest parses a complete body. resultsJson may arrive as
// an object or as a JSON-encoded string.
func DecodeCompleteRequest(data []byte) (*CompleteRequest, error) {
	var wire struct {
		CompleteRequest
		ResultsJSON json.RawMessage `json:"resultsJson,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, eris.Wrap(err, "ingest: decode complete body")
	}
	req := wire.CompleteRequest
	req.ResultsJSON = nil

	raw := wire.ResultsJSON
	if len(raw) == 0 || string(raw) == "null" {
		return &req, nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return &req, nil
		}
		raw = []byte(s)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, eris.Wrap(err, "ingest: resultsJson is not an object")
	}
	req.ResultsJSON = obj
	return &req, nil
}
