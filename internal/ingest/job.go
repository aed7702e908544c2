// Package ingest runs the extraction pipeline for one uploaded document
// and persists its result and per-attempt call log.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/cost"
	"github.com/sells-group/assessment-ingest/internal/extract"
	"github.com/sells-group/assessment-ingest/internal/metrics"
	"github.com/sells-group/assessment-ingest/internal/model"
	"github.com/sells-group/assessment-ingest/internal/resilience"
	"github.com/sells-group/assessment-ingest/internal/schema"
	"github.com/sells-group/assessment-ingest/internal/waterfall"
)

// Repository is the persistence the job needs. store.Store satisfies it.
type Repository interface {
	GetUpload(ctx context.Context, id int64) (*model.Upload, error)
	GetAssessmentType(ctx context.Context, id int64) (*model.AssessmentType, error)
	SetUploadStatus(ctx context.Context, id int64, status model.UploadStatus) error
	UpsertResult(ctx context.Context, r *model.ExtractionResult) (*model.ExtractionResult, error)
	InsertCallLog(ctx context.Context, l *model.CallLog) error
	InsertCallLogs(ctx context.Context, logs []*model.CallLog) error
}

// Fetcher loads document bytes by storage key. storage.Store satisfies it.
type Fetcher interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
}

// Runner executes a provider chain. *waterfall.Executor satisfies it.
type Runner interface {
	Run(ctx context.Context, in extract.Input, chain []extract.ProviderID, threshold int) (*waterfall.Outcome, error)
}

// Settings is the provider configuration read on every invocation.
type Settings struct {
	Primary   string
	Chain     []string
	Threshold int
	// Known is the fallback order appended after the configured chain.
	// Empty means extract.KnownProviders.
	Known []extract.ProviderID
	// Models names the configured model per provider for failure logs.
	Models map[extract.ProviderID]string
}

// Outcome summarizes one processed upload.
type Outcome struct {
	ResultID      int64              `json:"result_id"`
	UploadID      int64              `json:"upload_id"`
	ConfidencePct int                `json:"confidence_pct"`
	Provider      extract.ProviderID `json:"provider"`
	Model         string             `json:"model"`
	Threshold     int                `json:"threshold"`
	AttemptCount  int                `json:"attempt_count"`
}

// Job processes uploads end to end.
type Job struct {
	repo     Repository
	fetcher  Fetcher
	runner   Runner
	registry *schema.Registry
	costs    *cost.Calculator
	settings Settings
}

// NewJob creates an ingestion job.
func NewJob(repo Repository, fetcher Fetcher, runner Runner, registry *schema.Registry, costs *cost.Calculator, settings Settings) *Job {
	if costs == nil {
		costs = cost.NewCalculator(nil)
	}
	return &Job{
		repo:     repo,
		fetcher:  fetcher,
		runner:   runner,
		registry: registry,
		costs:    costs,
		settings: settings,
	}
}

// Process runs the provider chain for uploadID and persists the best
// result. It returns nil, nil when the upload or its type no longer
// exists. An empty provider chain fails before any write. Any later
// failure still leaves the upload in needs_review with one failed call
// log, and the error is returned so the caller can redeliver.
func (j *Job) Process(ctx context.Context, uploadID int64) (*Outcome, error) {
	start := time.Now()
	log := zap.L().With(zap.Int64("upload_id", uploadID))

	upload, typ, err := j.load(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if upload == nil || typ == nil {
		log.Info("ingest: upload or type missing, skipping")
		metrics.ObserveJob(metrics.OutcomeSkipped, 0)
		return nil, nil
	}

	chain, err := j.chain()
	if err != nil {
		log.Error("ingest: no usable provider", zap.Error(err))
		metrics.ObserveJob(metrics.OutcomeFailed, time.Since(start).Seconds())
		return nil, eris.Wrap(err, "ingest: resolve chain")
	}
	threshold := waterfall.ThresholdOrDefault(j.settings.Threshold)

	out, err := j.run(ctx, upload, typ, chain, threshold)
	if err != nil {
		log.Error("ingest: job failed",
			zap.String("class", string(resilience.ClassifyError(err))),
			zap.Error(err),
		)
		j.fail(ctx, upload.ID, chain[0])
		metrics.ObserveJob(metrics.OutcomeFailed, time.Since(start).Seconds())
		return nil, err
	}

	log.Info("ingest: job complete",
		zap.Int64("result_id", out.ResultID),
		zap.Int("confidence_pct", out.ConfidencePct),
		zap.String("provider", string(out.Provider)),
		zap.Int("attempts", out.AttemptCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	metrics.ObserveJob(metrics.OutcomeSucceeded, time.Since(start).Seconds())
	return out, nil
}

func (j *Job) load(ctx context.Context, uploadID int64) (*model.Upload, *model.AssessmentType, error) {
	upload, err := j.repo.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: load upload %d", uploadID)
	}
	if upload == nil {
		return nil, nil, nil
	}
	typ, err := j.repo.GetAssessmentType(ctx, upload.TypeID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: load type %d", upload.TypeID)
	}
	return upload, typ, nil
}

func (j *Job) chain() ([]extract.ProviderID, error) {
	known := j.settings.Known
	if len(known) == 0 {
		known = extract.KnownProviders
	}
	return waterfall.ResolveChain(j.settings.Primary, j.settings.Chain, known)
}

func (j *Job) run(ctx context.Context, upload *model.Upload, typ *model.AssessmentType, chain []extract.ProviderID, threshold int) (*Outcome, error) {
	if err := j.repo.SetUploadStatus(ctx, upload.ID, model.StatusProcessing); err != nil {
		return nil, eris.Wrap(err, "ingest: mark processing")
	}

	data, err := j.fetcher.GetBytes(ctx, upload.StorageKey)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: fetch %s", upload.StorageKey)
	}

	wf, err := j.runner.Run(ctx, extract.Input{
		Bytes:    data,
		MIMEType: upload.MIME,
		TypeSlug: typ.Slug,
	}, chain, threshold)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: run chain")
	}

	saved, err := j.repo.UpsertResult(ctx, &model.ExtractionResult{
		UploadID:      upload.ID,
		TypeID:        typ.ID,
		Results:       wf.Best.Results,
		ConfidencePct: wf.Best.ConfidencePct,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: upsert result")
	}
	metrics.ObserveConfidence(saved.ConfidencePct)

	if err := j.repo.SetUploadStatus(ctx, upload.ID, model.StatusNeedsReview); err != nil {
		return nil, eris.Wrap(err, "ingest: mark needs_review")
	}

	// All attempts land together so a failure leaves only the row fail adds.
	entries := make([]*model.CallLog, len(wf.Attempts))
	for i, a := range wf.Attempts {
		entries[i] = j.callLog(upload.ID, a)
	}
	if err := j.repo.InsertCallLogs(ctx, entries); err != nil {
		return nil, eris.Wrap(err, "ingest: call logs")
	}
	for i, a := range wf.Attempts {
		metrics.ObserveAttempt(entries[i].Provider, string(a.Step), entries[i].TokensIn, entries[i].TokensOut)
	}

	return &Outcome{
		ResultID:      saved.ID,
		UploadID:      upload.ID,
		ConfidencePct: saved.ConfidencePct,
		Provider:      wf.BestProvider,
		Model:         wf.BestModel,
		Threshold:     threshold,
		AttemptCount:  len(wf.Attempts),
	}, nil
}

func (j *Job) callLog(uploadID int64, a waterfall.Attempt) *model.CallLog {
	modelID := a.Model
	if modelID == "" {
		modelID = j.settings.Models[a.Provider]
	}
	entry := &model.CallLog{
		UploadID:       uploadID,
		Provider:       string(a.Provider),
		Model:          modelID,
		CostMinorUnits: j.costs.MinorUnits(modelID, a.Usage),
		Status:         model.CallSucceeded,
	}
	if a.Usage != nil {
		entry.TokensIn = a.Usage.InputTokens
		entry.TokensOut = a.Usage.OutputTokens
	}
	return entry
}

// fail forces the upload into needs_review and records one failed call.
// Errors here are logged, not returned: the original failure wins.
func (j *Job) fail(ctx context.Context, uploadID int64, primary extract.ProviderID) {
	// A cancelled ctx must not stop the bookkeeping.
	ctx = context.WithoutCancel(ctx)
	log := zap.L().With(zap.Int64("upload_id", uploadID))

	if err := j.repo.SetUploadStatus(ctx, uploadID, model.StatusNeedsReview); err != nil {
		log.Error("ingest: could not force needs_review", zap.Error(err))
	}
	err := j.repo.InsertCallLog(ctx, &model.CallLog{
		UploadID: uploadID,
		Provider: string(primary),
		Model:    j.settings.Models[primary],
		Status:   model.CallFailed,
	})
	if err != nil {
		log.Error("ingest: could not record failed call", zap.Error(err))
	}
}
