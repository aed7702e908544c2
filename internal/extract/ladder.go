package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/assessment-ingest/internal/model"
	"github.com/sells-group/assessment-ingest/internal/resilience"
	"github.com/sells-group/assessment-ingest/internal/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	directSystem     = "Extract structured data for this assessment. Respond ONLY with valid JSON matching the schema. Extract all available fields even if some are missing."
	transcribeSystem = "Extract ALL visible text from the document/image. Include headers, labels, scores, and descriptions. No commentary."
	structureSystem  = "You are a data extraction expert. From the provided text, extract structured JSON that matches the schema. Respond ONLY with JSON."
	scrapeSystem     = "Return ONLY valid JSON. No prose."
)

// LadderConfig tunes one provider's fallback ladder.
type LadderConfig struct {
	DirectConfidence     int
	TranscribeConfidence int
	ScrapeConfidence     int

	DirectMaxTokens     int
	TranscribeMaxTokens int
	StructureMaxTokens  int
	ScrapeMaxTokens     int

	// TranscriptLimit truncates the transcript before structuring (bytes).
	TranscriptLimit int
	// SkipDirectForPDF goes straight to transcription for PDFs.
	SkipDirectForPDF bool
	// LogRaw logs provider payloads at debug level.
	LogRaw bool
}

// DefaultLadderConfig returns the calibrated defaults for a provider.
func DefaultLadderConfig(p ProviderID) LadderConfig {
	switch p {
	case ProviderOpenAI:
		return LadderConfig{
			DirectConfidence:     75,
			TranscribeConfidence: 70,
			ScrapeConfidence:     60,
			DirectMaxTokens:      1000,
			TranscribeMaxTokens:  2000,
			StructureMaxTokens:   1000,
			ScrapeMaxTokens:      400,
			TranscriptLimit:      16000,
			SkipDirectForPDF:     true,
		}
	case ProviderAnthropic:
		return LadderConfig{
			DirectConfidence:     70,
			TranscribeConfidence: 65,
			ScrapeConfidence:     60,
			DirectMaxTokens:      400,
			TranscribeMaxTokens:  500,
			StructureMaxTokens:   400,
			ScrapeMaxTokens:      400,
			TranscriptLimit:      8000,
		}
	default:
		return LadderConfig{
			DirectConfidence:     72,
			TranscribeConfidence: 65,
			ScrapeConfidence:     60,
			DirectMaxTokens:      800,
			TranscribeMaxTokens:  2000,
			StructureMaxTokens:   800,
			ScrapeMaxTokens:      400,
			TranscriptLimit:      8000,
		}
	}
}

// Option configures a Ladder.
type Option func(*Ladder)

// WithRateLimit caps calls per second to the backend.
func WithRateLimit(perSec float64, burst int) Option {
	return func(l *Ladder) {
		if perSec > 0 {
			l.limiter = rate.NewLimiter(rate.Limit(perSec), max(burst, 1))
		}
	}
}

// WithBreaker routes every backend call through cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(l *Ladder) { l.breaker = cb }
}

// WithCallTimeout bounds each backend call.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Ladder) { l.callTimeout = d }
}

// Ladder is the Extractor shared by every provider: direct structured
// output, then transcribe-then-structure, then a free-text JSON scrape.
type Ladder struct {
	provider ProviderID
	backend  Backend
	registry *schema.Registry
	cfg      LadderConfig

	limiter     *rate.Limiter
	breaker     *resilience.CircuitBreaker
	callTimeout time.Duration
}

var _ Extractor = (*Ladder)(nil)

// NewLadder creates the extractor for one provider backend.
func NewLadder(provider ProviderID, backend Backend, registry *schema.Registry, cfg LadderConfig, opts ...Option) *Ladder {
	l := &Ladder{
		provider: provider,
		backend:  backend,
		registry: registry,
		cfg:      cfg,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Provider returns the provider this ladder drives.
func (l *Ladder) Provider() ProviderID { return l.provider }

// stepOutcome is what one rung of the ladder produced.
type stepOutcome struct {
	ok         bool
	results    map[string]any
	confidence int
	err        error
}

type stepFunc func(ctx context.Context, run *ladderRun) stepOutcome

// ladderRun holds the per-call state of one Extract.
type ladderRun struct {
	in     Input
	schema *schema.Schema
	att    *Attachment
	usage  model.Usage
}

// Extract runs the ladder and returns the first acceptable result.
func (l *Ladder) Extract(ctx context.Context, in Input) Result {
	run := &ladderRun{
		in:     in,
		schema: l.registry.Resolve(in.TypeSlug),
		att:    &Attachment{Data: in.Bytes, MIMEType: in.MIMEType},
	}
	log := zap.L().With(
		zap.String("provider", string(l.provider)),
		zap.String("model", l.backend.Model()),
		zap.String("type_slug", in.TypeSlug),
	)

	steps := []struct {
		step Step
		fn   stepFunc
	}{
		{StepDirect, l.direct},
		{StepTranscribe, l.transcribe},
		{StepScrape, l.scrape},
	}

	result := Result{Results: map[string]any{}, Model: l.backend.Model()}
	for _, s := range steps {
		if s.step == StepDirect && l.cfg.SkipDirectForPDF && run.att.IsPDF() {
			log.Debug("extract: skipping direct step for pdf")
			continue
		}

		out := s.fn(ctx, run)
		if out.ok {
			result.Results = out.results
			result.ConfidencePct = model.ClampConfidence(out.confidence)
			result.Step = s.step
			break
		}
		if out.err != nil {
			log.Warn("extract: step failed",
				zap.String("step", string(s.step)),
				zap.String("class", string(resilience.ClassifyError(out.err))),
				zap.Error(out.err),
			)
		}
		if errors.Is(out.err, resilience.ErrCircuitOpen) || ctx.Err() != nil {
			break
		}
	}

	if !run.usage.IsZero() {
		u := run.usage
		result.Usage = &u
	}
	log.Info("extract: done",
		zap.String("step", string(result.Step)),
		zap.Int("confidence_pct", result.ConfidencePct),
	)
	return result
}

func (l *Ladder) direct(ctx context.Context, run *ladderRun) stepOutcome {
	resp, err := l.object(ctx, run, ObjectRequest{
		System:     directSystem,
		Prompt:     fmt.Sprintf("Type slug: %s. Extract all data from this assessment document.", run.in.TypeSlug),
		Attachment: run.att,
		Schema:     run.schema,
		MaxTokens:  l.cfg.DirectMaxTokens,
	})
	if err != nil {
		return stepOutcome{err: err}
	}
	return l.accept(StepDirect, run.schema, resp.Object, l.cfg.DirectConfidence)
}

func (l *Ladder) transcribe(ctx context.Context, run *ladderRun) stepOutcome {
	text, err := l.text(ctx, run, TextRequest{
		System:     transcribeSystem,
		Attachment: run.att,
		MaxTokens:  l.cfg.TranscribeMaxTokens,
	})
	if err != nil {
		return stepOutcome{err: err}
	}
	transcript := strings.TrimSpace(text)
	if transcript == "" {
		return stepOutcome{}
	}
	if l.cfg.TranscriptLimit > 0 && len(transcript) > l.cfg.TranscriptLimit {
		transcript = preview(transcript, l.cfg.TranscriptLimit)
	}
	if l.cfg.LogRaw {
		zap.L().Debug("extract: transcript",
			zap.String("provider", string(l.provider)),
			zap.Int("length", len(transcript)),
			zap.String("preview", preview(transcript, 200)),
		)
	}

	resp, err := l.object(ctx, run, ObjectRequest{
		System: structureSystem,
		Prompt: "Extract assessment data from this text. Return JSON with these fields if present:\n" +
			run.schema.Hint() + "\nText:\n" + transcript,
		Schema:    run.schema,
		MaxTokens: l.cfg.StructureMaxTokens,
	})
	if err != nil {
		return stepOutcome{err: err}
	}
	return l.accept(StepTranscribe, run.schema, resp.Object, l.cfg.TranscribeConfidence)
}

func (l *Ladder) scrape(ctx context.Context, run *ladderRun) stepOutcome {
	raw, err := l.text(ctx, run, TextRequest{
		System: scrapeSystem,
		Prompt: fmt.Sprintf("Type slug: %s. Return ONLY JSON matching this schema:\n%s",
			run.in.TypeSlug, run.schema.DocumentJSON()),
		Attachment: run.att,
		MaxTokens:  l.cfg.ScrapeMaxTokens,
	})
	if err != nil {
		return stepOutcome{err: err}
	}
	obj, ok := ScrapeJSON(raw)
	if !ok {
		if l.cfg.LogRaw {
			zap.L().Debug("extract: no json in reply",
				zap.String("provider", string(l.provider)),
				zap.String("preview", preview(raw, 200)),
			)
		}
		return stepOutcome{}
	}
	return l.accept(StepScrape, run.schema, obj, l.cfg.ScrapeConfidence)
}

// accept applies the checks every rung shares: non-empty, not a schema
// echo, and valid against the schema.
func (l *Ladder) accept(step Step, s *schema.Schema, obj map[string]any, confidence int) stepOutcome {
	if len(obj) == 0 {
		return stepOutcome{}
	}
	if l.cfg.LogRaw {
		zap.L().Debug("extract: object",
			zap.String("provider", string(l.provider)),
			zap.String("step", string(step)),
			zap.Any("object", obj),
		)
	}
	if !s.HasRealData(obj) {
		zap.L().Debug("extract: placeholder object rejected",
			zap.String("provider", string(l.provider)),
			zap.String("step", string(step)),
		)
		return stepOutcome{}
	}
	if err := s.Validate(obj); err != nil {
		return stepOutcome{err: err}
	}
	return stepOutcome{ok: true, results: obj, confidence: confidence}
}

func (l *Ladder) object(ctx context.Context, run *ladderRun, req ObjectRequest) (*ObjectResponse, error) {
	return guarded(ctx, l, run, func(ctx context.Context) (*ObjectResponse, model.Usage, error) {
		resp, err := l.backend.GenerateObject(ctx, req)
		if resp == nil {
			return nil, model.Usage{}, err
		}
		return resp, resp.Usage, err
	})
}

func (l *Ladder) text(ctx context.Context, run *ladderRun, req TextRequest) (string, error) {
	resp, err := guarded(ctx, l, run, func(ctx context.Context) (*TextResponse, model.Usage, error) {
		resp, err := l.backend.GenerateText(ctx, req)
		if resp == nil {
			return nil, model.Usage{}, err
		}
		return resp, resp.Usage, err
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// guarded applies the rate limit, call timeout and circuit breaker to one
// backend call and accumulates its usage.
func guarded[T any](ctx context.Context, l *Ladder, run *ladderRun, fn func(context.Context) (T, model.Usage, error)) (T, error) {
	var zero T
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return zero, err
		}
	}
	if l.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.callTimeout)
		defer cancel()
	}

	call := func(ctx context.Context) (T, error) {
		val, usage, err := fn(ctx)
		run.usage.Add(&usage)
		return val, err
	}
	if l.breaker == nil {
		return call(ctx)
	}
	return resilience.ExecuteVal(ctx, l.breaker, call)
}

// preview cuts s to at most n bytes without splitting a rune.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
