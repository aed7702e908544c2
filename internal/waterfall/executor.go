package waterfall

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sells-group/assessment-ingest/internal/extract"
	"github.com/sells-group/assessment-ingest/internal/model"
	"github.com/sells-group/assessment-ingest/internal/waterfall/provider"
	"go.uber.org/zap"
)

// Executor runs extractors in chain order until one is confident enough.
type Executor struct {
	registry *provider.Registry
	tieBreak TieBreak
}

// NewExecutor creates a waterfall executor.
func NewExecutor(registry *provider.Registry, tieBreak TieBreak) *Executor {
	if tieBreak == "" {
		tieBreak = TieLatest
	}
	return &Executor{registry: registry, tieBreak: tieBreak}
}

// Run invokes the chain sequentially. Every provider tried is recorded in
// Attempts; iteration stops once the best confidence reaches threshold.
// An empty chain returns ErrEmptyChain.
func (e *Executor) Run(ctx context.Context, in extract.Input, chain []extract.ProviderID, threshold int) (*Outcome, error) {
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}

	out := &Outcome{
		Best:         extract.Result{Results: map[string]any{}},
		BestProvider: chain[0],
		Threshold:    threshold,
		Attempts:     make([]Attempt, 0, len(chain)),
	}
	haveBest := false

	for _, id := range chain {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "waterfall: run")
		}

		res := e.invoke(ctx, id, in)
		res.ConfidencePct = model.ClampConfidence(res.ConfidencePct)
		out.Attempts = append(out.Attempts, Attempt{
			Provider:      id,
			Model:         res.Model,
			ConfidencePct: res.ConfidencePct,
			Usage:         res.Usage,
			Step:          res.Step,
		})

		if !haveBest || e.better(res.ConfidencePct, out.Best.ConfidencePct) {
			out.Best = res
			out.BestProvider = id
			out.BestModel = res.Model
			haveBest = true
		}

		if out.Best.ConfidencePct >= threshold {
			zap.L().Debug("waterfall: threshold met",
				zap.String("provider", string(id)),
				zap.Int("confidence_pct", out.Best.ConfidencePct),
				zap.Int("threshold", threshold),
			)
			break
		}
	}

	if out.Best.Results == nil {
		out.Best.Results = map[string]any{}
	}
	return out, nil
}

func (e *Executor) better(candidate, best int) bool {
	if e.tieBreak == TieEarliest {
		return candidate > best
	}
	return candidate >= best
}

func (e *Executor) invoke(ctx context.Context, id extract.ProviderID, in extract.Input) extract.Result {
	var ex extract.Extractor
	if e.registry != nil {
		ex = e.registry.Get(id)
	}
	if ex == nil {
		zap.L().Warn("waterfall: no extractor registered",
			zap.String("provider", string(id)),
		)
		return extract.Result{Results: map[string]any{}}
	}
	return ex.Extract(ctx, in)
}
