package waterfall

import (
	"github.com/sells-group/assessment-ingest/internal/extract"
	"github.com/sells-group/assessment-ingest/internal/model"
)

// Attempt records one provider invocation, successful or not.
type Attempt struct {
	Provider      extract.ProviderID `json:"provider"`
	Model         string             `json:"model"`
	ConfidencePct int                `json:"confidence_pct"`
	Usage         *model.Usage       `json:"usage,omitempty"`
	Step          extract.Step       `json:"step,omitempty"`
}

// Outcome is the result of running a provider chain.
type Outcome struct {
	Best         extract.Result     `json:"best"`
	BestProvider extract.ProviderID `json:"best_provider"`
	BestModel    string             `json:"best_model"`
	Attempts     []Attempt          `json:"attempts"`
	Threshold    int                `json:"threshold"`
}

// ThresholdMet reports whether the best result reached the threshold.
func (o *Outcome) ThresholdMet() bool {
	return o.Best.ConfidencePct >= o.Threshold
}

// TotalUsage sums usage across attempts.
func (o *Outcome) TotalUsage() model.Usage {
	var total model.Usage
	for _, a := range o.Attempts {
		total.Add(a.Usage)
	}
	return total
}
