// Package cost prices provider calls from token usage.
package cost

import (
	"math"
	"strings"

	"github.com/sells-group/assessment-ingest/internal/model"
)

// ModelRate holds per-model token pricing in USD per million tokens.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps a model id to its pricing. Lookups fall back to the longest
// configured prefix so dated snapshots share a family rate.
type Rates map[string]ModelRate

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Configured
// rates override the defaults model by model.
func NewCalculator(rates Rates) *Calculator {
	merged := DefaultRates()
	for m, r := range rates {
		merged[strings.ToLower(m)] = r
	}
	return &Calculator{rates: merged}
}

// Rate returns the pricing for modelID and whether one was found.
func (c *Calculator) Rate(modelID string) (ModelRate, bool) {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if r, ok := c.rates[id]; ok {
		return r, true
	}
	best, bestLen := ModelRate{}, 0
	for prefix, r := range c.rates {
		if len(prefix) > bestLen && strings.HasPrefix(id, prefix) {
			best, bestLen = r, len(prefix)
		}
	}
	return best, bestLen > 0
}

// USD computes the dollar cost of usage on modelID. Unknown models cost 0.
func (c *Calculator) USD(modelID string, u *model.Usage) float64 {
	if u.IsZero() {
		return 0
	}
	rate, ok := c.Rate(modelID)
	if !ok {
		return 0
	}
	in := (float64(u.InputTokens) / 1e6) * rate.Input
	out := (float64(u.OutputTokens) / 1e6) * rate.Output
	return in + out
}

// MinorUnits returns the cost in cents, rounded up so any billed call
// records at least one cent.
func (c *Calculator) MinorUnits(modelID string, u *model.Usage) int64 {
	usd := c.USD(modelID, u)
	if usd <= 0 {
		return 0
	}
	return int64(math.Ceil(usd*100 - 1e-9))
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"gpt-4o-mini":       {Input: 0.15, Output: 0.60},
		"gpt-4o":            {Input: 2.50, Output: 10.00},
		"claude-3-5-sonnet": {Input: 3.00, Output: 15.00},
		"claude-sonnet-4-5": {Input: 3.00, Output: 15.00},
		"claude-haiku-4-5":  {Input: 1.00, Output: 5.00},
		"gemini-2.5-flash":  {Input: 0.30, Output: 2.50},
		"gemini-2.5-pro":    {Input: 1.25, Output: 10.00},

		"@cf/llama-3.2-11b-vision-instruct": {Input: 0.049, Output: 0.68},
	}
}
