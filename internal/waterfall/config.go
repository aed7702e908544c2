package waterfall

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sells-group/assessment-ingest/internal/extract"
)

// DefaultThreshold is the confidence at which the chain stops early.
const DefaultThreshold = 60

// ErrEmptyChain means configuration names no usable provider.
var ErrEmptyChain = eris.New("waterfall: provider chain is empty")

// TieBreak decides which result wins when confidences are equal.
type TieBreak string

const (
	// TieLatest lets the most recent attempt win a tie.
	TieLatest TieBreak = "latest"
	// TieEarliest keeps the first attempt on a tie.
	TieEarliest TieBreak = "earliest"
)

// ParseTieBreak maps a config value to a policy. Unknown values fall back
// to TieLatest.
func ParseTieBreak(s string) TieBreak {
	if TieBreak(strings.ToLower(strings.TrimSpace(s))) == TieEarliest {
		return TieEarliest
	}
	return TieLatest
}

// Config controls executor behavior.
type Config struct {
	Threshold int
	TieBreak  TieBreak
}

// ThresholdOrDefault clamps t into [0,100], treating non-positive values
// as unset.
func ThresholdOrDefault(t int) int {
	if t <= 0 {
		return DefaultThreshold
	}
	if t > 100 {
		return 100
	}
	return t
}

// ResolveChain builds the ordered, de-duplicated provider list: primary
// first, then the explicit chain, then every remaining known provider as
// fallback. Unknown names are dropped. Fallbacks are appended only when
// at least one configured entry was valid, so a configuration that names
// nothing usable yields ErrEmptyChain.
func ResolveChain(primary string, explicit []string, known []extract.ProviderID) ([]extract.ProviderID, error) {
	valid := make(map[extract.ProviderID]bool, len(known))
	for _, k := range known {
		valid[k] = true
	}

	var chain []extract.ProviderID
	seen := make(map[extract.ProviderID]bool)
	add := func(name string) {
		id := extract.ProviderID(strings.ToLower(strings.TrimSpace(name)))
		if !valid[id] || seen[id] {
			return
		}
		seen[id] = true
		chain = append(chain, id)
	}

	add(primary)
	for _, name := range explicit {
		add(name)
	}
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	for _, k := range known {
		add(string(k))
	}
	return chain, nil
}

// SplitChain parses a comma-separated chain setting.
func SplitChain(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
