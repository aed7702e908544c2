package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-ingest/internal/store"
)

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	CallsTotal     int     `json:"calls_total"`
	CallsFailed    int     `json:"calls_failed"`
	FailureRate    float64 `json:"failure_rate"`
	CostMinorUnits int64   `json:"cost_minor_units"`
	NeedsReview    int     `json:"needs_review"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource is the slice of the store the collector reads.
type StatsSource interface {
	CallStats(ctx context.Context, since time.Time) (*store.CallStats, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	src StatsSource
}

// NewCollector creates a new metrics collector.
func NewCollector(src StatsSource) *Collector {
	return &Collector{src: src}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	stats, err := c.src.CallStats(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: call stats")
	}

	snap := &MetricsSnapshot{
		CallsTotal:     stats.Total,
		CallsFailed:    stats.Failed,
		CostMinorUnits: stats.CostMinorUnits,
		NeedsReview:    stats.NeedsReview,
		LookbackHours:  lookbackHours,
		CollectedAt:    now,
	}
	if stats.Total > 0 {
		snap.FailureRate = float64(stats.Failed) / float64(stats.Total)
	}
	return snap, nil
}
