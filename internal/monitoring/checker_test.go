package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assessment-ingest/internal/config"
	"github.com/sells-group/assessment-ingest/internal/store"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.AlertConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&fakeStats{stats: &store.CallStats{}}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&fakeStats{stats: &store.CallStats{}}), NewAlerter(config.AlertConfig{}), config.AlertConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
	}))
	defer ts.Close()

	cfg := config.AlertConfig{WebhookURL: ts.URL, BacklogThreshold: 1}
	src := &fakeStats{stats: &store.CallStats{NeedsReview: 4}}
	checker := NewChecker(NewCollector(src), NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background(), 24)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewBacklog, alerts[0].Type)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.AlertConfig{BacklogThreshold: 1}
	checker := NewChecker(NewCollector(&fakeStats{err: assert.AnError}), NewAlerter(cfg), cfg)
	assert.Nil(t, checker.Check(context.Background(), 24))
}
