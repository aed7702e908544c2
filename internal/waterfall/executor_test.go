package waterfall

import (
	"context"
	"testing"

	"github.com/sells-group/assessment-ingest/internal/extract"
	"github.com/sells-group/assessment-ingest/internal/model"
	"github.com/sells-group/assessment-ingest/internal/waterfall/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExtractor implements extract.Extractor for testing.
type mockExtractor struct {
	result extract.Result
	calls  int
}

func (m *mockExtractor) Extract(context.Context, extract.Input) extract.Result {
	m.calls++
	return m.result
}

func scored(pct int, modelID string, key string) *mockExtractor {
	return &mockExtractor{result: extract.Result{
		Results:       map[string]any{"type": key},
		ConfidencePct: pct,
		Model:         modelID,
		Usage:         &model.Usage{InputTokens: 100, OutputTokens: 10},
	}}
}

func registryOf(m map[extract.ProviderID]*mockExtractor) *provider.Registry {
	r := provider.NewRegistry()
	for id, ex := range m {
		r.Register(id, ex)
	}
	return r
}

var testInput = extract.Input{Bytes: []byte("img"), MIMEType: "image/png", TypeSlug: "16p"}

func TestRun_EarlyExitOnThreshold(t *testing.T) {
	openai := scored(75, "gpt-4o-mini", "A")
	anthropic := scored(70, "claude", "B")
	google := scored(72, "gemini", "C")
	ex := NewExecutor(registryOf(map[extract.ProviderID]*mockExtractor{
		extract.ProviderOpenAI: openai, extract.ProviderAnthropic: anthropic, extract.ProviderGoogle: google,
	}), TieLatest)

	out, err := ex.Run(context.Background(), testInput,
		[]extract.ProviderID{extract.ProviderOpenAI, extract.ProviderAnthropic, extract.ProviderGoogle}, 60)
	require.NoError(t, err)

	assert.Len(t, out.Attempts, 1)
	assert.Equal(t, 0, anthropic.calls)
	assert.Equal(t, 0, google.calls)
	assert.Equal(t, 75, out.Best.ConfidencePct)
	assert.Equal(t, extract.ProviderOpenAI, out.BestProvider)
	assert.Equal(t, "gpt-4o-mini", out.BestModel)
	assert.True(t, out.ThresholdMet())
}

func TestRun_FallsThroughUntilThreshold(t *testing.T) {
	ex := NewExecutor(registryOf(map[extract.ProviderID]*mockExtractor{
		extract.ProviderOpenAI:    {result: extract.Result{Results: map[string]any{}, Model: "gpt"}},
		extract.ProviderAnthropic: scored(65, "claude", "B"),
		extract.ProviderGoogle:    scored(72, "gemini", "C"),
	}), TieLatest)

	out, err := ex.Run(context.Background(), testInput,
		[]extract.ProviderID{extract.ProviderOpenAI, extract.ProviderAnthropic, extract.ProviderGoogle}, 70)
	require.NoError(t, err)

	require.Len(t, out.Attempts, 3)
	assert.Equal(t, 0, out.Attempts[0].ConfidencePct)
	assert.Equal(t, "gpt", out.Attempts[0].Model)
	assert.Equal(t, 72, out.Best.ConfidencePct)
	assert.Equal(t, extract.ProviderGoogle, out.BestProvider)
	assert.Equal(t, model.Usage{InputTokens: 200, OutputTokens: 20}, out.TotalUsage())
}

func TestRun_AllBelowThresholdKeepsMax(t *testing.T) {
	ex := NewExecutor(registryOf(map[extract.ProviderID]*mockExtractor{
		extract.ProviderOpenAI:    scored(60, "gpt", "A"),
		extract.ProviderAnthropic: scored(40, "claude", "B"),
	}), TieLatest)

	out, err := ex.Run(context.Background(), testInput,
		[]extract.ProviderID{extract.ProviderOpenAI, extract.ProviderAnthropic}, 90)
	require.NoError(t, err)
	assert.Len(t, out.Attempts, 2)
	assert.Equal(t, 60, out.Best.ConfidencePct)
	assert.Equal(t, "A", out.Best.Results["type"])
	assert.False(t, out.ThresholdMet())
}

func TestRun_TieBreak(t *testing.T) {
	chain := []extract.ProviderID{extract.ProviderOpenAI, extract.ProviderAnthropic}
	reg := registryOf(map[extract.ProviderID]*mockExtractor{
		extract.ProviderOpenAI:    scored(50, "gpt", "first"),
		extract.ProviderAnthropic: scored(50, "claude", "second"),
	})

	latest, err := NewExecutor(reg, TieLatest).Run(context.Background(), testInput, chain, 90)
	require.NoError(t, err)
	assert.Equal(t, extract.ProviderAnthropic, latest.BestProvider)
	assert.Equal(t, "second", latest.Best.Results["type"])

	earliest, err := NewExecutor(reg, TieEarliest).Run(context.Background(), testInput, chain, 90)
	require.NoError(t, err)
	assert.Equal(t, extract.ProviderOpenAI, earliest.BestProvider)

	def, err := NewExecutor(reg, "").Run(context.Background(), testInput, chain, 90)
	require.NoError(t, err)
	assert.Equal(t, extract.ProviderAnthropic, def.BestProvider)
}

func TestRun_ZeroResultsAlwaysRecorded(t *testing.T) {
	ex := NewExecutor(registryOf(map[extract.ProviderID]*mockExtractor{
		extract.ProviderGoogle: {result: extract.Result{Model: "gemini"}},
	}), TieLatest)

	out, err := ex.Run(context.Background(), testInput,
		[]extract.ProviderID{extract.ProviderGoogle, extract.ProviderOpenAI}, 60)
	require.NoError(t, err)

	require.Len(t, out.Attempts, 2)
	assert.Equal(t, extract.ProviderOpenAI, out.Attempts[1].Provider)
	assert.Equal(t, 0, out.Attempts[1].ConfidencePct)
	assert.Equal(t, 0, out.Best.ConfidencePct)
	assert.NotNil(t, out.Best.Results)
	assert.Equal(t, extract.ProviderOpenAI, out.BestProvider)
}

func TestRun_ClampsConfidence(t *testing.T) {
	ex := NewExecutor(registryOf(map[extract.ProviderID]*mockExtractor{
		extract.ProviderGoogle: scored(140, "gemini", "X"),
	}), TieLatest)

	out, err := ex.Run(context.Background(), testInput, []extract.ProviderID{extract.ProviderGoogle}, 60)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Best.ConfidencePct)
	assert.Equal(t, 100, out.Attempts[0].ConfidencePct)
}

func TestRun_AttemptCountBounded(t *testing.T) {
	reg := registryOf(map[extract.ProviderID]*mockExtractor{
		extract.ProviderOpenAI:    scored(10, "gpt", "A"),
		extract.ProviderAnthropic: scored(20, "claude", "B"),
		extract.ProviderGoogle:    scored(30, "gemini", "C"),
	})
	chain := []extract.ProviderID{extract.ProviderOpenAI, extract.ProviderAnthropic, extract.ProviderGoogle}
	for _, threshold := range []int{0, 15, 25, 60, 100} {
		out, err := NewExecutor(reg, TieLatest).Run(context.Background(), testInput, chain, threshold)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(out.Attempts), 1)
		assert.LessOrEqual(t, len(out.Attempts), len(chain))
		for _, a := range out.Attempts {
			assert.LessOrEqual(t, a.ConfidencePct, out.Best.ConfidencePct)
		}
	}
}

func TestRun_EmptyChain(t *testing.T) {
	_, err := NewExecutor(provider.NewRegistry(), TieLatest).Run(context.Background(), testInput, nil, 60)
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := NewExecutor(registryOf(map[extract.ProviderID]*mockExtractor{
		extract.ProviderGoogle: scored(90, "gemini", "X"),
	}), TieLatest)
	_, err := ex.Run(ctx, testInput, []extract.ProviderID{extract.ProviderGoogle}, 60)
	assert.ErrorIs(t, err, context.Canceled)
}
