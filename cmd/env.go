package main

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/config"
	"github.com/sells-group/assessment-ingest/internal/cost"
	"github.com/sells-group/assessment-ingest/internal/extract"
	"github.com/sells-group/assessment-ingest/internal/ingest"
	"github.com/sells-group/assessment-ingest/internal/resilience"
	"github.com/sells-group/assessment-ingest/internal/schema"
	"github.com/sells-group/assessment-ingest/internal/storage"
	"github.com/sells-group/assessment-ingest/internal/store"
	"github.com/sells-group/assessment-ingest/internal/waterfall"
	"github.com/sells-group/assessment-ingest/internal/waterfall/provider"
	anthropicpkg "github.com/sells-group/assessment-ingest/pkg/anthropic"
	"github.com/sells-group/assessment-ingest/pkg/cloudflare"
	"github.com/sells-group/assessment-ingest/pkg/google"
	"github.com/sells-group/assessment-ingest/pkg/openai"
)

// ingestEnv holds everything the in-process ingestion job needs.
type ingestEnv struct {
	Store    store.Store
	Storage  storage.Store
	Job      *ingest.Job
	Breakers *resilience.ServiceBreakers
}

// Close releases resources held by the environment.
func (e *ingestEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured database.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initStorage returns the document store. The memory driver is for local
// development and tests.
func initStorage(c config.StorageConfig) (storage.Store, error) {
	if c.Driver == "memory" {
		zap.L().Warn("using in-memory object storage")
		return storage.NewMemory(), nil
	}
	return storage.NewMinio(storage.Config{
		Endpoint:  c.Endpoint,
		Bucket:    c.Bucket,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Region:    c.Region,
		UseSSL:    c.UseSSL,
		MaxBytes:  c.MaxBytes,
	})
}

// initEnv builds the store, storage, provider ladders and the job.
// Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config) (*ingestEnv, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	docs, err := initStorage(c.Storage)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	env, err := buildEnv(ctx, c, st, docs)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildEnv wires the job around an already open store and storage.
func buildEnv(ctx context.Context, c *config.Config, st store.Store, docs storage.Store) (*ingestEnv, error) {
	schemas, err := schema.NewRegistry()
	if err != nil {
		return nil, eris.Wrap(err, "build schema registry")
	}

	breakers := newBreakers(c.Providers)
	registry, err := buildProviders(ctx, c, schemas, breakers)
	if err != nil {
		return nil, err
	}
	executor := waterfall.NewExecutor(registry, waterfall.ParseTieBreak(c.Providers.TieBreak))

	job := ingest.NewJob(st, docs, executor, schemas, cost.NewCalculator(pricing(c.Pricing)), settingsFrom(c))
	return &ingestEnv{Store: st, Storage: docs, Job: job, Breakers: breakers}, nil
}

func newBreakers(p config.ProvidersConfig) *resilience.ServiceBreakers {
	return resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: p.BreakerThreshold,
		ResetTimeout:     time.Duration(p.BreakerResetSecs) * time.Second,
		ShouldTrip:       resilience.IsTransient,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			zap.L().Warn("circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// buildProviders registers a ladder for every provider with a key.
// Providers without keys stay unregistered; the waterfall records them as
// zero-confidence attempts.
func buildProviders(ctx context.Context, c *config.Config, schemas *schema.Registry, breakers *resilience.ServiceBreakers) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	ladder := func(id extract.ProviderID, backend extract.Backend) {
		lc := extract.DefaultLadderConfig(id)
		lc.LogRaw = c.Providers.LogRaw
		reg.Register(id, extract.NewLadder(id, backend, schemas, lc,
			extract.WithRateLimit(c.Providers.RatePerSec, c.Providers.Burst),
			extract.WithBreaker(breakers.Get(string(id))),
			extract.WithCallTimeout(c.Providers.Timeout()),
		))
	}

	if c.Google.Key != "" {
		var opts []google.Option
		if c.Google.BaseURL != "" {
			opts = append(opts, google.WithBaseURL(c.Google.BaseURL))
		}
		client, err := google.NewClient(ctx, c.Google.Key, opts...)
		if err != nil {
			return nil, err
		}
		ladder(extract.ProviderGoogle, extract.NewGoogleBackend(client, c.Google.Model))
	}
	if c.OpenAI.Key != "" {
		client := openai.NewClient(c.OpenAI.Key, openai.WithBaseURL(c.OpenAI.BaseURL))
		ladder(extract.ProviderOpenAI, extract.NewOpenAIBackend(client, c.OpenAI.Model))
	}
	if c.Anthropic.Key != "" {
		var opts []anthropicpkg.Option
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
		}
		client := anthropicpkg.NewClient(c.Anthropic.Key, opts...)
		ladder(extract.ProviderAnthropic, extract.NewAnthropicBackend(client, c.Anthropic.Model))
	}

	if len(reg.List()) == 0 {
		zap.L().Warn("no provider keys configured, every extraction will score zero")
	}
	return reg, nil
}

func settingsFrom(c *config.Config) ingest.Settings {
	return ingest.Settings{
		Primary:   c.Providers.Primary,
		Chain:     waterfall.SplitChain(c.Providers.Chain),
		Threshold: c.Providers.Threshold,
		Models: map[extract.ProviderID]string{
			extract.ProviderGoogle:    c.Google.Model,
			extract.ProviderOpenAI:    c.OpenAI.Model,
			extract.ProviderAnthropic: c.Anthropic.Model,
		},
	}
}

func pricing(p map[string]config.ModelPricing) cost.Rates {
	rates := make(cost.Rates, len(p))
	for m, r := range p {
		rates[m] = cost.ModelRate{Input: r.Input, Output: r.Output}
	}
	return rates
}

func newCloudflare(q config.QueueConfig) *cloudflare.Client {
	return cloudflare.NewClient(q.AccountID, q.APIToken, cloudflare.WithBaseURL(q.APIBaseURL))
}

func parseUploadID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid upload id %q", s)
	}
	return id, nil
}
