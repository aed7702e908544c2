package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig             `yaml:"store" mapstructure:"store"`
	Storage   StorageConfig           `yaml:"storage" mapstructure:"storage"`
	Providers ProvidersConfig         `yaml:"providers" mapstructure:"providers"`
	Anthropic ProviderConfig          `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    ProviderConfig          `yaml:"openai" mapstructure:"openai"`
	Google    ProviderConfig          `yaml:"google" mapstructure:"google"`
	Queue     QueueConfig             `yaml:"queue" mapstructure:"queue"`
	Internal  InternalConfig          `yaml:"internal" mapstructure:"internal"`
	Alert     AlertConfig             `yaml:"alert" mapstructure:"alert"`
	Pricing   map[string]ModelPricing `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig            `yaml:"server" mapstructure:"server"`
	Log       LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// StorageConfig configures the object store holding uploaded documents.
type StorageConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Region    string `yaml:"region" mapstructure:"region"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	MaxBytes  int64  `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// ProvidersConfig configures the extraction provider chain.
type ProvidersConfig struct {
	// Primary has no default: an unset primary with an empty chain is a
	// configuration error surfaced by the ingestion job.
	Primary     string  `yaml:"primary" mapstructure:"primary"`
	Chain       string  `yaml:"chain" mapstructure:"chain"`
	Threshold   int     `yaml:"threshold" mapstructure:"threshold"`
	TieBreak    string  `yaml:"tie_break" mapstructure:"tie_break"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	LogRaw      bool    `yaml:"log_raw" mapstructure:"log_raw"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`

	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeout returns the per-call provider timeout.
func (p ProvidersConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// ProviderConfig holds one AI provider's credentials and model.
type ProviderConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// QueueConfig configures the Cloudflare ingest queue and its DLQ.
type QueueConfig struct {
	AccountID           string `yaml:"account_id" mapstructure:"account_id"`
	APIToken            string `yaml:"api_token" mapstructure:"api_token"`
	QueueID             string `yaml:"queue_id" mapstructure:"queue_id"`
	DLQID               string `yaml:"dlq_id" mapstructure:"dlq_id"`
	APIBaseURL          string `yaml:"api_base_url" mapstructure:"api_base_url"`
	BatchSize           int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRetries          int    `yaml:"max_retries" mapstructure:"max_retries"`
	MaxWaitMS           int    `yaml:"max_wait_ms" mapstructure:"max_wait_ms"`
	VisibilityTimeoutMS int    `yaml:"visibility_timeout_ms" mapstructure:"visibility_timeout_ms"`
	RetryDelaySecs      int    `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
}

// Configured reports whether the producer has everything it needs.
func (q QueueConfig) Configured() bool {
	return len(q.Missing()) == 0
}

// Missing lists the unset producer settings by their legacy env names.
func (q QueueConfig) Missing() []string {
	var missing []string
	if q.AccountID == "" {
		missing = append(missing, "CF_ACCOUNT_ID")
	}
	if q.APIToken == "" {
		missing = append(missing, "CF_API_TOKEN")
	}
	if q.QueueID == "" {
		missing = append(missing, "CF_AI_INGEST_QUEUE_ID")
	}
	return missing
}

// InternalConfig configures the internal service contract.
type InternalConfig struct {
	// BaseURL, when set, makes the queue consumer call the service over
	// HTTP instead of running the job in-process.
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Secret    string `yaml:"secret" mapstructure:"secret"`
	EdgeMode  bool   `yaml:"edge_mode" mapstructure:"edge_mode"`
	EdgeModel string `yaml:"edge_model" mapstructure:"edge_model"`
	// TimeoutSecs bounds one whole ingestion job as seen by the queue
	// consumer. Zero derives it from the provider timeout.
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

const (
	// Worst case per job: every provider in the chain runs every rung.
	chainProviders = 3
	ladderCalls    = 4

	// Cloudflare rejects visibility timeouts above 12 hours.
	maxLease = 12 * time.Hour
)

// JobTimeout returns the budget for one ingestion job.
func (c *Config) JobTimeout() time.Duration {
	if c.Internal.TimeoutSecs > 0 {
		return time.Duration(c.Internal.TimeoutSecs) * time.Second
	}
	return chainProviders * ladderCalls * c.Providers.Timeout()
}

// LeaseTimeout returns the visibility timeout for a pulled batch. Jobs in
// a batch run one after another, so the lease must outlast all of them or
// acks arrive after the messages were handed to someone else.
func (c *Config) LeaseTimeout() time.Duration {
	lease := time.Duration(c.Queue.VisibilityTimeoutMS) * time.Millisecond
	batch := c.Queue.BatchSize
	if batch < 1 {
		batch = 1
	}
	if need := time.Duration(batch) * c.JobTimeout(); need > lease {
		lease = need
	}
	if lease > maxLease {
		lease = maxLease
	}
	return lease
}

// AlertConfig configures the alert webhook and background health checks.
type AlertConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdCents   int64   `yaml:"cost_threshold_cents" mapstructure:"cost_threshold_cents"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the internal HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// CORSOrigins is a comma list of browser origins allowed to call the
	// API. Empty disables CORS handling.
	CORSOrigins string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envAliases binds each key to its INGEST_ name followed by the names the
// deployment environment already uses. The first set variable wins.
var envAliases = map[string][]string{
	"providers.primary":   {"AI_PROVIDER"},
	"providers.chain":     {"AI_PROVIDER_CHAIN"},
	"providers.threshold": {"AI_CONFIDENCE_MIN"},
	"providers.log_raw":   {"AI_LOG_RAW"},

	"anthropic.key":   {"ANTHROPIC_API_KEY"},
	"anthropic.model": {"ANTHROPIC_VISION_MODEL"},
	"openai.key":      {"OPENAI_API_KEY"},
	"openai.model":    {"OPENAI_VISION_MODEL"},
	"google.key":      {"GOOGLE_GENERATIVE_AI_API_KEY", "GEMINI_API_KEY"},
	"google.model":    {"GOOGLE_VISION_MODEL"},

	"queue.account_id":  {"CF_ACCOUNT_ID", "CLOUDFLARE_ACCOUNT_ID"},
	"queue.api_token":   {"CF_API_TOKEN", "CLOUDFLARE_API_TOKEN"},
	"queue.queue_id":    {"CF_AI_INGEST_QUEUE_ID", "CLOUDFLARE_AI_INGEST_QUEUE_ID", "CF_AI_INGEST_QUEUE_NAME", "CLOUDFLARE_AI_INGEST_QUEUE_NAME"},
	"queue.dlq_id":      {"CF_AI_INGEST_DLQ_ID", "CF_AI_INGEST_DLQ_NAME"},
	"queue.batch_size":  {"CF_AI_INGEST_BATCH_SIZE"},
	"queue.max_retries": {"CF_AI_INGEST_MAX_RETRIES"},
	"queue.max_wait_ms": {"CF_AI_INGEST_MAX_WAIT_MS"},

	"internal.base_url":   {"INTERNAL_INGEST_BASE_URL"},
	"internal.secret":     {"INTERNAL_API_SECRET"},
	"internal.edge_mode":  {"USE_EDGE_INGEST"},
	"internal.edge_model": {"WORKERS_AI_MODEL"},

	"alert.webhook_url": {"SLACK_WEBHOOK_URL"},

	"server.cors_origins": {"CORS_ORIGIN"},

	"store.database_url": {"DATABASE_URL"},
	"store.max_conns":    {"PG_MAX"},

	"storage.endpoint":   {"R2_ENDPOINT"},
	"storage.bucket":     {"R2_BUCKET"},
	"storage.region":     {"R2_REGION"},
	"storage.access_key": {"R2_ACCESS_KEY_ID"},
	"storage.secret_key": {"R2_SECRET_ACCESS_KEY"},
}

const envPrefix = "INGEST"

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{envName(key)}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("storage.driver", "s3")
	v.SetDefault("storage.endpoint", "http://localhost:9000")
	v.SetDefault("storage.bucket", "assessment-uploads")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.max_bytes", 25<<20)
	v.SetDefault("providers.chain", "")
	v.SetDefault("providers.threshold", 60)
	v.SetDefault("providers.tie_break", "latest")
	v.SetDefault("providers.timeout_secs", 60)
	v.SetDefault("providers.rate_per_sec", 2.0)
	v.SetDefault("providers.burst", 2)
	v.SetDefault("providers.breaker_threshold", 5)
	v.SetDefault("providers.breaker_reset_secs", 60)
	v.SetDefault("anthropic.model", "claude-3-5-sonnet-20240620")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("google.model", "gemini-2.5-flash")
	v.SetDefault("queue.api_base_url", "https://api.cloudflare.com/client/v4")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.max_wait_ms", 2000)
	v.SetDefault("queue.visibility_timeout_ms", 60000)
	v.SetDefault("queue.retry_delay_secs", 30)
	v.SetDefault("internal.edge_model", "@cf/llama-3.2-11b-vision-instruct")
	v.SetDefault("internal.timeout_secs", 0)
	v.SetDefault("alert.failure_rate_threshold", 0.5)
	v.SetDefault("alert.check_interval_secs", 300)
	v.SetDefault("alert.lookback_window_hours", 24)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Mode names the command a Config is validated for.
type Mode string

const (
	ModeServe   Mode = "serve"
	ModeWorker  Mode = "worker"
	ModeDLQ     Mode = "dlq"
	ModeIngest  Mode = "ingest"
	ModeEnqueue Mode = "enqueue"
	ModeMigrate Mode = "migrate"
)

// Validate checks that the settings mode needs are present.
func (c *Config) Validate(mode Mode) error {
	var problems []string
	needStore := func() {
		if c.Store.Driver != "sqlite" && c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required (DATABASE_URL)")
		}
	}
	needStorage := func() {
		if c.Storage.Driver != "memory" && c.Storage.Bucket == "" {
			problems = append(problems, "storage.bucket is required (R2_BUCKET)")
		}
	}
	needQueue := func(id string, name string) {
		if c.Queue.AccountID == "" || c.Queue.APIToken == "" {
			problems = append(problems, "queue.account_id and queue.api_token are required (CF_ACCOUNT_ID, CF_API_TOKEN)")
		}
		if id == "" {
			problems = append(problems, name+" is required")
		}
	}

	switch mode {
	case ModeServe:
		needStore()
		needStorage()
		if c.Internal.Secret == "" {
			problems = append(problems, "internal.secret is required (INTERNAL_API_SECRET)")
		}
	case ModeIngest:
		needStore()
		needStorage()
	case ModeMigrate:
		needStore()
	case ModeEnqueue:
		needQueue(c.Queue.QueueID, "queue.queue_id")
	case ModeWorker:
		needQueue(c.Queue.QueueID, "queue.queue_id")
		switch {
		case c.Internal.BaseURL != "":
			if c.Internal.Secret == "" {
				problems = append(problems, "internal.secret is required when internal.base_url is set")
			}
			if c.Internal.EdgeMode {
				needStorage()
			}
		case c.Internal.EdgeMode:
			problems = append(problems, "internal.edge_mode requires internal.base_url")
		default:
			needStore()
			needStorage()
		}
	case ModeDLQ:
		needQueue(c.Queue.DLQID, "queue.dlq_id")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Providers.Threshold < 0 || c.Providers.Threshold > 100 {
		problems = append(problems, "providers.threshold must be within 0..100")
	}
	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
