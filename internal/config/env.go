package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log-forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ProvidersConfig carries credentials and default engines per provider
// family. Keys are supplied here at construction time; the core never
// touches credential storage itself.
type ProvidersConfig struct {
	OpenAIKey    string
	GoogleKey    string
	AnthropicKey string

	DefaultEngine string
}

// RetryConfig shapes the shared retry/escalation policy.
type RetryConfig struct {
	MaxAttempts         int
	MetadataMaxAttempts int
	BaseDelay           time.Duration
	BackoffFactor       float64
	TempGrowth          float64
	TempCap             float64
	TokenBumpAfter      int
	TokenBump           int
	TokenCap            int
}

// TokenConfig is a per-job-type output token ceiling triplet.
type TokenConfig struct {
	Metadata   int
	Pagination int
	Default    int
}

// TokensConfig groups ceilings per provider family.
type TokensConfig struct {
	OpenAI    TokenConfig
	Anthropic TokenConfig
	GeminiMax int
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Concurrency         int
	RequestTimeout      time.Duration
	JobTotalTimeout     time.Duration
	MaxInflightPerModel int
	BreakerBaseBackoff  time.Duration
	BreakerMaxBackoff   time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// ArchiveConfig controls optional S3 archival of completed job results.
type ArchiveConfig struct {
	Enabled  bool
	Bucket   string
	Prefix   string
	Password string // non-empty enables AES-GCM encryption at rest
}

// Config is the top-level configuration.
type Config struct {
	Port      string
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Providers ProvidersConfig
	Retry     RetryConfig
	Tokens    TokensConfig
	Worker    WorkerConfig
	Queue     QueueConfig
	Archive   ArchiveConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Port = getEnv("PORT", "8080")

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/airouter.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_airouter",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Providers = ProvidersConfig{
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		GoogleKey:     getEnv("GOOGLE_API_KEY", ""),
		AnthropicKey:  getEnv("ANTHROPIC_API_KEY", ""),
		DefaultEngine: getEnv("DEFAULT_ENGINE", "gpt-4o"),
	}

	cfg.Retry = RetryConfig{
		MaxAttempts:         parseInt(getEnv("RETRY_MAX_ATTEMPTS", "3"), 3),
		MetadataMaxAttempts: parseInt(getEnv("RETRY_METADATA_MAX_ATTEMPTS", "5"), 5),
		BaseDelay:           parseDuration(getEnv("RETRY_BASE_DELAY", "1s"), time.Second),
		BackoffFactor:       parseFloat(getEnv("RETRY_BACKOFF_FACTOR", "1.5"), 1.5),
		TempGrowth:          parseFloat(getEnv("RETRY_TEMP_GROWTH", "1.25"), 1.25),
		TempCap:             parseFloat(getEnv("RETRY_TEMP_CAP", "1.0"), 1.0),
		TokenBumpAfter:      parseInt(getEnv("RETRY_TOKEN_BUMP_AFTER", "2"), 2),
		TokenBump:           parseInt(getEnv("RETRY_TOKEN_BUMP", "500"), 500),
		TokenCap:            parseInt(getEnv("RETRY_TOKEN_CAP", "4000"), 4000),
	}

	cfg.Tokens = TokensConfig{
		OpenAI: TokenConfig{
			Metadata:   parseInt(getEnv("OPENAI_TOKENS_METADATA", "2000"), 2000),
			Pagination: parseInt(getEnv("OPENAI_TOKENS_PAGINATION", "200"), 200),
			Default:    parseInt(getEnv("OPENAI_TOKENS_DEFAULT", "1500"), 1500),
		},
		Anthropic: TokenConfig{
			Metadata:   parseInt(getEnv("ANTHROPIC_TOKENS_METADATA", "2000"), 2000),
			Pagination: parseInt(getEnv("ANTHROPIC_TOKENS_PAGINATION", "200"), 200),
			Default:    parseInt(getEnv("ANTHROPIC_TOKENS_DEFAULT", "1200"), 1200),
		},
		GeminiMax: parseInt(getEnv("GEMINI_MAX_OUTPUT_TOKENS", "8192"), 8192),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:         parseInt(getEnv("WORKER_CONCURRENCY", "8"), 8),
		RequestTimeout:      parseDuration(getEnv("REQUEST_TIMEOUT", "80s"), 80*time.Second),
		JobTotalTimeout:     parseDuration(getEnv("JOB_TOTAL_TIMEOUT", "10m"), 10*time.Minute),
		MaxInflightPerModel: parseInt(getEnv("MAX_INFLIGHT_PER_MODEL", "2"), 2),
		BreakerBaseBackoff:  parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:   parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:route:docs"),
		Group:        getEnv("QUEUE_GROUP", "workers:router"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
	}

	cfg.Archive = ArchiveConfig{
		Enabled:  parseBool(getEnv("ARCHIVE_RESULTS", "0")),
		Bucket:   getEnv("ARCHIVE_S3_BUCKET", ""),
		Prefix:   getEnv("ARCHIVE_S3_PREFIX", "results"),
		Password: getEnv("ARCHIVE_PASSWORD", ""),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
