package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file read by Load.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes environment overrides; SCORER_STORAGE__TYPE sets storage.type.
const EnvPrefix = "SCORER_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Scoring   ScoringConfig   `koanf:"scoring"`
	Models    ModelsConfig    `koanf:"models"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
	Backup    BackupConfig    `koanf:"backup"`
}

type ServerConfig struct {
	Port    int        `koanf:"port"`
	Timeout string     `koanf:"timeout"` // Duration string like "30s"
	Auth    AuthConfig `koanf:"auth"`
}

// AuthConfig enables bearer JWT authentication when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, postgres, memory, badger
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Database is the generic database configuration for multi-dialect support
	Database DatabaseConfig `koanf:"database"`
	Badger   BadgerConfig   `koanf:"badger"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

type BadgerConfig struct {
	Dir      string `koanf:"dir"`
	InMemory bool   `koanf:"in_memory"`
}

type IngestConfig struct {
	Workers   int         `koanf:"workers"`
	QueueSize int         `koanf:"queue_size"`
	Redis     RedisConfig `koanf:"redis"`
}

// RedisConfig configures the optional Redis stream event source.
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Stream   string `koanf:"stream"`
	Group    string `koanf:"group"`
	Consumer string `koanf:"consumer"`
	Batch    int    `koanf:"batch"`
	Block    string `koanf:"block"` // Duration string like "5s"
}

type ScoringConfig struct {
	Mode       string           `koanf:"mode"`     // NORMAL or RESCORE
	Strategy   string           `koanf:"strategy"` // AI_JUDGE or SEMANTIC_SIMILARITY
	Similarity SimilarityConfig `koanf:"similarity"`
	MaxSamples int              `koanf:"max_samples"`
	// PassThreshold is the share of passing samples, on a 0-100 scale, an
	// evaluation needs to pass.
	PassThreshold float64 `koanf:"pass_threshold"`
	// BatchConcurrency bounds concurrent scoring in score-all runs.
	BatchConcurrency int `koanf:"batch_concurrency"`
}

type SimilarityConfig struct {
	Threshold float64 `koanf:"threshold"`
}

type ModelsConfig struct {
	Timeout   string          `koanf:"timeout"` // Duration string like "30s"
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	// MaxAttempts bounds calls per model request when the provider answers
	// 429 or 5xx.
	MaxAttempts  int    `koanf:"max_attempts"`
	RetryBackoff string `koanf:"retry_backoff"` // Duration string like "500ms"
	Relevance ModelConfig     `koanf:"relevance"`
	Judge     ModelConfig     `koanf:"judge"`
	Embedding ModelConfig     `koanf:"embedding"`
}

// RateLimitConfig paces calls to external models. Zero disables pacing.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

type ModelConfig struct {
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	Model          string `koanf:"model"`
	MaxInputTokens int    `koanf:"max_input_tokens"`
}

type TelemetryConfig struct {
	ServiceName    string `koanf:"service_name"`
	Traces         string `koanf:"traces"`  // stdout, otlp, none
	Metrics        string `koanf:"metrics"` // otlp, none
	OTLPEndpoint   string `koanf:"otlp_endpoint"`
	MetricInterval string `koanf:"metric_interval"` // Duration string like "15s"
}

type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// BackupConfig controls SQLite snapshots.
type BackupConfig struct {
	OnShutdown bool   `koanf:"on_shutdown"`
	Sink       string `koanf:"sink"` // file, s3, gcs
	Dir        string `koanf:"dir"`
	Bucket     string `koanf:"bucket"`
	Prefix     string `koanf:"prefix"`
	Region     string `koanf:"region"`
	Endpoint   string `koanf:"endpoint"`
}

var defaults = map[string]any{
	"server.port":                           8080,
	"server.timeout":                        "30s",
	"storage.type":                          "sqlite",
	"storage.sqlite.path":                   "interactions.db",
	"storage.badger.dir":                    "data/badger",
	"ingest.workers":                        8,
	"ingest.queue_size":                     256,
	"ingest.redis.stream":                   "interaction-events",
	"ingest.redis.group":                    "interaction-scorer",
	"ingest.redis.consumer":                 "scorer-1",
	"ingest.redis.batch":                    16,
	"ingest.redis.block":                    "5s",
	"scoring.mode":                          "NORMAL",
	"scoring.strategy":                      "AI_JUDGE",
	"scoring.similarity.threshold":          75.0,
	"scoring.max_samples":                   5,
	"scoring.pass_threshold":                75.0,
	"scoring.batch_concurrency":             2,
	"models.timeout":                        "30s",
	"models.max_attempts":                   3,
	"models.retry_backoff":                  "500ms",
	"models.relevance.base_url":             "https://api.cohere.com",
	"models.relevance.model":                "rerank-english-v3.0",
	"models.relevance.max_input_tokens":     4096,
	"models.judge.base_url":                 "https://api.openai.com/v1",
	"models.judge.model":                    "gpt-4o-mini",
	"models.judge.max_input_tokens":         8192,
	"models.embedding.base_url":             "https://api.openai.com/v1",
	"models.embedding.model":                "text-embedding-3-small",
	"models.embedding.max_input_tokens":     8191,
	"telemetry.service_name":                "interaction-scorer",
	"telemetry.traces":                      "stdout",
	"telemetry.metrics":                     "none",
	"telemetry.metric_interval":             "15s",
	"logging.level":                         "info",
	"backup.sink":                           "file",
	"backup.dir":                            "backups",
	"models.rate_limit.requests_per_second": 0.0,
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml (if present) and SCORER_ environment overrides.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads the given YAML file (if present) and SCORER_ environment
// overrides, then applies defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Models.Relevance.APIKey = substituteEnvVars(cfg.Models.Relevance.APIKey)
	cfg.Models.Judge.APIKey = substituteEnvVars(cfg.Models.Judge.APIKey)
	cfg.Models.Embedding.APIKey = substituteEnvVars(cfg.Models.Embedding.APIKey)
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)
	cfg.Server.Auth.JWTSecret = substituteEnvVars(cfg.Server.Auth.JWTSecret)
	cfg.Ingest.Redis.Password = substituteEnvVars(cfg.Ingest.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings and duration strings.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlite", "postgres", "memory", "badger":
	default:
		return fmt.Errorf("storage.type %q is not one of sqlite, postgres, memory, badger", c.Storage.Type)
	}
	switch c.Scoring.Mode {
	case "NORMAL", "RESCORE":
	default:
		return fmt.Errorf("scoring.mode %q is not one of NORMAL, RESCORE", c.Scoring.Mode)
	}
	switch c.Scoring.Strategy {
	case "AI_JUDGE", "SEMANTIC_SIMILARITY":
	default:
		return fmt.Errorf("scoring.strategy %q is not one of AI_JUDGE, SEMANTIC_SIMILARITY", c.Scoring.Strategy)
	}
	if c.Scoring.Similarity.Threshold < 0 || c.Scoring.Similarity.Threshold > 100 {
		return fmt.Errorf("scoring.similarity.threshold %v must be within [0, 100]", c.Scoring.Similarity.Threshold)
	}
	if c.Scoring.PassThreshold < 0 || c.Scoring.PassThreshold > 100 {
		return fmt.Errorf("scoring.pass_threshold %v must be within [0, 100]", c.Scoring.PassThreshold)
	}
	if c.Models.MaxAttempts < 1 {
		return fmt.Errorf("models.max_attempts %d must be at least 1", c.Models.MaxAttempts)
	}
	for name, d := range map[string]string{
		"server.timeout":            c.Server.Timeout,
		"models.timeout":            c.Models.Timeout,
		"models.retry_backoff":      c.Models.RetryBackoff,
		"ingest.redis.block":        c.Ingest.Redis.Block,
		"telemetry.metric_interval": c.Telemetry.MetricInterval,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a duration string already checked by Validate, falling
// back to def when it is empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
