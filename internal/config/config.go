package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/insightlabs/insightcore/internal/types"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Vertical  string          `yaml:"vertical"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	CountTimeout    Duration `yaml:"count_timeout"`
	QueryTimeout    Duration `yaml:"query_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig contains embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"-"` // env-only, never in YAML
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	PoolSize   int    `yaml:"pool_size"`
}

// EnrichConfig contains enrichment pipeline settings.
type EnrichConfig struct {
	Interval      Duration `yaml:"interval"`
	BatchLimit    int      `yaml:"batch_limit"`
	BatchSize     int      `yaml:"batch_size"`
	MaxWords      int      `yaml:"max_words"`
	EncodeTimeout Duration `yaml:"encode_timeout"`
	Cooldown      Duration `yaml:"cooldown"`
	MaxAttempts   int      `yaml:"max_attempts"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	InternalKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("INSIGHT_CONFIG_PATH", "config/insightcore.yaml")

	// Missing file is not an error; defaults apply
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and for the --config flag.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			CountTimeout:    Duration(1 * time.Second),
			QueryTimeout:    Duration(5 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/insightcore.db",
		},
		Vertical: "fitness",
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: types.EmbeddingDimensions,
			PoolSize:   1,
		},
		Enrich: EnrichConfig{
			Interval:      Duration(5 * time.Minute),
			BatchLimit:    1000,
			BatchSize:     100,
			MaxWords:      250,
			EncodeTimeout: Duration(120 * time.Second),
			Cooldown:      Duration(24 * time.Hour),
			MaxAttempts:   3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("INSIGHT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("INSIGHT_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("INSIGHT_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("INSIGHT_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("INSIGHT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Tenant
	if v := os.Getenv("INSIGHT_VERTICAL"); v != "" {
		cfg.Vertical = v
	}

	// Embedding (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("INSIGHT_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("INSIGHT_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("INSIGHT_EMBEDDING_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.PoolSize = n
		}
	}

	// Auth
	if v := os.Getenv("INSIGHT_INTERNAL_KEY"); v != "" {
		cfg.Auth.InternalKey = v
	}

	// Enrichment pipeline
	if v := os.Getenv("INSIGHT_ENRICH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Enrich.Interval = Duration(d)
		}
	}
	if v := os.Getenv("INSIGHT_ENRICH_BATCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Enrich.BatchLimit = n
		}
	}
	if v := os.Getenv("INSIGHT_ENRICH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Enrich.BatchSize = n
		}
	}
	if v := os.Getenv("INSIGHT_ENRICH_MAX_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Enrich.MaxWords = n
		}
	}
	if v := os.Getenv("INSIGHT_ENCODE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Enrich.EncodeTimeout = Duration(d)
		}
	}
	if v := os.Getenv("INSIGHT_ENRICH_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Enrich.Cooldown = Duration(d)
		}
	}
	if v := os.Getenv("INSIGHT_ENRICH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Enrich.MaxAttempts = n
		}
	}

	// Log
	if v := os.Getenv("INSIGHT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("INSIGHT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (INSIGHT_DEV_MODE=true), API key validation is skipped and the
// local embedding provider needs no key at all.
func (c *Config) validate() error {
	if c.Vertical == "" {
		return errors.New("vertical must not be empty")
	}
	// The store persists fixed-width vectors; any other setting would make
	// every enrichment batch fail non-retryably at write time.
	if c.Embedding.Dimensions != types.EmbeddingDimensions {
		return fmt.Errorf("embedding dimensions must be %d, got %d", types.EmbeddingDimensions, c.Embedding.Dimensions)
	}
	if c.Enrich.BatchSize <= 0 || c.Enrich.BatchLimit <= 0 {
		return errors.New("enrich batch_size and batch_limit must be positive")
	}

	if os.Getenv("INSIGHT_DEV_MODE") == "true" {
		return nil
	}

	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Auth.InternalKey == "" {
		return errors.New("INSIGHT_INTERNAL_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
