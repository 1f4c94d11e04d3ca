// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/bytes"
	"github.com/spf13/viper"
)

const (
	// DefaultBodySizeLimit is the default maximum request body size (10MB)
	DefaultBodySizeLimit int64 = 10 * 1024 * 1024

	// Bounds accepted for BODY_SIZE_LIMIT
	MinBodySizeLimit int64 = bytes.KB
	MaxBodySizeLimit int64 = 100 * bytes.MiB

	// Storage types selected from the scheme of DATABASE_URL
	StorageTypeSQLite     = "sqlite"
	StorageTypePostgreSQL = "postgresql"
	StorageTypeMongoDB    = "mongodb"
)

// Config holds the application configuration.
// It is read once at startup and must not be mutated afterwards.
type Config struct {
	Server  ServerConfig
	OpenAI  OpenAIConfig
	Storage StorageConfig
	Cache   CacheConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string
	BodySizeLimit int64
	// MasterKey optionally requires "Authorization: Bearer <key>" on API routes
	MasterKey string
}

// OpenAIConfig holds completion provider configuration
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // optional, for OpenAI-compatible providers
	DefaultModel string
	// Timeout bounds a single provider call; HTTP_TIMEOUT accepts seconds or a Go duration
	Timeout time.Duration
}

// StorageConfig holds database configuration
type StorageConfig struct {
	// URL is the raw DATABASE_URL
	URL string
	// Type is derived from the URL scheme: "sqlite", "postgresql" or "mongodb"
	Type string
	// SQLitePath is the database file path when Type is sqlite
	SQLitePath string
	// MaxConns is the PostgreSQL pool size
	MaxConns int
	// MongoDatabase is the database name when Type is mongodb
	MongoDatabase string
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	Enabled bool
	// ExpirationTime is the default TTL in seconds
	ExpirationTime int
	// RedisURL selects the redis backend when set; otherwise the local cache is used
	RedisURL string
	// FilePath optionally persists the local cache between restarts
	FilePath string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string // "json" or "pretty"
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// Load reads configuration from an optional .env file and the environment.
// It fails if OPENAI_API_KEY or DATABASE_URL is missing.
func Load() (*Config, error) {
	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	bodySizeLimit, err := ParseBodySizeLimit(v.GetString("BODY_SIZE_LIMIT"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("PORT"),
			BodySizeLimit: bodySizeLimit,
			MasterKey:     v.GetString("MASTER_KEY"),
		},
		OpenAI: OpenAIConfig{
			APIKey:       v.GetString("OPENAI_API_KEY"),
			BaseURL:      v.GetString("OPENAI_BASE_URL"),
			DefaultModel: v.GetString("DEFAULT_OPENAI_MODEL"),
			Timeout:      parseDuration(v.GetString("HTTP_TIMEOUT")),
		},
		Storage: StorageConfig{
			URL:           v.GetString("DATABASE_URL"),
			MaxConns:      v.GetInt("DATABASE_MAX_CONNS"),
			MongoDatabase: v.GetString("MONGODB_DATABASE"),
		},
		Cache: CacheConfig{
			Enabled:        v.GetBool("CACHE_ENABLED"),
			ExpirationTime: v.GetInt("CACHE_EXPIRATION_TIME"),
			RedisURL:       v.GetString("REDIS_URL"),
			FilePath:       v.GetString("CACHE_FILE"),
		},
		Logging: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Metrics: MetricsConfig{
			Enabled:  v.GetBool("METRICS_ENABLED"),
			Endpoint: v.GetString("METRICS_ENDPOINT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8000")
	v.SetDefault("BODY_SIZE_LIMIT", DefaultBodySizeLimit)
	v.SetDefault("DEFAULT_OPENAI_MODEL", "text-davinci-003")
	v.SetDefault("HTTP_TIMEOUT", "60")
	v.SetDefault("DATABASE_MAX_CONNS", 10)
	v.SetDefault("MONGODB_DATABASE", "promptgate")
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_EXPIRATION_TIME", 3600)
	v.SetDefault("LOG_LEVEL", "DEBUG")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_ENDPOINT", "/metrics")
}

func (c *Config) validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable not found")
	}
	if c.Storage.URL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not found")
	}

	storageType, sqlitePath, err := ParseDatabaseURL(c.Storage.URL)
	if err != nil {
		return err
	}
	c.Storage.Type = storageType
	c.Storage.SQLitePath = sqlitePath

	if c.OpenAI.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be a positive number of seconds or a duration")
	}
	if c.Cache.ExpirationTime < 0 {
		return fmt.Errorf("CACHE_EXPIRATION_TIME must not be negative, got %d", c.Cache.ExpirationTime)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "pretty":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or pretty, got %q", c.Logging.Format)
	}
	return nil
}

// ParseBodySizeLimit converts a BODY_SIZE_LIMIT value to bytes using the same
// parser as echo's BodyLimit middleware: a plain byte count, a decimal unit
// (K, M, G: powers of 1000) or a binary one (Ki, Mi, Gi: powers of 1024), with an
// optional B suffix in any case. Empty input yields DefaultBodySizeLimit.
// Values outside [MinBodySizeLimit, MaxBodySizeLimit] are rejected.
func ParseBodySizeLimit(val string) (int64, error) {
	s := strings.TrimSpace(val)
	if s == "" {
		return DefaultBodySizeLimit, nil
	}
	n, err := bytes.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("BODY_SIZE_LIMIT %q: expected a byte count or a size such as 512K or 10M", val)
	}
	if n < MinBodySizeLimit || n > MaxBodySizeLimit {
		return 0, fmt.Errorf("BODY_SIZE_LIMIT %q must be between 1K and 100M", val)
	}
	return n, nil
}

// parseDuration accepts plain integers (seconds) or Go duration strings such as "90s".
// Invalid input yields zero.
func parseDuration(val string) time.Duration {
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return 0
}

// ParseDatabaseURL derives the storage backend from a connection string.
// postgres:// and postgresql:// select PostgreSQL, mongodb:// and mongodb+srv://
// select MongoDB, and sqlite:// or a bare file path select SQLite (the path is returned).
func ParseDatabaseURL(raw string) (storageType, sqlitePath string, err error) {
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return StorageTypePostgreSQL, "", nil
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		return StorageTypeMongoDB, "", nil
	case strings.HasPrefix(lower, "sqlite://"):
		path := raw[len("sqlite://"):]
		if path == "" {
			return "", "", fmt.Errorf("DATABASE_URL %q has no sqlite file path", raw)
		}
		return StorageTypeSQLite, path, nil
	case strings.Contains(lower, "://"):
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme in %q (valid: postgres, mongodb, sqlite)", raw)
	default:
		return StorageTypeSQLite, raw, nil
	}
}
