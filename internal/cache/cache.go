// Package cache stores completion responses by request fingerprint.
// Supports both local (in-memory with optional file snapshot) and Redis backends
// for multi-instance deployments.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"promptgate/config"
	"promptgate/internal/core"
)

// KeyPrefix namespaces response entries in shared backends.
const KeyPrefix = "promptgate:response:"

// ResponseCache maps a request fingerprint to completion text with a TTL.
// Implementations must be safe for concurrent use. Expired entries are
// reported as absent.
type ResponseCache interface {
	// Init connects to or loads the backend. Calling it twice is a no-op.
	Init(ctx context.Context) error

	// Get returns the cached text and true, or "", false for unknown or expired keys.
	Get(ctx context.Context, fingerprint string) (string, bool, error)

	// Set stores text under fingerprint, overwriting any entry and resetting
	// its expiry. A non-positive ttl stores nothing.
	Set(ctx context.Context, fingerprint, text string, ttl time.Duration) error

	// Close releases resources held by the cache. Calling it twice is a no-op.
	Close() error
}

// entry is the stored value of a cache key.
type entry struct {
	Text      string    `json:"text"`
	WrittenAt time.Time `json:"written_at"`
}

// fingerprintInput fixes the field order of the canonical encoding.
type fingerprintInput struct {
	Prompt           string   `json:"prompt"`
	Model            string   `json:"model"`
	Temperature      *float64 `json:"temperature"`
	MaxTokens        *int     `json:"max_tokens"`
	TopP             *float64 `json:"top_p"`
	FrequencyPenalty *float64 `json:"frequency_penalty"`
	PresencePenalty  *float64 `json:"presence_penalty"`
}

// Fingerprint returns a stable digest of the parameters that shape a completion.
// Callers resolve defaults first so that an omitted model and the default model
// produce the same fingerprint.
func Fingerprint(req *core.CompletionRequest) string {
	in := fingerprintInput{
		Prompt:           req.Prompt,
		Model:            req.Model,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
	// Marshal cannot fail for this struct.
	data, _ := json.Marshal(in)
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Key returns the backend key of a fingerprint.
func Key(fingerprint string) string {
	return KeyPrefix + fingerprint
}

// New selects the cache backend from configuration: none when disabled, Redis
// when a URL is configured, the local cache otherwise.
func New(cfg config.CacheConfig) (ResponseCache, error) {
	switch {
	case !cfg.Enabled:
		return Noop{}, nil
	case cfg.RedisURL != "":
		return NewRedisCache(RedisConfig{URL: cfg.RedisURL})
	default:
		return NewLocalCache(cfg.FilePath), nil
	}
}

// Noop is a ResponseCache that never stores anything.
type Noop struct{}

func (Noop) Init(context.Context) error { return nil }

func (Noop) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (Noop) Set(context.Context, string, string, time.Duration) error { return nil }

func (Noop) Close() error { return nil }
