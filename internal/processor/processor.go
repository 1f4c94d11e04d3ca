// Package processor turns a completion request into response text, consulting
// the response cache before the provider and writing successful results back.
package processor

import (
	"context"
	"log/slog"
	"time"

	"promptgate/internal/cache"
	"promptgate/internal/core"
	"promptgate/internal/observability"
	"promptgate/internal/upstream"
)

// Config holds the process-wide defaults.
type Config struct {
	DefaultModel string
	CacheTTL     time.Duration
}

// Processor runs the cache, provider, write-through sequence. It holds no
// per-request state and is safe for concurrent use.
type Processor struct {
	cache    cache.ResponseCache
	provider upstream.Completer
	cfg      Config
}

// New creates a Processor. A nil cache disables caching.
func New(c cache.ResponseCache, provider upstream.Completer, cfg Config) *Processor {
	if c == nil {
		c = cache.Noop{}
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = core.DefaultModel
	}
	return &Processor{cache: c, provider: provider, cfg: cfg}
}

// Process resolves defaults and returns the completion text for req using the
// process-wide model and cache TTL.
func (p *Processor) Process(ctx context.Context, req *core.CompletionRequest) (string, error) {
	return p.run(ctx, req, p.cfg.DefaultModel, true, p.cfg.CacheTTL)
}

// ProcessFor is Process with a user's preferences applied: preferred_model is
// the default model, is_cache_enabled gates the cache and
// cache_expiration_time is the TTL. Nil settings behave like Process.
func (p *Processor) ProcessFor(ctx context.Context, req *core.CompletionRequest, s *core.UserSettings) (string, error) {
	if s == nil {
		return p.Process(ctx, req)
	}
	return p.run(ctx, req, p.defaultModelFor(s), s.IsCacheEnabled, s.CacheTTL())
}

// ModelFor returns the model req will be sent to under settings s, which may be nil.
func (p *Processor) ModelFor(req *core.CompletionRequest, s *core.UserSettings) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModelFor(s)
}

func (p *Processor) defaultModelFor(s *core.UserSettings) string {
	if s != nil && s.PreferredModel != "" {
		return s.PreferredModel
	}
	return p.cfg.DefaultModel
}

func (p *Processor) run(ctx context.Context, req *core.CompletionRequest, defaultModel string, useCache bool, ttl time.Duration) (string, error) {
	resolved := req.WithDefaults(defaultModel)
	fp := cache.Fingerprint(resolved)

	if useCache {
		text, ok, err := p.cache.Get(ctx, fp)
		switch {
		case err != nil:
			// A broken cache must not fail the request.
			slog.Warn("response cache lookup failed", "fingerprint", fp, "error", err)
			observability.ObserveCacheLookup(observability.CacheError)
		case ok:
			slog.Info("using cached response", "fingerprint", fp, "model", resolved.Model)
			observability.ObserveCacheLookup(observability.CacheHit)
			return text, nil
		default:
			observability.ObserveCacheLookup(observability.CacheMiss)
		}
	} else {
		observability.ObserveCacheLookup(observability.CacheSkipped)
	}

	text, err := p.provider.CreateCompletion(ctx, upstream.ParamsFrom(resolved))
	if err != nil {
		return "", err
	}

	if useCache {
		if err := p.cache.Set(ctx, fp, text, ttl); err != nil {
			slog.Warn("response cache write failed", "fingerprint", fp, "error", err)
		}
	}
	slog.Info("completion generated", "model", resolved.Model, "fingerprint", fp)
	return text, nil
}
