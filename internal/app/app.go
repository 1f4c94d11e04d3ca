// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the promptgate server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"promptgate/config"
	"promptgate/internal/cache"
	"promptgate/internal/httpclient"
	"promptgate/internal/processor"
	"promptgate/internal/requests"
	"promptgate/internal/server"
	"promptgate/internal/settings"
	"promptgate/internal/storage"
	"promptgate/internal/upstream"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	storage  storage.Storage
	settings settings.Store
	requests requests.Store
	cache    cache.ResponseCache
	server   *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration.
	AppConfig *config.Config

	// Provider replaces the OpenAI client. Optional; used by tests.
	Provider upstream.Completer
}

// New creates a new App with all dependencies initialized.
// Components are built in dependency order: storage, settings store, request
// store, response cache, provider client, processor, HTTP server.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	app := &App{config: appCfg}

	shared, err := storage.New(ctx, storage.FromAppConfig(appCfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.storage = shared

	// The request table references settings, so settings goes first.
	app.settings, err = settings.New(ctx, shared)
	if err != nil {
		return nil, app.abort("failed to initialize settings store", err)
	}
	app.requests, err = requests.New(ctx, shared)
	if err != nil {
		return nil, app.abort("failed to initialize request store", err)
	}

	responseCache, err := cache.New(appCfg.Cache)
	if err != nil {
		return nil, app.abort("failed to create response cache", err)
	}
	if err := responseCache.Init(ctx); err != nil {
		return nil, app.abort("failed to initialize response cache", err)
	}
	app.cache = responseCache

	provider := cfg.Provider
	if provider == nil {
		httpCfg := httpclient.DefaultConfig(appCfg.OpenAI.Timeout)
		client, err := upstream.New(upstream.Config{
			APIKey:     appCfg.OpenAI.APIKey,
			BaseURL:    appCfg.OpenAI.BaseURL,
			HTTPClient: httpclient.NewHTTPClient(&httpCfg),
		})
		if err != nil {
			return nil, app.abort("failed to create provider client", err)
		}
		provider = client
	}

	proc := processor.New(responseCache, provider, processor.Config{
		DefaultModel: appCfg.OpenAI.DefaultModel,
		CacheTTL:     time.Duration(appCfg.Cache.ExpirationTime) * time.Second,
	})

	app.logStartupInfo()

	app.server = server.New(
		server.NewHandler(proc, provider, app.settings, app.requests),
		&server.Config{
			MasterKey:       appCfg.Server.MasterKey,
			MetricsEnabled:  appCfg.Metrics.Enabled,
			MetricsEndpoint: appCfg.Metrics.Endpoint,
			BodySizeLimit:   appCfg.Server.BodySizeLimit,
		},
	)

	return app, nil
}

// abort releases whatever New has built so far and wraps err.
func (a *App) abort(msg string, err error) error {
	if closeErr := a.release(); closeErr != nil {
		return fmt.Errorf("%s: %w (also: close error: %v)", msg, err, closeErr)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Handler returns the HTTP handler of the app.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown via server.Shutdown(ctx), honoring the passed context timeout/cancellation.
// 2. Response cache close (flushes the local snapshot, closes the Redis client).
// 3. Request and settings stores close.
// 4. Shared storage close.
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	// 1. Shutdown HTTP server first (stop accepting new requests)
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if err := a.release(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// release closes the cache, stores and storage, in that order.
func (a *App) release() error {
	var errs []error

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("response cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}
	if a.requests != nil {
		if err := a.requests.Close(); err != nil {
			slog.Error("request store close error", "error", err)
			errs = append(errs, fmt.Errorf("request store close: %w", err))
		}
	}
	if a.settings != nil {
		if err := a.settings.Close(); err != nil {
			slog.Error("settings store close error", "error", err)
			errs = append(errs, fmt.Errorf("settings store close: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			slog.Error("storage close error", "error", err)
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	return errors.Join(errs...)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("MASTER_KEY not set - API routes are unauthenticated")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("storage configured", "type", cfg.Storage.Type)

	switch {
	case !cfg.Cache.Enabled:
		slog.Info("response cache disabled")
	case cfg.Cache.RedisURL != "":
		slog.Info("response cache enabled", "backend", "redis", "ttl_seconds", cfg.Cache.ExpirationTime)
	default:
		slog.Info("response cache enabled", "backend", "local", "ttl_seconds", cfg.Cache.ExpirationTime,
			"snapshot", cfg.Cache.FilePath)
	}

	slog.Info("completion provider configured", "default_model", cfg.OpenAI.DefaultModel,
		"base_url", cfg.OpenAI.BaseURL, "timeout", cfg.OpenAI.Timeout)
}
