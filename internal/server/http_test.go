package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptgate/internal/core"
)

func TestRequestIDMiddleware(t *testing.T) {
	env := newTestEnv(t, &mockCompleter{}, nil)

	t.Run("generates request ID when missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		env.srv.ServeHTTP(rec, req)

		got := rec.Header().Get("X-Request-ID")
		if got == "" {
			t.Fatal("expected X-Request-ID in response header, got empty")
		}
		// Validate UUID format (8-4-4-4-12 hex digits)
		if len(got) != 36 {
			t.Errorf("expected UUID (36 chars), got %q (%d chars)", got, len(got))
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "my-custom-id")
		rec := httptest.NewRecorder()

		env.srv.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); got != "my-custom-id" {
			t.Errorf("expected response header X-Request-ID to be %q, got %q", "my-custom-id", got)
		}
	})
}

func TestRequestIDReachesHandlerContext(t *testing.T) {
	e := echo.New()
	srv := &Server{echo: e}
	var seen string
	e.Use(requestIDMiddleware())
	e.GET("/whoami", func(c echo.Context) error {
		seen = core.GetRequestID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	srv.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "trace-42", seen)
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		config         *Config
		requestPath    string
		expectedStatus int
		expectBody     string // substring to check in response body
	}{
		{
			name:           "metrics enabled - default endpoint accessible",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics enabled - empty endpoint defaults to /metrics",
			config:         &Config{MetricsEnabled: true},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics disabled - endpoint returns 404",
			config:         &Config{MetricsEnabled: false, MetricsEndpoint: "/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "nil config - metrics disabled by default",
			config:         nil,
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "custom metrics endpoint path",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/custom-metrics"},
			requestPath:    "/custom-metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "custom endpoint - default path returns 404",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/custom-metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "relative endpoint is rooted",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "internal/metrics"},
			requestPath:    "/internal/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &mockCompleter{}, tt.config)

			req := httptest.NewRequest(http.MethodGet, tt.requestPath, nil)
			rec := httptest.NewRecorder()

			env.srv.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}

			if tt.expectBody != "" && !strings.Contains(rec.Body.String(), tt.expectBody) {
				t.Errorf("expected body to contain %q, got: %s", tt.expectBody, rec.Body.String())
			}
		})
	}
}

func TestMetricsEndpointReportsServiceMetrics(t *testing.T) {
	env := newTestEnv(t, &mockCompleter{text: "ok"}, &Config{MetricsEnabled: true})

	// Generate traffic so the per-route and cache series exist.
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/requests/", `{"prompt": "count me"}`).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/requests/", `{"prompt": "count me"}`).Code)

	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
	assert.Contains(t, body, `promptgate_http_requests_total{method="POST",route="/requests",status="200"}`)
	assert.Contains(t, body, `promptgate_cache_lookups_total{result="hit"}`)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestServerWithMasterKeyAndMetrics(t *testing.T) {
	env := newTestEnv(t, &mockCompleter{}, &Config{
		MasterKey:       "test-secret-key",
		MetricsEnabled:  true,
		MetricsEndpoint: "/metrics",
	})

	t.Run("metrics endpoint is public even when master key is set", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health endpoint is public even when master key is set", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("API endpoints require auth when master key is set", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/models", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"detail":"missing authorization header"}`, rec.Body.String())
	})

	t.Run("API endpoints accessible with valid auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/models", nil)
		req.Header.Set("Authorization", "Bearer test-secret-key")
		rec := httptest.NewRecorder()

		env.srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		masterKey      string
		path           string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "no master key configured - allows request",
			path:           "/test",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "valid master key - allows request",
			masterKey:      "secret-key-123",
			path:           "/test",
			authHeader:     "Bearer secret-key-123",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "missing authorization header - denies request",
			masterKey:      "secret-key-123",
			path:           "/test",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"detail":"missing authorization header"}`,
		},
		{
			name:           "invalid authorization format - denies request",
			masterKey:      "secret-key-123",
			path:           "/test",
			authHeader:     "secret-key-123",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"detail":"invalid authorization header format, expected 'Bearer <token>'"}`,
		},
		{
			name:           "invalid master key - denies request",
			masterKey:      "secret-key-123",
			path:           "/test",
			authHeader:     "Bearer wrong-key",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"detail":"invalid master key"}`,
		},
		{
			name:           "skipped path - allows request without header",
			masterKey:      "secret-key-123",
			path:           "/public",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.Use(AuthMiddleware(tt.masterKey, []string{"/public"}))
			ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
			e.GET("/test", ok)
			e.GET("/public", ok)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, tt.expectedBody, rec.Body.String())
			} else {
				assert.JSONEq(t, tt.expectedBody, rec.Body.String())
			}
		})
	}
}

func TestUnknownRouteUsesDetailBody(t *testing.T) {
	env := newTestEnv(t, &mockCompleter{}, nil)

	rec := env.do(http.MethodGet, "/v1/chat/completions", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, rec.Body.String())
}

func TestTrailingSlashIsOptional(t *testing.T) {
	env := newTestEnv(t, &mockCompleter{}, nil)

	withSlash := env.do(http.MethodGet, "/settings/?current_user=nobody", "")
	withoutSlash := env.do(http.MethodGet, "/settings?current_user=nobody", "")

	assert.Equal(t, http.StatusNotFound, withSlash.Code)
	assert.Equal(t, withSlash.Body.String(), withoutSlash.Body.String())
}
