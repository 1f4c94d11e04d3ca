package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"promptgate/internal/core"
	"promptgate/internal/httpclient"
)

func ptr[T any](v T) *T { return &v }

// mockProvider serves a fixed status and body and records the last request.
type mockProvider struct {
	server   *httptest.Server
	calls    atomic.Int32
	lastBody atomic.Value
	lastAuth atomic.Value
}

func newMockProvider(t *testing.T, status int, body string) *mockProvider {
	t.Helper()
	m := &mockProvider{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		b, _ := io.ReadAll(r.Body)
		m.lastBody.Store(string(b))
		m.lastAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockProvider) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{
		APIKey:     "sk-test",
		BaseURL:    m.server.URL + "/v1/",
		HTTPClient: httpclient.NewHTTPClient(nil),
	})
	require.NoError(t, err)
	return c
}

func detailOf(t *testing.T, err error) interface{} {
	t.Helper()
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	return ce.Detail()
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestParamsFrom(t *testing.T) {
	p := ParamsFrom(&core.CompletionRequest{Prompt: "hi", Model: "m", MaxTokens: ptr(5)})
	assert.Equal(t, core.DefaultTemperature, p.Temperature)
	assert.Equal(t, 5, *p.MaxTokens)

	p = ParamsFrom(&core.CompletionRequest{Prompt: "hi", Model: "m", Temperature: ptr(1.5)})
	assert.Equal(t, 1.5, p.Temperature)
}

func TestCreateCompletion(t *testing.T) {
	t.Run("TrimsFirstChoice", func(t *testing.T) {
		m := newMockProvider(t, http.StatusOK,
			`{"id":"cmpl-1","object":"text_completion","choices":[{"text":"\n\nHello there  ","index":0},{"text":"ignored","index":1}]}`)

		text, err := m.client(t).CreateCompletion(context.Background(), CompletionParams{
			Prompt:      "Say hello",
			Model:       "text-davinci-003",
			Temperature: 0.7,
			MaxTokens:   ptr(32),
			TopP:        ptr(0.9),
		})
		require.NoError(t, err)
		assert.Equal(t, "Hello there", text)

		body := m.lastBody.Load().(string)
		assert.Equal(t, "text-davinci-003", gjson.Get(body, "model").String())
		assert.Equal(t, "Say hello", gjson.Get(body, "prompt").String())
		assert.InDelta(t, 0.7, gjson.Get(body, "temperature").Float(), 1e-6)
		assert.Equal(t, int64(32), gjson.Get(body, "max_tokens").Int())
		assert.InDelta(t, 0.9, gjson.Get(body, "top_p").Float(), 1e-6)
		assert.False(t, gjson.Get(body, "presence_penalty").Exists())
		assert.Equal(t, "Bearer sk-test", m.lastAuth.Load())
	})

	t.Run("ZeroSamplingValuesAreSent", func(t *testing.T) {
		m := newMockProvider(t, http.StatusOK, `{"choices":[{"text":"deterministic"}]}`)

		_, err := m.client(t).CreateCompletion(context.Background(), CompletionParams{
			Prompt:      "p",
			Model:       "text-davinci-003",
			Temperature: 0,
			TopP:        ptr(0.0),
		})
		require.NoError(t, err)

		body := m.lastBody.Load().(string)
		temperature := gjson.Get(body, "temperature")
		require.True(t, temperature.Exists(), "temperature 0 must reach the provider: %s", body)
		assert.InDelta(t, 0, temperature.Float(), 1e-6)
		topP := gjson.Get(body, "top_p")
		require.True(t, topP.Exists(), "top_p 0 must reach the provider: %s", body)
		assert.InDelta(t, 0, topP.Float(), 1e-6)
	})

	t.Run("NoChoicesIsUpstreamError", func(t *testing.T) {
		m := newMockProvider(t, http.StatusOK, `{"id":"cmpl-2","choices":[]}`)

		_, err := m.client(t).CreateCompletion(context.Background(), CompletionParams{Prompt: "x", Model: "text-davinci-003"})
		assert.Equal(t, core.KindUpstream, core.KindOf(err))
		assert.Equal(t, "OpenAI API Error: upstream returned no choices", detailOf(t, err))
	})

	t.Run("ChatOnlyModelRejected", func(t *testing.T) {
		m := newMockProvider(t, http.StatusOK, `{}`)

		_, err := m.client(t).CreateCompletion(context.Background(), CompletionParams{Prompt: "x", Model: "gpt-4"})
		assert.Equal(t, core.KindUpstream, core.KindOf(err))
		assert.Equal(t, int32(0), m.calls.Load(), "request must not reach the provider")
	})
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   core.ErrorKind
		wantDetail string
	}{
		{
			name:       "404 is not found",
			status:     http.StatusNotFound,
			body:       `{"error":{"message":"The model 'nope' does not exist","type":"invalid_request_error","code":"model_not_found"}}`,
			wantKind:   core.KindNotFound,
			wantDetail: "The model 'nope' does not exist",
		},
		{
			name:       "model_not_found code on 400 is not found",
			status:     http.StatusBadRequest,
			body:       `{"error":{"message":"unknown model","type":"invalid_request_error","code":"model_not_found"}}`,
			wantKind:   core.KindNotFound,
			wantDetail: "unknown model",
		},
		{
			name:       "rate limit is upstream",
			status:     http.StatusTooManyRequests,
			body:       `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			wantKind:   core.KindUpstream,
			wantDetail: "OpenAI API Error: Rate limit reached",
		},
		{
			name:       "provider 500 is upstream",
			status:     http.StatusInternalServerError,
			body:       `{"error":{"message":"The server had an error","type":"server_error"}}`,
			wantKind:   core.KindUpstream,
			wantDetail: "OpenAI API Error: The server had an error",
		},
		{
			name:     "unparseable error body is upstream",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantKind: core.KindUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockProvider(t, tt.status, tt.body)

			_, err := m.client(t).CreateCompletion(context.Background(), CompletionParams{Prompt: "x", Model: "text-davinci-003"})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, core.KindOf(err))
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, detailOf(t, err))
			}
		})
	}
}

func TestClassificationInternal(t *testing.T) {
	t.Run("TransportFailure", func(t *testing.T) {
		m := newMockProvider(t, http.StatusOK, `{}`)
		c := m.client(t)
		m.server.Close()

		_, err := c.CreateCompletion(context.Background(), CompletionParams{Prompt: "x", Model: "text-davinci-003"})
		assert.Equal(t, core.KindInternal, core.KindOf(err))
		assert.Equal(t, "Internal Server Error", detailOf(t, err))
	})

	t.Run("CancelledContext", func(t *testing.T) {
		m := newMockProvider(t, http.StatusOK, `{"choices":[{"text":"late"}]}`)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.client(t).CreateCompletion(ctx, CompletionParams{Prompt: "x", Model: "text-davinci-003"})
		assert.Equal(t, core.KindInternal, core.KindOf(err))
	})

	t.Run("MalformedSuccessBody", func(t *testing.T) {
		m := newMockProvider(t, http.StatusOK, `{"choices":`)

		_, err := m.client(t).CreateCompletion(context.Background(), CompletionParams{Prompt: "x", Model: "text-davinci-003"})
		assert.Equal(t, core.KindInternal, core.KindOf(err))
	})
}

func TestListModels(t *testing.T) {
	m := newMockProvider(t, http.StatusOK, `{"object":"list","data":[
		{"id":"text-davinci-003","object":"model","created":1669599635,"owned_by":"openai-internal"},
		{"id":"gpt-3.5-turbo-instruct","object":"model","created":1692901427,"owned_by":"system"}
	]}`)

	models, err := m.client(t).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, core.Model{ID: "text-davinci-003", Object: "model", OwnedBy: "openai-internal", Created: 1669599635}, models[0])
}

func TestGetModel(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		m := newMockProvider(t, http.StatusOK, `{"id":"text-davinci-003","created":1669599635,"owned_by":"openai-internal"}`)

		model, err := m.client(t).GetModel(context.Background(), "text-davinci-003")
		require.NoError(t, err)
		assert.Equal(t, "text-davinci-003", model.ID)
		assert.Equal(t, "model", model.Object)
	})

	t.Run("Unknown", func(t *testing.T) {
		m := newMockProvider(t, http.StatusNotFound,
			`{"error":{"message":"The model 'nope' does not exist","type":"invalid_request_error","code":"model_not_found"}}`)

		_, err := m.client(t).GetModel(context.Background(), "nope")
		assert.True(t, core.IsNotFound(err))
		assert.Equal(t, "OpenAI Model not found: nope", detailOf(t, err))
	})

	t.Run("ProviderFailureIsUpstream", func(t *testing.T) {
		m := newMockProvider(t, http.StatusInternalServerError,
			`{"error":{"message":"The server had an error","type":"server_error"}}`)

		_, err := m.client(t).GetModel(context.Background(), "text-davinci-003")
		assert.Equal(t, core.KindUpstream, core.KindOf(err))
		assert.Equal(t, "OpenAI API Error: The server had an error", detailOf(t, err))
	})
}
