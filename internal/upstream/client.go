// Package upstream calls the OpenAI-compatible completion provider and
// classifies its failures into the core error taxonomy.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"promptgate/internal/core"
	"promptgate/internal/observability"
)

// CompletionParams are the resolved parameters of one completion call.
type CompletionParams struct {
	Prompt           string
	Model            string
	Temperature      float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
}

// ParamsFrom converts a request whose defaults have been resolved.
func ParamsFrom(req *core.CompletionRequest) CompletionParams {
	p := CompletionParams{
		Prompt:           req.Prompt,
		Model:            req.Model,
		Temperature:      core.DefaultTemperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	return p
}

// Completer is the provider surface used by the request processor and the HTTP layer.
type Completer interface {
	CreateCompletion(ctx context.Context, params CompletionParams) (string, error)
	ListModels(ctx context.Context) ([]core.Model, error)
	GetModel(ctx context.Context, id string) (*core.Model, error)
}

// Config configures a Client.
type Config struct {
	APIKey string
	// BaseURL overrides the provider endpoint, e.g. for OpenAI-compatible servers.
	BaseURL    string
	HTTPClient *http.Client
}

// Client wraps the go-openai SDK.
type Client struct {
	api *openai.Client
}

// New creates a provider client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &Client{api: openai.NewClientWithConfig(clientCfg)}, nil
}

// CreateCompletion returns the trimmed text of the first choice.
func (c *Client) CreateCompletion(ctx context.Context, params CompletionParams) (text string, err error) {
	start := time.Now()
	defer func() { observability.ObserveUpstream("create_completion", err, time.Since(start)) }()

	req := openai.CompletionRequest{
		Model:       params.Model,
		Prompt:      params.Prompt,
		Temperature: samplingValue(params.Temperature),
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = samplingValue(*params.TopP)
	}
	if params.FrequencyPenalty != nil {
		req.FrequencyPenalty = float32(*params.FrequencyPenalty)
	}
	if params.PresencePenalty != nil {
		req.PresencePenalty = float32(*params.PresencePenalty)
	}

	resp, err := c.api.CreateCompletion(ctx, req)
	if err != nil {
		return "", classify("create_completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", core.NewUpstreamError("OpenAI API Error: upstream returned no choices", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Text), nil
}

// ListModels returns the models offered by the provider.
func (c *Client) ListModels(ctx context.Context) (models []core.Model, err error) {
	start := time.Now()
	defer func() { observability.ObserveUpstream("list_models", err, time.Since(start)) }()

	resp, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, classify("list_models", err)
	}
	models = make([]core.Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, toModel(m))
	}
	return models, nil
}

// GetModel returns one model. Unknown models yield a NotFound error.
func (c *Client) GetModel(ctx context.Context, id string) (model *core.Model, err error) {
	start := time.Now()
	defer func() { observability.ObserveUpstream("get_model", err, time.Since(start)) }()

	m, err := c.api.GetModel(ctx, id)
	if err != nil {
		err = classify("get_model", err)
		if core.IsNotFound(err) {
			return nil, core.NewNotFoundError(ModelNotFoundMessage(id))
		}
		return nil, err
	}
	out := toModel(m)
	return &out, nil
}

// ModelNotFoundMessage is the client-facing detail for an unknown model id.
func ModelNotFoundMessage(id string) string {
	return "OpenAI Model not found: " + id
}

// samplingValue converts temperature or top_p for the SDK. Its fields are
// omitempty, so an explicit 0 would be dropped and the provider default (1)
// applied instead; the smallest positive float32 is sent in its place.
func samplingValue(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func toModel(m openai.Model) core.Model {
	object := m.Object
	if object == "" {
		object = "model"
	}
	return core.Model{
		ID:      m.ID,
		Object:  object,
		OwnedBy: m.OwnedBy,
		Created: m.CreatedAt,
	}
}

// classify maps an SDK error onto the error taxonomy:
// unknown resource is NotFound, any other provider-reported failure is
// Upstream with the provider's message, everything else is Internal.
func classify(operation string, err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError

	switch {
	case errors.As(err, &apiErr):
		if apiErr.HTTPStatusCode == http.StatusNotFound || isNotFoundCode(apiErr.Code) {
			slog.Warn("provider resource not found", "operation", operation, "message", apiErr.Message)
			return core.NewNotFoundError(apiErr.Message)
		}
		slog.Error("provider API error", "operation", operation, "status", apiErr.HTTPStatusCode,
			"type", apiErr.Type, "message", apiErr.Message)
		return core.NewUpstreamError("OpenAI API Error: "+apiErr.Message, err)

	case errors.As(err, &reqErr):
		if reqErr.HTTPStatusCode == http.StatusNotFound {
			slog.Warn("provider resource not found", "operation", operation)
			return core.NewNotFoundError(http.StatusText(http.StatusNotFound))
		}
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		slog.Error("provider request error", "operation", operation, "status", reqErr.HTTPStatusCode, "error", reqErr.Err)
		return core.NewUpstreamError("OpenAI API Error: "+msg, err)

	case errors.Is(err, openai.ErrCompletionUnsupportedModel):
		// Rejected by the SDK before sending; the provider would refuse it the same way.
		slog.Error("model does not support completions", "operation", operation, "error", err)
		return core.NewUpstreamError("OpenAI API Error: "+err.Error(), err)

	default:
		slog.Error("provider call failed", "operation", operation, "error", err)
		return core.NewInternalError(err)
	}
}

func isNotFoundCode(code any) bool {
	s, ok := code.(string)
	return ok && (s == "not_found" || s == "model_not_found")
}
