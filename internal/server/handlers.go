// Package server provides HTTP handlers and server setup for promptgate.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"promptgate/internal/core"
	"promptgate/internal/processor"
	"promptgate/internal/requests"
	"promptgate/internal/settings"
	"promptgate/internal/upstream"
)

// recordUpdateTimeout bounds the final status write of a request record. It
// runs on a context detached from the client so the record never stays pending.
const recordUpdateTimeout = 5 * time.Second

// Handler holds the HTTP handlers
type Handler struct {
	processor *processor.Processor
	provider  upstream.Completer
	settings  settings.Store
	requests  requests.Store
}

// NewHandler creates a new handler. The request store may be nil, in which
// case completions are served without being recorded.
func NewHandler(p *processor.Processor, provider upstream.Completer, settingsStore settings.Store, requestStore requests.Store) *Handler {
	return &Handler{
		processor: p,
		provider:  provider,
		settings:  settingsStore,
		requests:  requestStore,
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CreateRequest handles POST /requests/
//
// With ?current_user the user's settings apply and the request is recorded,
// moving from pending to success or error.
func (h *Handler) CreateRequest(c echo.Context) error {
	const op = "create_request"

	var req core.CompletionRequest
	if err := bindBody(c, &req); err != nil {
		return handleError(c, op, "", err)
	}
	if err := req.Validate(); err != nil {
		return handleError(c, op, "", err)
	}

	ctx := c.Request().Context()
	userID := c.QueryParam("current_user")
	if userID == "" || h.requests == nil {
		text, err := h.processor.Process(ctx, &req)
		if err != nil {
			return handleError(c, op, "", err)
		}
		return c.JSON(http.StatusOK, success(text))
	}

	us, err := h.settings.Get(ctx, userID)
	if err != nil {
		return handleError(c, op, userID, err)
	}

	record, err := h.requests.Create(ctx, &core.RequestRecord{
		UserID:     us.ID,
		Prompt:     req.Prompt,
		Model:      h.processor.ModelFor(&req, us),
		Parameters: req.Parameters(),
	})
	if err != nil {
		return handleError(c, op, userID, err)
	}

	text, err := h.processor.ProcessFor(ctx, &req, us)
	if err != nil {
		// The processing error is what the client sees; a failed status write is only logged.
		_ = h.finishRecord(ctx, record.ID, core.StatusError, map[string]interface{}{"error": errorMessage(err)})
		return handleError(c, op, record.ID, err)
	}
	if ferr := h.finishRecord(ctx, record.ID, core.StatusSuccess, map[string]interface{}{"text": text}); ferr != nil {
		return handleError(c, op, record.ID, ferr)
	}
	return c.JSON(http.StatusOK, success(text))
}

// finishRecord moves a record to its terminal status.
func (h *Handler) finishRecord(ctx context.Context, id string, status core.RequestStatus, response map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordUpdateTimeout)
	defer cancel()

	if _, err := h.requests.Update(ctx, id, &core.RecordPatch{Status: &status, Response: response}); err != nil {
		slog.Error("failed to finish request record", "request_id", id, "status", status, "error", err)
		return err
	}
	return nil
}

func success(text string) core.CompletionResponse {
	return core.CompletionResponse{Status: string(core.StatusSuccess), Response: text}
}

// requestList is the body of GET /requests/
type requestList struct {
	Object string                `json:"object"`
	Data   []*core.RequestRecord `json:"data"`
}

// ListRequests handles GET /requests/?current_user=<id>&limit=<n>
func (h *Handler) ListRequests(c echo.Context) error {
	const op = "list_requests"

	userID, err := currentUser(c)
	if err != nil {
		return handleError(c, op, "", err)
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return handleError(c, op, userID, core.NewValidationError(core.FieldIssue{
				Loc:  []string{"query", "limit"},
				Msg:  "Input should be a positive integer",
				Type: "int_parsing",
			}))
		}
	}

	ctx := c.Request().Context()
	us, err := h.settings.Get(ctx, userID)
	if err != nil {
		return handleError(c, op, userID, err)
	}
	records, err := h.requests.ListByUser(ctx, us.ID, limit)
	if err != nil {
		return handleError(c, op, userID, err)
	}
	if records == nil {
		records = []*core.RequestRecord{}
	}
	return c.JSON(http.StatusOK, requestList{Object: "list", Data: records})
}

// GetRequest handles GET /requests/:id
func (h *Handler) GetRequest(c echo.Context) error {
	id := c.Param("id")
	record, err := h.requests.Get(c.Request().Context(), id)
	if err != nil {
		return handleError(c, "get_request", id, err)
	}
	return c.JSON(http.StatusOK, record)
}

// UpdateRequest handles PUT /requests/:id
func (h *Handler) UpdateRequest(c echo.Context) error {
	const op = "update_request"
	id := c.Param("id")

	var patch core.RecordPatch
	if err := bindBody(c, &patch); err != nil {
		return handleError(c, op, id, err)
	}
	if err := patch.Validate(); err != nil {
		return handleError(c, op, id, err)
	}

	record, err := h.requests.Update(c.Request().Context(), id, &patch)
	if err != nil {
		return handleError(c, op, id, err)
	}
	return c.JSON(http.StatusOK, record)
}

// DeleteRequest handles DELETE /requests/:id
func (h *Handler) DeleteRequest(c echo.Context) error {
	id := c.Param("id")
	if err := h.requests.Delete(c.Request().Context(), id); err != nil {
		return handleError(c, "delete_request", id, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// settingsResponse is UserSettings with the API key masked.
type settingsResponse struct {
	ID                  string `json:"id"`
	UserID              string `json:"user_id"`
	APIKey              string `json:"api_key"`
	PreferredModel      string `json:"preferred_model"`
	IsCacheEnabled      bool   `json:"is_cache_enabled"`
	CacheExpirationTime int    `json:"cache_expiration_time"`
}

func toSettingsResponse(s *core.UserSettings) settingsResponse {
	return settingsResponse{
		ID:                  s.ID,
		UserID:              s.UserID,
		APIKey:              maskAPIKey(s.APIKey),
		PreferredModel:      s.PreferredModel,
		IsCacheEnabled:      s.IsCacheEnabled,
		CacheExpirationTime: s.CacheExpirationTime,
	}
}

// maskAPIKey keeps the first three and last four characters: sk-...abcd.
// Short keys are hidden entirely.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}

// GetSettings handles GET /settings/?current_user=<id>
func (h *Handler) GetSettings(c echo.Context) error {
	const op = "get_settings"

	userID, err := currentUser(c)
	if err != nil {
		return handleError(c, op, "", err)
	}
	s, err := h.settings.Get(c.Request().Context(), userID)
	if err != nil {
		return handleError(c, op, userID, err)
	}
	return c.JSON(http.StatusOK, toSettingsResponse(s))
}

// CreateSettings handles POST /settings/?current_user=<id>
func (h *Handler) CreateSettings(c echo.Context) error {
	const op = "create_settings"

	userID, err := currentUser(c)
	if err != nil {
		return handleError(c, op, "", err)
	}
	var patch core.SettingsPatch
	if err := bindBody(c, &patch); err != nil {
		return handleError(c, op, userID, err)
	}
	if err := patch.Validate(true); err != nil {
		return handleError(c, op, userID, err)
	}

	created, err := h.settings.Create(c.Request().Context(), core.NewUserSettings("", userID, &patch))
	if err != nil {
		return handleError(c, op, userID, err)
	}
	return c.JSON(http.StatusOK, toSettingsResponse(created))
}

// UpdateSettings handles PUT /settings/?current_user=<id>
func (h *Handler) UpdateSettings(c echo.Context) error {
	const op = "update_settings"

	userID, err := currentUser(c)
	if err != nil {
		return handleError(c, op, "", err)
	}
	var patch core.SettingsPatch
	if err := bindBody(c, &patch); err != nil {
		return handleError(c, op, userID, err)
	}
	if err := patch.Validate(false); err != nil {
		return handleError(c, op, userID, err)
	}

	updated, err := h.settings.Update(c.Request().Context(), userID, &patch)
	if err != nil {
		return handleError(c, op, userID, err)
	}
	return c.JSON(http.StatusOK, toSettingsResponse(updated))
}

// DeleteSettings handles DELETE /settings/?current_user=<id>
func (h *Handler) DeleteSettings(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return handleError(c, "delete_settings", "", err)
	}
	if err := h.settings.Delete(c.Request().Context(), userID); err != nil {
		return handleError(c, "delete_settings", userID, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListModels handles GET /models
func (h *Handler) ListModels(c echo.Context) error {
	models, err := h.provider.ListModels(c.Request().Context())
	if err != nil {
		return handleError(c, "list_models", "", err)
	}
	if models == nil {
		models = []core.Model{}
	}
	return c.JSON(http.StatusOK, core.ModelsResponse{Object: "list", Data: models})
}

// GetModel handles GET /models/:id
func (h *Handler) GetModel(c echo.Context) error {
	id := c.Param("id")
	model, err := h.provider.GetModel(c.Request().Context(), id)
	if err != nil {
		return handleError(c, "get_model", id, err)
	}
	return c.JSON(http.StatusOK, model)
}

// bindBody decodes the JSON body into dst, turning decode failures into a
// validation error. A value of the wrong type is reported against its field.
func bindBody(c echo.Context, dst interface{}) error {
	err := (&echo.DefaultBinder{}).BindBody(c, dst)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Type != nil {
		loc := []string{"body"}
		if typeErr.Field != "" {
			loc = append(loc, strings.Split(typeErr.Field, ".")...)
		}
		kind := jsonKindName(typeErr.Type.Kind())
		return core.NewValidationError(core.FieldIssue{
			Loc:  loc,
			Msg:  "Input should be a valid " + kind,
			Type: kind + "_type",
		})
	}
	return core.NewValidationError(core.FieldIssue{
		Loc:  []string{"body"},
		Msg:  "Invalid JSON body",
		Type: "json_invalid",
	})
}

func jsonKindName(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Map, reflect.Struct:
		return "dict"
	case reflect.Slice, reflect.Array:
		return "list"
	default:
		return "value"
	}
}

func currentUser(c echo.Context) (string, error) {
	userID := c.QueryParam("current_user")
	if userID == "" {
		return "", core.NewValidationError(core.FieldIssue{
			Loc:  []string{"query", "current_user"},
			Msg:  "Field required",
			Type: "missing",
		})
	}
	return userID, nil
}
