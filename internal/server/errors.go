package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"promptgate/internal/core"
)

// errorBody is the JSON shape of every error response. Detail is a string or
// a list of core.FieldIssue.
type errorBody struct {
	Detail interface{} `json:"detail"`
}

// handleError logs err with the operation and key it concerns, then writes
// the {"detail": ...} response. Errors are mapped by kind only; anything that
// is not a *core.Error is treated as internal.
func handleError(c echo.Context, op, key string, err error) error {
	var ce *core.Error
	if !errors.As(err, &ce) {
		ce = core.NewInternalError(err)
	}

	attrs := []any{
		"operation", op,
		"key", key,
		"kind", ce.Kind,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		"error", err,
	}
	switch ce.Kind {
	case core.KindValidation, core.KindNotFound:
		slog.Warn("request failed", attrs...)
	default:
		slog.Error("request failed", attrs...)
	}

	return c.JSON(ce.HTTPStatusCode(), errorBody{Detail: ce.Detail()})
}

// errorMessage returns the client-safe message of err, as stored on a failed
// request record.
func errorMessage(err error) string {
	var ce *core.Error
	if !errors.As(err, &ce) {
		return core.InternalMessage
	}
	if s, ok := ce.Detail().(string); ok {
		return s
	}
	return ce.Message
}

// httpErrorHandler renders errors that never reached a handler (unknown
// route, body too large, recovered panic) in the same {"detail": ...} shape.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var ce *core.Error
	if errors.As(err, &ce) {
		_ = handleError(c, "http", c.Request().URL.Path, err)
		return
	}

	code := http.StatusInternalServerError
	detail := core.InternalMessage
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		detail = http.StatusText(code)
		if msg, ok := he.Message.(string); ok && code < http.StatusInternalServerError {
			detail = msg
		}
	}
	if code >= http.StatusInternalServerError {
		slog.Error("unhandled error", "path", c.Request().URL.Path, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if werr := c.JSON(code, errorBody{Detail: detail}); werr != nil {
		slog.Error("failed to write error response", "error", fmt.Errorf("%w (original: %v)", werr, err))
	}
}
