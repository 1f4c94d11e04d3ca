// Package requests persists submitted prompts and their outcomes.
package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"promptgate/internal/core"
)

const (
	msgNotFound     = "Request not found"
	msgCreateFailed = "Failed to create request."
	msgFetchFailed  = "Failed to fetch request."
	msgUpdateFailed = "Failed to update request."
	msgDeleteFailed = "Failed to delete request."
	msgListFailed   = "Failed to list requests."
)

// Store defines persistence operations for request records, keyed by id.
// Every record references an existing settings id; Create fails otherwise.
type Store interface {
	Create(ctx context.Context, r *core.RequestRecord) (*core.RequestRecord, error)
	Get(ctx context.Context, id string) (*core.RequestRecord, error)
	Update(ctx context.Context, id string, patch *core.RecordPatch) (*core.RequestRecord, error)
	Delete(ctx context.Context, id string) error
	// ListByUser returns the records of a settings id, newest first.
	ListByUser(ctx context.Context, userSettingsID string, limit int) ([]*core.RequestRecord, error)
	Close() error
}

var (
	errNilRecord   = errors.New("request record is nil")
	errEmptyPrompt = errors.New("prompt must not be empty")
	errNoUser      = errors.New("user id is required")
	errUnknownUser = errors.New("user settings do not exist")
)

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}

// prepareCreate copies r, filling in id, status and creation time.
func prepareCreate(r *core.RequestRecord) (*core.RequestRecord, error) {
	var cause error
	switch {
	case r == nil:
		cause = errNilRecord
	case r.UserID == "":
		cause = errNoUser
	case strings.TrimSpace(r.Prompt) == "":
		cause = errEmptyPrompt
	}
	if cause != nil {
		id := ""
		if r != nil {
			id = r.ID
		}
		return nil, persistenceFailure("create", id, msgCreateFailed, cause)
	}

	c := *r
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = core.StatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.CreatedAt = c.CreatedAt.UTC().Truncate(time.Microsecond)
	return &c, nil
}

func encodeJSONMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

func decodeJSONMap(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return m, nil
}

func notFound(op, id string) error {
	slog.Warn("request not found", "operation", op, "request_id", id)
	return core.NewNotFoundError(msgNotFound)
}

func persistenceFailure(op, id, msg string, err error) error {
	slog.Error("request store failure", "operation", op, "request_id", id, "error", err)
	return core.NewPersistenceError(msg, err)
}
