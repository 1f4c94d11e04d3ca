// Package settings persists per-user provider credentials and preferences.
package settings

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"promptgate/internal/core"
)

// Client-facing messages. Causes are logged, never returned.
const (
	msgNotFound     = "Settings not found"
	msgCreateFailed = "Failed to create settings."
	msgFetchFailed  = "Failed to fetch settings."
	msgUpdateFailed = "Failed to update settings."
	msgDeleteFailed = "Failed to delete settings."
)

// Store defines persistence operations for user settings, keyed by user id.
// Get, Update and Delete return a core NotFound error when no row matches.
// Write failures return a core Persistence error and leave no partial change.
type Store interface {
	Create(ctx context.Context, s *core.UserSettings) (*core.UserSettings, error)
	Get(ctx context.Context, userID string) (*core.UserSettings, error)
	Update(ctx context.Context, userID string, patch *core.SettingsPatch) (*core.UserSettings, error)
	Delete(ctx context.Context, userID string) error
	Close() error
}

// prepareCreate copies s and assigns an id if it has none.
func prepareCreate(s *core.UserSettings) (*core.UserSettings, error) {
	if s == nil || s.UserID == "" {
		return nil, core.NewPersistenceError(msgCreateFailed, errNilSettings)
	}
	c := *s
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return &c, nil
}

func notFound(op, userID string) error {
	slog.Warn("settings not found", "operation", op, "user_id", userID)
	return core.NewNotFoundError(msgNotFound)
}

func persistenceFailure(op, userID, msg string, err error) error {
	slog.Error("settings store failure", "operation", op, "user_id", userID, "error", err)
	return core.NewPersistenceError(msg, err)
}

var errNilSettings = errors.New("settings with a user id are required")
