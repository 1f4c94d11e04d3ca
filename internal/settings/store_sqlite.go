package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"promptgate/internal/core"
)

// SQLiteStore stores settings in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the settings table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			api_key TEXT NOT NULL,
			preferred_model TEXT NOT NULL,
			is_cache_enabled INTEGER NOT NULL DEFAULT 0,
			cache_expiration_time INTEGER NOT NULL DEFAULT 3600,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Create inserts a new settings row. A second row for the same user fails.
func (s *SQLiteStore) Create(ctx context.Context, in *core.UserSettings) (*core.UserSettings, error) {
	row, err := prepareCreate(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceFailure("create", row.UserID, msgCreateFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings (id, user_id, api_key, preferred_model, is_cache_enabled, cache_expiration_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.UserID, row.APIKey, row.PreferredModel, row.IsCacheEnabled, row.CacheExpirationTime, now, now)
	if err != nil {
		return nil, persistenceFailure("create", row.UserID, msgCreateFailed, fmt.Errorf("insert settings: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, persistenceFailure("create", row.UserID, msgCreateFailed, err)
	}
	return row, nil
}

// Get returns the settings of userID.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*core.UserSettings, error) {
	row, err := scanSQLite(s.db.QueryRowContext(ctx, selectSQLite, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("get", userID)
		}
		return nil, persistenceFailure("get", userID, msgFetchFailed, err)
	}
	return row, nil
}

// Update applies patch to the settings of userID and returns the stored result.
func (s *SQLiteStore) Update(ctx context.Context, userID string, patch *core.SettingsPatch) (*core.UserSettings, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceFailure("update", userID, msgUpdateFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := scanSQLite(tx.QueryRowContext(ctx, selectSQLite, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("update", userID)
		}
		return nil, persistenceFailure("update", userID, msgUpdateFailed, err)
	}

	if patch != nil {
		patch.Apply(row)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE settings
		SET api_key = ?, preferred_model = ?, is_cache_enabled = ?, cache_expiration_time = ?, updated_at = ?
		WHERE user_id = ?
	`, row.APIKey, row.PreferredModel, row.IsCacheEnabled, row.CacheExpirationTime, time.Now().Unix(), userID)
	if err != nil {
		return nil, persistenceFailure("update", userID, msgUpdateFailed, fmt.Errorf("update settings: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, persistenceFailure("update", userID, msgUpdateFailed, err)
	}
	return row, nil
}

// Delete removes the settings of userID. Request records owned by the user are
// removed with it.
func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceFailure("delete", userID, msgDeleteFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE user_id = ?", userID)
	if err != nil {
		return persistenceFailure("delete", userID, msgDeleteFailed, fmt.Errorf("delete settings: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistenceFailure("delete", userID, msgDeleteFailed, fmt.Errorf("read delete rows affected: %w", err))
	}
	if affected == 0 {
		return notFound("delete", userID)
	}
	if err := tx.Commit(); err != nil {
		return persistenceFailure("delete", userID, msgDeleteFailed, err)
	}
	return nil
}

// Close is a no-op; DB lifecycle is managed by storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}

const selectSQLite = `
	SELECT id, user_id, api_key, preferred_model, is_cache_enabled, cache_expiration_time
	FROM settings
	WHERE user_id = ?
`

func scanSQLite(row *sql.Row) (*core.UserSettings, error) {
	var s core.UserSettings
	err := row.Scan(&s.ID, &s.UserID, &s.APIKey, &s.PreferredModel, &s.IsCacheEnabled, &s.CacheExpirationTime)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
