package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptgate/internal/core"
)

// PostgreSQLStore stores settings in PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the settings table if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			api_key TEXT NOT NULL,
			preferred_model TEXT NOT NULL,
			is_cache_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			cache_expiration_time INTEGER NOT NULL DEFAULT 3600,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// Create inserts a new settings row. A second row for the same user fails.
func (s *PostgreSQLStore) Create(ctx context.Context, in *core.UserSettings) (*core.UserSettings, error) {
	row, err := prepareCreate(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, persistenceFailure("create", row.UserID, msgCreateFailed, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	now := time.Now().Unix()
	_, err = tx.Exec(ctx, `
		INSERT INTO settings (id, user_id, api_key, preferred_model, is_cache_enabled, cache_expiration_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, row.ID, row.UserID, row.APIKey, row.PreferredModel, row.IsCacheEnabled, row.CacheExpirationTime, now, now)
	if err != nil {
		return nil, persistenceFailure("create", row.UserID, msgCreateFailed, fmt.Errorf("insert settings: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceFailure("create", row.UserID, msgCreateFailed, err)
	}
	return row, nil
}

// Get returns the settings of userID.
func (s *PostgreSQLStore) Get(ctx context.Context, userID string) (*core.UserSettings, error) {
	row, err := scanPostgreSQL(s.pool.QueryRow(ctx, selectPostgreSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("get", userID)
		}
		return nil, persistenceFailure("get", userID, msgFetchFailed, err)
	}
	return row, nil
}

// Update applies patch to the settings of userID inside one transaction.
func (s *PostgreSQLStore) Update(ctx context.Context, userID string, patch *core.SettingsPatch) (*core.UserSettings, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, persistenceFailure("update", userID, msgUpdateFailed, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	row, err := scanPostgreSQL(tx.QueryRow(ctx, selectPostgreSQL+" FOR UPDATE", userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("update", userID)
		}
		return nil, persistenceFailure("update", userID, msgUpdateFailed, err)
	}

	if patch != nil {
		patch.Apply(row)
	}
	_, err = tx.Exec(ctx, `
		UPDATE settings
		SET api_key = $1, preferred_model = $2, is_cache_enabled = $3, cache_expiration_time = $4, updated_at = $5
		WHERE user_id = $6
	`, row.APIKey, row.PreferredModel, row.IsCacheEnabled, row.CacheExpirationTime, time.Now().Unix(), userID)
	if err != nil {
		return nil, persistenceFailure("update", userID, msgUpdateFailed, fmt.Errorf("update settings: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceFailure("update", userID, msgUpdateFailed, err)
	}
	return row, nil
}

// Delete removes the settings of userID and, through the foreign key, the
// user's request records.
func (s *PostgreSQLStore) Delete(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistenceFailure("delete", userID, msgDeleteFailed, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, "DELETE FROM settings WHERE user_id = $1", userID)
	if err != nil {
		return persistenceFailure("delete", userID, msgDeleteFailed, fmt.Errorf("delete settings: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return notFound("delete", userID)
	}
	if err := tx.Commit(ctx); err != nil {
		return persistenceFailure("delete", userID, msgDeleteFailed, err)
	}
	return nil
}

// Close is a no-op; pool lifecycle is managed by storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}

const selectPostgreSQL = `
	SELECT id, user_id, api_key, preferred_model, is_cache_enabled, cache_expiration_time
	FROM settings
	WHERE user_id = $1`

func scanPostgreSQL(row pgx.Row) (*core.UserSettings, error) {
	var s core.UserSettings
	err := row.Scan(&s.ID, &s.UserID, &s.APIKey, &s.PreferredModel, &s.IsCacheEnabled, &s.CacheExpirationTime)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
