package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptgate/internal/core"
)

// PostgreSQLStore stores request records in PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the requests table and indexes if needed.
// The settings table must already exist.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES settings(id) ON DELETE CASCADE,
			prompt TEXT NOT NULL,
			model TEXT NOT NULL,
			parameters JSONB,
			response JSONB,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests table: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_requests_user_created ON requests(user_id, created_at DESC)"); err != nil {
		return nil, fmt.Errorf("failed to create requests user index: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// Create inserts a new record. Unknown user ids are rejected by the foreign key.
func (s *PostgreSQLStore) Create(ctx context.Context, in *core.RequestRecord) (*core.RequestRecord, error) {
	rec, err := prepareCreate(in)
	if err != nil {
		return nil, err
	}
	params, resp, err := encodeColumns(rec)
	if err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO requests (id, user_id, prompt, model, parameters, response, status, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)
	`, rec.ID, rec.UserID, rec.Prompt, rec.Model, params, resp, string(rec.Status), rec.CreatedAt.UnixMicro())
	if err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, fmt.Errorf("insert request: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, err)
	}
	return rec, nil
}

// Get returns a record by id.
func (s *PostgreSQLStore) Get(ctx context.Context, id string) (*core.RequestRecord, error) {
	rec, err := scanPostgreSQL(s.pool.QueryRow(ctx, selectPostgreSQL+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("get", id)
		}
		return nil, persistenceFailure("get", id, msgFetchFailed, err)
	}
	return rec, nil
}

// Update applies patch to a record inside one transaction.
func (s *PostgreSQLStore) Update(ctx context.Context, id string, patch *core.RecordPatch) (*core.RequestRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, persistenceFailure("update", id, msgUpdateFailed, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rec, err := scanPostgreSQL(tx.QueryRow(ctx, selectPostgreSQL+" WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("update", id)
		}
		return nil, persistenceFailure("update", id, msgUpdateFailed, err)
	}

	if patch != nil {
		patch.Apply(rec)
	}
	params, resp, err := encodeColumns(rec)
	if err != nil {
		return nil, persistenceFailure("update", id, msgUpdateFailed, err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE requests
		SET prompt = $1, model = $2, parameters = $3::jsonb, response = $4::jsonb, status = $5
		WHERE id = $6
	`, rec.Prompt, rec.Model, params, resp, string(rec.Status), id)
	if err != nil {
		return nil, persistenceFailure("update", id, msgUpdateFailed, fmt.Errorf("update request: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceFailure("update", id, msgUpdateFailed, err)
	}
	return rec, nil
}

// Delete removes a record by id.
func (s *PostgreSQLStore) Delete(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistenceFailure("delete", id, msgDeleteFailed, err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, "DELETE FROM requests WHERE id = $1", id)
	if err != nil {
		return persistenceFailure("delete", id, msgDeleteFailed, fmt.Errorf("delete request: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return notFound("delete", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return persistenceFailure("delete", id, msgDeleteFailed, err)
	}
	return nil
}

// ListByUser returns records ordered by created_at desc, id desc.
func (s *PostgreSQLStore) ListByUser(ctx context.Context, userSettingsID string, limit int) ([]*core.RequestRecord, error) {
	limit = normalizeLimit(limit)

	rows, err := s.pool.Query(ctx, selectPostgreSQL+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userSettingsID, limit)
	if err != nil {
		return nil, persistenceFailure("list", userSettingsID, msgListFailed, fmt.Errorf("list requests: %w", err))
	}
	defer rows.Close()

	items := make([]*core.RequestRecord, 0, limit)
	for rows.Next() {
		rec, err := scanPostgreSQL(rows)
		if err != nil {
			return nil, persistenceFailure("list", userSettingsID, msgListFailed, fmt.Errorf("scan request row: %w", err))
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceFailure("list", userSettingsID, msgListFailed, fmt.Errorf("iterate request rows: %w", err))
	}
	return items, nil
}

// Close is a no-op; pool lifecycle is managed by storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}

const selectPostgreSQL = `
	SELECT id, user_id, prompt, model, parameters, response, status, created_at
	FROM requests`

func scanPostgreSQL(row pgx.Row) (*core.RequestRecord, error) {
	var (
		rec       core.RequestRecord
		params    []byte
		resp      []byte
		status    string
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Prompt, &rec.Model, &params, &resp, &status, &createdAt); err != nil {
		return nil, err
	}
	if err := decodeColumns(&rec, params, resp); err != nil {
		return nil, err
	}
	rec.Status = core.RequestStatus(status)
	rec.CreatedAt = time.UnixMicro(createdAt).UTC()
	return &rec, nil
}
