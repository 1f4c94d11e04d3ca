package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"promptgate/internal/core"
)

// SQLiteStore stores request records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the requests table and indexes if needed.
// The settings table must be created on the same database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES settings(id) ON DELETE CASCADE,
			prompt TEXT NOT NULL,
			model TEXT NOT NULL,
			parameters TEXT,
			response TEXT,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_requests_user_created ON requests(user_id, created_at DESC)"); err != nil {
		return nil, fmt.Errorf("failed to create requests user index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Create inserts a new record. Unknown user ids are rejected by the foreign key.
func (s *SQLiteStore) Create(ctx context.Context, in *core.RequestRecord) (*core.RequestRecord, error) {
	rec, err := prepareCreate(in)
	if err != nil {
		return nil, err
	}
	params, resp, err := encodeColumns(rec)
	if err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requests (id, user_id, prompt, model, parameters, response, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.Prompt, rec.Model, params, resp, string(rec.Status), rec.CreatedAt.UnixMicro())
	if err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, fmt.Errorf("insert request: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, persistenceFailure("create", rec.ID, msgCreateFailed, err)
	}
	return rec, nil
}

// Get returns a record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.RequestRecord, error) {
	rec, err := scanSQLite(s.db.QueryRowContext(ctx, selectSQLite+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("get", id)
		}
		return nil, persistenceFailure("get", id, msgFetchFailed, err)
	}
	return rec, nil
}

// Update applies patch to a record inside one transaction.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch *core.RecordPatch) (*core.RequestRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistenceFailure("update", id, msgUpdateFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanSQLite(tx.QueryRowContext(ctx, selectSQLite+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	_, err = tx.ExecContext(ctx, `
		UPDATE requests
		SET prompt = ?, model = ?, parameters = ?, response = ?, status = ?
		WHERE id = ?
	`, rec.Prompt, rec.Model, params, resp, string(rec.Status), id)
	if err != nil {
		return nil, persistenceFailure("update", id, msgUpdateFailed, fmt.Errorf("update request: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, persistenceFailure("update", id, msgUpdateFailed, err)
	}
	return rec, nil
}

// Delete removes a record by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceFailure("delete", id, msgDeleteFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, "DELETE FROM requests WHERE id = ?", id)
	if err != nil {
		return persistenceFailure("delete", id, msgDeleteFailed, fmt.Errorf("delete request: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistenceFailure("delete", id, msgDeleteFailed, fmt.Errorf("read delete rows affected: %w", err))
	}
	if affected == 0 {
		return notFound("delete", id)
	}
	if err := tx.Commit(); err != nil {
		return persistenceFailure("delete", id, msgDeleteFailed, err)
	}
	return nil
}

// ListByUser returns records ordered by created_at desc, id desc.
func (s *SQLiteStore) ListByUser(ctx context.Context, userSettingsID string, limit int) ([]*core.RequestRecord, error) {
	limit = normalizeLimit(limit)

	rows, err := s.db.QueryContext(ctx, selectSQLite+`
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userSettingsID, limit)
	if err != nil {
		return nil, persistenceFailure("list", userSettingsID, msgListFailed, fmt.Errorf("list requests: %w", err))
	}
	defer rows.Close()

	items := make([]*core.RequestRecord, 0, limit)
	for rows.Next() {
		rec, err := scanSQLite(rows)
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

// Close is a no-op; DB lifecycle is managed by storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}

const selectSQLite = `
	SELECT id, user_id, prompt, model, parameters, response, status, created_at
	FROM requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*core.RequestRecord, error) {
	var (
		rec       core.RequestRecord
		params    sql.NullString
		resp      sql.NullString
		status    string
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Prompt, &rec.Model, &params, &resp, &status, &createdAt); err != nil {
		return nil, err
	}
	if err := decodeColumns(&rec, []byte(params.String), []byte(resp.String)); err != nil {
		return nil, err
	}
	rec.Status = core.RequestStatus(status)
	rec.CreatedAt = time.UnixMicro(createdAt).UTC()
	return &rec, nil
}

// encodeColumns serializes the JSON columns of rec. Nil maps become NULL.
func encodeColumns(rec *core.RequestRecord) (params, resp any, err error) {
	p, err := encodeJSONMap(rec.Parameters)
	if err != nil {
		return nil, nil, err
	}
	r, err := encodeJSONMap(rec.Response)
	if err != nil {
		return nil, nil, err
	}
	if p != nil {
		params = string(p)
	}
	if r != nil {
		resp = string(r)
	}
	return params, resp, nil
}

func decodeColumns(rec *core.RequestRecord, params, resp []byte) error {
	var err error
	if rec.Parameters, err = decodeJSONMap(params); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	if rec.Response, err = decodeJSONMap(resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
