package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"solagent/internal/storage"
)

// SQLHistoryRepository stores records in the executions table.
type SQLHistoryRepository struct {
	db *sql.DB
}

var _ storage.HistoryRepository = (*SQLHistoryRepository)(nil)

// NewSQLHistoryRepository connects and applies pending migrations.
func NewSQLHistoryRepository(ctx context.Context, cfg Config) (*SQLHistoryRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLHistoryRepository{db: db}, nil
}

const insertExecutionSQL = `INSERT INTO executions
    (id, task, capability, backend, invocation_id, input, arguments, result, direct, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectExecutionColumns = `SELECT id, task, capability, backend, invocation_id, input, arguments, result, direct, created_at
    FROM executions`

func (s *SQLHistoryRepository) Save(ctx context.Context, r storage.Record) error {
	direct := 0
	if r.Direct {
		direct = 1
	}
	if _, err := s.db.ExecContext(ctx, insertExecutionSQL,
		r.ID, r.Task, r.Capability, r.Backend, r.InvocationID, r.Input, r.Arguments, r.Result, direct, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *SQLHistoryRepository) ListLatest(ctx context.Context, limit int) ([]storage.Record, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectExecutionColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return records, nil
}

func (s *SQLHistoryRepository) Latest(ctx context.Context, task string) (storage.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, selectExecutionColumns+` WHERE task = ? ORDER BY created_at DESC, id DESC LIMIT 1`, task)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, false, nil
	}
	if err != nil {
		return storage.Record{}, false, err
	}
	return r, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (storage.Record, error) {
	var (
		r      storage.Record
		direct int64
	)
	if err := row.Scan(&r.ID, &r.Task, &r.Capability, &r.Backend, &r.InvocationID, &r.Input, &r.Arguments, &r.Result, &direct, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan execution: %w", err)
	}
	r.Direct = direct == 1
	return r, nil
}

func (s *SQLHistoryRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
