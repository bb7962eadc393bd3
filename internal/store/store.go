package store

import (
	"context"
	"database/sql"
	"fmt"

	"folio/api/internal/vcs"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore persists the commit graph in Postgres or SQLite. Its embedded
// repo runs every call directly against the pool; InTx and View hand out a
// repo bound to one transaction.
type SQLStore struct {
	repo
	db *sql.DB
}

var _ vcs.Store = (*SQLStore)(nil)

func New(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{repo: repo{q: db, dialect: dialect}, db: db}
}

func NewPostgresStore(db *sql.DB) *SQLStore {
	return New(db, Postgres)
}

func NewSQLiteStore(db *sql.DB) *SQLStore {
	return New(db, SQLite)
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) InTx(ctx context.Context, fn func(vcs.Repository) error) error {
	return s.run(ctx, nil, fn)
}

func (s *SQLStore) View(ctx context.Context, fn func(vcs.Repository) error) error {
	return s.run(ctx, s.dialect.viewOptions(), fn)
}

func (s *SQLStore) run(ctx context.Context, opts *sql.TxOptions, fn func(vcs.Repository) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(repo{q: tx, dialect: s.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// repo implements vcs.Repository over either the pool or one transaction.
type repo struct {
	q       dbtx
	dialect Dialect
}

func (r repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.dialect.rebind(query), args...)
}

func (r repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.dialect.rebind(query), args...)
}

func (r repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.dialect.rebind(query), args...)
}

func (r repo) AcquireLock(ctx context.Context, key string, shared bool) error {
	return r.dialect.lock(ctx, r.q, key, shared)
}
