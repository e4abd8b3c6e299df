// Package store implements the canonical and staging stores on SQLite.
// All master-data writes go through batch promotion; the job queue, route
// cache, and KPI materializer own their tables as described in the schema.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"clinkerplan/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Sentinel errors surfaced to callers. Storage failures are wrapped with
// their cause; callers may retry them.
var (
	ErrBatchNotFound = errors.New("batch not found")
	ErrJobNotFound   = errors.New("job not found")
	ErrNotFound      = errors.New("not found")
	ErrIllegalState  = errors.New("illegal state for operation")
)

// Store is the shared handle to the SQLite database. It is safe for
// concurrent use; SQLite is kept on a single connection so transactions
// serialize naturally.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open initializes the database at path (":memory:" for tests), applies
// pragmas, and runs pending migrations.
func Open(path string) (*Store, error) {
	log := logging.Get(logging.CategoryStore)
	log.Infow("opening store", "path", path)

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debugw("pragma failed", "pragma", pragma, "error", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Infow("store ready", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Get(logging.CategoryStore).Debugw("closing store", "path", s.path)
	return s.db.Close()
}

// DB exposes the underlying sqlx handle for read-only queries in tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a single transaction, rolling back on error or
// panic. Every multi-row mutation in the system goes through here.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.Get(logging.CategoryStore).Warnw("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TableCount returns the number of rows in a table. Used by tests and the
// referential-integrity stage (bootstrapping skip).
func (s *Store) TableCount(ctx context.Context, table string) (int64, error) {
	if !IsKnownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
