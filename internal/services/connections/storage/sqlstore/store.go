// Package sqlstore provides the SQL-backed connections storage used with
// both SQLite and PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/liaizen/coparent/internal/platform/id"
	"github.com/liaizen/coparent/internal/platform/storage/sqldb"
	"github.com/liaizen/coparent/internal/platform/storage/sqlmigrate"
	"github.com/liaizen/coparent/internal/services/connections/identity"
	"github.com/liaizen/coparent/internal/services/connections/rooms"
	"github.com/liaizen/coparent/internal/services/connections/storage"
	"github.com/liaizen/coparent/internal/services/connections/storage/sqlstore/migrations"
)

// Store persists connections state.
type Store struct {
	sqlDB   *sql.DB
	dialect sqldb.Dialect
	newID   func() (string, error)
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// Open opens a store for dialect and applies embedded migrations.
func Open(ctx context.Context, dialect sqldb.Dialect, dsn string) (*Store, error) {
	sqlDB, err := sqldb.Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := sqlmigrate.ApplyMigrations(ctx, sqlDB, dialect, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, dialect: dialect, newID: id.NewID}, nil
}

// OpenSQLite opens a SQLite store at path.
func OpenSQLite(path string) (*Store, error) {
	return Open(context.Background(), sqldb.SQLite, path)
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// inTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}

var (
	_ storage.RequestStore = (*Store)(nil)
	_ storage.PairStore    = (*Store)(nil)
	_ storage.ContactStore = (*Store)(nil)
	_ identity.Store       = (*Store)(nil)
	_ rooms.Store          = (*Store)(nil)
)
