package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/liaizen/coparent/internal/platform/storage/sqldb"
	"github.com/liaizen/coparent/internal/services/connections/storage/sqlstore"
)

// DBConfig selects the SQL backend.
type DBConfig struct {
	Driver string `env:"COPARENT_CONNECTIONS_DB_DRIVER" envDefault:"sqlite"`
	// DSN is required for postgres.
	DSN string `env:"COPARENT_CONNECTIONS_DB_DSN"`
	// Path is the SQLite file, used when DSN is empty.
	Path string `env:"COPARENT_CONNECTIONS_DB_PATH" envDefault:"data/connections.db"`
}

// OpenStore opens and migrates the configured store.
func OpenStore(ctx context.Context, cfg DBConfig) (*sqlstore.Store, error) {
	dialect, err := sqldb.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		if dialect != sqldb.SQLite {
			return nil, fmt.Errorf("%s requires a DSN", dialect)
		}
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			path = filepath.Join("data", "connections.db")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		dsn = path
	}
	store, err := sqlstore.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open connections %s store: %w", dialect, err)
	}
	return store, nil
}
