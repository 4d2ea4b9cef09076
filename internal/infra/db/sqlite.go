package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/acme/outbound-call-queue/internal/config"
)

// SQLite wraps a single-connection sqlx handle over the pure-Go driver.
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens (and creates when missing) the database at cfg.Path. ":memory:" is allowed.
func NewSQLite(ctx context.Context, cfg config.SQLiteConfig) (*SQLite, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	busy := cfg.BusyTimeout.Milliseconds()
	if busy <= 0 {
		busy = 5000
	}
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += fmt.Sprintf("_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", busy)
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	raw, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; this also keeps an in-memory database alive on a single connection.
	raw.SetMaxOpenConns(1)
	raw.SetMaxIdleConns(1)
	raw.SetConnMaxLifetime(0)

	if err := raw.PingContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	// sqlx picks bind vars by driver name; "sqlite3" selects '?' placeholders.
	return &SQLite{db: sqlx.NewDb(raw, "sqlite3")}, nil
}

// DB exposes the sqlx handle.
func (s *SQLite) DB() *sqlx.DB {
	return s.db
}

// Close releases the connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}
