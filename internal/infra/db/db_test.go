package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/config"
)

func TestPostgresDSNEscapesCredentials(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{
		Host: "db", Port: 5432, User: "dialer", Password: "p@ss/word", Database: "calls",
	})
	assert.Equal(t, "postgres://dialer:p%40ss%2Fword@db:5432/calls?sslmode=disable", dsn)
}

func TestParseConsistency(t *testing.T) {
	assert.Equal(t, gocql.LocalQuorum, ParseConsistency("local_quorum"))
	assert.Equal(t, gocql.One, ParseConsistency("one"))
	assert.Equal(t, gocql.Quorum, ParseConsistency(""))
}

func TestNewSQLiteOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "queue.db")
	store, err := NewSQLite(context.Background(), config.SQLiteConfig{Path: path, BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var mode string
	require.NoError(t, store.DB().Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
	assert.NoError(t, store.Ping(context.Background()))
}
