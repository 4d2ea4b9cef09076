package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/service/concurrency"
	"github.com/acme/outbound-call-queue/internal/telephony/bridge"
	telephonyMock "github.com/acme/outbound-call-queue/internal/telephony/mock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

func TestBuildWiresSQLiteStack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  driver: sqlite\nsqlite:\n  path: " + filepath.Join(dir, "queue.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	c, err := Build(context.Background(), path, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.NotNil(t, c.SQLite)
	assert.Nil(t, c.Postgres)
	assert.Nil(t, c.Journal)
	assert.Nil(t, c.Publisher)
	assert.IsType(t, &concurrency.Local{}, c.Slots)
	assert.IsType(t, &telephonyMock.Provider{}, c.Dispatcher)
	require.NotNil(t, c.Processor)
	require.NotNil(t, c.Launcher)

	checks := c.HealthChecks()
	require.Contains(t, checks, "sqlite")
	assert.NoError(t, checks["sqlite"](context.Background()))

	rules, err := c.Repos.Rules.ListRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
	assert.NoError(t, c.EnsureTopics(context.Background()))
}

func TestNewDispatcher(t *testing.T) {
	d, err := newDispatcher(config.DispatchConfig{Provider: ProviderBridge, Endpoint: "http://bridge/calls"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &bridge.Client{}, d)

	_, err = newDispatcher(config.DispatchConfig{Provider: ProviderBridge}, logger.Nop())
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = newDispatcher(config.DispatchConfig{Provider: "carrier-pigeon"}, logger.Nop())
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
