package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: sqlite\nwindow:\n  time_zone: Europe/Berlin\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 50, cfg.Scheduler.MaxBatchSize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Dispatch.RequestTimeout)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: sqlite\n")
	t.Setenv("OUTBOUND_SCHEDULER_MAX_BATCH_SIZE", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Scheduler.MaxBatchSize)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Storage:   StorageConfig{Driver: DriverPostgres},
			Window:    WindowConfig{TimeZone: "UTC"},
			Scheduler: SchedulerConfig{MaxBatchSize: 10},
			Retry:     RetryConfig{MaxAttempts: 3},
		}
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*Config){
		"driver":   func(c *Config) { c.Storage.Driver = "mysql" },
		"timezone": func(c *Config) { c.Window.TimeZone = "Mars/Olympus" },
		"batch":    func(c *Config) { c.Scheduler.MaxBatchSize = 0 },
		"attempts": func(c *Config) { c.Retry.MaxAttempts = 0 },
		"kafka":    func(c *Config) { c.Kafka.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		err := cfg.Validate()
		assert.ErrorIs(t, err, apperrors.ErrValidation, name)
	}
}
