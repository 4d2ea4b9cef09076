package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  driver: sqlite\nsqlite:\n  path: " + filepath.Join(dir, "queue.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCountsCommand(t *testing.T) {
	out, err := run(t, "counts", "--config", sqliteConfig(t))
	require.NoError(t, err)

	var counts map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	assert.Equal(t, map[string]int64{"pending": 0, "processing": 0, "completed": 0, "failed": 0}, counts)
}

func TestProcessWithClosedWindow(t *testing.T) {
	out, err := run(t, "process", "--limit", "5", "--config", sqliteConfig(t))
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, false, res["admitted"])
}

func TestStatusCommand(t *testing.T) {
	out, err := run(t, "status", "--config", sqliteConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, `"allowed": false`)
}

func TestLaunchRejectsBadCampaignID(t *testing.T) {
	_, err := run(t, "launch", "not-an-id", "--config", sqliteConfig(t))
	assert.ErrorContains(t, err, "invalid campaign id")
}

func TestLaunchUnknownCampaign(t *testing.T) {
	_, err := run(t, "launch", "6f1c2a8e-0000-4000-8000-000000000000", "--config", sqliteConfig(t))
	assert.Error(t, err)
}
