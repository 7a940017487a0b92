package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default.Remote, cfg.Remote)
	assert.Equal(t, Default.Workers, cfg.Workers)
	assert.Equal(t, Default.CommandTimeout, cfg.CommandTimeout)
	assert.True(t, cfg.UseLocking)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
}

func TestLoadRepoFileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	dir := filepath.Join(root, ".git", "gitcentral")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gitcentral.yaml"), []byte(
		"remote: upstream\nworkers: 2\ntick_interval: 250ms\nlog:\n  file: /tmp/gc.log\n"), 0o644))
	t.Setenv("GITCENTRAL_LOCK_USER", "alice")

	cfg, err := Load("", root)
	require.NoError(t, err)
	assert.Equal(t, "upstream", cfg.Remote)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, "/tmp/gc.log", cfg.Log.File)
	assert.Equal(t, "alice", cfg.LockUser)
	assert.Equal(t, filepath.Join(root, ".git", "gitcentral", "history.db"), cfg.HistoryPath(root))
}

func TestLoadExplicitMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default
	require.NoError(t, cfg.Validate())

	cfg.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = Default
	cfg.DashboardPort = 70000
	assert.Error(t, cfg.Validate())
}
