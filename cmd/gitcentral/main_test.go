package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitcentral/gitcentral/internal/config"
	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/ui"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2024-05-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("72h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-72*time.Hour), got)

	got, err = parseSince("3 days ago", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(-72*time.Hour), got, 24*time.Hour)

	_, err = parseSince("whenever", now)
	assert.Error(t, err)
}

func TestFilterSince(t *testing.T) {
	now := time.Now()
	revs := []state.Revision{
		{ShortID: "new", Date: now},
		{ShortID: "old", Date: now.Add(-48 * time.Hour)},
	}
	assert.Len(t, filterSince(revs, time.Time{}), 2)

	got := filterSince(revs, now.Add(-time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ShortID)
}

func TestWriteConfig(t *testing.T) {
	c := config.Default

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, "yaml", &c))
	assert.Contains(t, buf.String(), "git_binary: git")
	assert.Contains(t, buf.String(), "remote: origin")

	buf.Reset()
	require.NoError(t, writeConfig(&buf, "json", &c))
	assert.Contains(t, buf.String(), `"remote": "origin"`)

	buf.Reset()
	require.NoError(t, writeConfig(&buf, "toml", &c))
	assert.Contains(t, buf.String(), `remote = "origin"`)

	assert.Error(t, writeConfig(&buf, "ini", &c))
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	ui.Init(&buf, true)
	root := filepath.FromSlash("/repo")
	sink := &consoleSink{w: &buf, root: root}

	sink.StateChanged([]state.FileStatus{state.NewWithState(filepath.Join(root, "a.txt"), state.Modified)}, false)
	assert.Contains(t, buf.String(), "Modified")
	assert.Contains(t, buf.String(), "a.txt")
	assert.NotContains(t, buf.String(), root)

	buf.Reset()
	sink.StateChanged(nil, true)
	assert.Contains(t, buf.String(), "reloaded")

	buf.Reset()
	sink.CommandCompleted(3, provider.KindSync, true, nil)
	assert.Empty(t, buf.String())

	sink.CommandCompleted(4, provider.KindCheckIn, false, []string{"push rejected"})
	assert.Contains(t, buf.String(), "#4 CheckIn failed")
	assert.Contains(t, buf.String(), "push rejected")
}

func TestUnderAny(t *testing.T) {
	dirs := []string{filepath.FromSlash("/repo/sub")}
	assert.True(t, underAny(filepath.FromSlash("/repo/sub/a.txt"), dirs))
	assert.True(t, underAny(filepath.FromSlash("/repo/sub"), dirs))
	assert.False(t, underAny(filepath.FromSlash("/repo/subway/a.txt"), dirs))
	assert.False(t, underAny(filepath.FromSlash("/repo/a.txt"), nil))
}

func TestAbsPaths(t *testing.T) {
	repoRoot = filepath.FromSlash("/repo")
	t.Cleanup(func() { repoRoot = "" })

	got, err := absPaths(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{repoRoot}, got)

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	got, err = absPaths([]string{filepath.Join(dir, "missing.txt")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "missing.txt")}, got)
}
