package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher()
	require.NoError(t, err)
	require.NoError(t, fw.Start(root))
	t.Cleanup(func() { _ = fw.Stop() })
	return fw
}

// waitFor consumes events until op is reported for path, failing after a
// timeout.
func waitFor(t *testing.T, fw *FileWatcher, path string, op EventOp) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-fw.Events():
			require.True(t, ok, "watcher closed")
			if ev.Path == path && ev.Op == op {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event for %s", op, path)
		}
	}
}

func TestWatcherSeesNestedFiles(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	fw := startWatcher(t, root)

	path := filepath.Join(sub, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	waitFor(t, fw, path, OpCreate)

	require.NoError(t, os.Remove(path))
	waitFor(t, fw, path, OpDelete)
}

func TestWatcherAddsNewDirectories(t *testing.T) {
	root := t.TempDir()
	fw := startWatcher(t, root)

	dir := filepath.Join(root, "new")
	require.NoError(t, os.Mkdir(dir, 0o755))
	waitFor(t, fw, dir, OpCreate)

	path := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(path, []byte("b"), 0o644))
	waitFor(t, fw, path, OpCreate)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	fw, err := NewFileWatcher()
	require.NoError(t, err)
	require.NoError(t, fw.Start(t.TempDir()))
	assert.True(t, fw.IsRunning())
	assert.Error(t, fw.Start(t.TempDir()))

	require.NoError(t, fw.Stop())
	require.NoError(t, fw.Stop())
	assert.False(t, fw.IsRunning())
}

func TestInGitDir(t *testing.T) {
	root := filepath.FromSlash("/repo")
	assert.True(t, inGitDir(root, filepath.FromSlash("/repo/.git/index")))
	assert.True(t, inGitDir(root, filepath.FromSlash("/repo/sub/.git")))
	assert.False(t, inGitDir(root, filepath.FromSlash("/repo/src/git.go")))
	assert.False(t, inGitDir(root, filepath.FromSlash("/repo/.gitignore")))
}
