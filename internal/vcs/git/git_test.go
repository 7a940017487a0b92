package git

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// setupTestRepo creates a temporary git repository with one commit on main
func setupTestRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	run(t, dir, "init", "-q", "-b", "main")
	run(t, dir, "config", "user.name", "Test User")
	run(t, dir, "config", "user.email", "test@example.com")
	run(t, dir, "config", "commit.gpgsign", "false")

	writeFile(t, filepath.Join(dir, "base.txt"), "base\n")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseStatus(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "repo")
	lines := []string{
		" M mod.txt",
		"A  added.txt",
		" D gone.txt",
		"UU conflict.txt",
		"AA both.txt",
		"?? new.txt",
		"!! ignored.log",
		"R  old.txt -> renamed.txt",
		`?? "with space.txt"`,
	}
	got := ParseStatus(root, lines, nil)

	want := map[string]struct {
		ws     state.WorkingState
		staged bool
	}{
		"mod.txt":        {state.Modified, false},
		"added.txt":      {state.Added, true},
		"gone.txt":       {state.Deleted, false},
		"conflict.txt":   {state.Conflicted, true},
		"both.txt":       {state.Conflicted, true},
		"new.txt":        {state.NotControlled, false},
		"ignored.log":    {state.Ignored, true},
		"old.txt":        {state.Deleted, true},
		"renamed.txt":    {state.NotControlled, false},
		"with space.txt": {state.NotControlled, false},
	}
	if len(got) != len(want) {
		t.Fatalf("ParseStatus() returned %d entries, want %d: %v", len(got), len(want), got)
	}
	for rel, w := range want {
		s, ok := got[filepath.Join(root, rel)]
		if !ok {
			t.Errorf("missing %s", rel)
			continue
		}
		if s.Working != w.ws {
			t.Errorf("%s: state = %s, want %s", rel, s.Working, w.ws)
		}
		if s.Staged != w.staged {
			t.Errorf("%s: staged = %v, want %v", rel, s.Staged, w.staged)
		}
	}
}

func TestParseStatusFillsRequested(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	writeFile(t, present, "x")
	absent := filepath.Join(dir, "absent.txt")

	got := ParseStatus(dir, nil, []string{present, absent, dir})
	if got[present].Working != state.Unchanged {
		t.Errorf("present: state = %s, want Unchanged", got[present].Working)
	}
	if got[absent].Working != state.Unknown {
		t.Errorf("absent: state = %s, want Unknown", got[absent].Working)
	}
	if _, ok := got[dir]; ok {
		t.Error("directories must not be filled in")
	}
}

func TestParseNameStatus(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "repo")
	got := ParseNameStatus(root, []string{
		"M\ta.txt",
		"T\tb.txt",
		"A\tc.txt",
		"D\td.txt",
		"R100\te.txt\tf.txt",
		"U\tg.txt",
		"X\th.txt",
	})
	want := map[string]state.WorkingState{
		"a.txt": state.Modified,
		"b.txt": state.Modified,
		"c.txt": state.Added,
		"d.txt": state.Deleted,
		"e.txt": state.Deleted,
		"f.txt": state.Added,
		"g.txt": state.Conflicted,
		"h.txt": state.Unknown,
	}
	for rel, ws := range want {
		if s := got[filepath.Join(root, rel)]; s.Working != ws {
			t.Errorf("%s: state = %s, want %s", rel, s.Working, ws)
		}
	}
}

func TestParseLocks(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "repo")
	got := ParseLocks(root, []string{
		"Content/Map.umap   \talice\tID:12",
		"Content/Hero.uasset\tbob\tID:7",
		"garbage line",
	}, "alice")

	mine := got[filepath.Join(root, "Content", "Map.umap")]
	if mine.LockOwner != "alice" || mine.LockedByOther || mine.LockID != 12 {
		t.Errorf("own lock parsed as %+v", mine)
	}
	theirs := got[filepath.Join(root, "Content", "Hero.uasset")]
	if theirs.LockOwner != "bob" || !theirs.LockedByOther || theirs.LockID != 7 {
		t.Errorf("foreign lock parsed as %+v", theirs)
	}
	if len(got) != 2 {
		t.Errorf("ParseLocks() returned %d entries, want 2", len(got))
	}
}

func TestParseLog(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "repo")
	revs := ParseLog(root, []string{
		"commit 0123456789abcdef0123456789abcdef01234567",
		"Author: Jane Doe <jane@example.com>",
		"Date:   1700000000 +0100",
		"    Fix the map",
		"    second line",
		"M\tContent/Map.umap",
		"commit fedcba9876543210fedcba9876543210fedcba98",
		"Author: Bob <bob@example.com>",
		"Date:   1690000000 +0000",
		"    Rename",
		"R100\told.umap\tContent/Map.umap",
	})
	if len(revs) != 2 {
		t.Fatalf("ParseLog() returned %d revisions, want 2", len(revs))
	}
	r := revs[0]
	if r.ShortID != "01234567" || r.Number != 0x01234567 {
		t.Errorf("short id = %q number = %d", r.ShortID, r.Number)
	}
	if r.User != "Jane Doe" || r.Action != "modified" {
		t.Errorf("user = %q action = %q", r.User, r.Action)
	}
	if r.Description != "Fix the map\nsecond line" {
		t.Errorf("description = %q", r.Description)
	}
	if r.Date.Unix() != 1700000000 {
		t.Errorf("date = %v", r.Date)
	}
	if revs[1].Action != "renamed" || revs[1].Filename != filepath.Join(root, "Content", "Map.umap") {
		t.Errorf("rename parsed as %+v", revs[1])
	}
}

func TestParseLFSVersion(t *testing.T) {
	tests := []struct {
		raw     string
		version string
		locking bool
	}{
		{"git-lfs/3.4.0 (GitHub; linux amd64; go 1.21.1)", "3.4.0", true},
		{"git-lfs/2.0.0 (GitHub; windows amd64; go 1.8)", "2.0.0", true},
		{"git-lfs/1.5.6 (GitHub; darwin amd64; go 1.7.4)", "1.5.6", false},
		{"not lfs", "", false},
	}
	for _, tt := range tests {
		v := parseLFSVersion(tt.raw)
		if v != tt.version {
			t.Errorf("parseLFSVersion(%q) = %q, want %q", tt.raw, v, tt.version)
		}
		if got := lfsSupportsLocking(v); got != tt.locking {
			t.Errorf("lfsSupportsLocking(%q) = %v, want %v", v, got, tt.locking)
		}
	}
}

func TestRunBatchesFiles(t *testing.T) {
	dir := setupTestRepo(t)
	r := NewRunner("git", dir, nil)

	var files []string
	for i := 0; i < MaxFilesPerBatch*2+5; i++ {
		p := filepath.Join(dir, "many", "f"+strconv.Itoa(i)+".txt")
		writeFile(t, p, "x")
		files = append(files, p)
	}

	states, err := r.Status(context.Background(), true, files...)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if len(states) != len(files) {
		t.Fatalf("Status() returned %d entries across batches, want %d", len(states), len(files))
	}
	for _, f := range files {
		if states[f].Working != state.NotControlled {
			t.Errorf("%s: state = %s, want NotControlled", f, states[f].Working)
		}
	}
}

func TestStatusLeavesIndexLockAlone(t *testing.T) {
	dir := setupTestRepo(t)
	r := NewRunner("git", dir, nil)
	writeFile(t, filepath.Join(dir, "base.txt"), "changed\n")

	// a writer such as rebase holds the index lock
	lock := filepath.Join(dir, ".git", "index.lock")
	writeFile(t, lock, "")

	if _, err := r.Status(context.Background(), false); err != nil {
		t.Fatalf("Status() under index.lock error: %v", err)
	}
	if _, err := os.Stat(lock); err != nil {
		t.Errorf("index.lock should still belong to the writer: %v", err)
	}
}

func TestRunReportsFailure(t *testing.T) {
	dir := setupTestRepo(t)
	r := NewRunner("git", dir, nil)

	out, err := r.Run(context.Background(), []string{"rev-parse", "--verify", "does-not-exist"})
	if err == nil {
		t.Fatal("Run() expected error")
	}
	if !errors.Is(err, vcs.ErrCommandFailed) {
		t.Errorf("Run() error = %v, want ErrCommandFailed", err)
	}
	if len(out.Stderr) == 0 {
		t.Error("Run() should keep stderr lines on failure")
	}
}

func TestDiscoverAndDescribe(t *testing.T) {
	dir := setupTestRepo(t)
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	root, err := Discover(sub)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if root != dir {
		t.Errorf("Discover() = %q, want %q", root, dir)
	}

	if _, err := Discover(t.TempDir()); !errors.Is(err, vcs.ErrNotInVCS) {
		t.Errorf("Discover() outside repo error = %v, want ErrNotInVCS", err)
	}

	info, err := NewRunner("git", dir, nil).Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if info.Branch != "main" || info.Detached {
		t.Errorf("branch = %q detached = %v", info.Branch, info.Detached)
	}
	if info.UserName != "Test User" {
		t.Errorf("user = %q", info.UserName)
	}
}

func TestResolveRemote(t *testing.T) {
	tests := []struct {
		configured string
		remotes    []string
		want       string
		ok         bool
	}{
		{"", []string{"origin"}, "origin", true},
		{"upstream", []string{"origin", "upstream"}, "upstream", true},
		{"upstream", []string{"origin"}, "origin", false},
		{"upstream", []string{"fork"}, "fork", false},
		{"origin", nil, "origin", false},
	}
	for _, tt := range tests {
		got, ok := ResolveRemote(tt.configured, tt.remotes)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ResolveRemote(%q, %v) = %q, %v; want %q, %v", tt.configured, tt.remotes, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCheckIndex(t *testing.T) {
	dir := setupTestRepo(t)
	r := NewRunner("git", dir, nil)
	ctx := context.Background()

	writeFile(t, filepath.Join(dir, "base.txt"), "changed\n")
	if got := r.CheckIndex(ctx); got != IndexValid {
		t.Errorf("unstaged edit: CheckIndex() = %s, want valid", got)
	}

	run(t, dir, "add", "base.txt")
	if got := r.CheckIndex(ctx); got != IndexInvalid {
		t.Errorf("staged edit: CheckIndex() = %s, want invalid", got)
	}
	if !errors.Is(r.CheckIndex(ctx).Err(), vcs.ErrIndexInvalid) {
		t.Error("IndexInvalid.Err() should be ErrIndexInvalid")
	}
}

func TestAncestryAndMergeBase(t *testing.T) {
	dir := setupTestRepo(t)
	r := NewRunner("git", dir, nil)
	ctx := context.Background()

	first := run(t, dir, "rev-parse", "HEAD")
	writeFile(t, filepath.Join(dir, "second.txt"), "2")
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-q", "-m", "second")
	second := run(t, dir, "rev-parse", "HEAD")

	a, err := OpenAncestry(r)
	if err != nil {
		t.Fatalf("OpenAncestry() error: %v", err)
	}
	if ok, err := a.IsAncestor(ctx, first, second); err != nil || !ok {
		t.Errorf("IsAncestor(first, second) = %v, %v; want true", ok, err)
	}
	if ok, err := a.IsAncestor(ctx, second, first); err != nil || ok {
		t.Errorf("IsAncestor(second, first) = %v, %v; want false", ok, err)
	}
	if ok, err := r.IsAncestor(ctx, second, first); err != nil || ok {
		t.Errorf("Runner.IsAncestor(second, first) = %v, %v; want false", ok, err)
	}

	base, err := r.MergeBase(ctx, first, second)
	if err != nil || base != first {
		t.Errorf("MergeBase() = %q, %v; want %q", base, err, first)
	}
}

func TestHistoryAndDump(t *testing.T) {
	dir := setupTestRepo(t)
	r := NewRunner("git", dir, nil)
	ctx := context.Background()

	file := filepath.Join(dir, "base.txt")
	writeFile(t, file, "v2\n")
	run(t, dir, "commit", "-q", "-am", "update base")

	revs, err := r.History(ctx, "main", file)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("History() returned %d revisions, want 2", len(revs))
	}
	if revs[0].Description != "update base" || revs[1].Action != "added" {
		t.Errorf("unexpected history %+v", revs)
	}

	var buf bytes.Buffer
	if err := r.DumpRevision(ctx, revs[1].CommitID, file, &buf); err != nil {
		t.Fatalf("DumpRevision() error: %v", err)
	}
	if buf.String() != "base\n" {
		t.Errorf("DumpRevision() = %q, want %q", buf.String(), "base\n")
	}
}
