package provider

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/state"
)

func newTestProvider(t *testing.T, reg *Registry) *Provider {
	t.Helper()
	root := t.TempDir()
	p, err := New(Options{
		Settings: Settings{RepoRoot: root, Remote: "origin", Branch: "main"},
		Enabled:  true,
		Registry: reg,
		Ledger:   ledger.New(root, "origin", "main", nil),
		Workers:  2,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

// statesFor reports every requested file in ws.
func statesFor(ws state.WorkingState) ExecuteFunc {
	return func(_ context.Context, _ *Env, c *Command) {
		for _, f := range c.Request.Files {
			c.Result.States = append(c.Result.States, state.NewWithState(f, ws))
		}
		c.Result.Success = true
	}
}

func TestRegistryPanics(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() { reg.Register(KindCopy, Worker{}) })
	reg.Register(KindCopy, Worker{Execute: statesFor(state.Unchanged)})
	assert.Panics(t, func() { reg.Register(KindCopy, Worker{Execute: statesFor(state.Unchanged)}) })
	assert.Equal(t, []Kind{KindCopy}, reg.Kinds())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("force-unlock")
	require.NoError(t, err)
	assert.Equal(t, KindForceUnlock, k)

	k, err = ParseKind("checkin")
	require.NoError(t, err)
	assert.Equal(t, KindCheckIn, k)

	_, err = ParseKind("rebase")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestRunAppliesStatesAndBroadcasts(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindUpdateStatus, Worker{Execute: statesFor(state.Modified)})
	p := newTestProvider(t, reg)

	var notified [][]string
	h := p.RegisterOnStateChanged(func(paths []string) { notified = append(notified, paths) })

	c, err := p.Run(context.Background(), Request{Kind: KindUpdateStatus, Files: []string{"a.txt"}})
	require.NoError(t, err)
	assert.Equal(t, Completed, c.Status())

	abs := filepath.Join(p.Settings().RepoRoot, "a.txt")
	got, err := p.GetState(context.Background(), []string{"a.txt"}, UseCached)
	require.NoError(t, err)
	assert.Equal(t, state.Modified, got[0].Working)
	require.Len(t, notified, 1)
	assert.Equal(t, []string{abs}, notified[0])

	// identical results do not broadcast again
	_, err = p.Run(context.Background(), Request{Kind: KindUpdateStatus, Files: []string{"a.txt"}})
	require.NoError(t, err)
	assert.Len(t, notified, 1)

	p.UnregisterOnStateChanged(h)
	p.ClearCache()
	p.Tick()
	assert.Len(t, notified, 1)
}

func TestRejections(t *testing.T) {
	reg := NewRegistry()
	p := newTestProvider(t, reg)

	_, err := p.Submit(Request{Kind: KindCheckIn}, nil)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, Failed, p.Execute(context.Background(), Request{Kind: KindCheckIn}, Asynchronous, nil))

	p.enabled = false
	reg.Register(KindCopy, Worker{Execute: statesFor(state.Unchanged)})
	_, err = p.Submit(Request{Kind: KindCopy}, nil)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestFailedCommandError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindRevert, Worker{Execute: func(_ context.Context, _ *Env, c *Command) {
		c.Result.AddError("Failed to delete file: %s", "x")
	}})
	p := newTestProvider(t, reg)

	c, err := p.Run(context.Background(), Request{Kind: KindRevert})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCommandFailed))
	assert.Contains(t, err.Error(), "Failed to delete file: x")
	assert.False(t, c.Result.Success)
	assert.Equal(t, Failed, p.Execute(context.Background(), Request{Kind: KindRevert}, Synchronous, nil))
}

func TestTickAppliesOneCommandPerCall(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindMarkForAdd, Worker{Execute: statesFor(state.NotControlled)})
	p := newTestProvider(t, reg)

	var calls atomic.Int32
	done := func(*Command, bool) { calls.Add(1) }
	a, err := p.Submit(Request{Kind: KindMarkForAdd, Files: []string{"a"}}, done)
	require.NoError(t, err)
	b, err := p.Submit(Request{Kind: KindMarkForAdd, Files: []string{"b"}}, done)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.Status() == Completed && b.Status() == Completed
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, 2, p.Pending())
	assert.True(t, p.Tick())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, p.Pending())
	assert.True(t, p.Tick())
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, p.Tick())
}

func TestCallbackRunsOnTickingGoroutine(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindCopy, Worker{Execute: func(_ context.Context, _ *Env, c *Command) { c.Result.Success = true }})
	p := newTestProvider(t, reg)

	var success bool
	var called bool
	assert.Equal(t, Succeeded, p.Execute(context.Background(), Request{Kind: KindCopy}, Synchronous, func(_ *Command, ok bool) {
		called, success = true, ok
	}))
	assert.True(t, called)
	assert.True(t, success)
}

func TestExclusiveWorkersDoNotOverlap(t *testing.T) {
	var running, maxRunning atomic.Int32
	slow := func(_ context.Context, _ *Env, c *Command) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		c.Result.Success = true
	}
	reg := NewRegistry()
	reg.Register(KindCheckOut, Worker{Execute: slow, Exclusive: true})
	p := newTestProvider(t, reg)

	var cmds []*Command
	for i := 0; i < 4; i++ {
		c, err := p.Submit(Request{Kind: KindCheckOut}, nil)
		require.NoError(t, err)
		cmds = append(cmds, c)
	}
	for _, c := range cmds {
		require.NoError(t, p.wait(context.Background(), c))
	}
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestSharedWorkersWaitForExclusive(t *testing.T) {
	var writing atomic.Bool
	var overlapped atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	reg := NewRegistry()
	reg.Register(KindSync, Worker{Execute: func(_ context.Context, _ *Env, c *Command) {
		writing.Store(true)
		close(started)
		<-release
		writing.Store(false)
		c.Result.Success = true
	}, Exclusive: true})
	reg.Register(KindUpdateStatus, Worker{Execute: func(_ context.Context, _ *Env, c *Command) {
		if writing.Load() {
			overlapped.Add(1)
		}
		c.Result.Success = true
	}})
	p := newTestProvider(t, reg)

	syncCmd, err := p.Submit(Request{Kind: KindSync}, nil)
	require.NoError(t, err)
	<-started
	status, err := p.Submit(Request{Kind: KindUpdateStatus}, nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.NotEqual(t, Completed, status.Status(), "status refresh must wait for the exclusive worker")
	close(release)

	require.NoError(t, p.wait(context.Background(), syncCmd))
	require.NoError(t, p.wait(context.Background(), status))
	assert.Zero(t, overlapped.Load())
}

func TestPanickingWorkerFails(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindDelete, Worker{Execute: func(context.Context, *Env, *Command) { panic("boom") }})
	p := newTestProvider(t, reg)

	c, err := p.Run(context.Background(), Request{Kind: KindDelete})
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Contains(t, c.Result.Errors[0], "boom")
}

func TestApplyResultSideEffects(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindUpdateStatus, Worker{Execute: statesFor(state.CheckedOut)})
	reg.Register(KindSync, Worker{Execute: func(_ context.Context, _ *Env, c *Command) {
		c.Result.UpdatedFiles = c.Request.Files
		c.Result.Removed = c.Request.Files
		c.Result.Histories = map[string][]state.Revision{}
		c.Result.SetConnected(true)
		c.Result.Success = true
	}})
	reg.Register(KindConnect, Worker{Execute: func(_ context.Context, _ *Env, c *Command) {
		c.Result.ClearCache = true
		c.Result.SetConnected(false)
		c.Result.Success = true
	}})
	p := newTestProvider(t, reg)
	ctx := context.Background()
	root := p.Settings().RepoRoot

	_, err := p.Run(ctx, Request{Kind: KindUpdateStatus, Files: []string{"a", "b"}})
	require.NoError(t, err)
	checkedOut := p.GetCachedStateByPredicate(func(s *state.FileStatus) bool { return s.IsCheckedOut() })
	assert.Len(t, checkedOut, 2)

	c, err := p.Submit(Request{Kind: KindUpdateStatus, Files: []string{"c"}}, nil)
	require.NoError(t, err)
	assert.Contains(t, c.Known, filepath.Join(root, "a"), "checked-out files are part of every snapshot")
	require.NoError(t, p.wait(ctx, c))

	_, err = p.Run(ctx, Request{Kind: KindSync, Files: []string{"a"}})
	require.NoError(t, err)
	assert.True(t, p.IsAvailable())
	assert.Equal(t, []string{filepath.Join(root, "a")}, p.LastSyncUpdatedFiles())
	assert.Len(t, p.GetCachedStateByPredicate(func(*state.FileStatus) bool { return true }), 2)

	_, err = p.Run(ctx, Request{Kind: KindConnect})
	require.NoError(t, err)
	assert.False(t, p.IsAvailable())
	assert.Empty(t, p.GetCachedStateByPredicate(func(*state.FileStatus) bool { return true }))
}

func TestCancelUnsupported(t *testing.T) {
	p := newTestProvider(t, NewRegistry())
	assert.False(t, p.CanCancelOperation(nil))
	assert.ErrorIs(t, p.CancelOperation(nil), ErrCancelUnsupported)
}

func TestRemoveRedundantErrors(t *testing.T) {
	r := Result{Errors: []string{"fatal: 'x' is outside repository"}}
	r.RemoveRedundantErrors("' is outside repository")
	assert.True(t, r.Success)
	assert.Empty(t, r.Errors)
	assert.Len(t, r.Info, 1)

	r = Result{Errors: []string{"a is outside repository", "real failure"}}
	r.RemoveRedundantErrors("is outside repository")
	assert.False(t, r.Success)
	assert.Equal(t, []string{"real failure"}, r.Errors)
}
