package operations

import (
	"context"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs"
)

// checkOut locks the files that are free, makes them writeable and marks
// them checked out in the ledger. It does not get latest: checking out an
// outdated file ends in a conflict.
func checkOut(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)
	known := s.known()

	var toLock []string
	for _, st := range known {
		if st.CanLock() {
			toLock = append(toLock, st.Path)
		}
	}
	if !s.lockFiles(toLock) {
		return
	}

	s.makeWriteable(cmd.Request.Files)

	snap := env.Ledger.Snapshot()
	for _, st := range known {
		if st.IsCheckedOut() || st.IsConflicted() || st.IsCheckedOutOther() {
			continue
		}
		s.markCheckedOut(st.Path)
	}
	if !s.saveLedger(snap) {
		return
	}

	s.res.Success = s.refresh(cmd.Request.Files)
}

// markCheckedOut sets the ledger state of path to CheckedOut when nothing
// more specific is recorded. The ledger is saved by the caller.
func (s *session) markCheckedOut(path string) {
	e := s.env.Ledger.Get(path)
	if e.State != state.Unknown && e.State != state.Unchanged {
		return
	}
	e.State = state.CheckedOut
	_ = s.env.Ledger.Set(path, e, false)
}

func (s *session) makeWriteable(files []string) {
	for _, f := range files {
		if !vcs.FileExists(f) {
			continue
		}
		if err := vcs.MakeWriteable(f); err != nil {
			s.log.Warn("failed to make file writeable", zap.String("path", f), zap.Error(err))
		}
	}
}

// forceWriteable lets the user edit files locked by someone else. They are
// recorded as checked out so local edits are tracked, and will show as
// ForcedWriteable while the other lock is held.
func forceWriteable(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)
	s.makeWriteable(cmd.Request.Files)

	snap := env.Ledger.Snapshot()
	for _, st := range s.known() {
		if st.CanForceWriteable() {
			s.markCheckedOut(st.Path)
		}
	}
	if !s.saveLedger(snap) {
		return
	}
	s.res.Success = s.refresh(cmd.Request.Files)
}

// resolve accepts the local version of conflicted files: they stay checked
// out, pinned at the current remote head.
func resolve(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)
	remoteSha, err := s.git.RevParse(ctx, s.remoteRef())
	if err != nil {
		s.fail(err)
		return
	}

	s.makeWriteable(cmd.Request.Files)

	snap := env.Ledger.Snapshot()
	for _, st := range s.known() {
		if !st.IsConflicted() {
			continue
		}
		_ = env.Ledger.Set(st.Path, ledger.Entry{State: state.CheckedOut, Revision: remoteSha}, false)
	}
	if !s.saveLedger(snap) {
		return
	}
	s.res.Success = true
	s.refresh(cmd.Request.Files)
}
