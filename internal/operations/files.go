package operations

import (
	"context"
	"os"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
)

// deleteFiles removes files from disk. With locking each file is locked
// first so nobody else can take it before the deletion is checked in. Only
// files with a pin are recorded as Deleted; the rest is observed on disk.
func deleteFiles(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)

	for _, st := range s.known() {
		if !st.IsLockedByMe() && !s.lockFiles([]string{st.Path}) {
			return
		}
		s.makeWriteable([]string{st.Path})

		if err := os.Remove(st.Path); err != nil {
			s.res.AddError("Failed to delete file: %s", st.Path)
			return
		}
		e := env.Ledger.Get(st.Path)
		if e.Revision == state.NoRevision {
			continue
		}
		e.State = state.Deleted
		if err := env.Ledger.Set(st.Path, e, true); err != nil {
			s.fail(err)
			return
		}
	}

	s.res.Success = true
	s.refresh(cmd.Request.Files)
}

// forceUnlock releases locks held by other identities. Files not locked by
// someone else are left alone.
func forceUnlock(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)

	var files []string
	for _, st := range s.known() {
		if st.IsCheckedOutOther() {
			files = append(files, st.Path)
		}
	}
	s.res.Success = s.unlockFiles(files, true)
	s.refresh(files)
}

// markForAdd only refreshes status: new files are picked up by check-in, so
// this mostly runs after a file has been written for the first time.
func markForAdd(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)
	s.res.Success = true
	s.refresh(cmd.Request.Files)
}

// copyFiles needs no backend work: git detects copies on its own and the
// destination is checked in like any new file.
func copyFiles(_ context.Context, _ *provider.Env, cmd *provider.Command) {
	cmd.Result.Success = true
}
