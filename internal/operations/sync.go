package operations

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

// syncLatest is the Sync worker. Syncing the repository root rebases the
// local branch onto the remote; anything else syncs individual files to the
// remote head and pins them there.
func syncLatest(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)
	if !s.fetch() {
		return
	}

	files := cmd.Request.Files
	if len(files) == 0 || (len(files) == 1 && filepath.Clean(files[0]) == filepath.Clean(cmd.Settings.RepoRoot)) {
		s.res.Success = s.getLatest()
		return
	}
	s.res.Success = s.syncFiles(files)
}

// getLatest brings the whole working copy to the remote head.
func (s *session) getLatest() bool {
	ctx := s.ctx
	set := s.cmd.Settings
	led := s.env.Ledger

	if !s.indexValid(msgIndexInvalid) {
		return false
	}

	remoteRef := s.remoteRef()
	remoteSha, err := s.git.RevParse(ctx, remoteRef)
	if err != nil {
		s.fail(err)
		return false
	}
	mergeBase, err := s.git.MergeBase(ctx, set.Branch, remoteRef)
	if err != nil {
		s.fail(err)
		return false
	}
	if mergeBase == remoteSha {
		s.res.AddInfo("Already up to date with %s", remoteRef)
		return true
	}

	snap := led.Snapshot()

	out, ok := s.exec([]string{"status", "--porcelain"})
	if !ok {
		return false
	}
	stashed := len(out.Stdout) > 0
	if stashed {
		_, ok = s.exec([]string{"add", "--all", "."})
		if ok {
			_, ok = s.exec([]string{"stash", "push", "-u", "-m", stashLabel})
		}
		if !ok {
			s.exec([]string{"reset", "-q"})
			return false
		}
	}

	remote, err := s.git.DiffNameStatus(ctx, mergeBase, remoteRef)
	if err != nil {
		s.fail(err)
		s.abortGetLatest(stashed, snap)
		return false
	}
	updated := sortedPaths(remote)

	if updated, ok = s.pullRebase(updated, remoteSha); !ok {
		s.abortGetLatest(stashed, snap)
		return false
	}
	// checkout --theirs reports "Updated 1 path from the index"
	s.res.RemoveRedundantErrors(msgPathFromIndex)

	if stashed {
		if _, popped := s.exec([]string{"stash", "pop"}); !popped {
			s.log.Warn("stash pop reported a conflict, local changes are left in the stash and must be restored by hand",
				zap.String("stash", stashLabel))
			ok = false
		}
		if _, reset := s.exec([]string{"reset", "-q"}); !reset {
			ok = false
		}
	}

	// everything is now at the new head unless pinned again
	for path, e := range led.All() {
		if e.State == state.Deleted {
			e.State = state.Unknown
		}
		e.Revision = state.NoRevision
		if e == ledger.DefaultEntry {
			_ = led.Clear(path, false)
			continue
		}
		_ = led.Set(path, e, false)
	}
	if !s.saveLedger(snap) {
		return false
	}
	s.res.UpdatedFiles = updated

	refresh := []string{s.cmd.Settings.RepoRoot}
	for _, st := range s.cmd.KnownWhere(func(st *state.FileStatus) bool {
		return !st.IsCurrent() || st.IsConflicted() || st.IsCheckedOut()
	}) {
		refresh = append(refresh, st.Path)
	}
	return s.refresh(refresh) && ok
}

// pullRebase rebases onto the remote, resolving each conflict in favour of
// the local version. Conflicted files that were already known as conflicted
// stay so in the ledger, pinned at the remote head. updated loses every
// file whose local version was kept.
func (s *session) pullRebase(updated []string, remoteSha string) ([]string, bool) {
	set := s.cmd.Settings
	out, err := s.git.Run(s.ctx, []string{"pull", "--rebase", set.Remote, set.Branch})

	for err != nil && hasConflict(out) {
		status, ok := s.exec([]string{"status", "--porcelain"})
		if !ok {
			break
		}
		states := git.ParseStatus(s.git.Root, status.Stdout, nil)
		for _, path := range sortedPaths(states) {
			if st := states[path]; !st.IsConflicted() {
				continue
			}
			// "theirs" during a rebase is the commit being replayed: ours
			s.exec([]string{"checkout", "--theirs", "--"}, path)
			if s.cmd.KnownState(path).IsConflicted() {
				e := s.env.Ledger.Get(path)
				e.State = state.Conflicted
				e.Revision = remoteSha
				_ = s.env.Ledger.Set(path, e, false)
			}
			updated = slices.DeleteFunc(updated, func(p string) bool { return p == path })
		}
		if _, ok := s.exec([]string{"add", "--all", "."}); !ok {
			break
		}
		out, err = s.git.Run(s.ctx, []string{"-c", "core.editor=true", "rebase", "--continue"})
	}

	if err != nil {
		s.record(out, err)
		return updated, false
	}
	s.res.Info = append(s.res.Info, out.Stderr...)
	return updated, true
}

func hasConflict(out *git.Output) bool {
	for _, line := range slices.Concat(out.Stdout, out.Stderr) {
		if strings.Contains(line, "CONFLICT") {
			return true
		}
	}
	return false
}

// abortGetLatest undoes a failed get-latest. The stashed local changes are
// restored rather than dropped. Errors of the rollback itself are recorded
// too.
func (s *session) abortGetLatest(stashed bool, snap ledger.Snapshot) {
	out, err := s.git.Run(s.ctx, []string{"rebase", "--abort"})
	if err != nil && !slices.ContainsFunc(out.Stderr, func(l string) bool {
		return strings.Contains(l, "No rebase in progress")
	}) {
		s.record(out, err)
	}
	if stashed {
		s.exec([]string{"stash", "pop"})
		s.exec([]string{"reset", "-q"})
	}
	s.env.Ledger.Restore(snap)
}

// syncFiles brings individual files to the remote head. Directories are
// expanded to the files they contain; files already current are skipped.
func (s *session) syncFiles(files []string) bool {
	var toSync []string
	for _, f := range files {
		if !s.git.Contains(f) {
			continue
		}
		// missing files may have been added on the remote
		if info, err := os.Stat(f); err == nil && info.IsDir() {
			toSync = append(toSync, filesIn(f)...)
		} else {
			toSync = append(toSync, f)
		}
	}
	s.makeWriteable(toSync)

	toSync = slices.DeleteFunc(toSync, func(f string) bool {
		st := s.cmd.KnownState(f)
		return st.IsCurrent()
	})
	if len(toSync) == 0 {
		s.res.AddError("None of the selected files are outdated")
		return false
	}

	remoteSha, err := s.git.RevParse(s.ctx, s.remoteRef())
	if err != nil {
		s.fail(err)
		return false
	}

	ok := true
	for _, f := range toSync {
		ok = s.syncFile(f, remoteSha, state.Unknown) && ok
	}
	s.refresh(toSync)
	s.res.UpdatedFiles = toSync
	return ok
}

// filesIn lists the regular files below dir, skipping .git.
func filesIn(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		out = append(out, path)
		return nil
	})
	return out
}

// syncFile writes file as of rev into the working tree, without touching
// the index, and pins it at rev in the ledger. A file that does not exist at
// rev is deleted and recorded as Deleted. A non-Unknown override replaces
// the recorded state.
func (s *session) syncFile(file, rev string, override state.WorkingState) bool {
	ref := rev
	if rev == state.NoRevision {
		ref = "HEAD"
	}
	out, checkoutErr := s.git.Run(s.ctx, []string{"checkout", "-f", ref, "--"}, file)
	// checkout leaves the file staged; reset unconditionally so a failed
	// write does not leave the index dirty
	reset, resetErr := s.git.Run(s.ctx, []string{"reset", "-q", "--"}, file)

	ok := checkoutErr == nil && resetErr == nil
	if checkoutErr != nil && len(out.Stderr) == 1 && strings.Contains(out.Stderr[0], msgNotAtRevision) {
		// the file does not exist at rev, which is also how a locally added
		// file is reverted
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			s.res.AddError("Failed to delete file: %s", file)
			return false
		}
		ok = true
		override = state.Deleted
	} else {
		s.record(out, checkoutErr)
		s.record(reset, resetErr)
	}
	if !ok {
		return false
	}

	e := s.env.Ledger.Get(file)
	e.Revision = rev
	if override != state.Unknown {
		e.State = override
	}
	if err := s.env.Ledger.Set(file, e, true); err != nil {
		s.fail(err)
		return false
	}
	return true
}
