package operations

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

// updateStatus computes the canonical status of files by folding, in order,
// the local commits ahead of the merge-base with the working tree, the
// ledger, the remote commits since the merge-base and the lock server.
//
// Directories are expanded by git. Paths outside the repository are
// ignored; when nothing is left no state is reported.
func (s *session) updateStatus(files []string) ([]state.FileStatus, error) {
	ctx := s.ctx
	set := s.cmd.Settings

	var params, toDiff, dirs []string
	for _, f := range files {
		if !s.git.Contains(f) {
			continue
		}
		params = append(params, f)
		info, err := os.Stat(f)
		switch {
		case err != nil:
			// git diff only accepts paths that exist
		case info.IsDir():
			dirs = append(dirs, filepath.Clean(f))
		default:
			toDiff = append(toDiff, f)
		}
	}
	if len(params) == 0 {
		return nil, nil
	}
	dirUpdate := len(dirs) > 0

	remoteRef := s.remoteRef()
	mergeBase, err := s.git.MergeBase(ctx, set.Branch, remoteRef)
	if err != nil {
		return nil, err
	}
	remoteSha, err := s.git.RevParse(ctx, remoteRef)
	if err != nil {
		return nil, err
	}
	localSha, err := s.git.RevParse(ctx, set.Branch)
	if err != nil {
		return nil, err
	}

	// Remote changes first, so that directory updates also report files
	// that only exist on the remote.
	var remote git.States
	if remoteSha != mergeBase {
		if remote, err = s.git.DiffNameStatus(ctx, mergeBase, remoteRef); err != nil {
			return nil, err
		}
		for _, p := range sortedPaths(remote) {
			if underAny(p, dirs) {
				params = append(params, p)
			}
		}
	}

	states := make(git.States)
	if (len(toDiff) > 0 || dirUpdate) && localSha != mergeBase {
		diffFiles := toDiff
		if dirUpdate {
			diffFiles = nil
		}
		if states, err = s.git.DiffNameStatus(ctx, mergeBase, set.Branch, diffFiles...); err != nil {
			return nil, err
		}
	}

	porcelain, err := s.git.Status(ctx, dirUpdate, params...)
	if err != nil {
		return nil, err
	}
	for path, st := range porcelain {
		cur, ok := states[path]
		if !ok {
			states[path] = st
			continue
		}
		if err := cur.CombineWithLocal(&st); err != nil {
			s.log.Debug("local fold", zap.String("path", path), zap.Error(err))
		}
		states[path] = cur
	}

	for path, st := range states {
		e := s.env.Ledger.Get(path)
		st.CombineWithLedger(e.State, e.Revision, localSha)
		// a file with no status at all that is missing on disk was never
		// there, it is not deleted
		if st.Working != state.Unknown {
			if _, err := os.Stat(path); err != nil {
				st.Working = state.Deleted
			}
		}
		states[path] = st
	}

	for path, rst := range remote {
		st, ok := states[path]
		if !ok {
			continue
		}
		old := st.Working
		if err := st.CombineWithRemote(&rst); err != nil {
			s.log.Debug("remote fold", zap.String("path", path), zap.Error(err))
		}
		if rst.Working == state.Deleted && old == state.Deleted {
			s.log.Warn(msgUnhandledMerge, zap.String("path", path), zap.Stringer("result", st.Working))
		}
		if !st.IsCurrent() && st.PinnedRevision != state.NoRevision &&
			s.pinContains(st.PinnedRevision, remoteSha, remoteRef, path) {
			st.Resolve(old, vcs.FileExists(path))
		}
		states[path] = st
	}

	if set.UseLocking {
		locks, err := s.git.Locks(ctx, set.Remote, set.LockUser)
		if err != nil {
			return nil, err
		}
		for path, l := range locks {
			st, ok := states[path]
			if !ok {
				continue
			}
			if err := st.CombineWithLock(&l); err != nil {
				s.log.Debug("lock fold", zap.String("path", path), zap.Error(err))
			}
			states[path] = st
		}
	}

	out := make([]state.FileStatus, 0, len(states))
	for _, p := range sortedPaths(states) {
		out = append(out, states[p])
	}
	return out, nil
}

// pinContains reports whether the last remote change to path is already
// contained in pin.
func (s *session) pinContains(pin, remoteSha, remoteRef, path string) bool {
	if pin == remoteSha {
		return true
	}
	last, err := s.git.LastChangedRevision(s.ctx, remoteRef, path)
	if err != nil || last == "" {
		return false
	}
	mb, err := s.git.MergeBase(s.ctx, last, pin)
	return err == nil && mb == last
}

func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if path == d || strings.HasPrefix(path, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// updateStatus is the UpdateStatus worker.
func updateStatus(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)
	req := cmd.Request

	// an unreachable remote is reported through the connection flag; the
	// refresh still runs against the last fetched remote head
	s.res.Success = s.fetch()

	files := req.Files
	if len(files) == 0 && (req.CheckAllFiles || req.OpenedOnly) {
		files = []string{cmd.Settings.RepoRoot}
	}
	if len(files) > 0 {
		s.res.Success = s.refresh(files)
		s.res.RemoveRedundantErrors(msgOutsideRepo)
	}

	if req.UpdateHistory {
		s.collectHistory()
	}
}

// collectHistory fetches the remote history of every refreshed file and
// hands it to the history store.
func (s *session) collectHistory() {
	s.res.Histories = make(map[string][]state.Revision, len(s.res.States))
	for _, st := range s.res.States {
		if vcs.DirExists(st.Path) {
			continue
		}
		revs, err := s.git.History(s.ctx, s.remoteRef(), st.Path)
		if err != nil {
			s.fail(err)
			continue
		}
		s.res.Histories[st.Path] = revs
		if s.env.History == nil {
			continue
		}
		if err := s.env.History.SaveHistory(s.ctx, st.Path, revs); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("failed to store history", zap.String("path", st.Path), zap.Error(err))
		}
	}
}
