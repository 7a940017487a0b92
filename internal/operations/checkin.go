package operations

import (
	"context"
	"strings"

	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

// checkIn commits the files that may be checked in directly on top of the
// remote head and pushes them, keeping history linear without a merge.
//
// HEAD is tagged first. If the local branch is behind the remote, HEAD is
// soft-reset onto the remote head so the commit lands on top of it. Cleanup
// always drops the tag and, when the command failed or HEAD was moved,
// returns HEAD to the tag with the working tree untouched.
func checkIn(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)
	set := cmd.Settings

	var files []string
	var known []state.FileStatus
	for _, st := range s.known() {
		if st.CanCheckIn() {
			files = append(files, st.Path)
			known = append(known, st)
		}
	}
	if len(files) == 0 {
		s.res.AddError("None of the selected files can be checked in")
		return
	}

	if !s.indexValid(msgIndexInvalid) {
		return
	}
	if !s.fetch() {
		return
	}

	_, ok := s.exec([]string{"tag", "-f", headTag})

	remoteRef := s.remoteRef()
	mergeBase, err := s.git.MergeBase(ctx, set.Branch, remoteRef)
	if err != nil {
		s.fail(err)
		ok = false
	}
	remoteSha, err := s.git.RevParse(ctx, remoteRef)
	if err != nil {
		s.fail(err)
		ok = false
	}
	upToDate := ok && mergeBase == remoteSha

	if ok && !upToDate {
		_, ok = s.exec([]string{"reset", "-q", "--soft", remoteRef})
		if ok {
			_, ok = s.exec([]string{"reset", "-q"})
		}
		if ok && !s.indexValid(msgStillStaged) {
			ok = false
		}
	}
	if !ok {
		s.cleanupCheckIn(!upToDate, false)
		return
	}

	// stage only paths git reports as changed; files in new directories are
	// passed by name so their own status comes back
	out, ok := s.exec([]string{"status", "--porcelain", "--"}, files...)
	var toAdd []string
	if ok {
		toAdd = sortedPaths(git.ParseStatus(s.git.Root, out.Stdout, nil))
	}

	if ok && len(toAdd) > 0 {
		_, ok = s.exec([]string{"add", "--all", "--"}, toAdd...)
	}
	if ok && len(toAdd) > 0 {
		msg := cmd.Request.Description
		if strings.TrimSpace(msg) == "" {
			msg = defaultCommitMessage
		}
		var commit *git.Output
		if commit, ok = s.exec([]string{"commit", "-m", msg}); ok {
			s.res.Info = append(s.res.Info, commit.Stdout...)
		}
	}
	if ok {
		out, err := s.git.Push(ctx, set.Remote, set.Branch)
		ok = s.record(out, err)
	}

	var newSha string
	if ok {
		if newSha, err = s.git.RevParse(ctx, "HEAD"); err != nil {
			s.fail(err)
			ok = false
		}
	}
	if ok {
		snap := env.Ledger.Snapshot()
		for _, st := range known {
			_ = env.Ledger.Set(st.Path, ledger.Entry{State: state.Unchanged, Revision: newSha}, false)
		}
		ok = s.saveLedger(snap)
	}

	if ok {
		var toUnlock []string
		for _, st := range known {
			if st.CanUnlock() {
				toUnlock = append(toUnlock, st.Path)
			}
		}
		ok = s.unlockFiles(toUnlock, false)
	}

	if ok {
		for _, st := range known {
			if st.IsDeleted() {
				s.res.Removed = append(s.res.Removed, st.Path)
			}
		}
		s.res.SuccessMessage = commitMessage(s.res.Info, set.Branch, newSha)
	}

	s.cleanupCheckIn(!upToDate, ok)
	s.res.Success = ok
	s.refresh(files)
}

// cleanupCheckIn restores the local branch after a check-in attempt. The
// rollback tag is always removed.
func (s *session) cleanupCheckIn(moved, succeeded bool) {
	if moved || !succeeded {
		// a failed push can leave the staged content in the index
		s.exec([]string{"reset", "-q"})
		s.exec([]string{"reset", "-q", "--soft", headTag})
		s.exec([]string{"reset", "-q"})
		if s.git.CheckIndex(s.ctx) != git.IndexValid {
			s.res.AddError("%s", msgStillStaged)
		}
	}
	// the tag may not exist when tagging itself failed
	_, _ = s.git.Run(s.ctx, []string{"tag", "-d", headTag})
}

// commitMessage builds the success message from the "[branch sha] subject"
// line commit prints.
func commitMessage(info []string, branch, sha string) string {
	prefix := "[" + branch
	for _, line := range info {
		if strings.HasPrefix(line, prefix) {
			return "Committed " + line + "."
		}
	}
	if sha != "" {
		return "Committed " + sha + "."
	}
	return "Commit successful"
}
