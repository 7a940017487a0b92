// Package operations implements the GitCentral workers: one function per
// operation kind, run by the provider's pool.
//
// Workers read the command's submission snapshot, drive git through the
// runner in their Env, update the shared ledger and report everything else
// through the command's Result.
package operations

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

const (
	// headTag anchors check-in rollback.
	headTag = "GitCentral_Head"
	// stashLabel names the stash taken around a get-latest.
	stashLabel = "GitCentral_Stash"

	defaultCommitMessage = "GitCentral: committed files."

	msgIndexInvalid   = "The index must be empty for GitCentral to function correctly. You must resolve these inconsistencies manually."
	msgStillStaged    = "Files are still staged after performing Check-In, please unstage them manually"
	msgOutsideRepo    = "' is outside repository"
	msgPathFromIndex  = "path from the index"
	msgNotAtRevision  = "did not match any file(s) known to git"
	msgUnhandledMerge = "unhandled remote-delete combination"

	hintPushRejected = "The remote has changes you do not have yet: sync, then check in again"
	hintUserAction   = "Unstage or resolve the files in the index, then try again"
	hintRetry        = "Git did not answer in time, the operation can be retried"
)

// Register installs every operation worker in reg.
func Register(reg *provider.Registry) {
	reg.Register(provider.KindConnect, provider.Worker{Execute: connect, Exclusive: true})
	reg.Register(provider.KindCheckOut, provider.Worker{Execute: checkOut, Exclusive: true})
	reg.Register(provider.KindCheckIn, provider.Worker{Execute: checkIn, Exclusive: true})
	reg.Register(provider.KindSync, provider.Worker{Execute: syncLatest, Exclusive: true})
	reg.Register(provider.KindRevert, provider.Worker{Execute: revert, Exclusive: true})
	reg.Register(provider.KindUpdateStatus, provider.Worker{Execute: updateStatus})
	reg.Register(provider.KindResolve, provider.Worker{Execute: resolve, Exclusive: true})
	reg.Register(provider.KindForceUnlock, provider.Worker{Execute: forceUnlock, Exclusive: true})
	reg.Register(provider.KindForceWriteable, provider.Worker{Execute: forceWriteable, Exclusive: true})
	reg.Register(provider.KindMarkForAdd, provider.Worker{Execute: markForAdd, Exclusive: true})
	reg.Register(provider.KindDelete, provider.Worker{Execute: deleteFiles, Exclusive: true})
	reg.Register(provider.KindCopy, provider.Worker{Execute: copyFiles})
}

// session bundles what one worker invocation needs.
type session struct {
	ctx context.Context
	env *provider.Env
	cmd *provider.Command
	res *provider.Result
	git *git.Runner
	log *zap.Logger
}

func newSession(ctx context.Context, env *provider.Env, cmd *provider.Command) *session {
	log := env.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &session{
		ctx: ctx,
		env: env,
		cmd: cmd,
		res: &cmd.Result,
		git: env.Git,
		log: log.With(zap.Uint64("command", cmd.ID), zap.String("kind", string(cmd.Request.Kind))),
	}
}

func (s *session) remoteRef() string {
	return git.RemoteBranch(s.cmd.Settings.Remote, s.cmd.Settings.Branch)
}

// record reports a git invocation on the result and returns whether it
// succeeded. Stderr of a successful command is informational.
func (s *session) record(out *git.Output, err error) bool {
	if err == nil {
		if out != nil {
			s.res.Info = append(s.res.Info, out.Stderr...)
		}
		return true
	}
	if out != nil && len(out.Stderr) > 0 {
		s.res.Errors = append(s.res.Errors, out.Stderr...)
	} else {
		s.res.AddError("%v", err)
	}
	if h := hint(err); h != "" {
		s.res.Errors = append(s.res.Errors, h)
	}
	if vcs.IsFatal(err) {
		s.log.Error("backend unusable", zap.Error(err))
	}
	return false
}

// hint turns a classified backend error into advice for the user.
func hint(err error) string {
	switch {
	case errors.Is(err, vcs.ErrPushRejected):
		return hintPushRejected
	case vcs.IsUserActionRequired(err):
		return hintUserAction
	case vcs.IsRetryable(err):
		return hintRetry
	}
	return ""
}

// exec runs git and records the outcome.
func (s *session) exec(args []string, files ...string) (*git.Output, bool) {
	out, err := s.git.Run(s.ctx, args, files...)
	return out, s.record(out, err)
}

func (s *session) fail(err error) {
	s.record(nil, err)
}

// fetch updates the remote-tracking branch and records connectivity.
func (s *session) fetch() bool {
	out, err := s.git.Fetch(s.ctx, s.cmd.Settings.Remote, s.cmd.Settings.Branch)
	ok := s.record(out, err)
	s.res.SetConnected(ok)
	return ok
}

// indexValid checks the index, recording msg when it is not clean.
func (s *session) indexValid(msg string) bool {
	if st := s.git.CheckIndex(s.ctx); st != git.IndexValid {
		s.log.Warn("index not clean", zap.Stringer("index", st))
		s.res.AddError("%s", msg)
		if h := hint(st.Err()); h != "" {
			s.res.Errors = append(s.res.Errors, h)
		}
		return false
	}
	return true
}

// refresh recomputes the status of files into the result.
func (s *session) refresh(files []string) bool {
	states, err := s.updateStatus(files)
	s.res.States = append(s.res.States, states...)
	if err != nil {
		s.fail(err)
		return false
	}
	return true
}

// saveLedger persists pending ledger changes. On failure the ledger goes
// back to snap so memory never runs ahead of disk.
func (s *session) saveLedger(snap ledger.Snapshot) bool {
	if err := s.env.Ledger.Save(false); err != nil {
		s.env.Ledger.Restore(snap)
		s.fail(err)
		return false
	}
	return true
}

// lookup serves the unlock retry logic from the submission snapshot.
func (s *session) lookup(path string) (state.FileStatus, bool) {
	st, ok := s.cmd.Known[path]
	return st, ok
}

// known returns the snapshot state of every requested file.
func (s *session) known() []state.FileStatus {
	out := make([]state.FileStatus, 0, len(s.cmd.Request.Files))
	for _, f := range s.cmd.Request.Files {
		out = append(out, s.cmd.KnownState(f))
	}
	return out
}

// lockFiles takes the lock on files when locking is enabled.
func (s *session) lockFiles(files []string) bool {
	if !s.cmd.Settings.UseLocking || len(files) == 0 {
		return true
	}
	out, err := s.git.LockFiles(s.ctx, s.cmd.Settings.Remote, files)
	return s.record(out, err)
}

// unlockFiles releases files when locking is enabled.
func (s *session) unlockFiles(files []string, force bool) bool {
	if !s.cmd.Settings.UseLocking || len(files) == 0 {
		return true
	}
	out, err := s.git.UnlockFiles(s.ctx, s.cmd.Settings.Remote, files, force, s.lookup)
	return s.record(out, err)
}

func sortedPaths(states git.States) []string {
	paths := make([]string, 0, len(states))
	for p := range states {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
