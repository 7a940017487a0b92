package git

import (
	"context"
	"strconv"
	"strings"

	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs"
)

// LockLookup returns the last known status of an absolute path.
type LockLookup func(path string) (state.FileStatus, bool)

// Locks lists the locks held on remote. Locks owned by localUser are
// reported as held by this identity.
func (r *Runner) Locks(ctx context.Context, remote, localUser string) (States, error) {
	out, err := r.Run(ctx, []string{"lfs", "locks", "-r", remote})
	if err != nil {
		return nil, err
	}
	return ParseLocks(r.Root, out.Stdout, localUser), nil
}

// LockFiles takes a lock on each file. Every file is attempted; the error
// reports the first failure.
func (r *Runner) LockFiles(ctx context.Context, remote string, files []string) (*Output, error) {
	total := &Output{}
	var firstErr error
	for _, f := range files {
		out, err := r.Run(ctx, []string{"lfs", "lock", "-r", remote, r.Rel(f)})
		total.Stdout = append(total.Stdout, out.Stdout...)
		total.Stderr = append(total.Stderr, out.Stderr...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// UnlockFiles releases the lock on each file. Expected lock-server noise is
// filtered so that only real failures remain in the returned stderr:
//
//   - a file deleted from disk is unlocked by lock id when one is known;
//   - "Unable to get lock id" means there was nothing to release;
//   - uncommitted changes trigger a forced retry unless another identity
//     holds the lock.
func (r *Runner) UnlockFiles(ctx context.Context, remote string, files []string, force bool, lookup LockLookup) (*Output, error) {
	if lookup == nil {
		lookup = func(string) (state.FileStatus, bool) { return state.FileStatus{}, false }
	}
	total := &Output{}
	var firstErr error
	for _, f := range files {
		out, err := r.unlockOne(ctx, remote, f, force, lookup)
		total.Stdout = append(total.Stdout, out.Stdout...)
		total.Stderr = append(total.Stderr, out.Stderr...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

func (r *Runner) unlockArgs(remote string, force bool) []string {
	args := []string{"lfs", "unlock", "-r", remote}
	if force {
		args = append(args, "--force")
	}
	return args
}

func (r *Runner) unlockOne(ctx context.Context, remote, file string, force bool, lookup LockLookup) (*Output, error) {
	abs := r.Abs(file)
	out, err := r.Run(ctx, append(r.unlockArgs(remote, force), r.Rel(file)))

	if err != nil && !vcs.FileExists(abs) {
		if known, ok := lookup(abs); ok && known.HasValidLockID() && !known.IsCheckedOutOther() {
			byID, idErr := r.Run(ctx, append(r.unlockArgs(remote, force), "-i", strconv.Itoa(known.LockID)))
			if idErr == nil || len(byID.Stderr) == 1 {
				return &Output{Stdout: byID.Stdout}, nil
			}
			out, err = byID, idErr
		}
	}

	if len(out.Stderr) == 1 {
		line := out.Stderr[0]
		switch {
		case strings.Contains(line, "Unable to get lock id"):
			return &Output{Stdout: out.Stdout}, nil
		case !force && strings.Contains(line, "Cannot unlock file with uncommitted changes"):
			if known, ok := lookup(abs); !ok || !known.IsCheckedOutOther() {
				return r.unlockOne(ctx, remote, file, true, lookup)
			}
		case err == nil && strings.Contains(line, "unlocking with uncommitted changes because --force"):
			return &Output{Stdout: out.Stdout}, nil
		}
	}

	if err == nil && len(out.Stderr) > 0 {
		err = &CommandError{Args: []string{"lfs", "unlock", r.Rel(file)}, Stderr: out.Stderr, Err: vcs.ErrCommandFailed}
	}
	return out, err
}
