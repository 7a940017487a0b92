package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gitcentral/gitcentral/internal/vcs"
)

// RemoteBranch returns the remote-tracking ref name "remote/branch".
func RemoteBranch(remote, branch string) string {
	return remote + "/" + branch
}

// Fetch updates the remote-tracking ref for branch.
func (r *Runner) Fetch(ctx context.Context, remote, branch string) (*Output, error) {
	return r.Run(ctx, []string{"fetch", "--quiet", remote, branch})
}

// RemoteTracksBranch reports whether the remote advertises branch.
func (r *Runner) RemoteTracksBranch(ctx context.Context, remote, branch string) (bool, error) {
	out, err := r.Run(ctx, []string{"ls-remote", "-h", "--quiet", remote})
	if err != nil {
		return false, err
	}
	if len(out.Stderr) > 0 {
		return false, fmt.Errorf("%w: %s", vcs.ErrRemoteNotTracking, strings.Join(out.Stderr, "; "))
	}
	for _, line := range out.Stdout {
		if strings.HasSuffix(strings.TrimSpace(line), "/"+branch) {
			return true, nil
		}
	}
	return false, nil
}

// RevParse resolves ref to a full commit id.
func (r *Runner) RevParse(ctx context.Context, ref string) (string, error) {
	return r.Value(ctx, "rev-parse", "--verify", ref)
}

// MergeBase returns the best common ancestor of a and b.
func (r *Runner) MergeBase(ctx context.Context, a, b string) (string, error) {
	sha, err := r.Value(ctx, "merge-base", a, b)
	if err != nil || sha == "" {
		return "", fmt.Errorf("%w: could not find merge-base for %s and %s", vcs.ErrNoMergeBase, a, b)
	}
	return sha, nil
}

// IsAncestor reports whether ancestor is reachable from descendant. Exit
// status 1 means "no"; any other failure is an error.
func (r *Runner) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := r.Run(ctx, []string{"merge-base", "--is-ancestor", ancestor, descendant})
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && vcs.GetExitCode(cmdErr.Err) == 1 {
		return false, nil
	}
	return false, err
}

// LastChangedRevision returns the newest commit on ref touching file.
func (r *Runner) LastChangedRevision(ctx context.Context, ref, file string) (string, error) {
	return r.Value(ctx, "log", "--pretty=format:%H", "-1", ref, "--", file)
}

// DiffNameStatus diffs base against ref, limited to files when given.
func (r *Runner) DiffNameStatus(ctx context.Context, base, ref string, files ...string) (States, error) {
	args := []string{"diff", "--name-status", base, ref}
	if len(files) > 0 {
		args = append(args, "--")
	}
	out, err := r.Run(ctx, args, files...)
	if err != nil {
		return nil, err
	}
	return ParseNameStatus(r.Root, out.Stdout), nil
}

// Status runs "status --porcelain" for files, adding -u when untracked
// directories must be expanded.
func (r *Runner) Status(ctx context.Context, untracked bool, files ...string) (States, error) {
	args := []string{"status", "--porcelain"}
	if untracked {
		args = append(args, "-u")
	}
	if len(files) > 0 {
		args = append(args, "--")
	}
	out, err := r.Run(ctx, args, files...)
	if err != nil {
		return nil, err
	}
	return ParseStatus(r.Root, out.Stdout, files), nil
}

// Push publishes branch to remote.
func (r *Runner) Push(ctx context.Context, remote, branch string) (*Output, error) {
	out, err := r.Run(ctx, []string{"push", "--quiet", remote, branch})
	if err != nil {
		for _, l := range out.Stderr {
			if strings.Contains(l, "rejected") || strings.Contains(l, "non-fast-forward") {
				return out, fmt.Errorf("%w: %v", vcs.ErrPushRejected, err)
			}
		}
	}
	return out, err
}

// IndexState is the result of CheckIndex.
type IndexState int

const (
	IndexValid IndexState = iota
	IndexInvalid
	IndexMustResolveConflicts
)

func (s IndexState) String() string {
	switch s {
	case IndexValid:
		return "valid"
	case IndexInvalid:
		return "invalid"
	case IndexMustResolveConflicts:
		return "must resolve conflicts"
	}
	return fmt.Sprintf("IndexState(%d)", int(s))
}

// CheckIndex reports whether the index is free of staged changes and
// conflicts. GitCentral stages only within its own protocols, so anything
// found here was left behind.
func (r *Runner) CheckIndex(ctx context.Context) IndexState {
	states, err := r.Status(ctx, false)
	if err != nil {
		return IndexInvalid
	}
	result := IndexValid
	for _, s := range states {
		if s.IsConflicted() {
			return IndexMustResolveConflicts
		}
		if s.Staged {
			result = IndexInvalid
		}
	}
	return result
}

// Err converts an index state to a sentinel error, nil when valid.
func (s IndexState) Err() error {
	switch s {
	case IndexInvalid:
		return vcs.ErrIndexInvalid
	case IndexMustResolveConflicts:
		return vcs.ErrMustResolveConflicts
	}
	return nil
}
