package git

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/gitcentral/gitcentral/internal/vcs"
)

// Discover returns the working-tree root of the repository enclosing path.
func Discover(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	repo, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", vcs.ErrNotInVCS, abs)
	}
	wt, err := repo.Worktree()
	if err != nil {
		// bare repositories have no working tree to manage
		return "", fmt.Errorf("%w: %v", vcs.ErrNotInVCS, err)
	}
	return normalizeRepoRoot(wt.Filesystem.Root()), nil
}

// normalizeRepoRoot resolves symlinks so cache keys compare equal no matter
// how the root was reached.
func normalizeRepoRoot(path string) string {
	path = filepath.FromSlash(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path
}

// RepoInfo describes the repository a session is bound to.
type RepoInfo struct {
	Root      string
	Branch    string
	Detached  bool
	Remotes   []string
	UserName  string
	UserEmail string
}

// Describe gathers branch, remotes and identity for the repository.
func (r *Runner) Describe(ctx context.Context) (*RepoInfo, error) {
	info := &RepoInfo{Root: r.Root}

	branch, detached, err := r.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	info.Branch, info.Detached = branch, detached

	if info.Remotes, err = r.Remotes(ctx); err != nil {
		return nil, err
	}

	// an unset identity is not an error; lock ownership then matches nobody
	info.UserName, _ = r.Value(ctx, "config", "user.name")
	info.UserEmail, _ = r.Value(ctx, "config", "user.email")
	return info, nil
}

// CurrentBranch returns the checked-out branch. When HEAD is detached the
// returned name is "HEAD detached at <short>".
func (r *Runner) CurrentBranch(ctx context.Context) (string, bool, error) {
	if name, err := r.Value(ctx, "symbolic-ref", "--short", "--quiet", "HEAD"); err == nil && name != "" {
		return name, false, nil
	}
	short, err := r.Value(ctx, "log", "-1", "--format=%h")
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return "HEAD detached at " + short, true, nil
}

// Remotes lists the configured remote names.
func (r *Runner) Remotes(ctx context.Context) ([]string, error) {
	out, err := r.Run(ctx, []string{"remote"})
	if err != nil {
		return nil, err
	}
	remotes := make([]string, 0, len(out.Stdout))
	for _, l := range out.Stdout {
		remotes = append(remotes, strings.TrimSpace(l))
	}
	return remotes, nil
}

// ResolveRemote picks the remote to use. A configured remote that does not
// exist falls back to "origin" or the first remote, and ok is false so the
// caller can disable the session.
func ResolveRemote(configured string, remotes []string) (remote string, ok bool) {
	if configured == "" {
		configured = "origin"
	}
	if slices.Contains(remotes, configured) {
		return configured, true
	}
	if slices.Contains(remotes, "origin") {
		return "origin", false
	}
	if len(remotes) > 0 {
		return remotes[0], false
	}
	return configured, false
}

// Ancestry answers commit ancestry questions in-process, which matters when
// the ledger holds many pins to test.
type Ancestry struct {
	repo   *gogit.Repository
	runner *Runner
}

// OpenAncestry opens the repository at the runner's root. The runner is used
// as a fallback for object formats go-git cannot read.
func OpenAncestry(r *Runner) (*Ancestry, error) {
	repo, err := gogit.PlainOpenWithOptions(r.Root, &gogit.PlainOpenOptions{EnableDotGitCommonDir: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vcs.ErrNotInVCS, err)
	}
	return &Ancestry{repo: repo, runner: r}, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (a *Ancestry) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	ok, err := a.inProcess(ancestor, descendant)
	if err == nil {
		return ok, nil
	}
	return a.runner.IsAncestor(ctx, ancestor, descendant)
}

func (a *Ancestry) inProcess(ancestor, descendant string) (bool, error) {
	anc, err := a.repo.CommitObject(plumbing.NewHash(ancestor))
	if err != nil {
		return false, err
	}
	desc, err := a.repo.CommitObject(plumbing.NewHash(descendant))
	if err != nil {
		return false, err
	}
	return anc.IsAncestor(desc)
}

// MergeBase delegates to the command line.
func (a *Ancestry) MergeBase(ctx context.Context, x, y string) (string, error) {
	return a.runner.MergeBase(ctx, x, y)
}
