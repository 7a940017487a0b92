package operations

import (
	"context"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

// connect validates the index, checks that the remote carries the branch,
// fetches it and prunes the ledger. The cache is always dropped and the
// ledger reloaded when the result is applied.
func connect(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)
	set := cmd.Settings
	s.res.ClearCache = true
	s.res.SetConnected(false)

	if s.git.CheckIndex(ctx) != git.IndexValid {
		// one attempt at restoring a clean index
		s.exec([]string{"reset", "-q"})
		if !s.indexValid(msgIndexInvalid) {
			return
		}
	}

	tracked, err := s.git.RemoteTracksBranch(ctx, set.Remote, set.Branch)
	if err != nil {
		s.fail(err)
		return
	}
	if !tracked {
		s.res.AddError("Remote %s is not tracking branch %s", set.Remote, set.Branch)
		return
	}
	s.res.AddInfo("Remote %s is tracking branch %s", set.Remote, set.Branch)

	if !s.fetch() {
		return
	}
	s.res.Success = true

	src, err := newHistorySource(s.git)
	if err != nil {
		s.log.Warn("ledger cleanup skipped", zap.Error(err))
		return
	}
	if err := env.Ledger.Collect(ctx, src, set.Branch, s.remoteRef()); err != nil {
		s.log.Warn("ledger cleanup failed", zap.Error(err))
	}
}

// historySource answers ledger garbage collection from the repository.
type historySource struct {
	runner *git.Runner
	anc    *git.Ancestry
}

var _ ledger.Source = (*historySource)(nil)

func newHistorySource(r *git.Runner) (*historySource, error) {
	anc, err := git.OpenAncestry(r)
	if err != nil {
		return nil, err
	}
	return &historySource{runner: r, anc: anc}, nil
}

func (h *historySource) MergeBase(ctx context.Context, a, b string) (string, error) {
	return h.anc.MergeBase(ctx, a, b)
}

func (h *historySource) RevParse(ctx context.Context, ref string) (string, error) {
	return h.runner.RevParse(ctx, ref)
}

func (h *historySource) RemoteDiff(ctx context.Context, base, ref string, files ...string) (map[string]state.FileStatus, error) {
	states, err := h.runner.DiffNameStatus(ctx, base, ref, files...)
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (h *historySource) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	return h.anc.IsAncestor(ctx, ancestor, descendant)
}
