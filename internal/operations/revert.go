package operations

import (
	"context"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
)

// revert restores each revertible file to its pinned revision and releases
// the locks this identity holds on the files it reverted.
func revert(ctx context.Context, env *provider.Env, cmd *provider.Command) {
	s := newSession(ctx, env, cmd)
	ok := true

	var toUnlock []string
	for _, st := range s.known() {
		if !st.CanRevert() {
			continue
		}
		pin := env.Ledger.Get(st.Path).Revision
		reverted := s.syncFile(st.Path, pin, state.Unchanged)
		if reverted && !st.IsCheckedOutOther() {
			toUnlock = append(toUnlock, st.Path)
		}
		ok = reverted && ok
	}

	ok = s.unlockFiles(toUnlock, false) && ok
	s.res.Success = ok
	s.refresh(cmd.Request.Files)
}
