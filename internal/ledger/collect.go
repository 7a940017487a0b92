package ledger

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/state"
)

// Source answers the history questions garbage collection needs.
type Source interface {
	MergeBase(ctx context.Context, a, b string) (string, error)
	RevParse(ctx context.Context, ref string) (string, error)
	// RemoteDiff returns the states of files changed between base and ref,
	// keyed by absolute path.
	RemoteDiff(ctx context.Context, base, ref string, files ...string) (map[string]state.FileStatus, error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
}

// Collect drops entries that no longer carry information:
//
//   - Deleted markers for files gone from disk whose deletion has reached
//     the remote, or that the remote never changed;
//   - pins without a checkout marker that the merge-base already contains.
//
// On any failure the ledger is restored to its pre-collection contents.
func (l *Ledger) Collect(ctx context.Context, src Source, localRef, remoteRef string) error {
	snap := l.Snapshot()
	all := l.All()
	if len(all) == 0 {
		return nil
	}

	mergeBase, err := src.MergeBase(ctx, localRef, remoteRef)
	if err != nil {
		return err
	}
	remoteSha, err := src.RevParse(ctx, remoteRef)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", remoteRef, err)
	}

	var remote map[string]state.FileStatus
	if remoteSha != mergeBase {
		files := make([]string, 0, len(all))
		for path := range all {
			files = append(files, path)
		}
		if remote, err = src.RemoteDiff(ctx, mergeBase, remoteRef, files...); err != nil {
			l.Restore(snap)
			return err
		}
	}

	cleared := 0
	for path, e := range all {
		drop := false
		switch {
		case e.State == state.Deleted:
			if _, statErr := os.Stat(path); statErr == nil {
				break
			}
			r, changed := remote[path]
			drop = !changed || r.Working == state.Deleted
		case e.State.Code() == '0' && e.Revision != state.NoRevision:
			if e.Revision == mergeBase {
				drop = true
				break
			}
			ok, err := src.IsAncestor(ctx, e.Revision, mergeBase)
			if err != nil {
				l.logger.Debug("ancestry check failed", zap.String("path", path), zap.String("pin", e.Revision), zap.Error(err))
			}
			drop = ok
		}
		if drop {
			_ = l.Clear(path, false)
			cleared++
		}
	}

	if err := l.Save(false); err != nil {
		l.Restore(snap)
		return err
	}
	if cleared > 0 {
		l.logger.Info("ledger cleaned", zap.Int("cleared", cleared), zap.Int("remaining", l.Len()))
	}
	return nil
}
