package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

// HistoryStore persists revision lists fetched by status refreshes.
type HistoryStore interface {
	SaveHistory(ctx context.Context, path string, revs []state.Revision) error
}

// Env is what a worker may touch while executing: the backend runner bound
// to the command's settings, the shared ledger and the optional history
// store. It never exposes the provider's cache.
type Env struct {
	Git     *git.Runner
	Ledger  *ledger.Ledger
	History HistoryStore
	Logger  *zap.Logger
}

// ExecuteFunc performs an operation, filling cmd.Result. It must not panic
// across the boundary and must not touch state outside env and cmd.
type ExecuteFunc func(ctx context.Context, env *Env, cmd *Command)

// Worker describes how one operation kind runs.
type Worker struct {
	Execute ExecuteFunc
	// Exclusive workers hold the repository mutex for writing. Shared
	// workers hold it for reading, so a status refresh never observes a
	// half-finished stash, rebase or ledger transaction.
	Exclusive bool
}

// Registry maps operation kinds to workers.
type Registry struct {
	mu      sync.RWMutex
	workers map[Kind]Worker
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[Kind]Worker)}
}

// Register installs the worker for kind.
//
// Example:
//
//	reg.Register(provider.KindCopy, provider.Worker{Execute: copyFiles})
func (r *Registry) Register(kind Kind, w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w.Execute == nil {
		panic(fmt.Sprintf("provider: Register worker is nil for kind %s", kind))
	}
	if _, exists := r.workers[kind]; exists {
		panic(fmt.Sprintf("provider: Register called twice for kind %s", kind))
	}
	r.workers[kind] = w
}

// Lookup returns the worker for kind.
func (r *Registry) Lookup(kind Kind) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[kind]
	return w, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.workers))
	for k := range r.workers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
