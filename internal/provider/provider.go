// Package provider is the command engine: it queues operations, runs them on
// a worker pool, and applies their results to the status cache on the
// owner goroutine.
//
// Everything except Command.Status is owned by the goroutine that calls
// Submit, Run, Tick and the query methods. Workers only ever see their own
// Command and the Env built for it.
package provider

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

var (
	// ErrRejected is returned when a command cannot be accepted.
	ErrRejected = errors.New("command rejected")
	// ErrCommandFailed wraps the error lines of a failed command.
	ErrCommandFailed = errors.New("command failed")
	// ErrCancelUnsupported is always returned by CancelOperation.
	ErrCancelUnsupported = errors.New("operations cannot be cancelled")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("provider closed")
)

// PollInterval is how long Run sleeps between ticks.
const PollInterval = 10 * time.Millisecond

// Concurrency selects between the two submission façades.
type Concurrency int

const (
	Synchronous Concurrency = iota
	Asynchronous
)

// Outcome is the result of Execute.
type Outcome int

const (
	Failed Outcome = iota
	Succeeded
)

func (o Outcome) String() string {
	if o == Succeeded {
		return "succeeded"
	}
	return "failed"
}

// Usage selects whether GetState refreshes before answering.
type Usage int

const (
	UseCached Usage = iota
	ForceUpdate
)

// StateChangedFunc is notified on the owner goroutine after cached states
// changed. paths lists the updated entries; it is nil when the whole cache
// was invalidated.
type StateChangedFunc func(paths []string)

// Handle identifies a registered observer.
type Handle uint64

// Options configures a Provider.
type Options struct {
	Settings Settings
	// Enabled is false when the repository or the git binary was not found.
	Enabled  bool
	Registry *Registry
	Ledger   *ledger.Ledger
	History  HistoryStore
	Logger   *zap.Logger
	Workers  int
	// CommandTimeout bounds each git invocation.
	CommandTimeout time.Duration
}

// Provider is the session object. Create one per repository with New.
type Provider struct {
	settings Settings
	enabled  bool
	registry *Registry
	ledger   *ledger.Ledger
	history  HistoryStore
	logger   *zap.Logger
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	pool   *pool
	repoMu sync.RWMutex
	nextID atomic.Uint64

	// owner-goroutine state
	queue          []*Command
	cache          map[string]*state.FileStatus
	observers      map[Handle]StateChangedFunc
	nextHandle     Handle
	forceBroadcast bool
	connected      bool
	lastSync       []string
	closed         bool
}

// New starts the worker pool and returns the provider.
func New(opts Options) (*Provider, error) {
	if opts.Registry == nil {
		return nil, errors.New("provider: registry is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("provider: ledger is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = git.DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		settings:  opts.Settings,
		enabled:   opts.Enabled,
		registry:  opts.Registry,
		ledger:    opts.Ledger,
		history:   opts.History,
		logger:    opts.Logger,
		timeout:   opts.CommandTimeout,
		ctx:       ctx,
		cancel:    cancel,
		cache:     make(map[string]*state.FileStatus),
		observers: make(map[Handle]StateChangedFunc),
	}
	p.pool = newPool(opts.Workers, p.execute)
	return p, nil
}

// Close waits for queued commands to finish and stops the pool. Results
// still pending are dropped.
func (p *Provider) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.pool.close()
	p.cancel()
}

// Settings returns the repository settings commands are bound to.
func (p *Provider) Settings() Settings { return p.settings }

// Ledger returns the shared ledger.
func (p *Provider) Ledger() *ledger.Ledger { return p.ledger }

// IsEnabled reports whether the repository and git were found.
func (p *Provider) IsEnabled() bool { return p.enabled }

// IsAvailable reports whether the last remote round trip succeeded.
func (p *Provider) IsAvailable() bool { return p.connected }

// UsesLocking reports whether lock-server operations are enabled.
func (p *Provider) UsesLocking() bool { return p.settings.UseLocking }

// StatusText describes the session for display.
func (p *Provider) StatusText() string {
	return fmt.Sprintf("Repository: %s\nBranch: %s\nRemote: %s\nUser: %s\nE-mail: %s\nLocking: %v",
		p.settings.RepoRoot, p.settings.Branch, p.settings.Remote,
		p.settings.UserName, p.settings.UserEmail, p.settings.UseLocking)
}

// Pending returns the number of submitted commands not yet applied.
func (p *Provider) Pending() int { return len(p.queue) }

func (p *Provider) newEnv() *Env {
	r := git.NewRunner(p.settings.GitBinary, p.settings.RepoRoot, p.logger)
	r.Timeout = p.timeout
	return &Env{Git: r, Ledger: p.ledger, History: p.history, Logger: p.logger}
}

func (p *Provider) execute(c *Command) {
	c.setStatus(Running)
	defer c.setStatus(Completed)

	if c.worker.Exclusive {
		p.repoMu.Lock()
		defer p.repoMu.Unlock()
	} else {
		p.repoMu.RLock()
		defer p.repoMu.RUnlock()
	}
	defer func() {
		if r := recover(); r != nil {
			c.Result.Success = false
			c.Result.AddError("%s panicked: %v", c.Request.Kind, r)
		}
	}()

	start := time.Now()
	c.worker.Execute(p.ctx, p.newEnv(), c)
	p.logger.Debug("command executed",
		zap.Uint64("id", c.ID),
		zap.String("kind", string(c.Request.Kind)),
		zap.Bool("success", c.Result.Success),
		zap.Duration("elapsed", time.Since(start)))
}

// snapshotKnown copies the cache entries a worker may need: the requested
// paths, anything below a requested directory, and every entry that is not
// current, conflicted or checked out.
func (p *Provider) snapshotKnown(files []string) map[string]state.FileStatus {
	known := make(map[string]state.FileStatus)
	wanted := make(map[string]bool, len(files))
	var dirs []string
	for _, f := range files {
		f = filepath.Clean(f)
		wanted[f] = true
		if vcs.DirExists(f) {
			dirs = append(dirs, f+string(filepath.Separator))
		}
	}

	for path, s := range p.cache {
		include := wanted[path] || !s.IsCurrent() || s.IsConflicted() || s.IsCheckedOut() || s.IsCheckedOutOther()
		for _, d := range dirs {
			if include {
				break
			}
			include = strings.HasPrefix(path, d)
		}
		if include {
			known[path] = *s
		}
	}
	return known
}

// Submit enqueues req and returns immediately. onComplete, if set, runs on
// the owner goroutine from a later Tick.
func (p *Provider) Submit(req Request, onComplete CompletionFunc) (*Command, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if !p.enabled {
		return nil, fmt.Errorf("%w: source control is not enabled", ErrRejected)
	}
	w, ok := p.registry.Lookup(req.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: operation %q not supported", ErrRejected, req.Kind)
	}

	files := make([]string, len(req.Files))
	for i, f := range req.Files {
		files[i] = p.absolute(f)
	}
	req.Files = files

	c := &Command{
		ID:         p.nextID.Add(1),
		Request:    req,
		Settings:   p.settings,
		Known:      p.snapshotKnown(files),
		onComplete: onComplete,
		worker:     w,
	}
	if err := p.pool.push(c); err != nil {
		return nil, err
	}
	p.queue = append(p.queue, c)
	p.logger.Debug("command queued", zap.Uint64("id", c.ID), zap.String("kind", string(req.Kind)), zap.Int("files", len(files)))
	return c, nil
}

// absolute resolves f against the repository root, keeping a trailing
// separator meaning "the root".
func (p *Provider) absolute(f string) string {
	if f == "" || f == "." {
		return p.settings.RepoRoot
	}
	if !filepath.IsAbs(f) {
		f = filepath.Join(p.settings.RepoRoot, f)
	}
	return filepath.Clean(f)
}

// Run submits req and ticks until its results are applied. The returned
// error wraps ErrCommandFailed when the command ran but failed.
func (p *Provider) Run(ctx context.Context, req Request) (*Command, error) {
	c, err := p.Submit(req, nil)
	if err != nil {
		return nil, err
	}
	if err := p.wait(ctx, c); err != nil {
		return c, err
	}
	return c, c.Err()
}

// wait ticks until c has been applied, then ticks once more to deliver
// callbacks of commands that completed meanwhile.
func (p *Provider) wait(ctx context.Context, c *Command) error {
	for !c.applied {
		p.Tick()
		if c.applied {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
	p.Tick()
	return nil
}

// Execute is the two-façade entry point. Synchronously it reports whether the
// command succeeded; asynchronously whether it was accepted.
func (p *Provider) Execute(ctx context.Context, req Request, mode Concurrency, onComplete CompletionFunc) Outcome {
	if mode == Asynchronous {
		if _, err := p.Submit(req, onComplete); err != nil {
			p.logger.Warn("command rejected", zap.String("kind", string(req.Kind)), zap.Error(err))
			return Failed
		}
		return Succeeded
	}

	c, err := p.Submit(req, onComplete)
	if err != nil {
		p.logger.Warn("command rejected", zap.String("kind", string(req.Kind)), zap.Error(err))
		return Failed
	}
	if err := p.wait(ctx, c); err != nil {
		return Failed
	}
	if c.Result.Success {
		return Succeeded
	}
	return Failed
}

// CanCancelOperation is always false.
func (p *Provider) CanCancelOperation(*Command) bool { return false }

// CancelOperation always fails: git operations are not interruptible
// without risking a half-written index.
func (p *Provider) CancelOperation(*Command) error { return ErrCancelUnsupported }

// Tick applies at most one completed command and returns whether it did.
func (p *Provider) Tick() bool {
	for i, c := range p.queue {
		if c.Status() != Completed {
			continue
		}
		p.queue = append(p.queue[:i], p.queue[i+1:]...)

		changed := p.apply(c)
		if ok, known := c.Result.Connected(); known {
			p.connected = ok
		}
		c.applied = true
		p.logResult(c)

		if c.onComplete != nil {
			c.onComplete(c, c.Result.Success)
		}
		if len(changed) > 0 || p.forceBroadcast {
			p.broadcast(changed)
		}
		return true
	}
	if p.forceBroadcast {
		p.broadcast(nil)
	}
	return false
}

func (p *Provider) apply(c *Command) []string {
	r := &c.Result
	var changed []string

	if r.ClearCache {
		p.clearCache()
		if err := p.ledger.Load(); err != nil {
			r.AddError("failed to reload ledger: %v", err)
			r.Success = false
		}
	}
	changed = p.UpdateCachedStates(r.States)

	for path, revs := range r.Histories {
		s := p.entry(path)
		s.History = revs
	}
	for _, path := range r.Removed {
		if p.RemoveFromCache(path) {
			changed = append(changed, path)
		}
	}
	if c.Request.Kind == KindSync && r.Success {
		p.lastSync = append([]string(nil), r.UpdatedFiles...)
	}
	return changed
}

func (p *Provider) logResult(c *Command) {
	kind := zap.String("kind", string(c.Request.Kind))
	for _, line := range c.Result.Info {
		p.logger.Info(line, kind)
	}
	for _, line := range c.Result.Errors {
		p.logger.Error(line, kind)
	}
	if c.Result.Success {
		msg := c.Result.SuccessMessage
		if msg == "" {
			msg = "operation succeeded"
		}
		p.logger.Info(msg, kind, zap.Uint64("id", c.ID))
	} else {
		p.logger.Error("operation failed", kind, zap.Uint64("id", c.ID))
	}
}

func (p *Provider) broadcast(paths []string) {
	p.forceBroadcast = false
	for _, fn := range p.observers {
		fn(paths)
	}
}

// RegisterOnStateChanged adds an observer.
func (p *Provider) RegisterOnStateChanged(fn StateChangedFunc) Handle {
	p.nextHandle++
	p.observers[p.nextHandle] = fn
	return p.nextHandle
}

// UnregisterOnStateChanged removes an observer.
func (p *Provider) UnregisterOnStateChanged(h Handle) {
	delete(p.observers, h)
}

func (p *Provider) entry(path string) *state.FileStatus {
	if s, ok := p.cache[path]; ok {
		return s
	}
	s := state.New(path)
	p.cache[path] = &s
	return &s
}

// UpdateCachedStates replaces cached entries that differ from states and
// returns the paths that changed. History already cached is kept.
func (p *Provider) UpdateCachedStates(states []state.FileStatus) []string {
	var changed []string
	now := time.Now()
	for _, s := range states {
		cur := p.entry(s.Path)
		if cur.Equal(&s) {
			continue
		}
		history := cur.History
		*cur = s
		cur.History = history
		cur.Timestamp = now
		changed = append(changed, s.Path)
	}
	return changed
}

// GetState returns a copy of the cached state of each file, creating Unknown
// placeholders for files never seen. ForceUpdate refreshes them first.
func (p *Provider) GetState(ctx context.Context, files []string, usage Usage) ([]state.FileStatus, error) {
	abs := make([]string, len(files))
	for i, f := range files {
		abs[i] = p.absolute(f)
	}
	if usage == ForceUpdate {
		if _, err := p.Run(ctx, Request{Kind: KindUpdateStatus, Files: abs}); err != nil {
			return nil, err
		}
	}
	out := make([]state.FileStatus, len(abs))
	for i, f := range abs {
		out[i] = *p.entry(f)
	}
	return out, nil
}

// GetCachedStateByPredicate returns copies of every cached state matching
// pred.
func (p *Provider) GetCachedStateByPredicate(pred func(*state.FileStatus) bool) []state.FileStatus {
	var out []state.FileStatus
	for _, s := range p.cache {
		if pred(s) {
			out = append(out, *s)
		}
	}
	return out
}

// CachedState returns the cached state of f without creating a placeholder.
func (p *Provider) CachedState(f string) (state.FileStatus, bool) {
	s, ok := p.cache[p.absolute(f)]
	if !ok {
		return state.FileStatus{}, false
	}
	return *s, true
}

// RemoveFromCache drops path and reports whether it was cached.
func (p *Provider) RemoveFromCache(path string) bool {
	if _, ok := p.cache[path]; !ok {
		return false
	}
	delete(p.cache, path)
	return true
}

// ClearCache drops every cached state and schedules a broadcast.
func (p *Provider) ClearCache() { p.clearCache() }

func (p *Provider) clearCache() {
	p.cache = make(map[string]*state.FileStatus)
	p.forceBroadcast = true
}

// LastSyncUpdatedFiles lists the files the last successful Sync changed.
func (p *Provider) LastSyncUpdatedFiles() []string {
	return append([]string(nil), p.lastSync...)
}
