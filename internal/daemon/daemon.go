// Package daemon keeps a provider alive in the background.
//
// The daemon:
//  1. Owns the provider: every provider call happens on its loop goroutine
//  2. Ticks the provider so completed commands are applied
//  3. Watches the working tree and refreshes the status of changed files
//  4. Serves other goroutines (the dashboard) through Do
//  5. Forwards state changes and command completions to a Sink
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("daemon stopped")

// Config holds configuration for the daemon.
type Config struct {
	// TickInterval is how often completed commands are applied.
	TickInterval time.Duration

	// Debounce is how long a path must stay quiet before its status is
	// refreshed. Rapid saves collapse into one UpdateStatus.
	Debounce time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		TickInterval: 100 * time.Millisecond,
		Debounce:     500 * time.Millisecond,
		Logger:       zap.NewNop(),
	}
}

// Sink receives the events the daemon forwards. Calls happen on the loop
// goroutine and must not block for long.
type Sink interface {
	// StateChanged reports refreshed states. all is true when the whole
	// cache was dropped and clients should reload.
	StateChanged(states []state.FileStatus, all bool)
	CommandCompleted(id uint64, kind provider.Kind, success bool, errs []string)
}

type call struct {
	fn   func(*provider.Provider)
	done chan struct{}
}

// Daemon orchestrates the watcher and the provider loop.
type Daemon struct {
	p      *provider.Provider
	config Config
	sink   Sink

	watcher *FileWatcher
	calls   chan call
	// loop-owned
	pending map[string]time.Time

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a daemon for p. From Run on, p must only be used through Do.
// sink may be nil.
func New(p *provider.Provider, config Config, sink Sink) (*Daemon, error) {
	if p == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	def := DefaultConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = def.TickInterval
	}
	if config.Debounce <= 0 {
		config.Debounce = def.Debounce
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}
	return &Daemon{
		p:       p,
		config:  config,
		sink:    sink,
		watcher: watcher,
		calls:   make(chan call),
		pending: make(map[string]time.Time),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Run starts watching and drives the provider until ctx is cancelled or
// Stop is called. Each service runs alongside the loop and gets a context
// cancelled on shutdown; the first service error stops everything.
func (d *Daemon) Run(ctx context.Context, services ...func(context.Context) error) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("daemon already running")
	}
	defer close(d.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	root := d.p.Settings().RepoRoot
	if err := d.watcher.Start(root); err != nil {
		return fmt.Errorf("failed to watch working tree: %w", err)
	}
	d.config.Logger.Info("daemon started", zap.String("root", root))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-d.stop:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		err := d.loop(gctx)
		// the loop only ends on shutdown; take the services down with it
		cancel()
		return err
	})
	for _, svc := range services {
		g.Go(func() error { return svc(gctx) })
	}

	err := g.Wait()
	if stopErr := d.watcher.Stop(); stopErr != nil {
		d.config.Logger.Warn("error closing watcher", zap.Error(stopErr))
	}
	d.config.Logger.Info("daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels Run and waits for it to return. It is a no-op when Run was
// never called.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	if d.started.Load() {
		<-d.done
	}
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (d *Daemon) Do(ctx context.Context, fn func(*provider.Provider)) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case d.calls <- c:
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues req asynchronously and returns the command id.
func (d *Daemon) Submit(ctx context.Context, req provider.Request) (uint64, error) {
	var id uint64
	var err error
	if doErr := d.Do(ctx, func(p *provider.Provider) {
		var c *provider.Command
		if c, err = p.Submit(req, d.completed); err == nil {
			id = c.ID
		}
	}); doErr != nil {
		return 0, doErr
	}
	return id, err
}

// States returns cached states without refreshing them.
func (d *Daemon) States(ctx context.Context, paths []string) ([]state.FileStatus, error) {
	var out []state.FileStatus
	var err error
	if doErr := d.Do(ctx, func(p *provider.Provider) {
		if len(paths) == 0 {
			out = p.GetCachedStateByPredicate(func(*state.FileStatus) bool { return true })
			sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
			return
		}
		out, err = p.GetState(ctx, paths, provider.UseCached)
	}); doErr != nil {
		return nil, doErr
	}
	return out, err
}

func (d *Daemon) loop(ctx context.Context) error {
	h := d.p.RegisterOnStateChanged(d.stateChanged)
	defer d.p.UnregisterOnStateChanged(h)

	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return nil
			}
			d.config.Logger.Debug("file event", zap.String("path", ev.Path), zap.Stringer("op", ev.Op))
			d.pending[ev.Path] = time.Now()

		case err, ok := <-d.watcher.Errors():
			if ok {
				d.config.Logger.Warn("watcher error", zap.Error(err))
			}

		case c := <-d.calls:
			c.fn(d.p)
			close(c.done)

		case <-ticker.C:
			for d.p.Tick() {
			}
			d.flush(time.Now())
		}
	}
}

// flush submits one UpdateStatus for every path quiet for longer than the
// debounce interval.
func (d *Daemon) flush(now time.Time) {
	var files []string
	for path, at := range d.pending {
		if now.Sub(at) < d.config.Debounce {
			continue
		}
		files = append(files, path)
		delete(d.pending, path)
	}
	if len(files) == 0 {
		return
	}
	sort.Strings(files)

	d.config.Logger.Debug("refreshing changed files", zap.Int("files", len(files)))
	if _, err := d.p.Submit(provider.Request{Kind: provider.KindUpdateStatus, Files: files}, d.completed); err != nil {
		d.config.Logger.Warn("status refresh rejected", zap.Error(err))
	}
}

func (d *Daemon) stateChanged(paths []string) {
	if d.sink == nil {
		return
	}
	if paths == nil {
		d.sink.StateChanged(nil, true)
		return
	}
	// removed paths are gone from the cache and must stay gone
	states := make([]state.FileStatus, 0, len(paths))
	for _, path := range paths {
		if st, ok := d.p.CachedState(path); ok {
			states = append(states, st)
		}
	}
	if len(states) == 0 {
		return
	}
	d.sink.StateChanged(states, false)
}

func (d *Daemon) completed(c *provider.Command, success bool) {
	if d.sink == nil {
		return
	}
	d.sink.CommandCompleted(c.ID, c.Request.Kind, success, c.Result.Errors)
}
