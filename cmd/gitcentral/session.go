package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/history"
	"github.com/gitcentral/gitcentral/internal/ledger"
	"github.com/gitcentral/gitcentral/internal/operations"
	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/ui"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

// session is one provider bound to the discovered repository.
type session struct {
	p       *provider.Provider
	caps    *git.Capabilities
	info    *git.RepoInfo
	history *history.Store
	// connectErr is set when the initial Connect failed; the session still
	// serves cached and local-only queries.
	connectErr error
}

// openSession builds the provider for repoRoot and connects it.
func openSession(ctx context.Context) (*session, error) {
	if repoErr != nil {
		return nil, repoErr
	}

	caps, err := git.CheckCapabilities(ctx, cfg.GitBinary, repoRoot)
	if err != nil {
		return nil, err
	}
	runner := git.NewRunner(cfg.GitBinary, repoRoot, zlog)
	runner.Timeout = cfg.CommandTimeout
	info, err := runner.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe repository: %w", err)
	}

	if info.Detached {
		return nil, fmt.Errorf("%s; check out %s first", info.Branch, branchOrDefault(cfg.Branch))
	}
	branch := info.Branch
	if cfg.Branch != "" && cfg.Branch != branch {
		return nil, fmt.Errorf("configured branch %s is not the active branch %s", cfg.Branch, branch)
	}

	remote, enabled := git.ResolveRemote(cfg.Remote, info.Remotes)
	if !enabled {
		zlog.Warn("configured remote not found, source control disabled",
			zap.String("remote", cfg.Remote), zap.Strings("remotes", info.Remotes))
	}

	useLocking := cfg.UseLocking
	if useLocking {
		if lerr := caps.LockingErr(); lerr != nil {
			zlog.Info("file locking disabled", zap.Error(lerr))
			useLocking = false
		}
	}
	lockUser := cfg.LockUser
	if lockUser == "" {
		lockUser = info.UserName
	}

	led := ledger.New(repoRoot, remote, branch, zlog)
	if err := led.Load(); err != nil {
		return nil, err
	}

	s := &session{caps: caps, info: info}
	opts := provider.Options{
		Settings: provider.Settings{
			GitBinary:  cfg.GitBinary,
			RepoRoot:   repoRoot,
			Branch:     branch,
			Remote:     remote,
			UseLocking: useLocking,
			LockUser:   lockUser,
			UserName:   info.UserName,
			UserEmail:  info.UserEmail,
		},
		Enabled:        enabled,
		Registry:       provider.NewRegistry(),
		Ledger:         led,
		Logger:         zlog,
		Workers:        cfg.Workers,
		CommandTimeout: cfg.CommandTimeout,
	}
	operations.Register(opts.Registry)

	if path := cfg.HistoryPath(repoRoot); path != "" {
		store, err := history.Open(path)
		if err != nil {
			zlog.Warn("history cache disabled", zap.String("path", path), zap.Error(err))
		} else {
			s.history = store
			opts.History = store
		}
	}

	if s.p, err = provider.New(opts); err != nil {
		s.closeHistory()
		return nil, err
	}

	if enabled {
		c, err := s.p.Run(ctx, provider.Request{Kind: provider.KindConnect})
		if c != nil {
			for _, line := range c.Result.Info {
				zlog.Debug(line)
			}
		}
		if err != nil {
			s.connectErr = err
			zlog.Warn("working offline", zap.Error(err))
		}
	}
	return s, nil
}

func branchOrDefault(b string) string {
	if b == "" {
		return "a branch"
	}
	return b
}

func (s *session) Close() {
	s.p.Close()
	s.closeHistory()
}

func (s *session) closeHistory() {
	if s.history == nil {
		return
	}
	if err := s.history.Close(); err != nil {
		zlog.Warn("failed to close history cache", zap.Error(err))
	}
}

// absPaths resolves command-line paths against the working directory.
// With no arguments the whole repository is targeted.
func absPaths(args []string) ([]string, error) {
	if len(args) == 0 {
		return []string{repoRoot}, nil
	}
	out := make([]string, 0, len(args))
	for _, a := range args {
		if rootFlag != "" && !filepath.IsAbs(a) {
			a = filepath.Join(rootFlag, a)
		}
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, err
		}
		// keep cache keys comparable with the symlink-resolved root
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		} else if dir, derr := filepath.EvalSymlinks(filepath.Dir(abs)); derr == nil {
			abs = filepath.Join(dir, filepath.Base(abs))
		}
		out = append(out, abs)
	}
	return out, nil
}

// withSession opens a session for the duration of fn.
func withSession(ctx context.Context, fn func(*session) error) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// printResult writes a command's messages: info lines muted, errors in red.
func printResult(c *provider.Command) {
	if c == nil {
		return
	}
	for _, line := range c.Result.Info {
		fmt.Fprintln(os.Stdout, ui.RenderMuted(line))
	}
	for _, line := range c.Result.Errors {
		fmt.Fprintln(os.Stderr, ui.RenderFail(line))
	}
}
