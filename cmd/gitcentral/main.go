// Command gitcentral drives a git working tree the way a centralized source
// control client would: check out with an lfs lock, check in with a single
// commit-and-push, get latest with a rebase that never leaves the tree in a
// half-merged state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/config"
	"github.com/gitcentral/gitcentral/internal/logger"
	"github.com/gitcentral/gitcentral/internal/ui"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

var (
	configFile string
	rootFlag   string
	debug      bool
	noColor    bool

	// set by setup before any command runs
	cfg      *config.Config
	zlog     = zap.NewNop()
	repoRoot string
	repoErr  error
)

var rootCmd = &cobra.Command{
	Use:   "gitcentral",
	Short: "Centralized check-out/check-in workflow on top of git and git-lfs locks",
	Long: `gitcentral wraps a git working tree with a centralized workflow.

Files are checked out (locked through git-lfs when the repository requires
it), checked in with one commit pushed straight to the tracked branch, and
brought up to date with a stash/rebase/pop sequence that rolls back on
failure. A per-repository ledger remembers which revision every file was
last synced to.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zlog.Sync()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "files", Title: "File Operations:"},
		&cobra.Group{ID: "repo", Title: "Repository:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: .git/gitcentral/gitcentral.yaml or ~/.gitcentral/gitcentral.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootFlag, "root", "C", "", "Run as if started in this directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

// setup discovers the repository, loads configuration and builds the
// logger. A missing repository is not fatal here: commands that need one
// report repoErr themselves.
func setup(cmd *cobra.Command, _ []string) error {
	ui.Init(cmd.OutOrStdout(), noColor)

	start := rootFlag
	if start == "" {
		start = "."
	}
	repoRoot, repoErr = git.Discover(start)

	c, err := config.Load(configFile, repoRoot)
	if err != nil {
		return err
	}
	if rootFlag == "" && c.Root != "" {
		repoRoot, repoErr = git.Discover(c.Root)
	}
	cfg = c
	zlog = logger.New(cfg.Log, debug)
	zlog.Debug("configuration loaded", zap.String("root", repoRoot), zap.NamedError("discover", repoErr))
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		cancel()
		os.Exit(1)
	}
}
