package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gitcentral/gitcentral/internal/ui"
	"github.com/gitcentral/gitcentral/internal/vcs/git"
)

var connectCmd = &cobra.Command{
	Use:     "connect",
	GroupID: "repo",
	Short:   "Check the remote and refresh the ledger",
	Long: `Validate the index, check that the remote carries the branch, fetch it
and drop ledger entries that no longer matter.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			if !s.p.IsEnabled() {
				return fmt.Errorf("source control disabled: remote %q not found", cfg.Remote)
			}
			if s.connectErr != nil {
				return s.connectErr
			}
			fmt.Printf("%s connected to %s\n", ui.RenderPass("✓"), s.p.Settings().RemoteBranch())
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:     "info",
	GroupID: "repo",
	Short:   "Show the repository, toolchain and connection",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			fmt.Println(s.p.StatusText())
			fmt.Printf("Git: %s\n", s.caps.GitVersion)
			if s.caps.LFSVersion != "" {
				fmt.Printf("Git LFS: %s\n", s.caps.LFSVersion)
			} else {
				fmt.Printf("Git LFS: %s\n", ui.RenderMuted("not installed"))
			}
			if s.p.UsesLocking() {
				fmt.Printf("Lock user: %s\n", s.p.Settings().LockUser)
			}
			fmt.Printf("Ledger: %s (%d entries)\n", s.p.Ledger().Path(), s.p.Ledger().Len())
			if s.history != nil {
				n, err := s.history.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("History cache: %s (%d revisions)\n", s.history.Path(), n)
			}

			switch {
			case !s.p.IsEnabled():
				fmt.Printf("%s source control disabled: remote %q not found\n", ui.RenderFail("✗"), cfg.Remote)
			case s.p.IsAvailable():
				fmt.Printf("%s connected to %s\n", ui.RenderPass("✓"), s.p.Settings().RemoteBranch())
			default:
				fmt.Printf("%s offline: %v\n", ui.RenderWarn("⚠"), s.connectErr)
			}
			return nil
		})
	},
}

var catCmd = &cobra.Command{
	Use:     "cat <file>",
	GroupID: "files",
	Short:   "Print a file as of a revision",
	Long: `Print the content of a file at a revision to stdout. LFS pointers are
smudged into the real content.

Without --rev the remote head is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rev, _ := cmd.Flags().GetString("rev")
		output, _ := cmd.Flags().GetString("output")
		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			if rev == "" {
				rev = s.p.Settings().RemoteBranch()
			}
			out := io.Writer(os.Stdout)
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			runner := git.NewRunner(cfg.GitBinary, repoRoot, zlog)
			runner.Timeout = cfg.CommandTimeout
			return runner.DumpRevision(ctx, rev, paths[0], out)
		})
	},
}

func init() {
	catCmd.Flags().StringP("rev", "r", "", "Revision to print (default: remote head)")
	catCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(connectCmd, infoCmd, catCmd)
}
