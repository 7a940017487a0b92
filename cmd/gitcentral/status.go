package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/ui"
	"github.com/gitcentral/gitcentral/internal/vcs"
)

var statusCmd = &cobra.Command{
	Use:     "status [paths...]",
	Aliases: []string{"st"},
	GroupID: "files",
	Short:   "Show the reconciled state of files",
	Long: `Show the state of files as GitCentral sees it: local changes, the
revision each file is pinned to, remote changes and lfs locks folded into a
single state per file.

By default only files that are not Unchanged are listed. Use --all to list
every controlled file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		opened, _ := cmd.Flags().GetBool("opened")
		withHistory, _ := cmd.Flags().GetBool("history")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			c, err := s.p.Run(ctx, provider.Request{
				Kind:          provider.KindUpdateStatus,
				Files:         paths,
				CheckAllFiles: all,
				OpenedOnly:    opened,
				UpdateHistory: withHistory,
			})
			if err != nil {
				printResult(c)
				return err
			}
			if !s.p.IsAvailable() {
				fmt.Fprintf(os.Stderr, "%s remote unreachable, showing the last fetched state\n", ui.RenderWarn("⚠"))
			}

			states := s.collect(paths, all)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(states)
			}
			if len(states) == 0 {
				fmt.Println(ui.RenderPass("✓") + " Nothing to report")
				return nil
			}
			fmt.Println(ui.StatusTable(repoRoot, states))
			return nil
		})
	},
}

// collect returns the cached states below paths. Unchanged and unknown
// files are skipped unless all is set.
func (s *session) collect(paths []string, all bool) []state.FileStatus {
	var dirs []string
	want := make(map[string]bool)
	for _, p := range paths {
		if vcs.DirExists(p) {
			dirs = append(dirs, p)
		} else {
			want[p] = true
		}
	}
	states := s.p.GetCachedStateByPredicate(func(st *state.FileStatus) bool {
		if !want[st.Path] && !underAny(st.Path, dirs) {
			return false
		}
		if vcs.DirExists(st.Path) {
			return false
		}
		if all || want[st.Path] {
			return st.Working != state.Unknown
		}
		return st.Working != state.Unknown && (st.Working != state.Unchanged || st.Outdated || st.LockOwner != "")
	})
	sort.Slice(states, func(i, j int) bool { return states[i].Path < states[j].Path })
	return states
}

func init() {
	statusCmd.Flags().BoolP("all", "a", false, "List unchanged files too")
	statusCmd.Flags().Bool("opened", false, "Only consider checked-out files")
	statusCmd.Flags().Bool("history", false, "Also fetch the remote history of each file")
	statusCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(statusCmd)
}
