package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/ui"
	"github.com/gitcentral/gitcentral/internal/vcs"
)

// fileOp describes a command that submits one operation on a set of files.
type fileOp struct {
	use     string
	aliases []string
	short   string
	long    string
	kind    provider.Kind
	// confirm, when set, is asked before destructive operations.
	confirm string
}

var fileOps = []fileOp{
	{
		use:   "checkout [paths...]",
		short: "Check out files for editing",
		long: `Check out files for editing.

When the repository requires git-lfs locking the files are locked on the
remote first. Checked-out files are made writeable and recorded in the
ledger. Files that are outdated or locked by someone else are refused.`,
		aliases: []string{"co", "edit"},
		kind:    provider.KindCheckOut,
	},
	{
		use:   "revert [paths...]",
		short: "Discard local changes and release locks",
		long: `Revert files to the revision they were last synced to.

Local modifications are discarded and locks held on the files are
released.`,
		kind:    provider.KindRevert,
		confirm: "Discard local changes to %d file(s)?",
	},
	{
		use:   "resolve [paths...]",
		short: "Mark conflicted files as resolved",
		long: `Mark conflicted files as resolved by pinning them to the remote head.

The local content is kept; the next check-in commits it on top of the
remote changes.`,
		kind: provider.KindResolve,
	},
	{
		use:     "force-unlock [paths...]",
		short:   "Break locks held by other users",
		kind:    provider.KindForceUnlock,
		confirm: "Break the locks other users hold on %d file(s)?",
	},
	{
		use:     "force-writeable [paths...]",
		aliases: []string{"writeable"},
		short:   "Make files writeable without checking them out",
		kind:    provider.KindForceWriteable,
	},
	{
		use:   "add [paths...]",
		short: "Mark new files for add",
		long: `Mark new files for add. Untracked files are committed by the next
check-in that names them; this only refreshes their status.`,
		kind: provider.KindMarkForAdd,
	},
	{
		use:   "delete [paths...]",
		short: "Delete files and record the deletion",
		long: `Delete files from the working tree. Files are locked first when
locking is enabled, and the deletion is recorded in the ledger so the
next check-in commits it.`,
		aliases: []string{"rm"},
		kind:    provider.KindDelete,
		confirm: "Delete %d file(s) from the working tree?",
	},
}

var assumeYes bool

func newFileOpCmd(op fileOp) *cobra.Command {
	long := op.long
	if long == "" {
		long = op.short + "."
	}
	return &cobra.Command{
		Use:     op.use,
		Aliases: op.aliases,
		GroupID: "files",
		Short:   op.short,
		Long:    long,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withSession(ctx, func(s *session) error {
				files, err := s.targets(ctx, args)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					return errors.New("no files matched")
				}
				if op.confirm != "" {
					if err := confirm(fmt.Sprintf(op.confirm, len(files))); err != nil {
						return err
					}
				}
				return s.runOp(ctx, provider.Request{Kind: op.kind, Files: files}, files)
			})
		},
	}
}

var checkinCmd = &cobra.Command{
	Use:     "checkin [paths...]",
	Aliases: []string{"ci", "submit"},
	GroupID: "files",
	Short:   "Commit and push changed files",
	Long: `Commit the selected files directly on top of the remote head and push.

Without paths every changed file in the repository is checked in. If the
local branch is behind, HEAD is moved onto the remote head first so history
stays linear; on any failure HEAD is returned to where it was and the
working tree is left untouched. Locks on checked-in files are released.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			files, err := s.targets(ctx, args)
			if err != nil {
				return err
			}
			files = slices.DeleteFunc(files, func(f string) bool {
				st, err := s.p.GetState(ctx, []string{f}, provider.UseCached)
				return err != nil || !st[0].CanCheckIn()
			})
			if len(files) == 0 {
				return errors.New("nothing to check in")
			}
			if message == "" && ui.IsTerminal(os.Stdin) && !assumeYes {
				if err := huh.NewText().
					Title(fmt.Sprintf("Describe the change to %d file(s)", len(files))).
					Value(&message).
					Run(); err != nil {
					return err
				}
			}
			return s.runOp(ctx, provider.Request{
				Kind:        provider.KindCheckIn,
				Files:       files,
				Description: strings.TrimSpace(message),
			}, files)
		})
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync [paths...]",
	Aliases: []string{"get", "update"},
	GroupID: "files",
	Short:   "Get the latest revision from the remote",
	Long: `Bring the working copy up to date with the remote branch.

Without paths the whole repository is rebased onto the remote head. Local
changes are stashed and restored around the rebase, and conflicts are
resolved in favor of the local files. If anything fails the working copy is
restored to its previous state.

With paths only those files are brought to the remote head and pinned there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			req := provider.Request{Kind: provider.KindSync}
			var show []string
			if len(args) > 0 {
				files, err := absPaths(args)
				if err != nil {
					return err
				}
				if _, err := s.p.GetState(ctx, files, provider.ForceUpdate); err != nil {
					return err
				}
				req.Files = files
				show = files
			}
			if err := s.runOp(ctx, req, nil); err != nil {
				return err
			}
			if len(show) == 0 {
				show = s.p.LastSyncUpdatedFiles()
			}
			if len(show) > 0 {
				states, err := s.p.GetState(ctx, show, provider.UseCached)
				if err != nil {
					return err
				}
				fmt.Println(ui.StatusTable(repoRoot, states))
			}
			return nil
		})
	},
}

var copyCmd = &cobra.Command{
	Use:     "copy <source> <destination>",
	Aliases: []string{"cp"},
	GroupID: "files",
	Short:   "Record a copy of a controlled file",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			return s.runOp(ctx, provider.Request{
				Kind:        provider.KindCopy,
				Files:       paths[:1],
				Destination: paths[1],
			}, nil)
		})
	},
}

func init() {
	for _, op := range fileOps {
		rootCmd.AddCommand(newFileOpCmd(op))
	}

	checkinCmd.Flags().StringP("message", "m", "", "Check-in description")
	rootCmd.AddCommand(checkinCmd, syncCmd, copyCmd)
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

// targets resolves args to the files an operation should act on and makes
// sure their cached states are fresh. Directories expand to every file the
// status refresh reports below them.
func (s *session) targets(ctx context.Context, args []string) ([]string, error) {
	paths, err := absPaths(args)
	if err != nil {
		return nil, err
	}

	var files, dirs []string
	for _, p := range paths {
		if vcs.DirExists(p) {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
	}

	if len(dirs) > 0 {
		if _, err := s.p.Run(ctx, provider.Request{Kind: provider.KindUpdateStatus, Files: dirs, CheckAllFiles: true}); err != nil {
			return nil, err
		}
		for _, st := range s.p.GetCachedStateByPredicate(func(st *state.FileStatus) bool {
			return underAny(st.Path, dirs) && st.Working != state.Unknown && st.Working != state.Ignored
		}) {
			files = append(files, st.Path)
		}
	}
	if len(files) > 0 {
		if _, err := s.p.GetState(ctx, files, provider.ForceUpdate); err != nil {
			return nil, err
		}
	}

	slices.Sort(files)
	return slices.Compact(files), nil
}

func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if vcs.IsSubPath(d, path) {
			return true
		}
	}
	return false
}

// runOp runs req to completion, prints its messages and, when show is set,
// the resulting states.
func (s *session) runOp(ctx context.Context, req provider.Request, show []string) error {
	c, err := s.p.Run(ctx, req)
	printResult(c)
	if errors.Is(err, provider.ErrCommandFailed) {
		return fmt.Errorf("%s failed", req.Kind)
	}
	if err != nil {
		return err
	}

	msg := c.Result.SuccessMessage
	if msg == "" {
		msg = fmt.Sprintf("%s succeeded", req.Kind)
	}
	fmt.Printf("%s %s\n", ui.RenderPass("✓"), msg)

	if len(show) > 0 {
		states, err := s.p.GetState(ctx, show, provider.UseCached)
		if err != nil {
			return err
		}
		fmt.Println(ui.StatusTable(repoRoot, states))
	}
	return nil
}

// confirm asks a yes/no question unless --yes was given. Without a terminal
// the answer cannot be asked and the operation is refused.
func confirm(question string) error {
	if assumeYes {
		return nil
	}
	if !ui.IsTerminal(os.Stdin) {
		return errors.New("confirmation required, pass --yes")
	}
	ok := false
	if err := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run(); err != nil {
		return err
	}
	if !ok {
		return errors.New("cancelled")
	}
	return nil
}
