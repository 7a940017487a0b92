package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history <file>",
	Aliases: []string{"log"},
	GroupID: "files",
	Short:   "Show the remote history of a file",
	Long: `Show the revisions of a file on the remote branch, newest first.

History is cached in .git/gitcentral/history.db. It is fetched from the
remote the first time a file is asked for, or whenever --refresh is given.

--since accepts a date (2024-05-01), a duration (72h) or plain English
("last week", "3 days ago", "yesterday").`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		sinceText, _ := cmd.Flags().GetString("since")

		var since time.Time
		if sinceText != "" {
			t, err := parseSince(sinceText, time.Now())
			if err != nil {
				return err
			}
			since = t
		}

		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			path := paths[0]

			var revs []state.Revision
			cached := false
			if s.history != nil && !refresh {
				revs, cached, err = s.history.Query(ctx, path, since)
				if err != nil {
					return err
				}
			}
			if !cached {
				c, err := s.p.Run(ctx, provider.Request{
					Kind:          provider.KindUpdateStatus,
					Files:         []string{path},
					UpdateHistory: true,
				})
				if err != nil {
					printResult(c)
					return err
				}
				if s.history != nil {
					if revs, _, err = s.history.Query(ctx, path, since); err != nil {
						return err
					}
				} else {
					st, err := s.p.GetState(ctx, []string{path}, provider.UseCached)
					if err != nil {
						return err
					}
					revs = filterSince(st[0].History, since)
				}
			}

			if len(revs) == 0 {
				fmt.Println(ui.RenderMuted("No revisions"))
				return nil
			}
			for _, r := range revs {
				printRevision(r)
			}
			return nil
		})
	},
}

func printRevision(r state.Revision) {
	fmt.Printf("%s %s %s %s\n",
		ui.RenderAccent(r.ShortID),
		ui.RenderMuted(r.Date.Local().Format("2006-01-02 15:04")),
		ui.RenderBold(r.User),
		r.Action)
	for _, line := range strings.Split(strings.TrimSpace(r.Description), "\n") {
		fmt.Printf("    %s\n", line)
	}
}

func filterSince(revs []state.Revision, since time.Time) []state.Revision {
	if since.IsZero() {
		return revs
	}
	var out []state.Revision
	for _, r := range revs {
		if !r.Date.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

var sinceParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince reads an absolute date, a Go duration meaning "that long ago",
// or a natural-language expression relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, nil
		}
	}
	if d, err := time.ParseDuration(text); err == nil {
		return now.Add(-d), nil
	}

	r, err := sinceParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: not a date, duration or expression", text)
	}
	return r.Time, nil
}

func init() {
	historyCmd.Flags().Bool("refresh", false, "Fetch history from the remote even if cached")
	historyCmd.Flags().String("since", "", "Only show revisions after this time")
	rootCmd.AddCommand(historyCmd)
}
