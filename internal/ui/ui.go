// Package ui renders terminal output for the gitcentral CLI.
package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/gitcentral/gitcentral/internal/state"
)

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#E65100", Dark: "#FFB74D"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"}
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// Init picks the color profile. Color is disabled when noColor is set,
// NO_COLOR is present or w is not a terminal.
func Init(w io.Writer, noColor bool) {
	if noColor || termenv.EnvNoColor() || !IsTerminal(w) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }
func RenderBold(s string) string   { return boldStyle.Render(s) }

// StateStyle colors a working state by how much attention it needs.
func StateStyle(ws state.WorkingState) lipgloss.Style {
	switch ws {
	case state.Unchanged, state.Ignored:
		return mutedStyle
	case state.Added, state.CheckedOut, state.ForcedWriteable:
		return accentStyle
	case state.Modified, state.Deleted, state.Outdated, state.Missing:
		return warnStyle
	case state.Conflicted:
		return failStyle
	}
	return lipgloss.NewStyle()
}

// StatusTable renders states as a table with paths shown relative to root.
func StatusTable(root string, states []state.FileStatus) string {
	rows := make([][]string, 0, len(states))
	for _, st := range states {
		rows = append(rows, []string{
			relPath(root, st.Path),
			st.Working.String(),
			remoteColumn(st),
			lockColumn(st),
			shortRev(st.PinnedRevision),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("FILE", "STATE", "REMOTE", "LOCK", "PIN").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return base.Bold(true)
			}
			if col == 1 && row >= 0 && row < len(states) {
				return StateStyle(states[row].Working).Padding(0, 1)
			}
			return base
		})
	return t.String()
}

func remoteColumn(st state.FileStatus) string {
	if st.Remote == state.Unknown || st.Remote == state.Unchanged {
		if st.Outdated {
			return "outdated"
		}
		return ""
	}
	return st.Remote.String()
}

func lockColumn(st state.FileStatus) string {
	switch {
	case st.LockOwner == "":
		return ""
	case st.LockedByOther:
		return st.LockOwner
	}
	return "me"
}

func shortRev(rev string) string {
	if rev == state.NoRevision {
		return ""
	}
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

func relPath(root, path string) string {
	if root == "" {
		return path
	}
	rel, ok := strings.CutPrefix(path, strings.TrimSuffix(root, string(os.PathSeparator))+string(os.PathSeparator))
	if !ok {
		return path
	}
	return rel
}
