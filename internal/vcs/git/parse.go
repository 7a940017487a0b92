package git

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs"
)

// States maps absolute file paths to observed statuses.
type States map[string]state.FileStatus

func absPath(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// unquote reverses git's C-style quoting of unusual path names.
func unquote(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, `"`) && strings.HasSuffix(p, `"`) && len(p) > 1 {
		if s, err := strconv.Unquote(p); err == nil {
			return s
		}
	}
	return p
}

// ParseStatus parses "status --porcelain" output. requested lists the paths
// the command was run for; any of them that is a file but produced no output
// line is reported as Unchanged when it exists on disk and Unknown otherwise.
func ParseStatus(root string, lines []string, requested []string) States {
	out := make(States, len(lines))
	for _, line := range lines {
		if len(line) < 4 {
			continue
		}
		x, y := line[0], line[1]
		rest := line[3:]

		var newPath string
		if x == 'R' {
			if from, to, ok := strings.Cut(rest, " -> "); ok {
				rest, newPath = from, to
			}
		}
		path := absPath(root, unquote(rest))

		s := state.New(path)
		s.Staged = x != ' '
		s.Working = porcelainState(x, y)
		if s.Working == state.NotControlled {
			s.Staged = false
		}
		out[path] = s

		if newPath != "" {
			np := absPath(root, unquote(newPath))
			if _, seen := out[np]; !seen {
				n := state.NewWithState(np, state.NotControlled)
				out[np] = n
			}
		}
	}

	for _, f := range requested {
		if vcs.DirExists(f) {
			continue
		}
		f = filepath.Clean(f)
		if _, ok := out[f]; ok {
			continue
		}
		if vcs.FileExists(f) {
			out[f] = state.NewWithState(f, state.Unchanged)
		} else {
			out[f] = state.New(f)
		}
	}
	return out
}

func porcelainState(x, y byte) state.WorkingState {
	switch {
	case x == 'U' || y == 'U' || (x == 'A' && y == 'A') || (x == 'D' && y == 'D'):
		return state.Conflicted
	case x == 'A':
		return state.Added
	case x == 'D' || y == 'D':
		return state.Deleted
	case x == 'M' || y == 'M':
		return state.Modified
	case x == '?' || y == '?':
		return state.NotControlled
	case x == '!' || y == '!':
		return state.Ignored
	case x == 'R':
		return state.Deleted
	}
	return state.Unknown
}

// ParseNameStatus parses "diff --name-status" output. A rename is reported
// as the old path Deleted and the new path Added.
func ParseNameStatus(root string, lines []string) States {
	out := make(States, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		code := fields[0][0]
		path := absPath(root, unquote(fields[1]))

		switch code {
		case 'R':
			out[path] = state.NewWithState(path, state.Deleted)
			if len(fields) > 2 {
				np := absPath(root, unquote(fields[len(fields)-1]))
				out[np] = state.NewWithState(np, state.Added)
			}
			continue
		}
		out[path] = state.NewWithState(path, nameStatusState(code))
	}
	return out
}

func nameStatusState(code byte) state.WorkingState {
	switch code {
	case ' ':
		return state.Unchanged
	case 'M', 'T':
		return state.Modified
	case 'A':
		return state.Added
	case 'D':
		return state.Deleted
	case 'U':
		return state.Conflicted
	}
	return state.Unknown
}

// ParseLocks parses "lfs locks" output lines of the form
// "path<ws>owner<tab>ID:<n>". Locks not owned by localUser are flagged as
// held by another identity.
func ParseLocks(root string, lines []string, localUser string) States {
	out := make(States, len(lines))
	for _, line := range lines {
		rel, rest, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		rel = strings.TrimSpace(rel)
		if rel == "" {
			continue
		}

		id := state.NoLockID
		if i := strings.LastIndex(rest, ":"); i >= 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(rest[i+1:])); err == nil {
				id = n
			}
		}
		owner, _, _ := strings.Cut(rest, "\t")
		owner = strings.TrimSpace(owner)

		path := absPath(root, rel)
		s := state.New(path)
		s.LockOwner = owner
		s.LockedByOther = owner != localUser
		s.LockID = id
		out[path] = s
	}
	return out
}

var logActions = map[byte]string{
	' ': "unmodified",
	'M': "modified",
	'A': "added",
	'D': "deleted",
	'R': "renamed",
	'C': "copied",
	'T': "type changed",
	'U': "unmerged",
	'X': "unknown",
	'!': "ignored",
	'?': "untracked",
}

// ParseLog parses "log --date=raw --name-status --pretty=medium" output into
// revisions, newest first.
func ParseLog(root string, lines []string) []state.Revision {
	var revs []state.Revision
	var cur *state.Revision
	var desc []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Description = strings.Join(desc, "\n")
		revs = append(revs, *cur)
		cur, desc = nil, nil
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "commit "):
			flush()
			id := strings.Fields(strings.TrimPrefix(line, "commit "))[0]
			cur = &state.Revision{CommitID: id}
			cur.ShortID = id[:min(8, len(id))]
			if n, err := strconv.ParseInt(cur.ShortID, 16, 64); err == nil {
				cur.Number = n
			}
		case cur == nil:
		case strings.HasPrefix(line, "Author: "):
			author := strings.TrimSpace(strings.TrimPrefix(line, "Author: "))
			if i := strings.Index(author, " <"); i >= 0 {
				author = author[:i]
			}
			cur.User = author
		case strings.HasPrefix(line, "Date: "):
			fields := strings.Fields(strings.TrimPrefix(line, "Date: "))
			if len(fields) > 0 {
				if secs, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
					cur.Date = time.Unix(secs, 0).UTC()
				}
			}
		case strings.HasPrefix(line, "    "):
			desc = append(desc, strings.TrimSpace(line))
		case strings.Contains(line, "\t"):
			fields := strings.Split(line, "\t")
			if fields[0] != "" {
				if a, ok := logActions[fields[0][0]]; ok {
					cur.Action = a
				} else {
					cur.Action = "unknown"
				}
			}
			cur.Filename = absPath(root, unquote(fields[len(fields)-1]))
		}
	}
	flush()
	return revs
}
