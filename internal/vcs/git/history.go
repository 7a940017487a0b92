package git

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/vcs"
)

// HistoryDepth is the number of revisions fetched per file.
const HistoryDepth = 100

// History returns up to HistoryDepth revisions of file on ref, following
// renames.
func (r *Runner) History(ctx context.Context, ref, file string) ([]state.Revision, error) {
	out, err := r.Run(ctx, []string{
		"log", "--max-count", fmt.Sprint(HistoryDepth), "--follow", "--date=raw",
		"--name-status", "--pretty=medium", ref, "--", r.Rel(file),
	})
	if err != nil {
		return nil, err
	}
	return ParseLog(r.Root, out.Stdout), nil
}

// IsLFS reports whether file is stored through the lfs filter.
func (r *Runner) IsLFS(ctx context.Context, file string) bool {
	out, err := r.Run(ctx, []string{"check-attr", "filter", "--", r.Rel(file)})
	if err != nil {
		return false
	}
	return strings.HasSuffix(vcs.FirstLine(out.Stdout), "lfs")
}

// DumpRevision writes the content of file at rev to w. LFS pointers are
// smudged into the real content.
func (r *Runner) DumpRevision(ctx context.Context, rev, file string, w io.Writer) error {
	blob, _, err := r.RunRaw(ctx, nil, "show", rev+":"+r.Rel(file))
	if err != nil {
		return err
	}
	if r.IsLFS(ctx, file) {
		smudged, _, err := r.RunRaw(ctx, bytes.NewReader(blob), "lfs", "smudge", "--", r.Rel(file))
		if err != nil {
			return err
		}
		blob = smudged
	}
	_, err = w.Write(blob)
	return err
}
