// Package git drives the git and git-lfs command line on behalf of the
// GitCentral engine.
//
// Every invocation is run as "git -C <root> <args> <files>", with file
// lists batched so that no single command line grows unbounded. Parsers in
// this package turn porcelain output into state.FileStatus values.
package git

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/vcs"
)

// MaxFilesPerBatch caps the number of paths passed to one git invocation.
const MaxFilesPerBatch = 50

// DefaultTimeout bounds a single git invocation when the Runner has none set.
const DefaultTimeout = 10 * time.Minute

// Runner executes git commands against one repository.
type Runner struct {
	// Binary is the git executable, "git" when empty.
	Binary string
	// Root is the repository root passed with -C.
	Root string
	// Timeout bounds each batch.
	Timeout time.Duration
	// Logger receives a debug line per invocation.
	Logger *zap.Logger
}

// NewRunner returns a Runner for root.
func NewRunner(binary, root string, logger *zap.Logger) *Runner {
	return &Runner{Binary: binary, Root: root, Timeout: DefaultTimeout, Logger: logger}
}

// Output is the accumulated, line-split output of all batches of a command.
type Output struct {
	Stdout []string
	Stderr []string
}

// CommandError is returned when at least one batch exited non-zero.
type CommandError struct {
	Args   []string
	Stderr []string
	Err    error
}

func (e *CommandError) Error() string {
	msg := "git " + strings.Join(e.Args, " ")
	if len(e.Stderr) > 0 {
		return fmt.Sprintf("%s: %s", msg, strings.Join(e.Stderr, "; "))
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *CommandError) Unwrap() []error { return []error{vcs.ErrCommandFailed, e.Err} }

// GIT_OPTIONAL_LOCKS=0 keeps read-only commands such as status from
// taking index.lock under a concurrent writer.
var gitEnv = []string{"LC_ALL=C", "GIT_TERMINAL_PROMPT=0", "GIT_OPTIONAL_LOCKS=0"}

func (r *Runner) binary() string {
	if r.Binary == "" {
		return "git"
	}
	return r.Binary
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Run executes git with args, appending files in batches of
// MaxFilesPerBatch. Output lines from every batch are concatenated. The
// returned Output is never nil; the error is a *CommandError when any batch
// failed, after all batches have run.
func (r *Runner) Run(ctx context.Context, args []string, files ...string) (*Output, error) {
	out := &Output{}
	if len(files) == 0 {
		return out, r.runBatch(ctx, out, args)
	}

	var firstErr error
	for start := 0; start < len(files); start += MaxFilesPerBatch {
		end := min(start+MaxFilesPerBatch, len(files))
		batch := append(append([]string{}, args...), files[start:end]...)
		if err := r.runBatch(ctx, out, batch); err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return out, firstErr
}

func (r *Runner) runBatch(ctx context.Context, out *Output, args []string) error {
	full := append([]string{"-C", r.Root}, args...)
	r.logger().Debug("git", zap.Strings("args", args))

	stdout, stderr, err := vcs.Exec(ctx, vcs.ExecOptions{Env: gitEnv, Timeout: r.timeout()}, r.binary(), full...)
	out.Stdout = append(out.Stdout, vcs.ParseLines(stdout)...)
	errLines := vcs.ParseMessages(stderr)
	out.Stderr = append(out.Stderr, errLines...)
	if err != nil {
		return &CommandError{Args: args, Stderr: errLines, Err: err}
	}
	return nil
}

// RunRaw executes git without line splitting, feeding stdin when set. Used
// for binary-safe content transfer.
func (r *Runner) RunRaw(ctx context.Context, stdin io.Reader, args ...string) ([]byte, []byte, error) {
	full := append([]string{"-C", r.Root}, args...)
	r.logger().Debug("git raw", zap.Strings("args", args))

	stdout, stderr, err := vcs.Exec(ctx, vcs.ExecOptions{Env: gitEnv, Stdin: stdin, Timeout: r.timeout()}, r.binary(), full...)
	if err != nil {
		return stdout, stderr, &CommandError{Args: args, Stderr: vcs.ParseLines(stderr), Err: err}
	}
	return stdout, stderr, nil
}

// Value runs a command expected to print a single value and returns it
// trimmed.
func (r *Runner) Value(ctx context.Context, args ...string) (string, error) {
	out, err := r.Run(ctx, args)
	if err != nil {
		return "", err
	}
	return vcs.FirstLine(out.Stdout), nil
}

// Rel converts an absolute path inside the repository to the slash-separated
// relative form. Paths that are already relative are returned cleaned.
func (r *Runner) Rel(path string) string {
	if rel, err := vcs.RelativePath(r.Root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return strings.TrimPrefix(path, "./")
}

// Abs joins a repository-relative path onto Root.
func (r *Runner) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(r.Root, filepath.FromSlash(rel))
}

// Contains reports whether path lies inside the repository root.
func (r *Runner) Contains(path string) bool {
	return vcs.IsSubPath(r.Root, path)
}
