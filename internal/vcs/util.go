package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ===================
// Command Execution Utilities
// ===================

// ExecOptions configures a single backend process invocation.
type ExecOptions struct {
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// Stdin is fed to the process when set.
	Stdin io.Reader
	// Timeout bounds the invocation; zero means no limit beyond ctx.
	Timeout time.Duration
}

// Exec runs name with args and returns stdout and stderr separately. Both
// buffers are returned even when the process exits non-zero, since callers
// inspect stderr text to classify failures.
//
// Example:
//
//	stdout, stderr, err := Exec(ctx, ExecOptions{Timeout: time.Minute}, "git", "-C", root, "status", "--porcelain")
func Exec(ctx context.Context, opts ExecOptions, name string, args ...string) ([]byte, []byte, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%w: %s %s", ErrTimeout, name, strings.Join(args, " "))
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, nil, fmt.Errorf("%w: %v", ErrVCSNotAvailable, err)
		}
		return stdout.Bytes(), stderr.Bytes(), err
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// ExecContext executes a command and returns its stdout, folding stderr into
// the error on failure. Used for simple probes like version checks.
func ExecContext(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]byte, error) {
	stdout, stderr, err := Exec(ctx, ExecOptions{Dir: workDir, Timeout: timeout}, name, args...)
	if err != nil {
		if len(stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(stderr)))
		}
		return nil, err
	}
	return stdout, nil
}

// ===================
// Output Parsing Utilities
// ===================

// ParseLines splits command output into non-empty lines. Leading whitespace
// is significant in porcelain formats, so only line endings are stripped.
func ParseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}

var escapeSeq = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// ParseMessages splits human-facing output such as git's stderr into lines.
// Terminal escape sequences are removed and a line redrawn with carriage
// returns keeps only its final text.
func ParseMessages(output []byte) []string {
	var result []string
	for _, line := range ParseLines(output) {
		line = escapeSeq.ReplaceAllString(line, "")
		if i := strings.LastIndexByte(strings.TrimRight(line, "\r "), '\r'); i >= 0 {
			line = line[i+1:]
		}
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}

// TrimOutput trims whitespace and trailing newlines from command output.
func TrimOutput(output []byte) string {
	return strings.TrimSpace(string(output))
}

// FirstLine returns the first non-empty line of lines, trimmed.
func FirstLine(lines []string) string {
	for _, l := range lines {
		if s := strings.TrimSpace(l); s != "" {
			return s
		}
	}
	return ""
}

// ===================
// Path Utilities
// ===================

// RelativePath returns target relative to base using forward slashes, the
// form git expects on every platform.
func RelativePath(base, target string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return "", fmt.Errorf("cannot determine relative path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// IsSubPath returns true if target is base or inside it.
func IsSubPath(base, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DirExists reports whether path is an existing directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ===================
// Error Utilities
// ===================

// GetExitCode returns the exit code from an error, or -1 if not an exit error.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
