package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/gitcentral/gitcentral/internal/vcs"
)

// MinLockingLFSVersion is the first git-lfs release with file locking.
const MinLockingLFSVersion = "v2.0.0"

// Capabilities describes the installed git toolchain.
type Capabilities struct {
	GitVersion      string
	LFSVersion      string
	LFSRequired     bool
	SupportsLocking bool
}

// CheckCapabilities probes git and git-lfs. A missing git binary is an
// error; a missing or old git-lfs only disables locking.
func CheckCapabilities(ctx context.Context, binary, root string) (*Capabilities, error) {
	if binary == "" {
		binary = "git"
	}
	probe := func(args ...string) (string, error) {
		out, err := vcs.ExecContext(ctx, 30*time.Second, root, binary, args...)
		return vcs.TrimOutput(out), err
	}

	raw, err := probe("version")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vcs.ErrVCSNotAvailable, err)
	}
	caps := &Capabilities{GitVersion: parseGitVersion(raw)}

	if raw, err := probe("lfs", "version"); err == nil {
		caps.LFSVersion = parseLFSVersion(raw)
	}
	if raw, err := probe("config", "filter.lfs.required"); err == nil {
		caps.LFSRequired = raw == "true"
	}
	caps.SupportsLocking = caps.LFSRequired && lfsSupportsLocking(caps.LFSVersion)
	return caps, nil
}

// LockingErr explains why locking is unavailable, nil when it is.
func (c *Capabilities) LockingErr() error {
	switch {
	case c.LFSVersion == "":
		return vcs.ErrLFSNotAvailable
	case !c.LFSRequired:
		return fmt.Errorf("%w: filter.lfs.required is not set", vcs.ErrLFSNotAvailable)
	case !c.SupportsLocking:
		return fmt.Errorf("%w: git-lfs %s", vcs.ErrLockingUnsupported, c.LFSVersion)
	}
	return nil
}

// parseGitVersion turns "git version 2.39.0" into "2.39.0".
func parseGitVersion(raw string) string {
	return strings.TrimSpace(strings.TrimPrefix(raw, "git version "))
}

// parseLFSVersion turns "git-lfs/3.4.0 (GitHub; linux amd64; go 1.21)" into
// "3.4.0".
func parseLFSVersion(raw string) string {
	v, ok := strings.CutPrefix(strings.TrimSpace(raw), "git-lfs/")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(v, " \t"); i >= 0 {
		v = v[:i]
	}
	return v
}

func lfsSupportsLocking(version string) bool {
	v := "v" + version
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare(v, MinLockingLFSVersion) >= 0
}
