//go:build unix

package vcs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MakeWriteable sets the owner write bit on path. The mode bits decide,
// not access(2), so a read-only file is fixed even when running as root.
func MakeWriteable(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	perm := uint32(st.Mode) & 0o7777
	if perm&0o200 != 0 {
		return nil
	}
	if err := unix.Chmod(path, perm|0o200); err != nil {
		return fmt.Errorf("failed to make %s writeable: %w", path, err)
	}
	return nil
}
