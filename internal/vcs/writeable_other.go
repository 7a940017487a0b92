//go:build !unix

package vcs

import (
	"fmt"
	"os"
)

// MakeWriteable clears the read-only attribute on path.
func MakeWriteable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o200 != 0 {
		return nil
	}
	if err := os.Chmod(path, info.Mode().Perm()|0o200); err != nil {
		return fmt.Errorf("failed to make %s writeable: %w", path, err)
	}
	return nil
}
