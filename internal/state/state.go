// Package state holds the per-file status model and the rules that fold
// local, ledger, remote and lock observations into one FileStatus.
package state

import (
	"fmt"
	"path/filepath"
	"time"
)

// WorkingState is the reconciled state of a single file.
type WorkingState int

const (
	Unknown WorkingState = iota
	Unchanged
	Added
	Deleted
	Modified
	CheckedOut
	Conflicted
	ForcedWriteable
	NotControlled
	Ignored
	// Outdated and Missing only arise after the remote fold.
	Outdated
	Missing
)

var workingStateNames = [...]string{
	Unknown:         "Unknown",
	Unchanged:       "Unchanged",
	Added:           "Added",
	Deleted:         "Deleted",
	Modified:        "Modified",
	CheckedOut:      "CheckedOut",
	Conflicted:      "Conflicted",
	ForcedWriteable: "ForcedWriteable",
	NotControlled:   "NotControlled",
	Ignored:         "Ignored",
	Outdated:        "Outdated",
	Missing:         "Missing",
}

func (s WorkingState) String() string {
	if s < 0 || int(s) >= len(workingStateNames) {
		return fmt.Sprintf("WorkingState(%d)", int(s))
	}
	return workingStateNames[s]
}

func (s WorkingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *WorkingState) UnmarshalText(text []byte) error {
	for i, name := range workingStateNames {
		if name == string(text) {
			*s = WorkingState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown working state %q", text)
}

// Code returns the single character used to persist the state in the ledger.
func (s WorkingState) Code() byte {
	switch s {
	case Added:
		return 'A'
	case Deleted:
		return 'D'
	case Modified:
		return 'M'
	case CheckedOut, ForcedWriteable:
		return 'L'
	case Conflicted:
		return 'U'
	case NotControlled:
		return '?'
	case Ignored:
		return '!'
	default:
		return '0'
	}
}

// FromCode is the inverse of Code. Unrecognized characters map to Unknown.
func FromCode(c byte) WorkingState {
	switch c {
	case 'A':
		return Added
	case 'D':
		return Deleted
	case 'M':
		return Modified
	case 'L':
		return CheckedOut
	case 'U':
		return Conflicted
	case '?':
		return NotControlled
	case '!':
		return Ignored
	default:
		return Unknown
	}
}

// NoRevision is the pinned revision of a file that was never synced.
const NoRevision = "0"

// NoLockID marks a FileStatus without a known lock id.
const NoLockID = -1

// Revision is a single history item of a file.
type Revision struct {
	CommitID    string    `json:"commit_id"`
	ShortID     string    `json:"short_id"`
	Number      int64     `json:"number"`
	User        string    `json:"user"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Action      string    `json:"action"`
	Filename    string    `json:"filename"`
}

// FileStatus is everything known about one file of the working tree.
type FileStatus struct {
	Path           string       `json:"path"`
	Working        WorkingState `json:"working"`
	Remote         WorkingState `json:"remote"`
	PinnedRevision string       `json:"pinned_revision"`
	LockOwner      string       `json:"lock_owner,omitempty"`
	LockedByOther  bool         `json:"locked_by_other"`
	LockID         int          `json:"lock_id"`
	Outdated       bool         `json:"outdated"`
	Staged         bool         `json:"staged"`
	Timestamp      time.Time    `json:"timestamp"`
	History        []Revision   `json:"history,omitempty"`
}

// New returns an Unknown status for path.
func New(path string) FileStatus {
	return FileStatus{
		Path:           path,
		PinnedRevision: NoRevision,
		LockID:         NoLockID,
		Timestamp:      time.Now(),
	}
}

// NewWithState returns a status for path already in the given working state.
func NewWithState(path string, ws WorkingState) FileStatus {
	s := New(path)
	s.Working = ws
	return s
}

func (s FileStatus) IsModified() bool {
	switch s.Working {
	case Added, Deleted, Modified, Conflicted, NotControlled, ForcedWriteable:
		return true
	}
	return false
}

func (s FileStatus) IsCheckedOut() bool {
	switch s.Working {
	case Added, Deleted, Modified, Conflicted, CheckedOut, ForcedWriteable:
		return true
	}
	return s.IsLockedByMe()
}

func (s FileStatus) IsCheckedOutOther() bool { return s.LockedByOther && s.LockOwner != "" }
func (s FileStatus) IsLockedByMe() bool      { return !s.LockedByOther && s.LockOwner != "" }
func (s FileStatus) IsCurrent() bool         { return !s.Outdated }
func (s FileStatus) IsSourceControlled() bool {
	return s.Working != Ignored && s.Working != Unknown
}
func (s FileStatus) IsAdded() bool      { return s.Working == Added || s.Working == NotControlled }
func (s FileStatus) IsDeleted() bool    { return s.Working == Deleted }
func (s FileStatus) IsIgnored() bool    { return s.Working == Ignored }
func (s FileStatus) IsConflicted() bool { return s.Working == Conflicted }
func (s FileStatus) IsUnknown() bool    { return s.Working == Unknown }

func (s FileStatus) CanCheckIn() bool {
	return (s.IsModified() || s.IsAdded() || s.IsCheckedOut()) &&
		s.IsCurrent() && !s.IsConflicted() && !s.IsCheckedOutOther()
}

func (s FileStatus) CanRevert() bool { return s.IsCheckedOut() || s.IsConflicted() }

func (s FileStatus) CanCheckout() bool {
	return s.IsSourceControlled() && !s.IsModified() && !s.IsCheckedOut() &&
		!s.IsCheckedOutOther() && s.IsCurrent()
}

func (s FileStatus) CanEdit() bool { return !s.IsCheckedOutOther() && !s.IsModified() }

func (s FileStatus) CanDelete() bool {
	return s.IsSourceControlled() && s.IsCurrent() && s.CanEdit()
}

// CanAdd is always false: new files are picked up by check-in directly.
func (s FileStatus) CanAdd() bool { return false }

func (s FileStatus) CanLock() bool        { return s.LockOwner == "" }
func (s FileStatus) CanUnlock() bool      { return s.IsLockedByMe() }
func (s FileStatus) CanFixLock() bool     { return s.CanLock() && s.IsModified() }
func (s FileStatus) HasValidLockID() bool { return s.LockID != NoLockID }

func (s FileStatus) CanForceWriteable() bool {
	return s.IsCheckedOutOther() && !s.IsModified() && !s.IsCheckedOut()
}

// Equal reports whether two statuses would render identically. History and
// Timestamp are ignored.
func (s FileStatus) Equal(o *FileStatus) bool {
	return s.Working == o.Working &&
		s.Remote == o.Remote &&
		s.Outdated == o.Outdated &&
		s.Staged == o.Staged &&
		s.PinnedRevision == o.PinnedRevision &&
		s.Path == o.Path &&
		s.LockOwner == o.LockOwner &&
		s.LockedByOther == o.LockedByOther
}

// DisplayName is a short human label for the status.
func (s FileStatus) DisplayName() string {
	if !s.IsCurrent() {
		if s.IsConflicted() {
			return "Conflicted"
		}
		return "Not at head revision"
	}
	if s.IsCheckedOutOther() {
		if s.IsModified() {
			return "Modified locally but locked by: " + s.LockOwner
		}
		return "Locked by: " + s.LockOwner
	}
	switch s.Working {
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Deleted:
		return "Deleted"
	case Modified:
		return "Modified"
	case CheckedOut:
		return "Checked out"
	case Conflicted:
		return "Conflicted"
	case ForcedWriteable:
		return "Writeable"
	case NotControlled:
		return "Not under source control"
	case Ignored:
		return "Ignored"
	case Missing:
		return "Missing"
	}
	return "Unknown"
}

// Tooltip is a longer description suitable for a status listing.
func (s FileStatus) Tooltip() string {
	switch {
	case !s.IsCurrent() && s.IsConflicted():
		return "The file has been modified both locally and on the remote"
	case !s.IsCurrent():
		return "The file is not at the latest revision"
	case s.IsCheckedOutOther() && s.IsModified():
		return fmt.Sprintf("The file was modified locally but is locked by %s", s.LockOwner)
	case s.IsCheckedOutOther():
		return fmt.Sprintf("The file is locked by %s", s.LockOwner)
	case s.Working == ForcedWriteable:
		return "The file was made writeable without a lock"
	case s.Working == NotControlled:
		return "The file is not under source control and will be added on check-in"
	case s.Working == CheckedOut:
		return "The file is checked out"
	}
	return s.DisplayName()
}

// Filename returns the base name of Path.
func (s FileStatus) Filename() string { return filepath.Base(s.Path) }
