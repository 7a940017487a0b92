package state

import (
	"errors"
	"fmt"
)

// ErrUnhandledCombine is returned when two observations of a file are in a
// combination the reconciler has no rule for. It is a diagnostic: the
// status is left as it was and callers should log and carry on.
var ErrUnhandledCombine = errors.New("unhandled state combination")

func unhandled(fold string, current, other WorkingState) error {
	return fmt.Errorf("%w: %s fold of %s into %s", ErrUnhandledCombine, fold, other, current)
}

func (s *FileStatus) touch(o *FileStatus) {
	if o.Timestamp.After(s.Timestamp) {
		s.Timestamp = o.Timestamp
	}
}

// CombineWithLocal folds a second local observation (for example a
// branch-ahead diff folded with porcelain status) into s.
func (s *FileStatus) CombineWithLocal(other *FileStatus) error {
	s.touch(other)
	var err error
	switch other.Working {
	case Added:
		if s.Working == Deleted {
			s.Working = Modified
		} else {
			err = unhandled("local", s.Working, other.Working)
		}
		return err
	case Deleted:
		s.Working = Deleted
		return nil
	case Modified:
		switch s.Working {
		case Added, Modified:
		default:
			err = unhandled("local", s.Working, other.Working)
		}
		return err
	case Conflicted:
		s.Working = Conflicted
		return nil
	case Outdated, Missing:
		err = unhandled("local", s.Working, other.Working)
	}
	if s.Working == Unknown {
		s.Working = other.Working
	}
	return err
}

// CombineWithLedger folds the persisted ledger entry into s. localHead is the
// current local commit; a pin that differs from it means the file was synced
// individually and its local differences are expected.
func (s *FileStatus) CombineWithLedger(saved WorkingState, pin, localHead string) {
	s.PinnedRevision = pin
	switch saved {
	case Modified, CheckedOut:
		switch {
		case s.Working == Unknown || s.Working == Unchanged:
			s.Working = CheckedOut
		case s.Working == NotControlled && pin != NoRevision:
			s.Working = Modified
		}
	case Conflicted:
		s.Working = Conflicted
	case Unknown, Unchanged:
		if s.IsModified() && pin != NoRevision && pin != localHead {
			s.Working = Unchanged
		}
	case Deleted:
		// local deletions are observed on disk, never replayed from the ledger
	default:
		if s.Working == Unknown {
			s.Working = saved
		}
	}
}

// CombineWithRemote folds the remote-ahead diff observation into s.
func (s *FileStatus) CombineWithRemote(other *FileStatus) error {
	s.touch(other)
	s.Remote = other.Working

	switch other.Working {
	case Added:
		switch s.Working {
		case Deleted:
			s.Outdated = false
		case Unknown:
			s.Working = Missing
			s.Outdated = true
		case CheckedOut, Modified, Added, NotControlled:
			s.Working = Conflicted
			s.Outdated = true
		default:
			return unhandled("remote", s.Working, other.Working)
		}
	case Deleted:
		if s.Working == Deleted {
			s.Working = Unknown
			return nil
		}
		s.remoteChanged()
	case Modified:
		if s.Working == Deleted {
			return nil
		}
		s.remoteChanged()
	case Outdated, Missing, Conflicted, NotControlled, CheckedOut:
		return unhandled("remote", s.Working, other.Working)
	}
	return nil
}

func (s *FileStatus) remoteChanged() {
	if s.IsModified() || s.IsCheckedOut() {
		s.Working = Conflicted
	} else {
		s.Working = Outdated
	}
	s.Outdated = true
}

// CombineWithLock folds a lock-server observation into s.
func (s *FileStatus) CombineWithLock(other *FileStatus) error {
	s.touch(other)
	s.LockOwner = other.LockOwner
	s.LockedByOther = other.LockedByOther
	s.LockID = other.LockID

	if s.IsLockedByMe() {
		switch s.Working {
		case Ignored, Unknown, Unchanged:
			s.Working = CheckedOut
		case Missing:
			return unhandled("lock", s.Working, CheckedOut)
		}
		return nil
	}
	// conflicts stay visible until resolved, whoever holds the lock
	if s.Working != Conflicted && (s.IsModified() || s.IsCheckedOut()) {
		s.Working = ForcedWriteable
	}
	return nil
}

// Resolve undoes a remote fold once the remote change is known to be already
// contained in the pinned revision.
func (s *FileStatus) Resolve(old WorkingState, existsOnDisk bool) {
	s.Working = old
	s.Outdated = false
	if s.Remote == Deleted && existsOnDisk {
		s.Working = Added
	}
}
