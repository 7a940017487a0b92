package vcs

import "errors"

// Errors returned by the backend layer.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, vcs.ErrIndexInvalid) {
//	    // ask the user to unstage files
//	}
var (
	// ErrNotInVCS is returned when no git repository encloses the path.
	ErrNotInVCS = errors.New("not in a git repository")

	// ErrVCSNotAvailable is returned when the git binary cannot be executed.
	ErrVCSNotAvailable = errors.New("git binary not available")

	// ErrLFSNotAvailable is returned when git-lfs is not installed or its
	// filter is not required by the repository configuration.
	ErrLFSNotAvailable = errors.New("git-lfs not available")

	// ErrLockingUnsupported is returned when the installed git-lfs is too
	// old to support file locking.
	ErrLockingUnsupported = errors.New("git-lfs does not support locking")

	// ErrCommandFailed is returned when a backend invocation exits non-zero.
	ErrCommandFailed = errors.New("command failed")

	// ErrIndexInvalid is returned when files are staged outside of a
	// GitCentral operation.
	ErrIndexInvalid = errors.New("index has staged changes")

	// ErrMustResolveConflicts is returned when the index holds conflicts.
	ErrMustResolveConflicts = errors.New("index has unresolved conflicts")

	// ErrNoMergeBase is returned when the local and remote branches share
	// no history.
	ErrNoMergeBase = errors.New("no merge-base")

	// ErrRemoteNotTracking is returned when the remote does not carry the
	// configured branch.
	ErrRemoteNotTracking = errors.New("remote is not tracking branch")

	// ErrPushRejected is returned when a push is rejected by the remote,
	// typically due to non-fast-forward updates.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrTimeout is returned when a backend invocation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Timeouts are often transient; rejected pushes succeed after a sync.
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrPushRejected)
}

// IsUserActionRequired returns true if the error requires user intervention
// to resolve (conflicts, a dirty index, etc).
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrMustResolveConflicts) ||
		errors.Is(err, ErrIndexInvalid)
}

// IsFatal returns true if the error means no operation can run at all.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotInVCS) ||
		errors.Is(err, ErrVCSNotAvailable) ||
		errors.Is(err, ErrNoMergeBase)
}
