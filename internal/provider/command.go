package provider

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gitcentral/gitcentral/internal/state"
)

// Kind names an operation.
type Kind string

const (
	KindConnect        Kind = "Connect"
	KindCheckOut       Kind = "CheckOut"
	KindCheckIn        Kind = "CheckIn"
	KindSync           Kind = "Sync"
	KindRevert         Kind = "Revert"
	KindUpdateStatus   Kind = "UpdateStatus"
	KindResolve        Kind = "Resolve"
	KindForceUnlock    Kind = "ForceUnlock"
	KindForceWriteable Kind = "ForceWriteable"
	KindMarkForAdd     Kind = "MarkForAdd"
	KindDelete         Kind = "Delete"
	KindCopy           Kind = "Copy"
)

// Kinds lists every operation in a stable order.
var Kinds = []Kind{
	KindConnect, KindCheckOut, KindCheckIn, KindSync, KindRevert, KindUpdateStatus,
	KindResolve, KindForceUnlock, KindForceWriteable, KindMarkForAdd, KindDelete, KindCopy,
}

// ParseKind resolves an operation name, ignoring case and dashes, so
// "force-unlock" names ForceUnlock.
func ParseKind(s string) (Kind, error) {
	flat := strings.ReplaceAll(s, "-", "")
	for _, k := range Kinds {
		if strings.EqualFold(string(k), flat) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown operation %q", ErrRejected, s)
}

// Request is the immutable input of a command. Fields beyond Kind and Files
// only matter to the kinds that name them.
type Request struct {
	Kind  Kind     `json:"kind"`
	Files []string `json:"files"`

	// CheckIn
	Description string `json:"description,omitempty"`

	// UpdateStatus
	UpdateHistory bool `json:"update_history,omitempty"`
	CheckAllFiles bool `json:"check_all_files,omitempty"`
	OpenedOnly    bool `json:"opened_only,omitempty"`

	// Copy
	Destination string `json:"destination,omitempty"`
}

// Settings is the repository configuration captured when a command is
// submitted.
type Settings struct {
	GitBinary  string
	RepoRoot   string
	Branch     string
	Remote     string
	UseLocking bool
	// LockUser is the identity lock ownership is compared against.
	LockUser  string
	UserName  string
	UserEmail string
}

// RemoteBranch returns "remote/branch".
func (s Settings) RemoteBranch() string { return s.Remote + "/" + s.Branch }

// Status is the lifecycle position of a command.
type Status int32

const (
	Queued Status = iota
	Running
	Completed
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Result is written by the worker while the command runs and read by the
// owner once the command is completed.
type Result struct {
	Success        bool
	Info           []string
	Errors         []string
	States         []state.FileStatus
	Histories      map[string][]state.Revision
	Removed        []string
	UpdatedFiles   []string
	SuccessMessage string
	// ClearCache drops every cached state and reloads the ledger before
	// States are applied.
	ClearCache bool

	connected      bool
	connectionSeen bool
}

// SetConnected records the outcome of a remote round trip.
func (r *Result) SetConnected(ok bool) {
	r.connected, r.connectionSeen = ok, true
}

// Connected reports the remote round trip outcome, if one was made.
func (r *Result) Connected() (ok, known bool) { return r.connected, r.connectionSeen }

func (r *Result) AddInfo(format string, args ...any) {
	r.Info = append(r.Info, fmt.Sprintf(format, args...))
}

func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// RemoveRedundantErrors moves error lines containing filter to Info. When
// that empties the error list the command is considered successful.
func (r *Result) RemoveRedundantErrors(filter string) {
	found := false
	kept := r.Errors[:0]
	for _, e := range r.Errors {
		if strings.Contains(e, filter) {
			r.Info = append(r.Info, e)
			found = true
			continue
		}
		kept = append(kept, e)
	}
	r.Errors = kept
	if found && len(r.Errors) == 0 && !r.Success {
		r.Success = true
	}
}

// CompletionFunc is called on the owner goroutine once a command's results
// have been applied.
type CompletionFunc func(cmd *Command, success bool)

// Command is one submitted operation.
type Command struct {
	ID       uint64
	Request  Request
	Settings Settings
	// Known holds the cached states relevant to the request, copied at
	// submission. Workers read it instead of the live cache.
	Known map[string]state.FileStatus

	Result Result

	status     atomic.Int32
	applied    bool
	onComplete CompletionFunc
	worker     Worker
}

// Status returns the lifecycle position. Safe from any goroutine.
func (c *Command) Status() Status { return Status(c.status.Load()) }

func (c *Command) setStatus(s Status) { c.status.Store(int32(s)) }

// KnownState returns the submission-time state of path, or an Unknown
// placeholder.
func (c *Command) KnownState(path string) state.FileStatus {
	if s, ok := c.Known[path]; ok {
		return s
	}
	return state.New(path)
}

// KnownWhere returns the submission-time states matching pred.
func (c *Command) KnownWhere(pred func(*state.FileStatus) bool) []state.FileStatus {
	var out []state.FileStatus
	for _, s := range c.Known {
		if pred(&s) {
			out = append(out, s)
		}
	}
	return out
}

// Err summarizes a failed command, nil on success.
func (c *Command) Err() error {
	if c.Result.Success {
		return nil
	}
	if len(c.Result.Errors) == 0 {
		return fmt.Errorf("%w: %s", ErrCommandFailed, c.Request.Kind)
	}
	return fmt.Errorf("%w: %s: %s", ErrCommandFailed, c.Request.Kind, strings.Join(c.Result.Errors, "; "))
}
