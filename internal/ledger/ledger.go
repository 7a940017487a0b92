// Package ledger persists the per-file pinned revision and checkout markers
// that git itself cannot represent.
//
// The ledger lives at .git/gitcentral/status as a JSON document keyed by
// "<remote>/<branch>". Every mutating call either persists its change or
// leaves the in-memory map exactly as it was before the call.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/state"
)

// ErrInvalidDocument is returned when the ledger file cannot be parsed.
var ErrInvalidDocument = errors.New("invalid ledger document")

const (
	dirName    = "gitcentral"
	fileName   = "status"
	legacyName = ".gitcentral"
)

// Entry is what the ledger remembers about one file.
type Entry struct {
	State    state.WorkingState
	Revision string
}

// DefaultEntry is returned for paths the ledger knows nothing about.
var DefaultEntry = Entry{State: state.Unknown, Revision: state.NoRevision}

type wireEntry struct {
	State    string `json:"state"`
	Revision string `json:"revision"`
}

const documentSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"additionalProperties": {
			"type": "object",
			"required": ["state", "revision"],
			"properties": {
				"state": {"type": "string", "maxLength": 1},
				"revision": {"type": "string"}
			}
		}
	}
}`

var schema = jsonschema.MustCompileString("ledger.schema.json", documentSchema)

// Ledger is the in-memory view of one namespace of the ledger file. It is
// safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	root    string
	key     string
	entries map[string]Entry
	// other namespaces, written back untouched
	others map[string]json.RawMessage
	dirty  bool
	logger *zap.Logger
}

// New returns an empty ledger for the remote/branch namespace of root.
func New(root, remote, branch string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		root:    root,
		key:     remote + "/" + branch,
		entries: make(map[string]Entry),
		others:  make(map[string]json.RawMessage),
		logger:  logger,
	}
}

// Path is the ledger file location.
func (l *Ledger) Path() string {
	return filepath.Join(l.root, ".git", dirName, fileName)
}

func (l *Ledger) legacyPath() string {
	return filepath.Join(l.root, legacyName)
}

// Key returns the namespace this ledger reads and writes.
func (l *Ledger) Key() string { return l.key }

// rel turns an absolute path into the slash-separated key used on disk.
func (l *Ledger) rel(path string) string {
	if filepath.IsAbs(path) {
		if r, err := filepath.Rel(l.root, path); err == nil {
			path = r
		}
	}
	return filepath.ToSlash(path)
}

// abs turns a stored key back into an absolute path.
func (l *Ledger) abs(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Get returns the entry for path, or DefaultEntry.
func (l *Ledger) Get(path string) Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[l.rel(path)]; ok {
		return e
	}
	return DefaultEntry
}

// All returns a copy of every entry keyed by absolute path.
func (l *Ledger) All() map[string]Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Entry, len(l.entries))
	for k, e := range l.entries {
		out[l.abs(k)] = e
	}
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Set records e for path. With persist the ledger is saved, and on failure
// the entry reverts to its previous value.
func (l *Ledger) Set(path string, e Entry, persist bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.rel(path)
	prev, existed := l.entries[key]
	prevDirty := l.dirty

	l.entries[key] = e
	l.dirty = true
	if !persist {
		return nil
	}
	if err := l.saveLocked(false); err != nil {
		if existed {
			l.entries[key] = prev
		} else {
			delete(l.entries, key)
		}
		l.dirty = prevDirty
		return err
	}
	return nil
}

// Clear removes the entry for path with the same contract as Set. Clearing
// an absent entry is a no-op.
func (l *Ledger) Clear(path string, persist bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.rel(path)
	prev, existed := l.entries[key]
	if !existed {
		return nil
	}
	prevDirty := l.dirty

	delete(l.entries, key)
	l.dirty = true
	if !persist {
		return nil
	}
	if err := l.saveLocked(false); err != nil {
		l.entries[key] = prev
		l.dirty = prevDirty
		return err
	}
	return nil
}

// Save writes the ledger when it has unsaved changes or force is set. A
// failed write leaves memory untouched and the ledger dirty.
func (l *Ledger) Save(force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked(force)
}

func (l *Ledger) saveLocked(force bool) error {
	if !l.dirty && !force {
		return nil
	}

	doc := make(map[string]any, len(l.others)+1)
	for k, raw := range l.others {
		doc[k] = raw
	}
	if len(l.entries) > 0 {
		ns := make(map[string]wireEntry, len(l.entries))
		for k, e := range l.entries {
			ns[k] = wireEntry{State: string(e.State.Code()), Revision: e.Revision}
		}
		doc[l.key] = ns
	}

	data, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := writeFileAtomic(l.Path(), data); err != nil {
		return fmt.Errorf("failed to save ledger %s: %w", l.Path(), err)
	}
	l.dirty = false
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load replaces the in-memory view with the namespace read from disk. A
// missing file or namespace yields an empty ledger. When only the legacy
// .gitcentral file exists it is migrated to the new location.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.Path()
	data, err := os.ReadFile(path)
	migrate := false
	if errors.Is(err, os.ErrNotExist) {
		data, err = os.ReadFile(l.legacyPath())
		if errors.Is(err, os.ErrNotExist) {
			l.reset(nil, nil)
			return nil
		}
		migrate = err == nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	entries, others, err := decode(data, l.key)
	if err != nil {
		return err
	}
	l.reset(entries, others)

	if migrate {
		if err := l.saveLocked(true); err != nil {
			return fmt.Errorf("failed to migrate legacy ledger: %w", err)
		}
		if err := os.Remove(l.legacyPath()); err != nil {
			l.logger.Warn("failed to remove legacy ledger", zap.String("path", l.legacyPath()), zap.Error(err))
		}
		l.logger.Info("migrated legacy ledger", zap.String("path", path))
	}
	return nil
}

func (l *Ledger) reset(entries map[string]Entry, others map[string]json.RawMessage) {
	if entries == nil {
		entries = make(map[string]Entry)
	}
	if others == nil {
		others = make(map[string]json.RawMessage)
	}
	l.entries, l.others, l.dirty = entries, others, false
}

func decode(data []byte, key string) (map[string]Entry, map[string]json.RawMessage, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil, nil
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	entries := make(map[string]Entry)
	if raw, ok := doc[key]; ok {
		var ns map[string]wireEntry
		if err := json.Unmarshal(raw, &ns); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		for path, w := range ns {
			var code byte = '0'
			if w.State != "" {
				code = w.State[0]
			}
			rev := w.Revision
			if rev == "" {
				rev = state.NoRevision
			}
			entries[path] = Entry{State: state.FromCode(code), Revision: rev}
		}
		delete(doc, key)
	}
	return entries, doc, nil
}

// Snapshot is an opaque copy of the ledger contents.
type Snapshot struct {
	entries map[string]Entry
	dirty   bool
}

// Snapshot captures the current contents for a later Restore.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{entries: maps.Clone(l.entries), dirty: l.dirty}
}

// Restore replaces the contents with s. It does not write to disk.
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = maps.Clone(s.entries)
	if l.entries == nil {
		l.entries = make(map[string]Entry)
	}
	l.dirty = s.dirty
}
