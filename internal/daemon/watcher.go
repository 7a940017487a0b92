package daemon

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gitcentral/gitcentral/internal/vcs"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	OpCreate EventOp = iota
	OpModify
	OpDelete
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change below the watched working tree.
type FileEvent struct {
	Path string
	Op   EventOp
}

// FileWatcher watches a working tree recursively. Directories named .git
// are never watched, and directories created after Start are added as they
// appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
}

// NewFileWatcher creates a watcher. It emits nothing until Start.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 256),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start watches root and every directory below it.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	fw.root = filepath.Clean(root)
	if err := fw.addTree(fw.root); err != nil {
		return err
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// addTree watches dir and its subdirectories.
func (fw *FileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// vanished while walking
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Stop closes the watcher and waits for the event loop to exit. The event
// and error channels are closed afterwards.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (fw *FileWatcher) Events() <-chan FileEvent { return fw.events }

func (fw *FileWatcher) Errors() <-chan error { return fw.errors }

func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fe, ok := fw.convertEvent(event)
			if !ok {
				continue
			}
			if fe.Op == OpCreate && vcs.DirExists(fe.Path) {
				// watch before forwarding so writes right after the
				// event are not missed
				if err := fw.addTree(fe.Path); err != nil {
					fw.sendError(err)
				}
			}
			select {
			case fw.events <- fe:
			case <-fw.done:
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.sendError(err)
		}
	}
}

func (fw *FileWatcher) sendError(err error) {
	select {
	case fw.errors <- err:
	case <-fw.done:
	}
}

// convertEvent maps an fsnotify event, dropping chmod-only events and
// anything inside a .git directory.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	if inGitDir(fw.root, event.Name) {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// the new name of a rename arrives as a create
		op = OpDelete
	default:
		return FileEvent{}, false
	}
	return FileEvent{Path: filepath.Clean(event.Name), Op: op}, true
}

func inGitDir(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}
