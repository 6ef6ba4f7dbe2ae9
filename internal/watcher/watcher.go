// Package watcher delivers debounced batches of file system changes. The
// catalog uses it to notice edited, added or removed template descriptors.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/scaffolder/internal/logging"
)

// DefaultDebounce groups changes arriving within this window.
const DefaultDebounce = 200 * time.Millisecond

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter determines if a changed path is reported.
type FileFilter func(path string) bool

// ChangeHandler receives one debounced batch, sorted by path.
type ChangeHandler func(ctx context.Context, events []ChangeEvent) error

// FileWatcher watches directory trees and reports debounced changes.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	delay    time.Duration
	filters  []FileFilter
	handlers []ChangeHandler
	logger   logging.Logger
	mutex    sync.RWMutex
	close    sync.Once
}

// NewFileWatcher creates a new file watcher. A non-positive delay uses
// DefaultDebounce.
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounceDelay <= 0 {
		debounceDelay = DefaultDebounce
	}

	return &FileWatcher{
		watcher: w,
		delay:   debounceDelay,
		logger:  logging.OrDiscard(logger).WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddRecursive watches root and every directory below it, skipping hidden
// directories other than root itself.
func (fw *FileWatcher) AddRecursive(root string) error {
	root = filepath.Clean(root)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// WatchList returns the directories currently watched.
func (fw *FileWatcher) WatchList() []string {
	list := fw.watcher.WatchList()
	sort.Strings(list)
	return list
}

// Run processes events until ctx is done, then releases the watcher. It
// returns nil on cancellation.
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer fw.Stop()

	pending := make(map[string]ChangeEvent)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			change, keep := fw.convert(event)
			if !keep {
				continue
			}
			pending[change.Path] = change
			if timer == nil {
				timer = time.NewTimer(fw.delay)
			} else {
				timer.Stop()
				timer.Reset(fw.delay)
			}
			fire = timer.C

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warn(ctx, err, "File watcher error")

		case <-fire:
			fire = nil
			fw.flush(ctx, pending)
			pending = make(map[string]ChangeEvent)
		}
	}
}

// Stop releases the underlying watcher. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.close.Do(func() {
		err = fw.watcher.Close()
	})
	return err
}

// convert maps an fsnotify event and starts watching newly created
// directories. Directory events are not reported.
func (fw *FileWatcher) convert(event fsnotify.Event) (ChangeEvent, bool) {
	info, statErr := os.Stat(event.Name)
	if statErr == nil && info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(context.Background(), err, "Failed to watch new directory", "path", event.Name)
			}
		}
		return ChangeEvent{}, false
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()
	for _, filter := range filters {
		if !filter(event.Name) {
			return ChangeEvent{}, false
		}
	}

	change := ChangeEvent{Path: event.Name}
	if statErr == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
	}

	switch {
	case event.Has(fsnotify.Create):
		change.Type = EventTypeCreated
	case event.Has(fsnotify.Write):
		change.Type = EventTypeModified
	case event.Has(fsnotify.Remove):
		change.Type = EventTypeDeleted
	case event.Has(fsnotify.Rename):
		change.Type = EventTypeRenamed
	default:
		change.Type = EventTypeModified
	}
	return change, true
}

func (fw *FileWatcher) flush(ctx context.Context, pending map[string]ChangeEvent) {
	if len(pending) == 0 {
		return
	}

	events := make([]ChangeEvent, 0, len(pending))
	for _, event := range pending {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	fw.mutex.RLock()
	handlers := fw.handlers
	fw.mutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, events); err != nil {
			fw.logger.Warn(ctx, err, "File watcher handler error", "changes", len(events))
		}
	}
}

// NameFilter reports only files whose base name is one of names.
func NameFilter(names ...string) FileFilter {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return func(path string) bool {
		return set[filepath.Base(path)]
	}
}
