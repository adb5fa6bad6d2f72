// Package watcher observes a project tree for file changes.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var log = logf.Log.WithName("watcher")

var ErrWatcherClosed = errors.New("watcher closed")

// Op describes a set of file operations.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

func (op Op) Has(o Op) bool { return op&o != 0 }

func (op Op) String() string {
	var parts []string
	if op.Has(OpCreate) {
		parts = append(parts, "CREATE")
	}
	if op.Has(OpWrite) {
		parts = append(parts, "WRITE")
	}
	if op.Has(OpRemove) {
		parts = append(parts, "REMOVE")
	}
	if op.Has(OpRename) {
		parts = append(parts, "RENAME")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Event is one change below the root.
type Event struct {
	// Path is relative to the root, with forward slashes
	Path string
	Op   Op
}

// Config holds watcher settings
type Config struct {
	// Ignore holds directory and file names never reported or descended into
	Ignore []string
	// BufferSize is the capacity of the event channel
	BufferSize int
}

// DefaultConfig returns the default watcher configuration
func DefaultConfig() Config {
	return Config{
		Ignore:     []string{".git", "node_modules", "vendor", "dist"},
		BufferSize: 256,
	}
}

// Option configures a Watcher.
type Option func(*Config)

// WithIgnore replaces the ignored names.
func WithIgnore(names ...string) Option {
	return func(c *Config) { c.Ignore = names }
}

// WithBufferSize sets the event channel capacity.
func WithBufferSize(n int) Option {
	return func(c *Config) { c.BufferSize = n }
}

// Watcher reports changes anywhere below a root directory. Directories
// created after start are watched automatically.
type Watcher struct {
	mu     sync.Mutex
	root   string
	config Config
	fsw    *fsnotify.Watcher
	dirs   map[string]bool

	events chan Event
	errors chan error

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New starts watching root and every directory below it.
func New(root string, opts ...Option) (*Watcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(absRoot); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:    absRoot,
		config:  config,
		fsw:     fsw,
		dirs:    make(map[string]bool),
		events:  make(chan Event, config.BufferSize),
		errors:  make(chan error, config.BufferSize),
		closeCh: make(chan struct{}),
	}
	if err := w.addTree(absRoot, nil); err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.processLoop()

	log.V(1).Info("Watching project", "root", absRoot, "directories", w.DirCount())
	return w, nil
}

// Events returns the event channel. It is closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// DirCount returns the number of watched directories.
func (w *Watcher) DirCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

// addTree watches dir and its subdirectories. Files found are passed to
// found, which may be nil.
func (w *Watcher) addTree(dir string, found func(path string)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// The tree can change under us; vanished entries are skipped.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p != dir && w.ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if found != nil {
				found(p)
			}
			return nil
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed {
			return ErrWatcherClosed
		}
		if w.dirs[p] {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return err
		}
		w.dirs[p] = true
		return nil
	})
}

func (w *Watcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 {
		return
	}
	rel, ok := w.relative(ev.Name)
	if !ok {
		return
	}

	if op.Has(OpRemove) || op.Has(OpRename) {
		w.mu.Lock()
		delete(w.dirs, ev.Name)
		w.mu.Unlock()
	}

	w.send(Event{Path: rel, Op: op})

	if op.Has(OpCreate) {
		info, err := os.Stat(ev.Name)
		if err != nil || !info.IsDir() {
			return
		}
		// Files may land in a new directory before it is watched.
		err = w.addTree(ev.Name, func(p string) {
			if r, ok := w.relative(p); ok {
				w.send(Event{Path: r, Op: OpCreate})
			}
		})
		if err != nil && !errors.Is(err, ErrWatcherClosed) {
			w.sendError(err)
		}
	}
}

// relative maps an absolute path to the root-relative slash path, reporting
// false for the root itself and for ignored paths.
func (w *Watcher) relative(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if w.ignored(part) {
			return "", false
		}
	}
	return rel, true
}

func (w *Watcher) ignored(name string) bool {
	for _, n := range w.config.Ignore {
		if n == name {
			return true
		}
	}
	return false
}

func (w *Watcher) send(ev Event) {
	select {
	case w.events <- ev:
	case <-w.closeCh:
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
		log.Error(err, "Dropped watcher error")
	}
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}
