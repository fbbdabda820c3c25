// Package watcher provides a recursive, edge-triggered change notifier for a unit directory.
//
// A Watcher observes one directory tree and resolves at most once per arm cycle:
// Enable forgets everything that happened while the watcher was disarmed and then
// arms it for exactly one future notification. After that notification is
// delivered on C the watcher disarms itself until Enable is called again.
package watcher

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gitignore "github.com/denormal/go-gitignore"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultIgnore lists build output directories that never trigger a rebuild.
var DefaultIgnore = []string{
	"target/",
	".dfx/",
	"node_modules/",
	".git/",
	"*.did",
	".env",
}

// Op is the kind of change observed.
type Op int

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = iota

	// OpWrite indicates a file was modified.
	OpWrite

	// OpRemove indicates a file or directory was removed or renamed away.
	OpRemove
)

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is a single change notification for a unit.
type Event struct {
	// Unit is the name of the unit whose tree changed.
	Unit string

	// Path is the changed path.
	Path string

	// Op is the change kind.
	Op Op

	// Time is when the change was observed.
	Time time.Time
}

// DefaultSettleWindow is how long the event stream must stay quiet before Enable arms.
const DefaultSettleWindow = 50 * time.Millisecond

// maxSettleRounds bounds the settle phase under continuous churn.
const maxSettleRounds = 10

// Watcher watches one directory tree and delivers gated, single-shot notifications.
type Watcher struct {
	unit   string
	root   string
	logger zerolog.Logger
	ignore gitignore.GitIgnore
	fsw    *fsnotify.Watcher
	settle time.Duration

	// events and errors are the fsnotify streams; nil when there is no fsnotify watcher.
	events <-chan fsnotify.Event
	errors <-chan error
	armReq chan chan struct{}

	mu    sync.Mutex
	armed bool
	fired chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger used for watch diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithSettleWindow sets the quiet period Enable waits for before arming.
func WithSettleWindow(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// New creates a disarmed watcher over root. Events are tagged with unit.
// Paths matched by DefaultIgnore or by root/.gitignore are not watched.
func New(unit, root string, opts ...Option) (*Watcher, error) {
	w := newWatcher(unit, root, opts...)

	ignore, err := loadIgnore(root)
	if err != nil {
		return nil, err
	}
	w.ignore = ignore

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w.fsw = fsw
	w.events = fsw.Events
	w.errors = fsw.Errors

	if err := w.watchDirectory(root); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}

	go w.processEvents()

	w.logger.Debug().
		Str("unit", unit).
		Str("root", root).
		Msg("Watcher created")

	return w, nil
}

func newWatcher(unit, root string, opts ...Option) *Watcher {
	w := &Watcher{
		unit:   unit,
		root:   root,
		logger: zerolog.Nop(),
		settle: DefaultSettleWindow,
		armReq: make(chan chan struct{}),
		fired:  make(chan Event, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Unit returns the name of the watched unit.
func (w *Watcher) Unit() string {
	return w.unit
}

// C returns the notification channel. It yields at most one event per Enable.
func (w *Watcher) C() <-chan Event {
	return w.fired
}

// Enable discards every notification observed so far, including one that fired
// but was never received, and arms the watcher for exactly one future notification.
//
// Changes still in flight from the kernel are drained first: Enable returns once
// the event stream has been quiet for the settle window and the watcher is armed.
// Enable on a closed watcher is a no-op.
func (w *Watcher) Enable() {
	ack := make(chan struct{})
	select {
	case w.armReq <- ack:
	case <-w.done:
		return
	}
	select {
	case <-ack:
	case <-w.done:
	}
}

// arm drops an unreceived notification and arms for the next one.
func (w *Watcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.fired:
	default:
	}
	w.armed = true
}

// Armed reports whether the next notification will be delivered.
func (w *Watcher) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			err = w.fsw.Close()
		}
	})
	return err
}

// push delivers ev if the watcher is armed and disarms it; otherwise ev is dropped.
func (w *Watcher) push(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.armed {
		return
	}
	w.armed = false

	// fired is empty here: arm drained it and nothing was sent since.
	select {
	case w.fired <- ev:
	default:
	}
}

// processEvents translates fsnotify events into unit events and serves arm
// requests until Close. Both run on this goroutine, so an arm request is
// ordered after every event already received.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return

		case ack := <-w.armReq:
			w.drain()
			w.arm()
			close(ack)

		case event, ok := <-w.events:
			if !ok {
				return
			}
			if ev, ok := w.translate(event); ok {
				w.push(ev)
			}

		case err, ok := <-w.errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Str("unit", w.unit).Msg("Watcher error")
		}
	}
}

// drain discards incoming events until the stream has been quiet for the settle window.
func (w *Watcher) drain() {
	timer := time.NewTimer(w.settle)
	defer timer.Stop()

	dropped := 0
	for round := 0; round < maxSettleRounds; {
		select {
		case <-w.done:
			return
		case event, ok := <-w.events:
			if !ok {
				return
			}
			if _, ok := w.translate(event); ok {
				dropped++
			}
			timer.Reset(w.settle)
			round++
		case <-timer.C:
			round = maxSettleRounds
		}
	}

	if dropped > 0 {
		w.logger.Debug().Str("unit", w.unit).Int("dropped", dropped).Msg("Discarded stale changes")
	}
}

// translate maps an fsnotify event to a unit event and starts watching new
// directories. It reports false for ignored paths and uninteresting ops.
func (w *Watcher) translate(event fsnotify.Event) (Event, bool) {
	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpRemove
	default:
		return Event{}, false
	}

	isDir := false
	if op == OpCreate {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}

	if w.ignored(event.Name, isDir) {
		return Event{}, false
	}

	if isDir {
		if err := w.watchDirectory(event.Name); err != nil {
			w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
		}
	}

	w.logger.Debug().
		Str("unit", w.unit).
		Str("file", event.Name).
		Str("op", op.String()).
		Msg("Change observed")

	return Event{
		Unit: w.unit,
		Path: event.Name,
		Op:   op,
		Time: time.Now(),
	}, true
}

// watchDirectory adds dir and all non-ignored subdirectories to the watcher.
func (w *Watcher) watchDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path, true) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// ignored reports whether path, or any directory between root and path, is ignored.
func (w *Watcher) ignored(path string, isDir bool) bool {
	if w.ignore == nil {
		return false
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)

	parts := strings.Split(rel, "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		last := i == len(parts)-1
		dir := !last || isDir
		if match := w.ignore.Relative(prefix, dir); match != nil && match.Ignore() {
			return true
		}
	}
	return false
}

// loadIgnore combines DefaultIgnore with root/.gitignore, if present.
func loadIgnore(root string) (gitignore.GitIgnore, error) {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(DefaultIgnore, "\n"))
	buf.WriteString("\n")

	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	switch {
	case err == nil:
		buf.Write(data)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read .gitignore: %w", err)
	}

	return gitignore.New(&buf, root, nil), nil
}
