package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOptions configures filesystem watching.
type WatcherOptions struct {
	// DebounceWindow is how long a scope stays pending after its last
	// event before a trigger fires. Editors write files in bursts; one
	// trigger per burst is enough.
	DebounceWindow time.Duration

	// TriggerBufferSize is the trigger channel buffer.
	TriggerBufferSize int
}

// DefaultWatcherOptions returns the standard watch tuning.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow:    500 * time.Millisecond,
		TriggerBufferSize: 16,
	}
}

// Watcher observes scope directories with fsnotify and emits the scope
// name after changes settle. Events carry no per-file detail: a trigger
// means "resync this scope", and the coordinator's fingerprint diff works
// out what actually changed.
type Watcher struct {
	fsw    *fsnotify.Watcher
	opts   WatcherOptions
	roots  []watchRoot
	trig   chan string
	stopCh chan struct{}

	mu      gosync.Mutex
	stopped bool
}

type watchRoot struct {
	scope string
	dir   string
}

// NewWatcher builds a watcher over the given scope roots. Each root is
// watched recursively; directories created later are picked up as they
// appear.
func NewWatcher(scopeDirs map[string]string, opts WatcherOptions) (*Watcher, error) {
	def := DefaultWatcherOptions()
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = def.DebounceWindow
	}
	if opts.TriggerBufferSize <= 0 {
		opts.TriggerBufferSize = def.TriggerBufferSize
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsw:    fsw,
		opts:   opts,
		trig:   make(chan string, opts.TriggerBufferSize),
		stopCh: make(chan struct{}),
	}
	for scope, dir := range scopeDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolve scope %s root: %w", scope, err)
		}
		w.roots = append(w.roots, watchRoot{scope: scope, dir: abs})
	}
	return w, nil
}

// Triggers returns the channel of scope names whose roots changed. The
// channel closes when the watcher stops.
func (w *Watcher) Triggers() <-chan string {
	return w.trig
}

// Run watches until the context is cancelled or Stop is called. It owns
// the trigger channel and closes it on exit.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.trig)

	for _, root := range w.roots {
		if err := w.addRecursive(root.dir); err != nil {
			return fmt.Errorf("watch %s: %w", root.dir, err)
		}
	}

	// Scopes with unsettled events, flushed when the window elapses.
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.opts.DebounceWindow)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			scope, relevant := w.classify(event)
			if !relevant {
				continue
			}
			if len(pending) == 0 {
				timer.Reset(w.opts.DebounceWindow)
			}
			pending[scope] = struct{}{}
		case <-timer.C:
			for scope := range pending {
				select {
				case w.trig <- scope:
				default:
					// A trigger is already queued for someone; the
					// next sync pass diffs the whole scope anyway.
					slog.Debug("watch trigger dropped", slog.String("scope", scope))
				}
				delete(pending, scope)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("filesystem watch error", slog.String("error", err.Error()))
		}
	}
}

// Stop ends the watch loop. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	return w.fsw.Close()
}

// classify maps an fsnotify event to the scope it belongs to. Chmod-only
// events and dot-prefixed paths are noise. New directories join the watch
// set so nested creates keep reporting.
func (w *Watcher) classify(event fsnotify.Event) (string, bool) {
	if event.Op == fsnotify.Chmod {
		return "", false
	}

	root, ok := w.rootFor(event.Name)
	if !ok {
		return "", false
	}

	rel, err := filepath.Rel(root.dir, event.Name)
	if err != nil {
		return "", false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}
	return root.scope, true
}

func (w *Watcher) rootFor(path string) (watchRoot, bool) {
	for _, root := range w.roots {
		if path == root.dir || strings.HasPrefix(path, root.dir+string(filepath.Separator)) {
			return root, true
		}
	}
	return watchRoot{}, false
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish between listing and visiting.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() != filepath.Base(dir) && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
