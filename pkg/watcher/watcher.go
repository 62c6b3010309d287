// Package watcher reports batches of changed files under a directory tree.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/util/broadcast"
)

// DefaultIgnore lists directory names never watched.
var DefaultIgnore = []string{".build", ".sst", "cdk.out", "node_modules", ".git"}

const DefaultDebounce = 100 * time.Millisecond

type Opts struct {
	Root string
	// Ignore lists directory names to skip anywhere in the tree. Defaults
	// to DefaultIgnore.
	Ignore   []string
	Debounce time.Duration
	Clock    clockwork.Clock
	Logger   logger.Logger
}

// Watcher watches Root recursively. Symlinks are not followed and the
// initial scan does not produce events.
type Watcher struct {
	opts    Opts
	ignore  map[string]struct{}
	fsw     *fsnotify.Watcher
	changes broadcast.Topic[[]string]

	// pending is only touched by the Run goroutine.
	pending map[string]struct{}
}

func New(opts Opts) (*Watcher, error) {
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore
	}
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logger.VoidLogger()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Root = root

	w := &Watcher{
		opts:    opts,
		ignore:  map[string]struct{}{},
		pending: map[string]struct{}{},
	}
	for _, name := range opts.Ignore {
		w.ignore[name] = struct{}{}
	}
	return w, nil
}

// OnChange subscribes to batches of changed paths. Paths are absolute,
// sorted and unique within a batch.
func (w *Watcher) OnChange(fn func(paths []string)) (unsubscribe func()) {
	return w.changes.Subscribe(fn)
}

// Start adds watches for the whole tree. Events are delivered once Run is
// called.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating file watcher: %w", err)
	}
	w.fsw = fsw
	if err := w.addTree(w.opts.Root); err != nil {
		_ = fsw.Close()
		return err
	}
	return nil
}

// Run delivers debounced batches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if w.fsw == nil {
		if err := w.Start(); err != nil {
			return err
		}
	}
	defer w.fsw.Close()

	var (
		timer clockwork.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.Warn("file watcher error", "error", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.handle(ev) {
				continue
			}
			if timer == nil {
				timer = w.opts.Clock.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.Chan()
		case <-fire:
			fire = nil
			w.flush()
		}
	}
}

// handle records ev and reports whether it should produce a batch.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if w.ignored(ev.Name) {
		return false
	}

	if ev.Has(fsnotify.Create) {
		info, err := os.Lstat(ev.Name)
		if err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.opts.Logger.Warn("error watching new directory", "path", ev.Name, "error", err)
			}
		}
	}

	w.pending[filepath.Clean(ev.Name)] = struct{}{}
	return true
}

func (w *Watcher) flush() {
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = map[string]struct{}{}

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	w.opts.Logger.Debug("files changed", "paths", paths)
	w.changes.Publish(paths)
}

// ignored reports whether any element of path below the root is ignored.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.opts.Root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if _, ok := w.ignore[part]; ok {
			return true
		}
	}
	return false
}

// addTree watches dir and every directory below it, skipping ignored
// directories and symlinks.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.opts.Root {
			if _, ok := w.ignore[d.Name()]; ok {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("error watching %s: %w", path, err)
		}
		return nil
	})
}
