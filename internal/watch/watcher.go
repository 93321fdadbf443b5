// Package watch re-runs the gate when files under a project root change.
package watch

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

	"github.com/Cyclone1070/qgate/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when a non-positive debounce is configured.
const DefaultDebounce = 300 * time.Millisecond

// ignoreMatcher is the subset of vcs.IgnoreMatcher the watcher depends on.
type ignoreMatcher interface {
	ShouldIgnore(relativePath string, isDir bool) bool
}

// Handler is called with the sorted, root-relative files that changed
// during one debounce window.
type Handler func(ctx context.Context, files []string)

// Watcher watches every directory under a root and batches change events.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	debounce time.Duration
	ignore   ignoreMatcher
	logger   *logging.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithIgnore skips paths the matcher ignores.
func WithIgnore(m ignoreMatcher) Option {
	return func(w *Watcher) { w.ignore = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher for root. Call Close when done.
func New(root string, debounce time.Duration, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch root %s: %w", root, err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		fsw:      fsw,
		root:     abs,
		debounce: debounce,
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run blocks until ctx is done, calling h once per debounce window that
// saw at least one relevant change. Changes made while h runs are
// reported in the next window.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	return w.loop(ctx, w.fsw.Events, w.fsw.Errors, h)
}

func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, h Handler) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			rel, ok := w.relevant(event)
			if !ok {
				continue
			}
			pending[rel] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			files := make([]string, 0, len(pending))
			for f := range pending {
				files = append(files, f)
			}
			sort.Strings(files)
			pending = make(map[string]struct{})

			w.logger.Debug("change batch", "files", len(files))
			h(ctx, files)

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// relevant filters an event and returns its root-relative path. Newly
// created directories are added to the watch set.
func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return "", false
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return "", false
	}

	info, err := os.Stat(event.Name)
	isDir := err == nil && info.IsDir()
	if w.ignore != nil && w.ignore.ShouldIgnore(rel, isDir) {
		return "", false
	}
	if isDir {
		if event.Op&fsnotify.Create != 0 {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", rel, "error", err)
			}
		}
		return "", false
	}
	return rel, true
}

// addTree adds dir and every non-ignored directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if path != w.root && w.ignore != nil {
			if rel, err := filepath.Rel(w.root, path); err == nil && w.ignore.ShouldIgnore(filepath.ToSlash(rel), true) {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
