// Package watcher watches individual files and triggers hot reloads.
// It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultDebounce collapses the burst of events a single save produces.
const DefaultDebounce = 150 * time.Millisecond

// ChangeFunc receives the new content of a watched file.
type ChangeFunc func(path string, data []byte)

// Watcher reloads a set of files when their content changes.
// The parent directory of each file is watched so that atomic replaces (rename over the
// target) are observed as well as in-place writes.
type Watcher struct {
	onChange ChangeFunc
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu     sync.Mutex
	files  map[string]struct{}
	hashes map[string]string
	timers map[string]*time.Timer
}

// NewWatcher creates a watcher for paths. onChange is called from a background goroutine.
func NewWatcher(onChange ChangeFunc, paths ...string) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("watcher: change callback is required")
	}
	fsw, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	w := &Watcher{
		onChange: onChange,
		debounce: DefaultDebounce,
		watcher:  fsw,
		files:    make(map[string]struct{}, len(paths)),
		hashes:   make(map[string]string, len(paths)),
		timers:   make(map[string]*time.Timer),
	}
	for _, path := range paths {
		normalized := normalizePath(path)
		if normalized == "" {
			continue
		}
		w.files[normalized] = struct{}{}
		if hash, errHash := fileHash(normalized); errHash == nil {
			w.hashes[normalized] = hash
		}
	}
	return w, nil
}

// SetDebounce overrides the debounce window. It must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	dirs := make(map[string]struct{})
	for path := range w.files {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if errAdd := w.watcher.Add(dir); errAdd != nil {
			log.Errorf("failed to watch directory %s: %v", dir, errAdd)
			return errAdd
		}
		log.Debugf("watching directory: %s", dir)
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
