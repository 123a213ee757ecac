// Package watch monitors the input directory and hands off files once
// they stop growing, so half-copied downloads are never remuxed.
package watch

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
	"github.com/hashicorp/go-hclog"

	"github.com/notstpa/smartremux/internal/config"
	"github.com/notstpa/smartremux/internal/scan"
)

// Handler receives files that have settled, batched per tick.
type Handler func(paths []string)

// Watcher tracks new and growing files under the input directory. A file
// is handed off when two consecutive size checks agree and it clears the
// configured size floor.
type Watcher struct {
	cfg     *config.Config
	log     hclog.Logger
	handler Handler
	watcher *fsnotify.Watcher

	settle time.Duration

	mu      sync.Mutex
	pending map[string]int64 // path -> size at last check
}

// New creates a Watcher over cfg.InputDir and its subdirectories.
func New(cfg *config.Config, log hclog.Logger, handler Handler) (*Watcher, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		cfg:     cfg,
		log:     log,
		handler: handler,
		watcher: fw,
		settle:  2 * time.Second,
		pending: make(map[string]int64),
	}

	if err := w.addRecursive(cfg.InputDir); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// SetSettleInterval overrides how often pending file sizes are compared.
func (w *Watcher) SetSettleInterval(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settle = d
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		if strings.EqualFold(name, w.cfg.MoveSubdir) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	return nil
}

// Run blocks, dispatching settled files to the handler until the context
// is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	interval := w.settle
	w.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("watching for new files", "dir", w.cfg.InputDir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		case <-ticker.C:
			if settled := w.collectSettled(); len(settled) > 0 {
				w.handler(settled)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// New directories join the watch set so nested drops are seen.
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.log.Warn("failed to watch new directory", "dir", event.Name, "error", err)
			}
			return
		}
	}

	if !scan.Matches(w.cfg, event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, tracked := w.pending[event.Name]; !tracked {
		w.log.Debug("tracking new file", "path", event.Name)
		// Sentinel so the first tick never sees a stable size.
		w.pending[event.Name] = -1
	}
}

// collectSettled compares current sizes against the previous tick and
// returns files whose size held steady above the floor.
func (w *Watcher) collectSettled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var settled []string
	for path, lastSize := range w.pending {
		fi, err := os.Stat(path)
		if err != nil {
			// Deleted or moved away mid-copy.
			delete(w.pending, path)
			continue
		}
		size := fi.Size()
		if size == lastSize && size >= w.cfg.MinFileSize {
			delete(w.pending, path)
			settled = append(settled, path)
			continue
		}
		w.pending[path] = size
	}

	sort.Strings(settled)
	return settled
}
