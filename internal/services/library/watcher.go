package library

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers a callback when files change under the music dirs.
// Bursts of events are coalesced by the debounce window.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	onChange func(context.Context)
	logger   *slog.Logger
}

func NewWatcher(dirs []string, debounce time.Duration, onChange func(context.Context), logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &Watcher{
		dirs:     dirs,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Run watches the music directories until ctx is cancelled. Watcher setup
// or stream errors disable watching; they are never fatal.
func (w *Watcher) Run(ctx context.Context) {
	if len(w.dirs) == 0 {
		return
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("music dir watcher disabled", "error", err)
		return
	}
	defer fw.Close()

	for _, dir := range w.dirs {
		w.addRecursive(fw, dir)
	}
	w.logger.Info("music dir watcher started", "dirs", w.dirs, "debounce", w.debounce)

	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New subdirectories need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addRecursive(fw, event.Name)
				}
			}
			debounce.Reset(w.debounce)
		case <-debounce.C:
			w.logger.Info("music dirs changed, refreshing library")
			w.onChange(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("music dir watcher stopped", "error", err)
			return
		}
	}
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			w.logger.Debug("watch dir failed", "dir", path, "error", err)
		}
		return nil
	})
}
