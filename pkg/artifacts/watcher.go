package artifacts

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/bus"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
)

// Watcher publishes file.modified events for changes under the tracked
// directories, feeding the observability server's live file tree.
type Watcher struct {
	projectRoot string
	trackedDirs []string
	bus         *bus.Bus
	fsw         *fsnotify.Watcher
}

// NewWatcher creates a file watcher over the tracked directories.
func NewWatcher(projectRoot string, trackedDirs []string, b *bus.Bus) (*Watcher, error) {
	if trackedDirs == nil {
		trackedDirs = DefaultTrackedDirs
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		projectRoot: projectRoot,
		trackedDirs: trackedDirs,
		bus:         b,
		fsw:         fsw,
	}, nil
}

// Start watches the tracked directory trees until ctx is cancelled. New
// subdirectories are added to the watch as they appear.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.trackedDirs {
		root := filepath.Join(w.projectRoot, dir)
		if err := w.addTree(root); err != nil {
			slog.Warn("Failed to watch directory", "dir", root, "error", err)
		}
	}

	go w.run(ctx)
	return nil
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if ignoredDirs[filepath.Base(event.Name)] {
		return
	}
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addTree(event.Name)
			return
		}
	}
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}

	rel, err := filepath.Rel(w.projectRoot, event.Name)
	if err != nil {
		return
	}
	w.bus.Publish(events.New(events.TypeFileModified, map[string]any{
		"path": filepath.ToSlash(rel),
	}))
}

// addTree watches dir and every subdirectory beneath it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
