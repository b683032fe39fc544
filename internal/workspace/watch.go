package workspace

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow coalesces bursts of file events (editors write several
// times per save) into a single pipeline run.
const debounceWindow = 500 * time.Millisecond

// Watch re-runs the pipeline for the named projects whenever their
// configuration, overlay layers, or surface documents change. It blocks
// until ctx is cancelled.
func (w *Workspace) Watch(ctx context.Context, names ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := w.addWatchPaths(watcher, names); err != nil {
		return err
	}

	w.log.Info(ctx, "watching for changes", zap.Strings("projects", names))

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(ev) {
				continue
			}
			w.log.Debug(ctx, "change detected", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			// New overlay subdirectories need their own watch.
			if ev.Op.Has(fsnotify.Create) {
				if info, serr := os.Stat(ev.Name); serr == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			if err := w.Run(ctx, names...); err != nil {
				// Keep watching; the failure is already on the record.
				w.log.Warn(ctx, "watched run failed", zap.Error(err))
			}
		}
	}
}

func (w *Workspace) addWatchPaths(watcher *fsnotify.Watcher, names []string) error {
	// Global config lives in the workspace root.
	if err := watcher.Add(w.root); err != nil {
		return err
	}
	for _, name := range names {
		dir := w.projectDir(name)
		if err := watcher.Add(dir); err != nil {
			return err
		}
		overlays := filepath.Join(dir, overlaysDirName)
		if err := watcher.Add(overlays); err != nil {
			return err
		}
		// Layer subdirectories are watched individually; fsnotify does
		// not recurse.
		entries, err := os.ReadDir(overlays)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				if err := watcher.Add(filepath.Join(overlays, e.Name())); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// relevantEvent filters out noise: only pipeline inputs matter, and only
// mutations of them.
func relevantEvent(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(ev.Name)
	switch base {
	case configName, globalConfigName, apiSpecName:
		return true
	}
	// Anything under an overlays tree is an input.
	return pathContains(ev.Name, overlaysDirName)
}

// pathContains reports whether any path element equals segment.
func pathContains(path, segment string) bool {
	for dir := filepath.Clean(path); ; {
		if filepath.Base(dir) == segment {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}
