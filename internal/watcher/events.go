package watcher

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/celestius0/angular-cli/pkg/logger"
)

var osStat = os.Stat

// eventLoop consumes raw fsnotify events. Directory subscriptions deliver
// events for every entry; only watched files pass through.
func (w *FileWatcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				w.shutdown(nil)
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				w.shutdown(nil)
				return
			}
			// A subscription failure terminates the stream; the consumer
			// distinguishes it from a clean close via Err.
			w.log.Error("Watch subscription failed", logger.WithField("error", err))
			w.shutdown(err)
			return
		}
	}
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Map an observed (symlink-resolved) path back to the subscribed one.
	watched := path
	if orig, ok := w.observed[path]; ok {
		watched = orig
	} else if _, ok := w.files[path]; !ok {
		return
	}

	if w.ignore.Match(filepath.ToSlash(watched)) {
		return
	}

	var kind changeKind
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = kindAdded
	case event.Op&fsnotify.Write != 0:
		kind = kindModified
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = kindRemoved
	default:
		// Chmod carries no content change.
		return
	}

	w.recordLocked(watched, kind)
}
