package watcher

import "time"

// pollLoop periodically stats every watched file and records the diffs.
// Used on filesystems where native events are unreliable (network mounts,
// some containers).
func (w *FileWatcher) pollLoop() {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *FileWatcher) scan() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, observed := range w.files {
		prev := w.states[path]
		next := statFile(observed)
		w.states[path] = next

		switch {
		case !prev.exists && next.exists:
			w.recordLocked(path, kindAdded)
		case prev.exists && !next.exists:
			w.recordLocked(path, kindRemoved)
		case prev.exists && next.exists &&
			(prev.size != next.size || !prev.modTime.Equal(next.modTime)):
			w.recordLocked(path, kindModified)
		}
	}
}
