// Package watcher provides the file-system watcher behind the rebuild loop.
// It watches individual files through per-directory subscriptions, coalesces
// raw notifications into change batches, and guarantees that events arriving
// while the consumer is busy are merged, never dropped.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/celestius0/angular-cli/pkg/logger"
	"github.com/celestius0/angular-cli/pkg/types"
	"github.com/celestius0/angular-cli/pkg/utils"
)

// defaultSettlingDelay batches rapid successive notifications (editor save
// storms) into one change batch.
const defaultSettlingDelay = 250 * time.Millisecond

// Options configures a FileWatcher.
type Options struct {
	// Ignored are glob patterns never watched or reported.
	Ignored []string

	// PollInterval enables polling mode when positive; otherwise events are
	// delivered by the operating system.
	PollInterval time.Duration

	// FollowSymlinks watches symlink targets instead of the links.
	FollowSymlinks bool

	// SettlingDelay overrides the default event settling window.
	SettlingDelay time.Duration

	Logger logger.Logger
}

// FileWatcher watches a dynamic set of files.
type FileWatcher struct {
	opts   Options
	ignore *utils.PatternMatcher
	log    logger.Logger

	mu sync.Mutex
	// files maps a watched path to the path actually observed (differs only
	// for followed symlinks).
	files    map[string]string
	observed map[string]string // reverse of files
	dirRefs  map[string]int
	states   map[string]fileState // poll mode only
	pending  map[string]changeKind
	settle   *time.Timer
	err      error

	fs *fsnotify.Watcher // nil in poll mode

	batches   chan types.ChangeBatch
	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type fileState struct {
	exists  bool
	size    int64
	modTime time.Time
}

// New creates a watcher with no initial subscriptions.
func New(opts Options) (*FileWatcher, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.SettlingDelay <= 0 {
		opts.SettlingDelay = defaultSettlingDelay
	}

	ignore, err := utils.NewIgnoreMatcher(opts.Ignored)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern: %w", err)
	}

	w := &FileWatcher{
		opts:     opts,
		ignore:   ignore,
		log:      opts.Logger,
		files:    make(map[string]string),
		observed: make(map[string]string),
		dirRefs:  make(map[string]int),
		pending:  make(map[string]changeKind),
		batches:  make(chan types.ChangeBatch),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if opts.PollInterval > 0 {
		w.states = make(map[string]fileState)
		go w.pollLoop()
	} else {
		fs, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		w.fs = fs
		go w.eventLoop()
	}

	go w.deliverLoop()
	return w, nil
}

// Add subscribes the given paths. Already-watched and ignored paths are
// skipped; adding is idempotent.
func (w *FileWatcher) Add(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range paths {
		path = filepath.Clean(path)
		if _, ok := w.files[path]; ok {
			continue
		}
		if w.ignore.Match(filepath.ToSlash(path)) {
			continue
		}

		observed := path
		if w.opts.FollowSymlinks && utils.IsSymlink(path) {
			if resolved, err := filepath.EvalSymlinks(path); err == nil {
				observed = resolved
			}
		}

		w.files[path] = observed
		w.observed[observed] = path

		if w.states != nil {
			w.states[path] = statFile(observed)
			continue
		}

		dir := filepath.Dir(observed)
		w.dirRefs[dir]++
		if w.dirRefs[dir] == 1 {
			if err := w.fs.Add(dir); err != nil {
				// The directory may not exist yet; the path stays tracked so
				// a later re-add can succeed.
				w.log.Debug("Failed to watch directory",
					logger.WithField("dir", dir),
					logger.WithField("error", err))
			}
		}
	}
	return nil
}

// Remove unsubscribes the given paths. Removing an absent path is a no-op.
func (w *FileWatcher) Remove(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range paths {
		path = filepath.Clean(path)
		observed, ok := w.files[path]
		if !ok {
			continue
		}
		delete(w.files, path)
		delete(w.observed, observed)

		if w.states != nil {
			delete(w.states, path)
			continue
		}

		dir := filepath.Dir(observed)
		if w.dirRefs[dir] > 0 {
			w.dirRefs[dir]--
			if w.dirRefs[dir] == 0 {
				delete(w.dirRefs, dir)
				// Best effort: fsnotify drops the subscription itself when
				// the directory disappears.
				_ = w.fs.Remove(dir)
			}
		}
	}
	return nil
}

// WatchedFiles returns the currently subscribed paths.
func (w *FileWatcher) WatchedFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.files))
	for path := range w.files {
		paths = append(paths, path)
	}
	return paths
}

// Batches yields coalesced change batches until the watcher closes.
func (w *FileWatcher) Batches() <-chan types.ChangeBatch {
	return w.batches
}

// Err reports the terminal subscription failure, if any. Valid after the
// batch channel closes.
func (w *FileWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close tears down the subscription. Idempotent.
func (w *FileWatcher) Close() error {
	w.shutdown(nil)
	return nil
}

func (w *FileWatcher) shutdown(err error) {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		if w.settle != nil {
			w.settle.Stop()
		}
		w.mu.Unlock()

		close(w.done)
		if w.fs != nil {
			_ = w.fs.Close()
		}
	})
}

// record merges a change into the pending batch and (re)starts the settling
// window. Caller must hold w.mu.
func (w *FileWatcher) recordLocked(path string, kind changeKind) {
	merged := mergeChange(w.pending[path], kind)
	if merged == kindNone {
		delete(w.pending, path)
		return
	}
	w.pending[path] = merged

	if w.settle == nil {
		w.settle = time.AfterFunc(w.opts.SettlingDelay, w.signalPending)
	} else {
		w.settle.Reset(w.opts.SettlingDelay)
	}
}

func (w *FileWatcher) signalPending() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *FileWatcher) takePending() types.ChangeBatch {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch := batchFromPending(w.pending)
	w.pending = make(map[string]changeKind)
	return batch
}

// deliverLoop hands settled batches to the consumer. While a send blocks
// (a build in progress), newly arriving events keep merging into the
// pending map and are delivered as one batch afterwards.
func (w *FileWatcher) deliverLoop() {
	defer close(w.batches)

	for {
		select {
		case <-w.done:
			return
		case <-w.notify:
		}

		for {
			batch := w.takePending()
			if batch.Empty() {
				break
			}
			select {
			case w.batches <- batch:
			case <-w.done:
				return
			}
		}
	}
}

func statFile(path string) fileState {
	info, err := osStat(path)
	if err != nil {
		return fileState{exists: false}
	}
	return fileState{exists: true, size: info.Size(), modTime: info.ModTime()}
}
