// Package mocks provides mock implementations of interfaces for testing.
// These follow Go best practices for test doubles.
package mocks

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/celestius0/angular-cli/pkg/interfaces"
	"github.com/celestius0/angular-cli/pkg/types"
)

// MockWatcher is a controllable Watcher for testing. Tests push batches
// through Deliver and inspect the subscribed set.
type MockWatcher struct {
	mu       sync.Mutex
	watched  map[string]struct{}
	batches  chan types.ChangeBatch
	err      error
	closed   bool
	addCalls [][]string
	rmCalls  [][]string

	addErr error
}

// NewMockWatcher creates a mock watcher with room for queued batches.
func NewMockWatcher() *MockWatcher {
	return &MockWatcher{
		watched: make(map[string]struct{}),
		batches: make(chan types.ChangeBatch, 16),
	}
}

// SetAddError makes subsequent Add calls fail.
func (w *MockWatcher) SetAddError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addErr = err
}

// Add subscribes paths. Idempotent.
func (w *MockWatcher) Add(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.addErr != nil {
		return w.addErr
	}
	w.addCalls = append(w.addCalls, append([]string(nil), paths...))
	for _, p := range paths {
		w.watched[p] = struct{}{}
	}
	return nil
}

// Remove unsubscribes paths. Idempotent.
func (w *MockWatcher) Remove(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rmCalls = append(w.rmCalls, append([]string(nil), paths...))
	for _, p := range paths {
		delete(w.watched, p)
	}
	return nil
}

// Batches returns the delivery channel.
func (w *MockWatcher) Batches() <-chan types.ChangeBatch {
	return w.batches
}

// Err returns the terminal error configured via FailWith.
func (w *MockWatcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close marks the watcher closed and terminates the batch stream.
func (w *MockWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.batches)
	}
	return nil
}

// Closed reports whether Close has been called.
func (w *MockWatcher) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Deliver queues a change batch for the consumer.
func (w *MockWatcher) Deliver(batch types.ChangeBatch) {
	w.batches <- batch
}

// FailWith terminates the batch stream with a subscription error.
func (w *MockWatcher) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.err = err
		w.closed = true
		close(w.batches)
	}
}

// Watched returns the currently subscribed paths, sorted.
func (w *MockWatcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.watched))
	for p := range w.watched {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// AddCalls returns every Add invocation in order.
func (w *MockWatcher) AddCalls() [][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	calls := make([][]string, len(w.addCalls))
	copy(calls, w.addCalls)
	return calls
}

// IsWatched reports whether a single path is subscribed.
func (w *MockWatcher) IsWatched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watched[path]
	return ok
}

// MockWorkerPool records Shutdown calls.
type MockWorkerPool struct {
	mu        sync.Mutex
	shutdowns int
	submits   int
	shutdown  bool
}

// NewMockWorkerPool creates a mock worker pool.
func NewMockWorkerPool() *MockWorkerPool {
	return &MockWorkerPool{}
}

// Do runs the tasks inline.
func (p *MockWorkerPool) Do(tasks []func() error) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return errors.New("worker pool is shut down")
	}
	p.submits += len(tasks)
	p.mu.Unlock()

	for _, task := range tasks {
		if err := task(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown records the call.
func (p *MockWorkerPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdowns++
	p.shutdown = true
}

// Shutdowns returns how many times Shutdown was called.
func (p *MockWorkerPool) Shutdowns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdowns
}

// MockNotifier records build-complete notifications.
type MockNotifier struct {
	mu     sync.Mutex
	events []NotifyEvent
}

// NotifyEvent is one recorded notification.
type NotifyEvent struct {
	BuildID  string
	Success  bool
	Duration time.Duration
}

// NewMockNotifier creates a mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// BuildComplete records the notification.
func (n *MockNotifier) BuildComplete(buildID string, success bool, duration time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, NotifyEvent{BuildID: buildID, Success: success, Duration: duration})
}

// Events returns the recorded notifications.
func (n *MockNotifier) Events() []NotifyEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotifyEvent(nil), n.events...)
}

var _ interfaces.Watcher = (*MockWatcher)(nil)
var _ interfaces.WorkerPool = (*MockWorkerPool)(nil)
var _ interfaces.Notifier = (*MockNotifier)(nil)
