// Package interfaces provides abstractions for dependency injection and testability.
package interfaces

import (
	"time"

	"github.com/celestius0/angular-cli/pkg/types"
)

// Watcher is the file-watching capability consumed by the orchestrator.
// Implementations deliver coalesced change batches one at a time, in
// arrival order, and never drop events that arrive while the consumer is
// busy.
type Watcher interface {
	// Add subscribes the given paths. Adding an already-watched path is a no-op.
	Add(paths []string) error

	// Remove unsubscribes the given paths. Removing an absent path is a no-op.
	Remove(paths []string) error

	// Batches yields change batches until Close is called or the underlying
	// subscription fails. After the channel is closed, Err reports whether
	// closure was clean (nil) or a subscription failure.
	Batches() <-chan types.ChangeBatch

	// Err returns the terminal subscription error, if any. Valid only after
	// Batches is closed.
	Err() error

	// Close tears down the subscription. Idempotent.
	Close() error
}

// WatchOptions configures a watcher instance.
type WatchOptions struct {
	// Ignored are glob patterns excluded from the subscription.
	Ignored []string

	// PollInterval switches the watcher to polling mode when positive.
	PollInterval time.Duration

	// FollowSymlinks resolves symlinked paths to their targets.
	FollowSymlinks bool
}

// WatcherFactory creates a watcher. The orchestrator only constructs a
// watcher when watch mode is requested.
type WatcherFactory func(opts WatchOptions) (Watcher, error)

// WorkerPool is a pooled backend worker resource shared across all rebuild
// iterations of one watch session, shut down exactly once at session end.
type WorkerPool interface {
	// Do runs a batch of tasks with bounded parallelism, returning the
	// first task error. Returns an error once shut down.
	Do(tasks []func() error) error

	// Shutdown releases the pool reference. The underlying workers stop when
	// the last reference is released. Idempotent per holder.
	Shutdown()
}

// Notifier reports build outcomes to the user outside the log stream.
type Notifier interface {
	BuildComplete(buildID string, success bool, duration time.Duration)
}

// Dependencies bundles the injectable collaborators of the orchestrator.
type Dependencies struct {
	NewWatcher WatcherFactory
	WorkerPool WorkerPool
	Notifier   Notifier
}
