// Package workers manages the process-wide pooled backend workers shared by
// concurrent artifact processing within a build session. The pool is a
// singleton with an explicit acquire/shutdown lifecycle: the first acquire
// starts the session, the last shutdown ends it.
package workers

import (
	"errors"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/celestius0/angular-cli/pkg/logger"
)

// ErrShutDown is returned by Do after the pool has stopped.
var ErrShutDown = errors.New("worker pool is shut down")

// Pool executes task batches with bounded parallelism. A Pool handle is
// obtained via Acquire and returned via Shutdown; the underlying session
// survives as long as at least one handle is live.
type Pool struct {
	shared *sharedWorkers
	once   sync.Once
}

type sharedWorkers struct {
	mu        sync.Mutex
	refs      int
	stopped   bool
	limit     int
	sessionID string
	inflight  sync.WaitGroup
	log       logger.Logger
}

var (
	globalMu sync.Mutex
	global   *sharedWorkers
)

// Acquire returns a handle to the process-wide pool, starting a session on
// first use.
func Acquire(log logger.Logger) *Pool {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil || global.isStopped() {
		global = &sharedWorkers{
			limit:     runtime.NumCPU(),
			sessionID: uuid.NewString(),
			log:       log,
		}
		log.Debug("Started worker pool session", logger.WithField("session", global.sessionID))
	}

	global.mu.Lock()
	global.refs++
	global.mu.Unlock()

	return &Pool{shared: global}
}

func (s *sharedWorkers) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// SessionID identifies the underlying worker session.
func (p *Pool) SessionID() string {
	return p.shared.sessionID
}

// Do runs the tasks with bounded parallelism and returns the first task
// error. Task failures are scoped to this batch; they do not poison the
// session.
func (p *Pool) Do(tasks []func() error) error {
	s := p.shared
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrShutDown
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	g := new(errgroup.Group)
	g.SetLimit(s.limit)
	for _, task := range tasks {
		g.Go(task)
	}
	return g.Wait()
}

// Shutdown releases this handle. When the last handle is released the
// session ends after draining in-flight batches. Calling Shutdown more than
// once on the same handle is a no-op.
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		s := p.shared
		s.mu.Lock()
		s.refs--
		last := s.refs == 0 && !s.stopped
		if last {
			s.stopped = true
		}
		s.mu.Unlock()

		if !last {
			return
		}

		s.inflight.Wait()
		s.log.Debug("Stopped worker pool session", logger.WithField("session", s.sessionID))
	})
}
