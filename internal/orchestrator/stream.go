package orchestrator

import (
	"context"
	"sync"

	"github.com/celestius0/angular-cli/pkg/types"
)

// ResultStream is the pull-based sequence of build outputs produced by a
// session. The channel is unbuffered: the session does not run ahead of the
// consumer, and a rebuild result is only produced once the previous one has
// been received.
type ResultStream struct {
	results chan types.BuildOutput

	mu  sync.Mutex
	err error
}

func newResultStream() *ResultStream {
	return &ResultStream{results: make(chan types.BuildOutput)}
}

// Results yields build outputs until the session ends.
func (s *ResultStream) Results() <-chan types.BuildOutput {
	return s.results
}

// Err reports why the session ended. Valid after Results is closed; nil
// means a clean shutdown (context cancellation included).
func (s *ResultStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// send delivers one output, honoring cancellation while the consumer is not
// ready. Reports whether the output was received.
func (s *ResultStream) send(ctx context.Context, out types.BuildOutput) bool {
	select {
	case s.results <- out:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish records the terminal error and closes the stream.
func (s *ResultStream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.results)
}
