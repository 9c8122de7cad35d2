package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/celestius0/angular-cli/pkg/logger"
)

// safeGroup wraps errgroup.Group with panic recovery so a panicking
// teardown step cannot crash the session.
type safeGroup struct {
	group *errgroup.Group
	log   logger.Logger
}

func newSafeGroup(ctx context.Context, log logger.Logger) (*safeGroup, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	return &safeGroup{group: g, log: log}, ctx
}

// Go runs fn in a new goroutine. A panic is converted to an error and
// logged with its stack trace.
func (sg *safeGroup) Go(fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.log.Error("Goroutine panic recovered",
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
				err = fmt.Errorf("goroutine panic: %v", r)
			}
		}()
		return fn()
	})
}

// Wait blocks until all goroutines complete and returns the first error.
func (sg *safeGroup) Wait() error {
	return sg.group.Wait()
}
