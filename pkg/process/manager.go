// Package process maps OS signals onto context cancellation for the
// interactive watch session.
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/celestius0/angular-cli/pkg/logger"
)

// Manager translates interrupt signals into a session context
// cancellation and runs registered shutdown handlers afterwards.
type Manager struct {
	log      logger.Logger
	handlers []func()

	mu      sync.Mutex
	running bool
	stop    func()
	wg      sync.WaitGroup
}

// NewManager creates a process manager.
func NewManager(log logger.Logger) *Manager {
	return &Manager{log: log}
}

// RegisterShutdownHandler adds a handler invoked after the session context
// is cancelled. Handlers run in reverse registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Context derives the session context: it is cancelled when parent ends or
// when SIGINT, SIGTERM or SIGHUP arrives. The first signal cancels; a
// second one is left to the default handler so a stuck shutdown can still
// be interrupted.
func (m *Manager) Context(parent context.Context) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return parent
	}
	m.running = true

	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	m.stop = func() {
		signal.Stop(sigChan)
		cancel()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		select {
		case sig := <-sigChan:
			m.log.Info("Received signal, shutting down", logger.WithField("signal", sig.String()))
			signal.Stop(sigChan)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
		}

		m.runHandlers()
	}()

	return ctx
}

// Stop cancels the session context and waits for the shutdown handlers.
func (m *Manager) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.running = false
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	m.wg.Wait()
}

func (m *Manager) runHandlers() {
	m.mu.Lock()
	handlers := make([]func(), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}
