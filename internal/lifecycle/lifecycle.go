// Package lifecycle coordinates graceful shutdown of long-lived components.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultShutdownTimeout bounds the graceful phase of Shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Component is something that needs cleanup on shutdown.
type Component interface {
	// Name returns the component name for logging
	Name() string

	// Shutdown performs graceful shutdown
	Shutdown(ctx context.Context) error

	// ForceStop performs immediate termination if graceful shutdown fails
	ForceStop() error
}

// Func adapts plain functions to Component. Force may be nil.
type Func struct {
	ComponentName string
	Stop          func(ctx context.Context) error
	Force         func() error
}

// Name implements Component.
func (f Func) Name() string { return f.ComponentName }

// Shutdown implements Component.
func (f Func) Shutdown(ctx context.Context) error {
	if f.Stop == nil {
		return nil
	}
	return f.Stop(ctx)
}

// ForceStop implements Component.
func (f Func) ForceStop() error {
	if f.Force == nil {
		return nil
	}
	return f.Force()
}

// Manager shuts registered components down in reverse registration order,
// either on SIGINT/SIGTERM or when Shutdown is called.
type Manager struct {
	mu         sync.Mutex
	components []Component
	isShutdown bool
	timeout    time.Duration
	signals    chan os.Signal

	shutdownCh chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup
	err        error
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides DefaultShutdownTimeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithSignalChannel uses ch instead of subscribing to process signals.
func WithSignalChannel(ch chan os.Signal) Option {
	return func(m *Manager) {
		m.signals = ch
	}
}

// NewManager creates a lifecycle manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		timeout:    DefaultShutdownTimeout,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a component. Components registered during shutdown are ignored.
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isShutdown {
		log.Warn("Cannot register component during shutdown", "component", c.Name())
		return
	}

	m.components = append(m.components, c)
	log.Debug("Registered lifecycle component", "name", c.Name())
}

// Start begins watching for shutdown signals.
func (m *Manager) Start() {
	sigCh := m.signals
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if m.signals == nil {
			defer signal.Stop(sigCh)
		}

		select {
		case sig := <-sigCh:
			log.Info("Received shutdown signal", "signal", sig)
			// Run outside the watcher so Shutdown can wait for it.
			go m.Shutdown()
		case <-m.shutdownCh:
			log.Debug("Shutdown initiated programmatically")
		}
	}()
}

// ShuttingDown is closed as soon as shutdown begins.
func (m *Manager) ShuttingDown() <-chan struct{} {
	return m.shutdownCh
}

// Shutdown stops every component once. Later calls wait for the first to
// finish and return its result.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.isShutdown {
		m.mu.Unlock()
		<-m.done
		return m.err
	}
	m.isShutdown = true
	components := append([]Component(nil), m.components...)
	m.mu.Unlock()

	log.Debug("Starting graceful shutdown", "components", len(components))
	close(m.shutdownCh)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var failed int
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		log.Debug("Shutting down component", "name", c.Name())

		if err := c.Shutdown(ctx); err != nil {
			log.Warn("Component graceful shutdown failed", "name", c.Name(), "error", err)

			if forceErr := c.ForceStop(); forceErr != nil {
				log.Error("Component force stop failed", "name", c.Name(), "error", forceErr)
				failed++
			}
		}
	}

	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		log.Warn("Timeout waiting for goroutines to finish")
	}

	if failed > 0 {
		m.err = fmt.Errorf("shutdown completed with %d errors", failed)
	}
	log.Debug("Shutdown complete")
	close(m.done)
	return m.err
}

// Wait blocks until shutdown is complete.
func (m *Manager) Wait() {
	<-m.done
}
