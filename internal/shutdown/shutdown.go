// Package shutdown stops a long-running session in a fixed order: whatever
// feeds the datastore new work, then the datastore's background work, then
// the backends.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"gtgstore/internal/utils"
)

// Datastore is the part of the datastore a session stops.
type Datastore interface {
	// Quit asks background loops to stop at their next iteration.
	Quit()
	// Wait blocks until background work finished or ctx is done.
	Wait(ctx context.Context) error
	// QuitBackends quits every enabled backend.
	QuitBackends()
}

type source struct {
	name string
	stop func()
}

// Manager runs the stop sequence once, on a signal or an explicit Shutdown.
type Manager struct {
	ds Datastore

	mu       sync.Mutex
	sources  []source
	stopping bool

	requested chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
	stopOnce  sync.Once
}

// NewManager returns a manager for ds. ds may be nil when a session has no
// datastore to stop.
func NewManager(ds Datastore) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ds:        ds,
		requested: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddSource registers something that hands the datastore new work, such as a
// file watcher. Sources are stopped in registration order before the
// datastore is asked to quit, so nothing new is queued while it drains.
func (m *Manager) AddSource(name string, stop func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, source{name: name, stop: stop})
}

// Shutdown requests the stop. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.stopping = true
		m.mu.Unlock()

		m.cancel()
		close(m.requested)
	})
}

// NotifySignals calls Shutdown when the process receives SIGINT or SIGTERM.
// The returned function stops listening.
func (m *Manager) NotifySignals() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			utils.Infof("received %s, shutting down", sig)
			m.Shutdown()
		case <-quit:
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			signal.Stop(sigCh)
			close(quit)
		})
	}
}

// Done returns a channel closed when shutdown is requested.
func (m *Manager) Done() <-chan struct{} {
	return m.requested
}

// Wait runs the stop sequence: sources, datastore Quit, a wait for
// background work bounded by ctx, then the backends. Backends are quit even
// when the wait times out so dirty data still gets written; the timeout is
// returned. Only the first call does anything.
func (m *Manager) Wait(ctx context.Context) error {
	m.Shutdown()

	var err error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		sources := append([]source(nil), m.sources...)
		m.mu.Unlock()

		for _, s := range sources {
			utils.Debugf("shutdown: stopping %s", s.name)
			s.stop()
		}

		if m.ds == nil {
			return
		}
		m.ds.Quit()
		if werr := m.ds.Wait(ctx); werr != nil {
			utils.Warnf("shutdown: background work still running: %v", werr)
			err = fmt.Errorf("waiting for background work: %w", werr)
		}
		utils.Debugf("shutdown: quitting backends")
		m.ds.QuitBackends()
	})
	return err
}

// IsShutdown reports whether shutdown was requested.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

// Context is cancelled when shutdown is requested.
func (m *Manager) Context() context.Context {
	return m.ctx
}
