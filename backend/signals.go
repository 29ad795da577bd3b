package backend

import "sync"

// Signals is a small observer hub for backend lifecycle events. Handlers run
// synchronously on the emitting goroutine and must not block.
type Signals struct {
	mu            sync.RWMutex
	added         []func(id string)
	removed       []func(id string)
	defaultLoaded []func()
}

// NewSignals creates a hub with no handlers.
func NewSignals() *Signals {
	return &Signals{}
}

// OnBackendAdded registers a handler for BackendAdded.
func (s *Signals) OnBackendAdded(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, fn)
}

// OnBackendRemoved registers a handler for BackendRemoved.
func (s *Signals) OnBackendRemoved(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, fn)
}

// OnDefaultBackendLoaded registers a handler for DefaultBackendLoaded.
func (s *Signals) OnDefaultBackendLoaded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultLoaded = append(s.defaultLoaded, fn)
}

// BackendAdded notifies that a backend was registered.
func (s *Signals) BackendAdded(id string) {
	s.mu.RLock()
	handlers := s.added
	s.mu.RUnlock()
	for _, fn := range handlers {
		fn(id)
	}
}

// BackendRemoved notifies that a backend was removed.
func (s *Signals) BackendRemoved(id string) {
	s.mu.RLock()
	handlers := s.removed
	s.mu.RUnlock()
	for _, fn := range handlers {
		fn(id)
	}
}

// DefaultBackendLoaded notifies that the default backend finished its first
// ingestion pass.
func (s *Signals) DefaultBackendLoaded() {
	s.mu.RLock()
	handlers := s.defaultLoaded
	s.mu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}
