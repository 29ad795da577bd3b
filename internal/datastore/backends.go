package datastore

import (
	"fmt"
	"sort"

	"gtgstore/backend"
	"gtgstore/internal/utils"
)

// Descriptor describes a backend to register. Nil flags default to true.
type Descriptor struct {
	Backend  backend.Backend
	ID       string
	Enabled  *bool
	Default  *bool
	FirstRun bool
}

// RegisterBackend adds a backend to the datastore and returns it. An enabled
// backend is initialized and starts ingesting right away when the default
// backend already loaded, or when it is the default backend itself. An
// initialization failure is logged; the backend stays registered.
func (ds *Datastore) RegisterBackend(d Descriptor) (backend.Backend, error) {
	if d.Backend == nil {
		utils.Errorf("Backend descriptor has no backend")
		return nil, ErrMissingBackend
	}
	if d.ID == "" {
		utils.Errorf("Backend descriptor has no id")
		return nil, ErrMissingBackendID
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.backendsMu.Lock()
	if _, ok := ds.backends[d.ID]; ok {
		ds.backendsMu.Unlock()
		utils.Errorf("Registering already registered backend %s", d.ID)
		return nil, fmt.Errorf("%w: %s", ErrBackendExists, d.ID)
	}
	ds.backends[d.ID] = d.Backend
	ds.backendsMu.Unlock()

	be := d.Backend
	if d.FirstRun {
		be.ThisIsTheFirstRun()
	}
	be.SetParameter(backend.KeyPID, d.ID)
	be.SetParameter(backend.KeyEnabled, flagOrTrue(d.Enabled))
	be.SetParameter(backend.KeyDefaultBackend, flagOrTrue(d.Default))
	be.Attach(ds, ds.signals)

	ds.signals.BackendAdded(d.ID)

	if be.IsEnabled() && (ds.IsDefaultBackendLoaded() || be.IsDefault()) {
		if err := be.Initialize(false); err != nil {
			utils.Errorf("Backend %s failed to initialize: %v", d.ID, err)
			return be, nil
		}
		be.StartGetTasks()
	}
	return be, nil
}

func flagOrTrue(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

// GetAllBackends returns the registered backends sorted by id. Disabled
// backends are left out unless includeDisabled is set.
func (ds *Datastore) GetAllBackends(includeDisabled bool) []backend.Backend {
	ds.backendsMu.RLock()
	all := make([]backend.Backend, 0, len(ds.backends))
	for _, be := range ds.backends {
		all = append(all, be)
	}
	ds.backendsMu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })

	if includeDisabled {
		return all
	}
	enabled := all[:0]
	for _, be := range all {
		if be.IsEnabled() {
			enabled = append(enabled, be)
		}
	}
	return enabled
}

// GetBackend returns the backend registered under id.
func (ds *Datastore) GetBackend(id string) (backend.Backend, bool) {
	ds.backendsMu.RLock()
	defer ds.backendsMu.RUnlock()
	be, ok := ds.backends[id]
	return be, ok
}

// SetBackendEnabled enables or disables a backend. Disabling clears the flag
// at once and quits the backend in the background. Enabling starts the
// backend in the background if the default backend already loaded, otherwise
// it only sets the flag and waits for activation.
func (ds *Datastore) SetBackendEnabled(id string, state bool) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	be, ok := ds.GetBackend(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	ds.setEnabledLocked(be, state)
	return nil
}

func (ds *Datastore) setEnabledLocked(be backend.Backend, state bool) {
	if !state {
		if !be.IsEnabled() {
			return
		}
		be.SetParameter(backend.KeyEnabled, false)
		ds.spawn("quit "+be.ID(), func() { be.Quit(true) })
		return
	}

	if be.IsEnabled() {
		return
	}
	be.SetParameter(backend.KeyEnabled, true)
	if ds.IsDefaultBackendLoaded() {
		ds.backendStartup(be)
	}
}

// RemoveBackend disables and forgets a backend.
func (ds *Datastore) RemoveBackend(id string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	be, ok := ds.GetBackend(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	if be.IsEnabled() {
		ds.setEnabledLocked(be, false)
	}

	ds.signals.BackendRemoved(id)

	ds.backendsMu.Lock()
	delete(ds.backends, id)
	ds.backendsMu.Unlock()
	return nil
}

// BackendChangeAttachedTags replaces the tag filter of a backend and, if it
// is enabled, offers every task to it again.
func (ds *Datastore) BackendChangeAttachedTags(id string, names []string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	be, ok := ds.GetBackend(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	be.SetAttachedTags(names)
	if be.IsEnabled() {
		ds.flushAllTasks(be)
	}
	return nil
}

// FlushAllTasks offers every task to a backend in the background while the
// backend runs an ingestion pass on the calling goroutine.
func (ds *Datastore) FlushAllTasks(id string) error {
	be, ok := ds.GetBackend(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	ds.flushAllTasks(be)
	return nil
}

func (ds *Datastore) flushAllTasks(be backend.Backend) {
	ds.spawn("flush "+be.ID(), func() {
		for _, id := range ds.Tasks.IDs() {
			if ds.PleaseQuit() {
				utils.Debugf("Flush to %s interrupted", be.ID())
				return
			}
			be.QueueSetTask(id)
		}
	})
	be.StartGetTasks()
}
