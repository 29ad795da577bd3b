package datastore

import (
	"gtgstore/backend"
	"gtgstore/internal/utils"
)

// IsDefaultBackendLoaded reports whether the default backend finished its
// first ingestion pass.
func (ds *Datastore) IsDefaultBackendLoaded() bool {
	return ds.defaultLoaded.Load()
}

// activateNonDefaultBackends runs once, when the default backend first
// reports its load. Every enabled backend that is not the default one is
// started in the background.
func (ds *Datastore) activateNonDefaultBackends() {
	if !ds.defaultLoaded.CompareAndSwap(false, true) {
		utils.Debugf("spurious call to activate non-default backends")
		return
	}

	for _, be := range ds.GetAllBackends(false) {
		if be.IsDefault() {
			continue
		}
		ds.backendStartup(be)
	}
}

// backendStartup initializes be, runs its ingestion pass and flushes every
// task to it, all off the calling goroutine.
func (ds *Datastore) backendStartup(be backend.Backend) {
	ds.spawn("startup "+be.ID(), func() {
		if err := be.Initialize(true); err != nil {
			utils.Errorf("Backend %s failed to initialize: %v", be.ID(), err)
			return
		}
		ds.flushAllTasks(be)
	})
}
