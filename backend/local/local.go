// Package local implements the default backend: the XML data file the
// datastore itself loads and saves.
package local

import (
	"sync/atomic"

	"gtgstore/backend"
	"gtgstore/internal/utils"
)

// TypeName is the registry name of this backend.
const TypeName = "local"

// Saver writes the data file. The datastore implements it.
type Saver interface {
	Save() error
}

// Backend is the default backend. Its tasks are already in memory once the
// datastore loaded the data file, so ingestion only reports completion.
// Tasks offered to it mark the file dirty; Quit saves a dirty file.
type Backend struct {
	*backend.Generic
	dirty atomic.Bool
}

func init() {
	backend.RegisterTypeWithPriority(TypeName, func(id string, params map[string]any) (backend.Backend, error) {
		return New(id, params), nil
	}, 0)
}

// New creates a local backend.
func New(id string, params map[string]any) *Backend {
	return &Backend{Generic: backend.NewGeneric(id, params)}
}

// QueueSetTask marks the data file dirty.
func (b *Backend) QueueSetTask(taskID string) {
	b.dirty.Store(true)
}

// Dirty reports whether a save is pending.
func (b *Backend) Dirty() bool {
	return b.dirty.Load()
}

// Quit saves the data file if tasks changed since the last save.
func (b *Backend) Quit(disable bool) {
	if b.dirty.Swap(false) {
		if saver, ok := b.Source().(Saver); ok {
			if err := saver.Save(); err != nil {
				utils.Errorf("backend %s: failed to save on quit: %v", b.ID(), err)
				b.dirty.Store(true)
			}
		}
	}
	b.Generic.Quit(disable)
}

var _ backend.Backend = (*Backend)(nil)
