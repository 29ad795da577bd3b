package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownType is returned by New for a type nothing registered.
var ErrUnknownType = errors.New("unknown backend type")

// Constructor builds a backend of one type from its id and parameters.
type Constructor func(id string, params map[string]any) (Backend, error)

// typeRegistration holds a constructor with its priority
type typeRegistration struct {
	constructor Constructor
	priority    int
}

// Global registry for backend types
var (
	typesMu sync.RWMutex
	types   = make(map[string]typeRegistration)
)

// RegisterType registers a backend constructor under a type name.
// Backends should call this in their init() function.
func RegisterType(name string, constructor Constructor) {
	RegisterTypeWithPriority(name, constructor, 100)
}

// RegisterTypeWithPriority registers a backend constructor with a priority.
// Lower numbers are listed first (local=0, sqlite=50).
func RegisterTypeWithPriority(name string, constructor Constructor, priority int) {
	typesMu.Lock()
	defer typesMu.Unlock()
	types[name] = typeRegistration{
		constructor: constructor,
		priority:    priority,
	}
}

// Types returns the registered type names ordered by priority, then name.
func Types() []string {
	typesMu.RLock()
	defer typesMu.RUnlock()

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := types[names[i]].priority, types[names[j]].priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// ClearTypes removes all registered constructors.
// This is primarily used for testing.
func ClearTypes() {
	typesMu.Lock()
	defer typesMu.Unlock()
	types = make(map[string]typeRegistration)
}

// New builds a backend of the given type.
func New(typ, id string, params map[string]any) (Backend, error) {
	typesMu.RLock()
	reg, ok := types[typ]
	typesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	be, err := reg.constructor(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend %q: %w", typ, id, err)
	}
	return be, nil
}
