package backend

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"gtgstore/internal/store"
	"gtgstore/internal/utils"
)

// Generic implements the bookkeeping shared by every backend: parameters,
// enabled/default flags, the attached-tag filter and default-load signalling.
type Generic struct {
	mu          sync.RWMutex
	params      map[string]any
	source      TaskSource
	signals     *Signals
	initialized bool
	firstRun    bool
	loaded      bool
}

// NewGeneric creates a Generic with the given id and parameters.
func NewGeneric(id string, params map[string]any) *Generic {
	p := make(map[string]any, len(params)+1)
	maps.Copy(p, params)
	p[KeyPID] = id
	return &Generic{params: p}
}

// ID returns the backend id.
func (g *Generic) ID() string {
	return g.String(KeyPID, "")
}

// IsEnabled reports whether the backend is enabled.
func (g *Generic) IsEnabled() bool {
	return g.Bool(KeyEnabled, false)
}

// IsDefault reports whether the backend is the default one.
func (g *Generic) IsDefault() bool {
	return g.Bool(KeyDefaultBackend, false)
}

// IsInitialized reports whether Initialize ran since the last Quit.
func (g *Generic) IsInitialized() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.initialized
}

// IsFirstRun reports whether ThisIsTheFirstRun was called.
func (g *Generic) IsFirstRun() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.firstRun
}

// Attach stores the task source and signals.
func (g *Generic) Attach(source TaskSource, signals *Signals) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.source = source
	g.signals = signals
}

// Source returns the attached task source, or nil.
func (g *Generic) Source() TaskSource {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.source
}

// Signals returns the attached signals, or nil.
func (g *Generic) Signals() *Signals {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.signals
}

// Initialize marks the backend enabled and initialized.
func (g *Generic) Initialize(connectSignals bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.params[KeyEnabled] = true
	g.initialized = true
	return nil
}

// StartGetTasks has nothing to ingest; it only reports the load as done.
func (g *Generic) StartGetTasks() {
	g.InitialLoadDone()
}

// InitialLoadDone must be called by implementations at the end of every
// ingestion pass. The first call on a default backend emits
// DefaultBackendLoaded.
func (g *Generic) InitialLoadDone() {
	g.mu.Lock()
	first := !g.loaded
	g.loaded = true
	signals := g.signals
	g.mu.Unlock()

	if first && g.IsDefault() && signals != nil {
		utils.Debugf("backend %s finished its initial load", g.ID())
		signals.DefaultBackendLoaded()
	}
}

// Quit marks the backend as stopped.
func (g *Generic) Quit(disable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized = false
	if disable {
		g.params[KeyEnabled] = false
	}
}

// QueueSetTask does nothing for backends without storage.
func (g *Generic) QueueSetTask(taskID string) {}

// ThisIsTheFirstRun records that the backend was just created.
func (g *Generic) ThisIsTheFirstRun() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.firstRun = true
}

// SetAttachedTags replaces the tag filter.
func (g *Generic) SetAttachedTags(names []string) {
	clean := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimPrefix(strings.TrimSpace(n), "@")
		if n != "" && !slices.Contains(clean, n) {
			clean = append(clean, n)
		}
	}
	g.SetParameter(KeyAttachedTags, clean)
}

// AttachedTags returns the tag filter. An empty filter means all tasks.
func (g *Generic) AttachedTags() []string {
	v, _ := g.Parameter(KeyAttachedTags)
	names, _ := v.([]string)
	return slices.Clone(names)
}

// ShouldSync reports whether t passes the attached-tag filter.
func (g *Generic) ShouldSync(t *store.Task) bool {
	tags := g.AttachedTags()
	if len(tags) == 0 || slices.Contains(tags, AllTasksTag) {
		return true
	}
	return slices.ContainsFunc(tags, t.HasTag)
}

// SetParameter sets a parameter.
func (g *Generic) SetParameter(key string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.params[key] = value
}

// Parameter returns a parameter.
func (g *Generic) Parameter(key string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.params[key]
	return v, ok
}

// Parameters returns a copy of all parameters.
func (g *Generic) Parameters() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return maps.Clone(g.params)
}

// String returns a string parameter or def.
func (g *Generic) String(key, def string) string {
	v, ok := g.Parameter(key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// Bool returns a boolean parameter or def.
func (g *Generic) Bool(key string, def bool) bool {
	v, ok := g.Parameter(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

var _ Backend = (*Generic)(nil)
