// Package file implements a backend that mirrors tasks into a markdown
// checklist file.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"gtgstore/backend"
	"gtgstore/internal/markdown"
	"gtgstore/internal/utils"
)

// TypeName is the registry name of this backend.
const TypeName = "file"

// Parameter keys.
const (
	KeyPath       = "path"
	KeyHeading    = "heading"
	KeyWriteDelay = "write_delay_ms"
)

const (
	defaultHeading    = "Tasks"
	defaultWriteDelay = 500 * time.Millisecond
)

// Backend keeps the checklist entries in memory and rewrites the file a short
// while after they change, and again on Quit.
type Backend struct {
	*backend.Generic

	fs      afero.Fs
	mu      sync.Mutex
	entries map[string]markdown.Entry
	dirty   bool
	timer   *time.Timer
	running bool
}

func init() {
	backend.RegisterTypeWithPriority(TypeName, func(id string, params map[string]any) (backend.Backend, error) {
		if path, _ := params[KeyPath].(string); path == "" {
			return nil, fmt.Errorf("file backend requires a %q parameter", KeyPath)
		}
		return New(id, params, afero.NewOsFs()), nil
	}, 60)
}

// New creates a file mirror on fs. A nil fs means the OS filesystem.
func New(id string, params map[string]any, fs afero.Fs) *Backend {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Backend{
		Generic: backend.NewGeneric(id, params),
		fs:      fs,
		entries: make(map[string]markdown.Entry),
	}
}

// Path returns the checklist file path.
func (b *Backend) Path() string {
	return b.String(KeyPath, "")
}

func (b *Backend) writeDelay() time.Duration {
	v, ok := b.Parameter(KeyWriteDelay)
	if !ok {
		return defaultWriteDelay
	}
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Millisecond
	case int64:
		return time.Duration(n) * time.Millisecond
	case float64:
		return time.Duration(n) * time.Millisecond
	}
	return defaultWriteDelay
}

// Initialize reads the existing checklist, if any.
func (b *Backend) Initialize(connectSignals bool) error {
	data, err := afero.ReadFile(b.fs, b.Path())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", b.Path(), err)
	}

	b.mu.Lock()
	b.entries = make(map[string]markdown.Entry)
	for _, e := range markdown.Parse(string(data)) {
		b.entries[e.ID] = e
	}
	b.running = true
	b.mu.Unlock()

	utils.Debugf("backend %s: mirroring into %s", b.ID(), b.Path())
	return b.Generic.Initialize(connectSignals)
}

// QueueSetTask updates the entry of a task, or removes it when the task is
// gone or filtered out.
func (b *Backend) QueueSetTask(taskID string) {
	source := b.Source()
	if source == nil {
		return
	}
	t, ok := source.Lookup(taskID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	if ok && b.ShouldSync(t) {
		b.entries[taskID] = markdown.EntryFromTask(t)
	} else if _, had := b.entries[taskID]; had {
		delete(b.entries, taskID)
	} else {
		return
	}
	b.dirty = true
	b.scheduleLocked()
}

func (b *Backend) scheduleLocked() {
	if b.timer != nil {
		return
	}
	b.timer = time.AfterFunc(b.writeDelay(), func() {
		b.mu.Lock()
		b.timer = nil
		b.mu.Unlock()
		if err := b.Write(); err != nil {
			utils.Errorf("backend %s: %v", b.ID(), err)
		}
	})
}

// StartGetTasks drops entries whose task no longer exists, writes the file
// when anything changed and reports the load as done.
func (b *Backend) StartGetTasks() {
	if source := b.Source(); source != nil {
		b.mu.Lock()
		for id := range b.entries {
			if _, ok := source.Lookup(id); !ok {
				delete(b.entries, id)
				b.dirty = true
			}
		}
		b.mu.Unlock()
	}
	if err := b.Write(); err != nil {
		utils.Errorf("backend %s: %v", b.ID(), err)
	}
	b.InitialLoadDone()
}

// Write renders the checklist to disk if it changed since the last write.
func (b *Backend) Write() error {
	b.mu.Lock()
	if !b.dirty {
		b.mu.Unlock()
		return nil
	}
	doc := markdown.Render(b.String(KeyHeading, defaultHeading), b.orderedLocked())
	b.dirty = false
	b.mu.Unlock()

	path := b.Path()
	if err := b.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		b.markDirty()
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := afero.WriteFile(b.fs, path, []byte(doc), 0644); err != nil {
		b.markDirty()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (b *Backend) markDirty() {
	b.mu.Lock()
	b.dirty = true
	b.mu.Unlock()
}

// orderedLocked returns the entries in datastore order. Entries the source
// does not list follow, sorted by id.
func (b *Backend) orderedLocked() []markdown.Entry {
	out := make([]markdown.Entry, 0, len(b.entries))
	seen := make(map[string]bool, len(b.entries))
	if source := b.Source(); source != nil {
		for _, id := range source.TaskIDs() {
			if e, ok := b.entries[id]; ok {
				out = append(out, e)
				seen[id] = true
			}
		}
	}
	var rest []string
	for id := range b.entries {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	for _, id := range rest {
		out = append(out, b.entries[id])
	}
	return out
}

// Entries returns the current checklist entries in file order.
func (b *Backend) Entries() []markdown.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orderedLocked()
}

// Quit writes pending changes and stops the backend.
func (b *Backend) Quit(disable bool) {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if err := b.Write(); err != nil {
		utils.Errorf("backend %s: failed to write on quit: %v", b.ID(), err)
	}

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.Generic.Quit(disable)
}

var _ backend.Backend = (*Backend)(nil)
