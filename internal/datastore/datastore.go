// Package datastore ties the task, tag and saved-search stores to the data
// file on disk and to the synchronization backends.
//
// The data file is written with a rename-aside protocol and a ring of
// numbered backups plus one snapshot per day; loading falls back through the
// temp file and the ring before creating a fresh file. Backends are started
// in two waves: the default backend first, every other enabled backend once
// the default one reports its initial load.
package datastore

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"gtgstore/backend"
	"gtgstore/internal/store"
	"gtgstore/internal/utils"
)

// Defaults for Config.
const (
	DefaultBackupsNumber = 7
	DefaultRetentionDays = 30
	DefaultAppVersion    = "dev"
)

// Config holds datastore settings. Zero values select the defaults.
type Config struct {
	Fs            afero.Fs         // Filesystem for the data file and backups (default: OS)
	AppVersion    string           // Written to the appVersion attribute
	BackupsNumber int              // Size of the numbered backup ring
	RetentionDays int              // Backups older than this are purged (negative disables)
	Now           func() time.Time // Clock used for daily snapshots and purges
}

// BackupInfo describes the file a session was recovered from.
type BackupInfo struct {
	Name string // Path of the file that was loaded
	Time string // Its modification date, YYYY-MM-DD
}

// Datastore is the root aggregate. Create one per session with New.
type Datastore struct {
	Tasks         *store.TaskStore
	Tags          *store.TagStore
	SavedSearches *store.SavedSearchStore

	cfg Config
	fs  afero.Fs

	// mu serializes structural changes to the backend registry.
	mu         sync.Mutex
	backendsMu sync.RWMutex
	backends   map[string]backend.Backend
	signals    *backend.Signals

	stateMu    sync.RWMutex
	path       string
	loadedFrom string
	backupInfo *BackupInfo

	pleaseQuit    atomic.Bool
	defaultLoaded atomic.Bool

	workers sync.WaitGroup
}

// New creates an empty datastore.
func New(cfg Config) *Datastore {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.AppVersion == "" {
		cfg.AppVersion = DefaultAppVersion
	}
	if cfg.BackupsNumber <= 0 {
		cfg.BackupsNumber = DefaultBackupsNumber
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ds := &Datastore{
		Tasks:         store.NewTaskStore(),
		Tags:          store.NewTagStore(),
		SavedSearches: store.NewSavedSearchStore(),
		cfg:           cfg,
		fs:            cfg.Fs,
		backends:      make(map[string]backend.Backend),
		signals:       backend.NewSignals(),
	}
	ds.signals.OnDefaultBackendLoaded(ds.activateNonDefaultBackends)
	return ds
}

// Mutex returns the lock guarding structural sections. Registry methods
// take it themselves; do not hold it while calling them.
func (ds *Datastore) Mutex() *sync.Mutex {
	return &ds.mu
}

// Signals returns the backend signal hub.
func (ds *Datastore) Signals() *backend.Signals {
	return ds.signals
}

// BackupsNumber returns the size of the backup ring.
func (ds *Datastore) BackupsNumber() int {
	return ds.cfg.BackupsNumber
}

// Path returns the primary data file path set by FindAndLoadFile.
func (ds *Datastore) Path() string {
	ds.stateMu.RLock()
	defer ds.stateMu.RUnlock()
	return ds.path
}

// LoadedFrom returns the file the current data was read from.
func (ds *Datastore) LoadedFrom() string {
	ds.stateMu.RLock()
	defer ds.stateMu.RUnlock()
	return ds.loadedFrom
}

// BackupInfo reports which backup was used, if the session was recovered.
func (ds *Datastore) BackupInfo() (BackupInfo, bool) {
	ds.stateMu.RLock()
	defer ds.stateMu.RUnlock()
	if ds.backupInfo == nil {
		return BackupInfo{}, false
	}
	return *ds.backupInfo, true
}

// Save writes the data file at Path.
func (ds *Datastore) Save() error {
	path := ds.Path()
	if path == "" {
		return fmt.Errorf("no data file loaded")
	}
	return ds.SaveFile(path)
}

// Lookup implements backend.TaskSource.
func (ds *Datastore) Lookup(id string) (*store.Task, bool) {
	return ds.Tasks.Lookup(id)
}

// TaskIDs implements backend.TaskSource.
func (ds *Datastore) TaskIDs() []string {
	return ds.Tasks.IDs()
}

// Quit asks every background loop to stop at its next iteration.
func (ds *Datastore) Quit() {
	ds.pleaseQuit.Store(true)
}

// PleaseQuit reports whether Quit was called.
func (ds *Datastore) PleaseQuit() bool {
	return ds.pleaseQuit.Load()
}

// spawn runs fn on its own goroutine. Panics are logged, not propagated;
// failures inside a backend are the backend's business.
func (ds *Datastore) spawn(name string, fn func()) {
	ds.workers.Add(1)
	go func() {
		defer ds.workers.Done()
		defer func() {
			if r := recover(); r != nil {
				utils.Errorf("background task %q panicked: %v", name, r)
			}
		}()
		fn()
	}()
}

// Wait blocks until every background task finished or ctx is done.
func (ds *Datastore) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ds.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops background work and quits every enabled backend. It does
// not save; callers decide whether the data file should be written.
func (ds *Datastore) Shutdown(ctx context.Context) error {
	ds.Quit()
	err := ds.Wait(ctx)
	ds.QuitBackends()
	return err
}

// QuitBackends quits every enabled backend without disabling it.
func (ds *Datastore) QuitBackends() {
	for _, be := range ds.GetAllBackends(false) {
		be.Quit(false)
	}
}

// Info summarizes the datastore contents.
type Info struct {
	Initialized   bool
	Tags          int
	SavedSearches int
	Tasks         int
}

// Info returns the current counts.
func (ds *Datastore) Info() Info {
	tasks := ds.Tasks.Count()
	return Info{
		Initialized:   tasks > 0,
		Tags:          ds.Tags.Count(),
		SavedSearches: ds.SavedSearches.Count(),
		Tasks:         tasks,
	}
}

// PrintInfo writes statistics about the datastore to w.
func (ds *Datastore) PrintInfo(w io.Writer) {
	info := ds.Info()
	state := "Empty"
	if info.Initialized {
		state = "Initialized"
	}
	_, _ = fmt.Fprintf(w, "Datastore [%s]\n", state)
	_, _ = fmt.Fprintf(w, "- Tags: %d\n", info.Tags)
	_, _ = fmt.Fprintf(w, "- Saved Searches: %d\n", info.SavedSearches)
	_, _ = fmt.Fprintf(w, "- Tasks: %d\n", info.Tasks)
}

func (ds *Datastore) now() time.Time {
	return ds.cfg.Now()
}
