package datastore

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"gtgstore/internal/firstrun"
	"gtgstore/internal/store"
	"gtgstore/internal/utils"
)

// LoadKind is the outcome of probing one candidate file.
type LoadKind int

const (
	Loaded LoadKind = iota
	NotFound
	PermissionDenied
	Malformed
)

func (k LoadKind) String() string {
	switch k {
	case Loaded:
		return "loaded"
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("LoadKind(%d)", int(k))
	}
}

// LoadResult is the outcome of loading one candidate.
type LoadResult struct {
	Path string
	Kind LoadKind
	Err  error
}

// Candidates returns the files FindAndLoadFile tries, in order: the data
// file, the temp file of an interrupted save, then the backup ring from
// newest to oldest.
func (ds *Datastore) Candidates(path string) []string {
	out := make([]string, 0, ds.cfg.BackupsNumber+2)
	out = append(out, path, path+TempSuffix)
	for i := range ds.cfg.BackupsNumber {
		out = append(out, BackupPath(path, i))
	}
	return out
}

// Check probes every candidate for path and reports how each one loads.
// The datastore's own contents are left alone.
func (ds *Datastore) Check(path string) []LoadResult {
	scratch := New(ds.cfg)
	results := make([]LoadResult, 0, ds.cfg.BackupsNumber+2)
	for _, candidate := range ds.Candidates(path) {
		results = append(results, scratch.probe(candidate))
	}
	return results
}

func (ds *Datastore) probe(path string) LoadResult {
	err := ds.LoadFile(path)
	res := LoadResult{Path: path, Err: err}
	switch {
	case err == nil:
		res.Kind = Loaded
	case errors.Is(err, ErrNotFound):
		res.Kind = NotFound
	case errors.Is(err, ErrMalformedDocument):
		res.Kind = Malformed
	default:
		res.Kind = PermissionDenied
	}
	return res
}

// FindAndLoadFile loads the first usable candidate for path. When the data
// came from anything but path itself, BackupInfo records which file and its
// date. If no candidate works a fresh data file with sample content is
// written to path and loaded; ErrStorageUnavailable is returned only when
// even that fails.
func (ds *Datastore) FindAndLoadFile(path string) error {
	ds.stateMu.Lock()
	ds.path = path
	ds.backupInfo = nil
	ds.stateMu.Unlock()

	for i, candidate := range ds.Candidates(path) {
		res := ds.probe(candidate)
		switch res.Kind {
		case Loaded:
			if i > 0 {
				ds.recordBackup(candidate)
			}
			return nil
		case NotFound:
			utils.Debugf("%s not found", candidate)
		case PermissionDenied:
			utils.Debugf("Not allowed to open %s: %v", candidate, res.Err)
		case Malformed:
			utils.Debugf("Skipping malformed file %s: %v", candidate, res.Err)
		}
	}

	utils.Infof("No usable data file at %s, creating one", path)
	if err := ds.FirstRun(path); err != nil {
		utils.Errorf("Could not create data file %s: %v", path, err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := ds.LoadFile(path); err != nil {
		utils.Errorf("Could not load new data file %s: %v", path, err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (ds *Datastore) recordBackup(path string) {
	info := BackupInfo{Name: path}
	if fi, err := ds.fs.Stat(path); err == nil {
		info.Time = fi.ModTime().Format(time.DateOnly)
	}
	utils.Warnf("Data restored from %s", filepath.Base(path))

	ds.stateMu.Lock()
	ds.backupInfo = &info
	ds.stateMu.Unlock()
}

// FirstRun replaces the loaded data with the welcome content and saves it to
// path like any other save: the file already there is moved aside first and
// the backup ring gets its first slot. If the save fails the stores are left
// empty.
func (ds *Datastore) FirstRun(path string) error {
	if err := ds.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w %s: %v", ErrDirectoryCreate, filepath.Dir(path), err)
	}
	tags := store.NewTagStore()
	searches := store.NewSavedSearchStore()
	tasks := store.NewTaskStore()
	firstrun.Populate(tags, searches, tasks, ds.now())

	ds.Tags.ReplaceWith(tags)
	ds.SavedSearches.ReplaceWith(searches)
	ds.Tasks.ReplaceWith(tasks)

	if err := ds.SaveFile(path); err != nil {
		ds.Tags.ReplaceWith(store.NewTagStore())
		ds.SavedSearches.ReplaceWith(store.NewSavedSearchStore())
		ds.Tasks.ReplaceWith(store.NewTaskStore())
		return err
	}
	return nil
}
