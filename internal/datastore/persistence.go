package datastore

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/spf13/afero"

	"gtgstore/internal/store"
	"gtgstore/internal/utils"
)

// Data file layout.
const (
	RootElement = "gtgData"
	XMLVersion  = "2"

	// TempSuffix is appended to the data file path while a save is in flight.
	TempSuffix = "__"
	// BackupDirName is the backup directory, next to the data file.
	BackupDirName = "backup"
)

// LoadFile reads the data file at path and replaces the stores with its
// contents. On failure the stores are left untouched and the error is a
// *FileError classified as ErrNotFound, ErrPermissionDenied or
// ErrMalformedDocument.
func (ds *Datastore) LoadFile(path string) error {
	start := time.Now()

	doc, err := ds.readDocument(path)
	if err != nil {
		return err
	}
	if err := ds.loadDocument(doc); err != nil {
		return malformed(path, err)
	}

	ds.stateMu.Lock()
	ds.loadedFrom = path
	ds.stateMu.Unlock()

	utils.Debugf("Processed file %s in %.2fms", path, float64(time.Since(start).Microseconds())/1000)
	return nil
}

func (ds *Datastore) readDocument(path string) (*etree.Document, error) {
	data, err := afero.ReadFile(ds.fs, path)
	if err != nil {
		return nil, readError(path, err)
	}

	// etree accepts a document cut short by a crash; the standard decoder
	// does not, so it is used as the well-formedness gate.
	if err := checkWellFormed(data); err != nil {
		return nil, malformed(path, err)
	}

	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, malformed(path, err)
	}

	root := doc.Root()
	if root == nil {
		return nil, malformed(path, errors.New("no root element"))
	}
	if root.Tag != RootElement {
		return nil, malformed(path, fmt.Errorf("unexpected root element %q", root.Tag))
	}
	stripBlankText(root)

	return doc, nil
}

// loadDocument dispatches the sections to fresh stores, then swaps them in.
// Saved searches and tags are loaded before tasks, which refer to tags by id.
func (ds *Datastore) loadDocument(doc *etree.Document) error {
	root := doc.Root()
	if root == nil {
		return errors.New("no root element")
	}
	if v := root.SelectAttrValue("xmlVersion", ""); v != XMLVersion {
		utils.Debugf("Data file has xmlVersion %q, expected %q", v, XMLVersion)
	}

	searches := store.NewSavedSearchStore()
	tags := store.NewTagStore()
	tasks := store.NewTaskStore()

	if err := searches.FromXML(root.SelectElement(store.SearchListElement)); err != nil {
		return fmt.Errorf("saved searches: %w", err)
	}
	if err := tags.FromXML(root.SelectElement(store.TagListElement)); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	if err := tasks.FromXML(root.SelectElement(store.TaskListElement), tags); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}

	ds.SavedSearches.ReplaceWith(searches)
	ds.Tags.ReplaceWith(tags)
	ds.Tasks.ReplaceWith(tasks)
	return nil
}

func checkWellFormed(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// stripBlankText drops whitespace-only text between elements. CDATA is kept
// byte for byte.
func stripBlankText(el *etree.Element) {
	if len(el.ChildElements()) > 0 {
		for i := len(el.Child) - 1; i >= 0; i-- {
			cd, ok := el.Child[i].(*etree.CharData)
			if ok && !cd.IsCData() && strings.TrimSpace(cd.Data) == "" {
				el.RemoveChildAt(i)
			}
		}
	}
	for _, child := range el.ChildElements() {
		stripBlankText(child)
	}
}

// GenerateXML builds the data document from the current store state.
func (ds *Datastore) GenerateXML() *etree.Document {
	return buildDocument(ds.cfg.AppVersion, ds.Tags, ds.SavedSearches, ds.Tasks)
}

func buildDocument(appVersion string, tags *store.TagStore, searches *store.SavedSearchStore, tasks *store.TaskStore) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement(RootElement)
	root.CreateAttr("appVersion", appVersion)
	root.CreateAttr("xmlVersion", XMLVersion)

	root.AddChild(tags.ToXML())
	root.AddChild(searches.ToXML())
	root.AddChild(tasks.ToXML())

	doc.Indent(2)
	return doc
}

// SaveFile writes the data file. The previous file is moved to path+"__"
// first and removed only once the new file is fully written, so a crash at
// any point leaves one of the two readable. A write failure is logged and
// returned; backups are not rotated in that case.
func (ds *Datastore) SaveFile(path string) error {
	tempFile := path + TempSuffix
	start := time.Now()

	if err := ds.fs.Rename(path, tempFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		utils.Warnf("Could not move %s aside: %v", path, err)
	}

	doc := ds.GenerateXML()

	if err := ds.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		utils.Errorf("Error while creating directories: %v", err)
	}

	if err := ds.writeDocument(path, doc); err != nil {
		utils.Errorf("Could not write XML file at %s: %v", path, err)
		return fmt.Errorf("could not write %s: %w", path, err)
	}

	utils.Debugf("Saved file %s in %.2fms", path, float64(time.Since(start).Microseconds())/1000)

	if err := ds.fs.Remove(tempFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		utils.Warnf("Could not remove %s: %v", tempFile, err)
	}

	ds.stateMu.Lock()
	ds.path = path
	ds.stateMu.Unlock()

	// The data file itself is safe at this point.
	_ = ds.WriteBackups(path)
	return nil
}

func (ds *Datastore) writeDocument(path string, doc *etree.Document) error {
	f, err := ds.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := doc.WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// BackupDir returns the backup directory for the data file at path.
func BackupDir(path string) string {
	return filepath.Join(filepath.Dir(path), BackupDirName)
}

// BackupPath returns the path of ring slot i for the data file at path.
func BackupPath(path string, i int) string {
	return filepath.Join(BackupDir(path), filepath.Base(path)+".bak."+strconv.Itoa(i))
}

// DailyBackupPath returns the path of the snapshot for day.
func DailyBackupPath(path string, day time.Time) string {
	return filepath.Join(BackupDir(path), filepath.Base(path)+"."+day.Format(time.DateOnly)+".bak")
}

// WriteBackups rotates the numbered ring, copies path into slot 0, takes
// today's snapshot if there is none yet and purges old backups. Slot N-1 is
// overwritten by the shift, so the ring never grows past N files.
func (ds *Datastore) WriteBackups(path string) error {
	dir := BackupDir(path)
	if err := ds.fs.MkdirAll(dir, 0755); err != nil {
		utils.Errorf("Backup dir %s cannot be created: %v", dir, err)
		return fmt.Errorf("%w %s: %v", ErrDirectoryCreate, dir, err)
	}

	for i := ds.cfg.BackupsNumber - 1; i >= 1; i-- {
		older := BackupPath(path, i)
		newer := BackupPath(path, i-1)
		if err := ds.fs.Rename(newer, older); err != nil && !errors.Is(err, fs.ErrNotExist) {
			utils.Warnf("Could not rotate backup %s: %v", newer, err)
		}
	}

	// Slot 0 is a fresh copy so it stays intact even if the data file is
	// damaged before the next start.
	if err := ds.copyFile(path, BackupPath(path, 0)); err != nil {
		utils.Errorf("Could not write backup of %s: %v", path, err)
		return err
	}

	daily := DailyBackupPath(path, ds.now())
	if _, err := ds.fs.Stat(daily); errors.Is(err, fs.ErrNotExist) {
		if err := ds.copyFile(path, daily); err != nil {
			utils.Errorf("Could not write daily backup %s: %v", daily, err)
		}
	}

	return ds.PurgeBackups(dir, ds.cfg.RetentionDays)
}

// PurgeBackups removes every file in dir last modified more than days days
// ago. A non-positive days disables the purge.
func (ds *Datastore) PurgeBackups(dir string, days int) error {
	if days <= 0 {
		return nil
	}

	entries, err := afero.ReadDir(ds.fs, dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	cutoff := ds.now().Add(-time.Duration(days) * 24 * time.Hour)
	for _, entry := range entries {
		if entry.IsDir() || !entry.ModTime().Before(cutoff) {
			continue
		}
		name := filepath.Join(dir, entry.Name())
		if err := ds.fs.Remove(name); err != nil {
			utils.Warnf("Could not remove old backup %s: %v", name, err)
			continue
		}
		utils.Debugf("Removed old backup %s", name)
	}
	return nil
}

func (ds *Datastore) copyFile(src, dst string) error {
	in, err := ds.fs.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := ds.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
