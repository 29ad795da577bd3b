package datastore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"

	"gtgstore/internal/firstrun"
)

const oneTaskFile = `<?xml version="1.0" encoding="UTF-8"?>
<gtgData appVersion="test" xmlVersion="2">
  <taglist/>
  <searchlist/>
  <tasklist>
    <task id="%s" status="Active">
      <title>%s</title>
    </task>
  </tasklist>
</gtgData>`

func taskFile(id, title string) string {
	return fmt.Sprintf(oneTaskFile, id, title)
}

func TestCandidatesOrder(t *testing.T) {
	ds := New(Config{Fs: afero.NewMemMapFs(), BackupsNumber: 3})

	got := ds.Candidates("/d/data.xml")
	want := []string{
		"/d/data.xml",
		"/d/data.xml__",
		"/d/backup/data.xml.bak.0",
		"/d/backup/data.xml.bak.1",
		"/d/backup/data.xml.bak.2",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestFindAndLoadPrimary(t *testing.T) {
	ds := newTestDatastore(t)
	writeFile(t, ds.fs, testPath, taskFile("p", "primary"))
	writeFile(t, ds.fs, testPath+TempSuffix, taskFile("t", "temp"))

	if err := ds.FindAndLoadFile(testPath); err != nil {
		t.Fatalf("FindAndLoadFile: %v", err)
	}
	if _, ok := ds.Tasks.Get("p"); !ok {
		t.Error("expected the primary file to be loaded")
	}
	if info, ok := ds.BackupInfo(); ok {
		t.Errorf("BackupInfo should be unset when the primary loads, got %+v", info)
	}
	if ds.Path() != testPath || ds.LoadedFrom() != testPath {
		t.Errorf("unexpected Path %s / LoadedFrom %s", ds.Path(), ds.LoadedFrom())
	}
}

func TestFindAndLoadPrefersTempOverBackups(t *testing.T) {
	ds := newTestDatastore(t)
	writeFile(t, ds.fs, testPath+TempSuffix, taskFile("t", "temp"))
	writeFile(t, ds.fs, BackupPath(testPath, 0), taskFile("b0", "backup"))

	mtime := time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)
	if err := ds.fs.Chtimes(testPath+TempSuffix, mtime, mtime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if err := ds.FindAndLoadFile(testPath); err != nil {
		t.Fatalf("FindAndLoadFile: %v", err)
	}
	if _, ok := ds.Tasks.Get("t"); !ok {
		t.Error("expected the temp file to be loaded")
	}

	info, ok := ds.BackupInfo()
	if !ok {
		t.Fatal("BackupInfo should be set when recovering")
	}
	if info.Name != testPath+TempSuffix || info.Time != "2026-03-14" {
		t.Errorf("unexpected BackupInfo %+v", info)
	}
	// Future saves still go to the primary path.
	if ds.Path() != testPath {
		t.Errorf("expected Path %s, got %s", testPath, ds.Path())
	}
}

func TestFindAndLoadSkipsBadCandidates(t *testing.T) {
	ds := newTestDatastore(t)
	writeFile(t, ds.fs, testPath, "<gtgData><tasklist>")
	writeFile(t, ds.fs, BackupPath(testPath, 0), "garbage")
	writeFile(t, ds.fs, BackupPath(testPath, 2), taskFile("b2", "third backup"))
	writeFile(t, ds.fs, BackupPath(testPath, 3), taskFile("b3", "fourth backup"))

	if err := ds.FindAndLoadFile(testPath); err != nil {
		t.Fatalf("FindAndLoadFile: %v", err)
	}
	if _, ok := ds.Tasks.Get("b2"); !ok || ds.Tasks.Count() != 1 {
		t.Error("expected the newest valid backup to be loaded")
	}
	if info, ok := ds.BackupInfo(); !ok || info.Name != BackupPath(testPath, 2) {
		t.Errorf("unexpected BackupInfo %+v (set=%v)", info, ok)
	}
}

func TestFindAndLoadFirstRun(t *testing.T) {
	ds := newTestDatastore(t)

	if err := ds.FindAndLoadFile(testPath); err != nil {
		t.Fatalf("FindAndLoadFile: %v", err)
	}
	if info, ok := ds.BackupInfo(); ok {
		t.Errorf("BackupInfo should stay unset on first run, got %+v", info)
	}
	if ds.Tasks.Count() != firstrun.TaskCount {
		t.Errorf("expected %d sample tasks, got %d", firstrun.TaskCount, ds.Tasks.Count())
	}
	if ds.Tags.Count() != len(firstrun.Tags) {
		t.Errorf("expected %d sample tags, got %d", len(firstrun.Tags), ds.Tags.Count())
	}
	if !exists(t, ds.fs, testPath) {
		t.Error("first run should write the data file")
	}
	if !exists(t, ds.fs, BackupPath(testPath, 0)) {
		t.Error("first run should seed the backup ring")
	}
	if !exists(t, ds.fs, DailyBackupPath(testPath, ds.now())) {
		t.Error("first run should take the daily snapshot")
	}
	if readFile(t, ds.fs, BackupPath(testPath, 0)) != readFile(t, ds.fs, testPath) {
		t.Error("slot 0 should hold the new data file")
	}
}

func TestFirstRunReplacesMalformedPrimary(t *testing.T) {
	ds := newTestDatastore(t)
	writeFile(t, ds.fs, testPath, "<gtgData><tasklist>")

	if err := ds.FindAndLoadFile(testPath); err != nil {
		t.Fatalf("FindAndLoadFile: %v", err)
	}
	if ds.Tasks.Count() != firstrun.TaskCount {
		t.Errorf("expected %d sample tasks, got %d", firstrun.TaskCount, ds.Tasks.Count())
	}
	if exists(t, ds.fs, testPath+TempSuffix) {
		t.Error("the temp file should be removed once the new file is written")
	}
	if res := ds.probe(testPath); res.Kind != Loaded {
		t.Errorf("expected a loadable data file, got %s (%v)", res.Kind, res.Err)
	}
	if ds.Path() != testPath || ds.LoadedFrom() != testPath {
		t.Errorf("unexpected paths %s / %s", ds.Path(), ds.LoadedFrom())
	}
}

func TestFindAndLoadStorageUnavailable(t *testing.T) {
	ds := New(Config{Fs: afero.NewReadOnlyFs(afero.NewMemMapFs())})

	err := ds.FindAndLoadFile(testPath)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if ds.Tasks.Count() != 0 {
		t.Errorf("expected no tasks, got %d", ds.Tasks.Count())
	}
}

func TestProbeKinds(t *testing.T) {
	ds := newTestDatastore(t)
	writeFile(t, ds.fs, "/ok.xml", taskFile("a", "ok"))
	writeFile(t, ds.fs, "/bad.xml", "<gtgData>")

	tests := []struct {
		path string
		want LoadKind
	}{
		{"/ok.xml", Loaded},
		{"/bad.xml", Malformed},
		{"/missing.xml", NotFound},
	}
	for _, tt := range tests {
		if got := ds.probe(tt.path); got.Kind != tt.want {
			t.Errorf("%s: expected %s, got %s (%v)", tt.path, tt.want, got.Kind, got.Err)
		}
	}
}

func TestCheckLeavesDataAlone(t *testing.T) {
	ds := newTestDatastore(t)
	writeFile(t, ds.fs, testPath, taskFile("p", "primary"))
	writeFile(t, ds.fs, BackupPath(testPath, 0), "<gtgData>")
	writeFile(t, ds.fs, BackupPath(testPath, 1), taskFile("b1", "backup"))

	if err := ds.LoadFile(testPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	results := ds.Check(testPath)
	want := []LoadKind{Loaded, NotFound, Malformed, Loaded}
	if len(results) != len(ds.Candidates(testPath)) {
		t.Fatalf("expected one result per candidate, got %d", len(results))
	}
	for i, kind := range want {
		if results[i].Kind != kind {
			t.Errorf("candidate %s: expected %s, got %s", results[i].Path, kind, results[i].Kind)
		}
	}

	if _, ok := ds.Tasks.Get("p"); !ok || ds.Tasks.Count() != 1 {
		t.Error("Check must not replace the loaded tasks")
	}
}
