package file

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"gtgstore/backend"
	"gtgstore/internal/markdown"
	"gtgstore/internal/store"
)

const mirrorPath = "/mirror/tasks.md"

// memSource is a TaskSource backed by an ordered list of tasks.
type memSource struct {
	mu    sync.Mutex
	order []string
	tasks map[string]*store.Task
}

func newMemSource(tasks ...*store.Task) *memSource {
	s := &memSource{tasks: make(map[string]*store.Task)}
	for _, t := range tasks {
		s.put(t)
	}
	return s
}

func (s *memSource) put(t *store.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = t
}

func (s *memSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *memSource) Lookup(id string) (*store.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (s *memSource) TaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func task(id, title string, tags ...*store.Tag) *store.Task {
	t := &store.Task{ID: id, Title: title, Status: store.StatusActive}
	for _, tag := range tags {
		t.AddTag(tag)
	}
	return t
}

// newMirror returns an initialized backend whose timer never fires during a
// test, so only Write and Quit touch the file.
func newMirror(t *testing.T, fs afero.Fs, src backend.TaskSource) *Backend {
	t.Helper()
	b := New("mirror", map[string]any{
		KeyPath:       mirrorPath,
		KeyHeading:    "Mirror",
		KeyWriteDelay: int(time.Hour / time.Millisecond),
	}, fs)
	b.Attach(src, backend.NewSignals())
	if err := b.Initialize(true); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	return b
}

func readMirror(t *testing.T, fs afero.Fs) string {
	t.Helper()
	data, err := afero.ReadFile(fs, mirrorPath)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	return string(data)
}

// ===== Registry =====

func TestRegistryRequiresPath(t *testing.T) {
	if _, err := backend.New(TypeName, "mirror", nil); err == nil {
		t.Error("expected an error without a path")
	}
	be, err := backend.New(TypeName, "mirror", map[string]any{KeyPath: mirrorPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := be.(*Backend); !ok {
		t.Errorf("expected *Backend, got %T", be)
	}
}

// ===== Mirroring =====

func TestQuitWritesChecklist(t *testing.T) {
	fs := afero.NewMemMapFs()
	parent := task("p", "Plan trip")
	child := task("c", "Book flights")
	child.ParentID = "p"
	child.Status = store.StatusDone
	src := newMemSource(parent, child)

	b := newMirror(t, fs, src)
	b.QueueSetTask("p")
	b.QueueSetTask("c")
	b.Quit(false)

	want := "# Mirror\n\n- [ ] Plan trip <!-- id:p -->\n  - [x] Book flights <!-- id:c -->\n"
	if got := readMirror(t, fs); got != want {
		t.Errorf("unexpected file:\n%s\nwant:\n%s", got, want)
	}
	if b.IsInitialized() {
		t.Error("backend should not be initialized after Quit")
	}
}

func TestAttachedTagsFilterEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	tags := store.NewTagStore()
	work := tags.New("work")
	src := newMemSource(task("w", "Report", work), task("h", "Laundry"))

	b := newMirror(t, fs, src)
	b.SetAttachedTags([]string{"@work"})
	b.QueueSetTask("w")
	b.QueueSetTask("h")

	entries := b.Entries()
	if len(entries) != 1 || entries[0].ID != "w" {
		t.Fatalf("expected only the work task, got %+v", entries)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if got := readMirror(t, fs); !strings.Contains(got, "Report #work <!-- id:w -->") || strings.Contains(got, "Laundry") {
		t.Errorf("unexpected file:\n%s", got)
	}
	b.Quit(false)
}

func TestQueueSetTaskRemovesDeletedTask(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := newMemSource(task("a", "Alpha"), task("b", "Beta"))

	b := newMirror(t, fs, src)
	b.QueueSetTask("a")
	b.QueueSetTask("b")
	src.remove("a")
	b.QueueSetTask("a")
	b.Quit(false)

	got := readMirror(t, fs)
	if strings.Contains(got, "Alpha") || !strings.Contains(got, "Beta") {
		t.Errorf("unexpected file:\n%s", got)
	}
}

func TestStartGetTasksReconcilesExistingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	existing := markdown.Render("Mirror", []markdown.Entry{
		{ID: "keep", Title: "Keep me"},
		{ID: "stale", Title: "Deleted meanwhile"},
	})
	if err := afero.WriteFile(fs, mirrorPath, []byte(existing), 0644); err != nil {
		t.Fatal(err)
	}
	src := newMemSource(task("keep", "Keep me"))

	b := newMirror(t, fs, src)
	if n := len(b.Entries()); n != 2 {
		t.Fatalf("expected 2 entries read from the file, got %d", n)
	}

	b.StartGetTasks()

	got := readMirror(t, fs)
	if strings.Contains(got, "stale") || !strings.Contains(got, "keep") {
		t.Errorf("unexpected file after reconcile:\n%s", got)
	}
	b.Quit(false)
}

func TestStartGetTasksSignalsDefaultLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	signals := backend.NewSignals()
	loaded := 0
	signals.OnDefaultBackendLoaded(func() { loaded++ })

	b := New("mirror", map[string]any{KeyPath: mirrorPath, backend.KeyDefaultBackend: true}, fs)
	b.Attach(newMemSource(), signals)
	if err := b.Initialize(false); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	b.StartGetTasks()
	b.Quit(false)

	if loaded != 1 {
		t.Errorf("expected one default-load signal, got %d", loaded)
	}
}

func TestTimerWritesFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := newMemSource(task("a", "Alpha"))

	b := New("mirror", map[string]any{KeyPath: mirrorPath, KeyWriteDelay: 10}, fs)
	b.Attach(src, backend.NewSignals())
	if err := b.Initialize(true); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	defer b.Quit(false)

	b.QueueSetTask("a")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := afero.ReadFile(fs, mirrorPath); err == nil && strings.Contains(string(data), "Alpha") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected the delayed write to create the file")
}

func TestWriteFailureKeepsEntriesDirty(t *testing.T) {
	mem := afero.NewMemMapFs()
	src := newMemSource(task("a", "Alpha"))

	b := newMirror(t, afero.NewReadOnlyFs(mem), src)
	b.QueueSetTask("a")

	if err := b.Write(); err == nil {
		t.Fatal("expected write to fail on a read-only filesystem")
	}

	// Swap to a writable filesystem; the pending change is still written.
	b.fs = mem
	if err := b.Write(); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if got := readMirror(t, mem); !strings.Contains(got, "Alpha") {
		t.Errorf("unexpected file:\n%s", got)
	}
	b.Quit(false)
}
