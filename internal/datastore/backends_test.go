package datastore

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"gtgstore/backend"
)

func register(t *testing.T, ds *Datastore, be *fakeBackend, enabled, isDefault bool) {
	t.Helper()
	_, err := ds.RegisterBackend(Descriptor{
		Backend: be,
		ID:      be.ID(),
		Enabled: boolPtr(enabled),
		Default: boolPtr(isDefault),
	})
	if err != nil {
		t.Fatalf("RegisterBackend(%s): %v", be.ID(), err)
	}
}

func wait(t *testing.T, ds *Datastore) {
	t.Helper()
	if err := ds.Wait(t.Context()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// =============================================================================
// Registration
// =============================================================================

func TestRegisterBackendRejectsInvalidDescriptors(t *testing.T) {
	ds := newTestDatastore(t)

	if _, err := ds.RegisterBackend(Descriptor{ID: "x"}); !errors.Is(err, ErrMissingBackend) {
		t.Errorf("expected ErrMissingBackend, got %v", err)
	}
	if _, err := ds.RegisterBackend(Descriptor{Backend: newFakeBackend("x")}); !errors.Is(err, ErrMissingBackendID) {
		t.Errorf("expected ErrMissingBackendID, got %v", err)
	}

	register(t, ds, newFakeBackend("dup"), false, false)
	be, err := ds.RegisterBackend(Descriptor{Backend: newFakeBackend("dup"), ID: "dup"})
	if !errors.Is(err, ErrBackendExists) || be != nil {
		t.Errorf("expected ErrBackendExists, got %v (%v)", err, be)
	}
	if n := len(ds.GetAllBackends(true)); n != 1 {
		t.Errorf("expected 1 backend, got %d", n)
	}
}

func TestRegisterBackendDefaultsFlags(t *testing.T) {
	ds := newTestDatastore(t)
	be := newFakeBackend("local")

	var added []string
	ds.Signals().OnBackendAdded(func(id string) { added = append(added, id) })

	got, err := ds.RegisterBackend(Descriptor{Backend: be, ID: "local", FirstRun: true})
	if err != nil {
		t.Fatalf("RegisterBackend: %v", err)
	}
	if got != be {
		t.Error("RegisterBackend should return the registered backend")
	}
	if !be.IsEnabled() || !be.IsDefault() {
		t.Error("absent flags should default to enabled and default")
	}
	if be.firstRuns != 1 {
		t.Errorf("expected ThisIsTheFirstRun once, got %d", be.firstRuns)
	}
	if be.Source() == nil || be.Signals() != ds.Signals() {
		t.Error("backend should be attached to the datastore")
	}
	if !slices.Equal(added, []string{"local"}) {
		t.Errorf("expected BackendAdded(local), got %v", added)
	}

	// The default backend starts synchronously, without signal wiring.
	inits, starts, _, _ := be.snapshot()
	if !slices.Equal(inits, []bool{false}) || starts != 1 {
		t.Errorf("expected Initialize(false) and one StartGetTasks, got %v / %d", inits, starts)
	}
	if !ds.IsDefaultBackendLoaded() {
		t.Error("default backend load should open the activation gate")
	}
}

func TestRegisterBackendInitializeFailure(t *testing.T) {
	ds := newTestDatastore(t)
	be := newFakeBackend("broken")
	be.initErr = errors.New("cannot connect")

	got, err := ds.RegisterBackend(Descriptor{Backend: be, ID: "broken"})
	if err != nil || got != be {
		t.Fatalf("an initialization failure should not fail registration: %v", err)
	}
	if _, starts, _, _ := be.snapshot(); starts != 0 {
		t.Error("a backend that failed to initialize should not ingest")
	}
	if _, ok := ds.GetBackend("broken"); !ok {
		t.Error("backend should stay registered")
	}
}

// =============================================================================
// Activation gating
// =============================================================================

func TestNonDefaultBackendsWaitForDefault(t *testing.T) {
	ds := newTestDatastore(t)
	for i := range 3 {
		ds.Tasks.New(fmt.Sprintf("task %d", i))
	}

	mirror := newFakeBackend("mirror")
	off := newFakeBackend("off")
	register(t, ds, mirror, true, false)
	register(t, ds, off, false, false)

	if inits, starts, _, _ := mirror.snapshot(); len(inits) != 0 || starts != 0 {
		t.Fatal("non-default backend must not start before the default backend loaded")
	}

	register(t, ds, newFakeBackend("local"), true, true)
	wait(t, ds)

	inits, starts, _, queued := mirror.snapshot()
	if !slices.Equal(inits, []bool{true}) {
		t.Errorf("expected Initialize(true) once, got %v", inits)
	}
	if starts != 1 {
		t.Errorf("expected one StartGetTasks, got %d", starts)
	}
	if !slices.Equal(queued, ds.Tasks.IDs()) {
		t.Errorf("expected every task flushed, got %v", queued)
	}

	if inits, _, _, _ := off.snapshot(); len(inits) != 0 {
		t.Error("disabled backends are not activated")
	}
}

func TestDuplicateDefaultLoadedSignalIsIgnored(t *testing.T) {
	ds := newTestDatastore(t)
	mirror := newFakeBackend("mirror")
	register(t, ds, mirror, true, false)
	register(t, ds, newFakeBackend("local"), true, true)
	wait(t, ds)

	ds.Signals().DefaultBackendLoaded()
	ds.Signals().DefaultBackendLoaded()
	wait(t, ds)

	if inits, _, _, _ := mirror.snapshot(); len(inits) != 1 {
		t.Errorf("expected a single activation, got %d", len(inits))
	}
}

func TestRegisterAfterDefaultLoadedStartsImmediately(t *testing.T) {
	ds := newTestDatastore(t)
	register(t, ds, newFakeBackend("local"), true, true)

	late := newFakeBackend("late")
	register(t, ds, late, true, false)

	inits, starts, _, _ := late.snapshot()
	if !slices.Equal(inits, []bool{false}) || starts != 1 {
		t.Errorf("expected synchronous Initialize(false) and StartGetTasks, got %v / %d", inits, starts)
	}
}

// =============================================================================
// Enable / disable / remove
// =============================================================================

func TestSetBackendEnabled(t *testing.T) {
	ds := newTestDatastore(t)
	register(t, ds, newFakeBackend("local"), true, true)
	mirror := newFakeBackend("mirror")
	register(t, ds, mirror, true, false)
	wait(t, ds)

	if err := ds.SetBackendEnabled("mirror", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if mirror.IsEnabled() {
		t.Error("disabling should clear the flag immediately")
	}
	wait(t, ds)
	if _, _, quits, _ := mirror.snapshot(); !slices.Equal(quits, []bool{true}) {
		t.Errorf("expected Quit(true), got %v", quits)
	}
	if got := ds.GetAllBackends(false); len(got) != 1 || got[0].ID() != "local" {
		t.Errorf("disabled backend should be filtered out, got %v", got)
	}

	if err := ds.SetBackendEnabled("mirror", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	wait(t, ds)
	inits, _, _, _ := mirror.snapshot()
	if len(inits) != 2 || !inits[1] {
		t.Errorf("re-enabling should run a background startup, got %v", inits)
	}
	if !mirror.IsEnabled() {
		t.Error("backend should be enabled again")
	}

	if err := ds.SetBackendEnabled("nope", true); !errors.Is(err, ErrBackendNotFound) {
		t.Errorf("expected ErrBackendNotFound, got %v", err)
	}
}

func TestEnableBeforeDefaultLoadedOnlySetsFlag(t *testing.T) {
	ds := newTestDatastore(t)
	mirror := newFakeBackend("mirror")
	register(t, ds, mirror, false, false)

	if err := ds.SetBackendEnabled("mirror", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	wait(t, ds)
	if !mirror.IsEnabled() {
		t.Error("flag should be set")
	}
	if inits, _, _, _ := mirror.snapshot(); len(inits) != 0 {
		t.Error("backend should wait for the default backend")
	}

	register(t, ds, newFakeBackend("local"), true, true)
	wait(t, ds)
	if inits, _, _, _ := mirror.snapshot(); len(inits) != 1 {
		t.Error("backend should start once the default backend loaded")
	}
}

func TestEnableDefaultBeforeLoadOnlySetsFlag(t *testing.T) {
	ds := newTestDatastore(t)
	local := newFakeBackend("local")
	register(t, ds, local, false, true)

	if err := ds.SetBackendEnabled("local", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	wait(t, ds)
	if !local.IsEnabled() {
		t.Error("flag should be set")
	}
	if inits, _, _, _ := local.snapshot(); len(inits) != 0 {
		t.Errorf("enabling must not start a backend before the default loaded, got %v", inits)
	}
	if ds.IsDefaultBackendLoaded() {
		t.Error("the default backend has not loaded")
	}
}

func TestRemoveBackend(t *testing.T) {
	ds := newTestDatastore(t)
	register(t, ds, newFakeBackend("local"), true, true)
	mirror := newFakeBackend("mirror")
	register(t, ds, mirror, true, false)
	wait(t, ds)

	var removed []string
	ds.Signals().OnBackendRemoved(func(id string) { removed = append(removed, id) })

	if err := ds.RemoveBackend("mirror"); err != nil {
		t.Fatalf("RemoveBackend: %v", err)
	}
	wait(t, ds)

	if _, ok := ds.GetBackend("mirror"); ok {
		t.Error("backend should be forgotten")
	}
	if !slices.Equal(removed, []string{"mirror"}) {
		t.Errorf("expected BackendRemoved(mirror), got %v", removed)
	}
	if _, _, quits, _ := mirror.snapshot(); !slices.Equal(quits, []bool{true}) {
		t.Errorf("removal should disable the backend, got %v", quits)
	}
	if err := ds.RemoveBackend("mirror"); !errors.Is(err, ErrBackendNotFound) {
		t.Errorf("expected ErrBackendNotFound, got %v", err)
	}
}

// =============================================================================
// Flushing
// =============================================================================

func TestBackendChangeAttachedTagsReflushes(t *testing.T) {
	ds := newTestDatastore(t)
	register(t, ds, newFakeBackend("local"), true, true)
	mirror := newFakeBackend("mirror")
	register(t, ds, mirror, true, false)
	wait(t, ds)

	ds.Tasks.New("one")
	ds.Tasks.New("two")
	_, startsBefore, _, queuedBefore := mirror.snapshot()

	if err := ds.BackendChangeAttachedTags("mirror", []string{"@work", "home"}); err != nil {
		t.Fatalf("BackendChangeAttachedTags: %v", err)
	}
	wait(t, ds)

	if got := mirror.AttachedTags(); !slices.Equal(got, []string{"work", "home"}) {
		t.Errorf("unexpected attached tags %v", got)
	}
	_, starts, _, queued := mirror.snapshot()
	if len(queued)-len(queuedBefore) != 2 {
		t.Errorf("expected both tasks offered again, got %v", queued[len(queuedBefore):])
	}
	if starts != startsBefore+1 {
		t.Errorf("expected an ingestion pass with the flush, got %d", starts-startsBefore)
	}
}

func TestBackendChangeAttachedTagsDisabledDoesNotFlush(t *testing.T) {
	ds := newTestDatastore(t)
	mirror := newFakeBackend("mirror")
	register(t, ds, mirror, false, false)
	ds.Tasks.New("one")

	if err := ds.BackendChangeAttachedTags("mirror", []string{backend.AllTasksTag}); err != nil {
		t.Fatalf("BackendChangeAttachedTags: %v", err)
	}
	wait(t, ds)
	if _, _, _, queued := mirror.snapshot(); len(queued) != 0 {
		t.Errorf("disabled backend should not be flushed, got %v", queued)
	}
}

func TestFlushAllTasksStopsOnQuit(t *testing.T) {
	ds := newTestDatastore(t)
	for i := range 10 {
		ds.Tasks.New(fmt.Sprintf("task %d", i))
	}
	mirror := newFakeBackend("mirror")
	register(t, ds, mirror, false, false)
	mirror.onQueue = func(string) { ds.Quit() }

	if err := ds.FlushAllTasks("mirror"); err != nil {
		t.Fatalf("FlushAllTasks: %v", err)
	}
	wait(t, ds)

	if _, _, _, queued := mirror.snapshot(); len(queued) != 1 {
		t.Errorf("flush should stop after the quit request, got %d tasks", len(queued))
	}
	if err := ds.FlushAllTasks("ghost"); !errors.Is(err, ErrBackendNotFound) {
		t.Errorf("expected ErrBackendNotFound, got %v", err)
	}
}

func TestGetAllBackendsSorted(t *testing.T) {
	ds := newTestDatastore(t)
	for _, id := range []string{"c", "a", "b"} {
		register(t, ds, newFakeBackend(id), id != "b", false)
	}

	var ids []string
	for _, be := range ds.GetAllBackends(true) {
		ids = append(ids, be.ID())
	}
	if !slices.Equal(ids, []string{"a", "b", "c"}) {
		t.Errorf("expected sorted ids, got %v", ids)
	}
	if n := len(ds.GetAllBackends(false)); n != 2 {
		t.Errorf("expected 2 enabled backends, got %d", n)
	}
}
