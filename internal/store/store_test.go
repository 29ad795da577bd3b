package store

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
)

func TestCollectionKeepsInsertionOrder(t *testing.T) {
	c := newCollection[Tag]()
	for _, id := range []string{"b", "a", "c"} {
		c.put(id, &Tag{ID: id})
	}
	c.put("a", &Tag{ID: "a", Name: "replaced"})

	if got := c.ids(); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Errorf("unexpected order %v", got)
	}
	if v, _ := c.get("a"); v.Name != "replaced" {
		t.Error("put should replace an existing entry")
	}
	if !c.remove("a") || c.remove("a") {
		t.Error("remove should report whether the id existed")
	}
	if c.len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.len())
	}
}

func TestParseTime(t *testing.T) {
	ts := time.Date(2026, 10, 19, 8, 15, 30, 123456789, time.UTC)
	if got := parseTime(formatTime(ts)); !got.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, got)
	}
	if got := parseTime("2026-10-19"); got.Year() != 2026 || got.Month() != 10 || got.Day() != 19 {
		t.Errorf("plain dates should parse, got %v", got)
	}
	if !parseTime("").IsZero() || !parseTime("soon").IsZero() {
		t.Error("empty or invalid values yield the zero time")
	}
	if formatTime(time.Time{}) != "" {
		t.Error("the zero time formats as empty")
	}
}

// =============================================================================
// Tags
// =============================================================================

func TestTagStoreNewFindsExisting(t *testing.T) {
	s := NewTagStore()
	a := s.New("Work")
	b := s.New("@work")

	if a != b || s.Count() != 1 {
		t.Error("New should return the existing tag regardless of case and @")
	}
	if !a.Actionable {
		t.Error("new tags are actionable")
	}
	if s.Find("nope") != nil {
		t.Error("Find should return nil for unknown names")
	}
}

func TestTagStoreRemoveUnparentsChildren(t *testing.T) {
	s := NewTagStore()
	parent := s.New("parent")
	child := s.New("child")
	if err := s.Parent(child.ID, parent.ID); err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if err := s.Parent(child.ID, child.ID); err == nil {
		t.Error("a tag cannot be its own parent")
	}

	s.Remove(parent.ID)
	if child.ParentID != "" {
		t.Error("children should become top-level tags")
	}
}

func TestTagStoreXML(t *testing.T) {
	s := NewTagStore()
	parent := s.New("parent")
	parent.Color = "#112233"
	parent.Icon = "emblem"
	child := s.New("child")
	child.Actionable = false
	_ = s.Parent(child.ID, parent.ID)

	loaded := NewTagStore()
	if err := loaded.FromXML(s.ToXML()); err != nil {
		t.Fatalf("FromXML: %v", err)
	}

	got, ok := loaded.Get(child.ID)
	if !ok || got.ParentID != parent.ID || got.Actionable {
		t.Errorf("child tag not preserved: %+v", got)
	}
	if p, _ := loaded.Get(parent.ID); !p.Customized() || p.Color != "#112233" {
		t.Errorf("parent tag not preserved: %+v", p)
	}

	el := etree.NewElement(TagListElement)
	el.CreateElement("tag").CreateAttr("id", "x")
	if err := loaded.FromXML(el); err == nil {
		t.Error("a tag without a name should be rejected")
	}

	if err := loaded.FromXML(nil); err != nil || loaded.Count() != 0 {
		t.Error("a missing section yields an empty store")
	}
}

func TestTagStoreGenerateColorIsUnused(t *testing.T) {
	s := NewTagStore()
	for range 20 {
		tag := s.New(NewID())
		tag.Color = s.GenerateColor()
	}
	seen := map[string]bool{}
	for _, tag := range s.Data() {
		if !strings.HasPrefix(tag.Color, "#") || len(tag.Color) != 7 {
			t.Errorf("unexpected color %q", tag.Color)
		}
		if seen[tag.Color] {
			t.Errorf("color %s used twice", tag.Color)
		}
		seen[tag.Color] = true
	}
}

// =============================================================================
// Tasks
// =============================================================================

func TestTaskStatusTransitions(t *testing.T) {
	s := NewTaskStore()
	task := s.New("  Write report  ")
	if task.Title != "Write report" {
		t.Errorf("title should be trimmed, got %q", task.Title)
	}

	task.ToggleStatus()
	if task.Status != StatusDone || task.Closed.IsZero() {
		t.Error("toggling an active task closes it")
	}
	task.ToggleStatus()
	if task.Status != StatusActive || !task.Closed.IsZero() {
		t.Error("toggling a done task reopens it")
	}
	task.Dismiss()
	if !task.IsClosed() {
		t.Error("dismissed tasks are closed")
	}
}

func TestTaskStoreParenting(t *testing.T) {
	s := NewTaskStore()
	a := s.New("a")
	b := s.New("b")
	c := s.New("c")

	if err := s.Parent(b.ID, a.ID); err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if err := s.Parent(c.ID, b.ID); err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if err := s.Parent(a.ID, c.ID); err == nil {
		t.Error("cycles must be rejected")
	}

	// Reparenting detaches from the old parent.
	if err := s.Parent(c.ID, a.ID); err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if len(b.Children) != 0 || !slices.Equal(a.Children, []string{b.ID, c.ID}) {
		t.Errorf("unexpected children a=%v b=%v", a.Children, b.Children)
	}

	s.Unparent(b.ID)
	if b.ParentID != "" || slices.Contains(a.Children, b.ID) {
		t.Error("Unparent should detach the task")
	}

	if !s.Remove(a.ID) {
		t.Fatal("Remove should succeed")
	}
	if s.Count() != 1 {
		t.Errorf("removing a task removes its subtasks, %d left", s.Count())
	}
}

func TestTaskStoreXMLDropsUnknownReferences(t *testing.T) {
	tags := NewTagStore()
	work := tags.New("work")

	s := NewTaskStore()
	task := s.New("task")
	task.AddTag(work)
	task.AddTag(work)
	task.Content = "line one\n  line two"
	if len(task.Tags) != 1 {
		t.Error("AddTag should not duplicate tags")
	}

	el := s.ToXML()
	el.SelectElement("task").SelectElement("tags").CreateElement("tag").SetText("ghost")

	loaded := NewTaskStore()
	if err := loaded.FromXML(el, tags); err != nil {
		t.Fatalf("FromXML: %v", err)
	}
	got, _ := loaded.Get(task.ID)
	if !slices.Equal(got.TagNames(), []string{"work"}) {
		t.Errorf("unexpected tags %v", got.TagNames())
	}
	if got.Content != task.Content {
		t.Errorf("content changed: %q", got.Content)
	}
	if !got.Added.Equal(task.Added) {
		t.Error("added date not preserved")
	}
}

func TestStoresReplaceWith(t *testing.T) {
	live := NewTaskStore()
	live.New("old")

	fresh := NewTaskStore()
	kept := fresh.New("new")

	live.ReplaceWith(fresh)
	if live.Count() != 1 {
		t.Fatalf("expected 1 task, got %d", live.Count())
	}
	if _, ok := live.Get(kept.ID); !ok {
		t.Error("live store should hold the new contents")
	}
	if fresh.Count() != 0 {
		t.Error("the source store is emptied")
	}
}

// =============================================================================
// Saved searches
// =============================================================================

func TestSavedSearchStore(t *testing.T) {
	s := NewSavedSearchStore()
	ss := s.New("Urgent", "@urgent !today")
	ss.Icon = "flag"

	if s.Find("urgent") != ss {
		t.Error("Find is case-insensitive")
	}

	loaded := NewSavedSearchStore()
	if err := loaded.FromXML(s.ToXML()); err != nil {
		t.Fatalf("FromXML: %v", err)
	}
	got, ok := loaded.Get(ss.ID)
	if !ok || got.Query != ss.Query || got.Icon != "flag" || got.Color != "" {
		t.Errorf("saved search not preserved: %+v", got)
	}

	if !loaded.Remove(ss.ID) || loaded.Count() != 0 {
		t.Error("Remove should delete the search")
	}
}
