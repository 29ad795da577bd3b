package store

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
)

// TaskListElement is the root element of the task section.
const TaskListElement = "tasklist"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusActive    Status = "Active"
	StatusDone      Status = "Done"
	StatusDismissed Status = "Dismiss"
)

// Task is a single todo item.
type Task struct {
	ID       string
	Title    string
	Status   Status
	Content  string
	Tags     []*Tag
	Added    time.Time
	Modified time.Time
	Closed   time.Time
	Due      time.Time
	Start    time.Time
	ParentID string
	Children []string
}

// AddTag attaches tag to the task once.
func (t *Task) AddTag(tag *Tag) {
	if tag == nil || t.HasTagID(tag.ID) {
		return
	}
	t.Tags = append(t.Tags, tag)
}

// HasTagID reports whether a tag with the given id is attached.
func (t *Task) HasTagID(id string) bool {
	return slices.ContainsFunc(t.Tags, func(tag *Tag) bool { return tag.ID == id })
}

// HasTag reports whether a tag with the given name is attached.
func (t *Task) HasTag(name string) bool {
	name = strings.TrimPrefix(name, "@")
	return slices.ContainsFunc(t.Tags, func(tag *Tag) bool { return strings.EqualFold(tag.Name, name) })
}

// TagNames returns the names of the attached tags.
func (t *Task) TagNames() []string {
	names := make([]string, 0, len(t.Tags))
	for _, tag := range t.Tags {
		names = append(names, tag.Name)
	}
	return names
}

// IsClosed reports whether the task is done or dismissed.
func (t *Task) IsClosed() bool {
	return t.Status == StatusDone || t.Status == StatusDismissed
}

// ToggleStatus flips between active and done.
func (t *Task) ToggleStatus() {
	if t.Status == StatusActive {
		t.setStatus(StatusDone)
	} else {
		t.setStatus(StatusActive)
	}
}

// Dismiss closes the task without completing it.
func (t *Task) Dismiss() {
	t.setStatus(StatusDismissed)
}

func (t *Task) setStatus(s Status) {
	now := time.Now()
	t.Status = s
	t.Modified = now
	if s == StatusActive {
		t.Closed = time.Time{}
	} else {
		t.Closed = now
	}
}

// Clone returns a copy safe to read from another goroutine. Tags are shared.
func (t *Task) Clone() *Task {
	c := *t
	c.Tags = slices.Clone(t.Tags)
	c.Children = slices.Clone(t.Children)
	return &c
}

// TaskStore holds all tasks.
type TaskStore struct {
	mu    sync.RWMutex
	items collection[Task]
}

// NewTaskStore creates an empty task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{items: newCollection[Task]()}
}

// New creates an active task with the given title.
func (s *TaskStore) New(title string) *Task {
	now := time.Now()
	t := &Task{
		ID:       NewID(),
		Title:    strings.TrimSpace(title),
		Status:   StatusActive,
		Added:    now,
		Modified: now,
	}

	s.mu.Lock()
	s.items.put(t.ID, t)
	s.mu.Unlock()
	return t
}

// Add inserts a task, assigning an id and status if missing.
func (s *TaskStore) Add(t *Task) {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	s.mu.Lock()
	s.items.put(t.ID, t)
	s.mu.Unlock()
}

// Get returns the live task with the given id.
func (s *TaskStore) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.get(id)
}

// Lookup returns a copy of the task with the given id.
func (s *TaskStore) Lookup(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items.get(id)
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Remove deletes a task together with its subtasks.
func (s *TaskStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *TaskStore) removeLocked(id string) bool {
	t, ok := s.items.get(id)
	if !ok {
		return false
	}
	for _, child := range slices.Clone(t.Children) {
		s.removeLocked(child)
	}
	if parent, ok := s.items.get(t.ParentID); ok {
		parent.Children = slices.DeleteFunc(parent.Children, func(c string) bool { return c == id })
	}
	return s.items.remove(id)
}

// Parent makes parentID the parent of id, detaching it from any old parent.
func (s *TaskStore) Parent(id, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == parentID {
		return fmt.Errorf("task %s cannot be its own parent", id)
	}
	child, ok := s.items.get(id)
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	parent, ok := s.items.get(parentID)
	if !ok {
		return fmt.Errorf("task not found: %s", parentID)
	}
	for p := parent; p != nil; {
		if p.ID == id {
			return fmt.Errorf("task %s is an ancestor of %s", id, parentID)
		}
		next, ok := s.items.get(p.ParentID)
		if !ok {
			break
		}
		p = next
	}

	s.unparentLocked(child)
	child.ParentID = parentID
	parent.Children = append(parent.Children, id)
	return nil
}

// Unparent makes id a top-level task.
func (s *TaskStore) Unparent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.items.get(id); ok {
		s.unparentLocked(t)
	}
}

func (s *TaskStore) unparentLocked(t *Task) {
	if parent, ok := s.items.get(t.ParentID); ok {
		parent.Children = slices.DeleteFunc(parent.Children, func(c string) bool { return c == t.ID })
	}
	t.ParentID = ""
}

// Count returns the number of tasks, subtasks included.
func (s *TaskStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.len()
}

// Data returns the tasks in insertion order.
func (s *TaskStore) Data() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.values()
}

// IDs returns the task ids in insertion order.
func (s *TaskStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.ids()
}

// ToXML serializes the store. Content is written as CDATA so it survives
// whitespace stripping on load.
func (s *TaskStore) ToXML() *etree.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := etree.NewElement(TaskListElement)
	for _, t := range s.items.values() {
		el := root.CreateElement("task")
		el.CreateAttr("id", t.ID)
		el.CreateAttr("status", string(t.Status))

		el.CreateElement("title").SetText(t.Title)

		tags := el.CreateElement("tags")
		for _, tag := range t.Tags {
			tags.CreateElement("tag").SetText(tag.ID)
		}

		dates := el.CreateElement("dates")
		for _, d := range []struct {
			name string
			t    time.Time
		}{
			{"added", t.Added},
			{"modified", t.Modified},
			{"done", t.Closed},
			{"due", t.Due},
			{"start", t.Start},
		} {
			if !d.t.IsZero() {
				dates.CreateElement(d.name).SetText(formatTime(d.t))
			}
		}

		subs := el.CreateElement("subtasks")
		for _, child := range t.Children {
			subs.CreateElement("sub").SetText(child)
		}

		setCData(el.CreateElement("content"), t.Content)
	}
	return root
}

// FromXML replaces the store contents with the tasks under el. Tag references
// are resolved against tags, which must already be loaded; unknown tag ids
// are dropped.
func (s *TaskStore) FromXML(el *etree.Element, tags *TagStore) error {
	items := newCollection[Task]()

	if el != nil {
		for i, taskEl := range el.SelectElements("task") {
			id := taskEl.SelectAttrValue("id", "")
			if id == "" {
				return fmt.Errorf("task %d has no id", i)
			}

			t := &Task{
				ID:     id,
				Title:  childText(taskEl, "title"),
				Status: Status(taskEl.SelectAttrValue("status", string(StatusActive))),
			}

			if tagsEl := taskEl.SelectElement("tags"); tagsEl != nil {
				for _, tagEl := range tagsEl.SelectElements("tag") {
					if tag, ok := tags.Get(strings.TrimSpace(tagEl.Text())); ok {
						t.AddTag(tag)
					}
				}
			}

			if datesEl := taskEl.SelectElement("dates"); datesEl != nil {
				t.Added = parseTime(childText(datesEl, "added"))
				t.Modified = parseTime(childText(datesEl, "modified"))
				t.Closed = parseTime(childText(datesEl, "done"))
				t.Due = parseTime(childText(datesEl, "due"))
				t.Start = parseTime(childText(datesEl, "start"))
			}

			if subsEl := taskEl.SelectElement("subtasks"); subsEl != nil {
				for _, sub := range subsEl.SelectElements("sub") {
					if child := strings.TrimSpace(sub.Text()); child != "" {
						t.Children = append(t.Children, child)
					}
				}
			}

			if contentEl := taskEl.SelectElement("content"); contentEl != nil {
				t.Content = contentEl.Text()
			}

			items.put(id, t)
		}
	}

	// Link subtasks once every task is known.
	for _, t := range items.values() {
		t.Children = slices.DeleteFunc(t.Children, func(c string) bool {
			child, ok := items.get(c)
			if !ok || c == t.ID {
				return true
			}
			child.ParentID = t.ID
			return false
		})
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// ReplaceWith moves the contents of other into s. other must not be used
// afterwards.
func (s *TaskStore) ReplaceWith(other *TaskStore) {
	other.mu.Lock()
	items := other.items
	other.items = newCollection[Task]()
	other.mu.Unlock()

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}
