package store

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/beevik/etree"
)

// TagListElement is the root element of the tag section.
const TagListElement = "taglist"

// Tag is a label that can be attached to tasks.
type Tag struct {
	ID         string
	Name       string
	Color      string
	Icon       string
	Actionable bool
	ParentID   string
}

// Customized reports whether the user gave the tag a color or an icon.
func (t *Tag) Customized() bool {
	return t.Color != "" || t.Icon != ""
}

// TagStore holds all tags.
type TagStore struct {
	mu    sync.RWMutex
	items collection[Tag]
}

// NewTagStore creates an empty tag store.
func NewTagStore() *TagStore {
	return &TagStore{items: newCollection[Tag]()}
}

// New returns the tag with the given name, creating it if needed.
func (s *TagStore) New(name string) *Tag {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.findLocked(name); t != nil {
		return t
	}
	t := &Tag{ID: NewID(), Name: name, Actionable: true}
	s.items.put(t.ID, t)
	return t
}

// Add inserts a tag, assigning an id if it has none.
func (s *TagStore) Add(t *Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = NewID()
	}
	s.items.put(t.ID, t)
}

// Get returns the tag with the given id.
func (s *TagStore) Get(id string) (*Tag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.get(id)
}

// Find returns the tag with the given name (case-insensitive), or nil.
func (s *TagStore) Find(name string) *Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(name)
}

func (s *TagStore) findLocked(name string) *Tag {
	name = strings.TrimPrefix(name, "@")
	for _, t := range s.items.values() {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// Remove deletes a tag. Its children become top-level tags.
func (s *TagStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.items.remove(id) {
		return false
	}
	for _, t := range s.items.values() {
		if t.ParentID == id {
			t.ParentID = ""
		}
	}
	return true
}

// Parent makes parentID the parent of id.
func (s *TagStore) Parent(id, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	child, ok := s.items.get(id)
	if !ok {
		return fmt.Errorf("tag not found: %s", id)
	}
	if _, ok := s.items.get(parentID); !ok {
		return fmt.Errorf("tag not found: %s", parentID)
	}
	if id == parentID {
		return fmt.Errorf("tag %s cannot be its own parent", id)
	}
	child.ParentID = parentID
	return nil
}

// Count returns the number of tags.
func (s *TagStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.len()
}

// Data returns the tags in insertion order.
func (s *TagStore) Data() []*Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.values()
}

// GenerateColor returns a random hex color not used by another tag.
func (s *TagStore) GenerateColor() string {
	s.mu.RLock()
	used := make(map[string]bool, s.items.len())
	for _, t := range s.items.values() {
		used[strings.ToLower(t.Color)] = true
	}
	s.mu.RUnlock()

	for {
		c := fmt.Sprintf("#%06x", rand.IntN(0xffffff+1))
		if !used[c] {
			return c
		}
	}
}

// ToXML serializes the store.
func (s *TagStore) ToXML() *etree.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := etree.NewElement(TagListElement)
	for _, t := range s.items.values() {
		el := root.CreateElement("tag")
		el.CreateAttr("id", t.ID)
		el.CreateAttr("name", t.Name)
		if t.Color != "" {
			el.CreateAttr("color", t.Color)
		}
		if t.Icon != "" {
			el.CreateAttr("icon", t.Icon)
		}
		if t.ParentID != "" {
			el.CreateAttr("parent", t.ParentID)
		}
		if !t.Actionable {
			el.CreateAttr("nonactionable", boolAttr(true))
		}
	}
	return root
}

// FromXML replaces the store contents with the tags under el. A nil element
// yields an empty store.
func (s *TagStore) FromXML(el *etree.Element) error {
	items := newCollection[Tag]()

	if el != nil {
		for i, tagEl := range el.SelectElements("tag") {
			id := tagEl.SelectAttrValue("id", "")
			name := tagEl.SelectAttrValue("name", "")
			if id == "" || name == "" {
				return fmt.Errorf("tag %d has no id or name", i)
			}
			items.put(id, &Tag{
				ID:         id,
				Name:       name,
				Color:      tagEl.SelectAttrValue("color", ""),
				Icon:       tagEl.SelectAttrValue("icon", ""),
				ParentID:   tagEl.SelectAttrValue("parent", ""),
				Actionable: tagEl.SelectAttrValue("nonactionable", "False") != "True",
			})
		}
	}

	for _, t := range items.values() {
		if _, ok := items.get(t.ParentID); t.ParentID != "" && !ok {
			t.ParentID = ""
		}
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// ReplaceWith moves the contents of other into s. other must not be used
// afterwards.
func (s *TagStore) ReplaceWith(other *TagStore) {
	other.mu.Lock()
	items := other.items
	other.items = newCollection[Tag]()
	other.mu.Unlock()

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}
