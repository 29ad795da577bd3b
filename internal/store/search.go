package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/beevik/etree"
)

// SearchListElement is the root element of the saved-search section.
const SearchListElement = "searchlist"

// SavedSearch is a named query.
type SavedSearch struct {
	ID    string
	Name  string
	Query string
	Icon  string
	Color string
}

// SavedSearchStore holds all saved searches.
type SavedSearchStore struct {
	mu    sync.RWMutex
	items collection[SavedSearch]
}

// NewSavedSearchStore creates an empty saved-search store.
func NewSavedSearchStore() *SavedSearchStore {
	return &SavedSearchStore{items: newCollection[SavedSearch]()}
}

// New adds a saved search.
func (s *SavedSearchStore) New(name, query string) *SavedSearch {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss := &SavedSearch{ID: NewID(), Name: name, Query: query}
	s.items.put(ss.ID, ss)
	return ss
}

// Get returns the saved search with the given id.
func (s *SavedSearchStore) Get(id string) (*SavedSearch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.get(id)
}

// Find returns the saved search with the given name (case-insensitive), or nil.
func (s *SavedSearchStore) Find(name string) *SavedSearch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ss := range s.items.values() {
		if strings.EqualFold(ss.Name, name) {
			return ss
		}
	}
	return nil
}

// Remove deletes a saved search.
func (s *SavedSearchStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.remove(id)
}

// Count returns the number of saved searches.
func (s *SavedSearchStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.len()
}

// Data returns the saved searches in insertion order.
func (s *SavedSearchStore) Data() []*SavedSearch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.values()
}

// ToXML serializes the store.
func (s *SavedSearchStore) ToXML() *etree.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root := etree.NewElement(SearchListElement)
	for _, ss := range s.items.values() {
		el := root.CreateElement("savedSearch")
		el.CreateAttr("id", ss.ID)
		el.CreateAttr("name", ss.Name)
		el.CreateAttr("query", ss.Query)
		if ss.Icon != "" {
			el.CreateAttr("icon", ss.Icon)
		}
		if ss.Color != "" {
			el.CreateAttr("color", ss.Color)
		}
	}
	return root
}

// FromXML replaces the store contents with the searches under el.
func (s *SavedSearchStore) FromXML(el *etree.Element) error {
	items := newCollection[SavedSearch]()

	if el != nil {
		for i, ssEl := range el.SelectElements("savedSearch") {
			id := ssEl.SelectAttrValue("id", "")
			if id == "" {
				return fmt.Errorf("saved search %d has no id", i)
			}
			items.put(id, &SavedSearch{
				ID:    id,
				Name:  ssEl.SelectAttrValue("name", ""),
				Query: ssEl.SelectAttrValue("query", ""),
				Icon:  ssEl.SelectAttrValue("icon", ""),
				Color: ssEl.SelectAttrValue("color", ""),
			})
		}
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// ReplaceWith moves the contents of other into s. other must not be used
// afterwards.
func (s *SavedSearchStore) ReplaceWith(other *SavedSearchStore) {
	other.mu.Lock()
	items := other.items
	other.items = newCollection[SavedSearch]()
	other.mu.Unlock()

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}
