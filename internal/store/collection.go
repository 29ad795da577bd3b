// Package store holds the in-memory task, tag and saved-search collections
// and their XML (de)serialization. Each store owns its entities and guards
// them with its own lock so background readers can take snapshots while the
// main goroutine mutates.
package store

import (
	"slices"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// collection keeps entities by id while remembering insertion order.
// It is not synchronized; the owning store holds the lock.
type collection[T any] struct {
	byID  map[string]*T
	order []string
}

func newCollection[T any]() collection[T] {
	return collection[T]{byID: make(map[string]*T)}
}

func (c *collection[T]) put(id string, v *T) {
	if _, ok := c.byID[id]; !ok {
		c.order = append(c.order, id)
	}
	c.byID[id] = v
}

func (c *collection[T]) get(id string) (*T, bool) {
	v, ok := c.byID[id]
	return v, ok
}

func (c *collection[T]) remove(id string) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	if i := slices.Index(c.order, id); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return true
}

func (c *collection[T]) len() int {
	return len(c.byID)
}

func (c *collection[T]) values() []*T {
	out := make([]*T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *collection[T]) ids() []string {
	return slices.Clone(c.order)
}

// NewID generates an identifier for a new entity.
func NewID() string {
	return uuid.New().String()
}

// Time values are stored with nanosecond precision so a save/load cycle
// reproduces them exactly.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	// Older files carry plain dates.
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t
	}
	return time.Time{}
}

// childText returns the trimmed text of the named child element, or "".
func childText(el *etree.Element, tag string) string {
	child := el.SelectElement(tag)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}

// setCData writes text as CDATA. A "]]>" inside text would end the section,
// so the text is split there into adjacent sections that read back as one.
func setCData(el *etree.Element, text string) {
	parts := strings.Split(text, "]]>")
	for i, part := range parts {
		if i > 0 {
			part = ">" + part
		}
		if i < len(parts)-1 {
			part += "]]"
		}
		el.CreateCData(part)
	}
}

func boolAttr(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
