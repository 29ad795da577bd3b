// Package markdown renders and parses the markdown checklists written by the
// file backend.
package markdown

import (
	"bufio"
	"regexp"
	"strings"
	"time"

	"gtgstore/internal/store"
)

// Entry is one checklist line.
type Entry struct {
	ID       string
	Title    string
	Status   store.Status
	Due      time.Time
	Tags     []string
	ParentID string
}

// EntryFromTask builds the checklist entry for a task.
func EntryFromTask(t *store.Task) Entry {
	return Entry{
		ID:       t.ID,
		Title:    t.Title,
		Status:   t.Status,
		Due:      t.Due,
		Tags:     t.TagNames(),
		ParentID: t.ParentID,
	}
}

var (
	taskPattern    = regexp.MustCompile(`^(\s*)-\s+\[([ xX~-])\]\s+(.*)$`)
	idPattern      = regexp.MustCompile(`<!--\s*id:([\w-]+)\s*-->`)
	dueDatePattern = regexp.MustCompile(`(?:^|\s)@(\d{4}-\d{2}-\d{2})(?:\s|$)`)
	tagPattern     = regexp.MustCompile(`(?:^|\s)#([\w-]+)`)
)

// OrganizeHierarchically separates root entries from children. An entry whose
// parent is not in entries is a root.
// Returns root entries and a map of parentID -> children.
func OrganizeHierarchically(entries []Entry) ([]Entry, map[string][]Entry) {
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.ID] = true
	}

	childrenMap := make(map[string][]Entry)
	var roots []Entry
	for _, e := range entries {
		if e.ParentID == "" || !present[e.ParentID] {
			roots = append(roots, e)
		} else {
			childrenMap[e.ParentID] = append(childrenMap[e.ParentID], e)
		}
	}
	return roots, childrenMap
}

// WriteTree writes an entry and its children with proper indentation to a strings.Builder.
func WriteTree(sb *strings.Builder, e *Entry, childrenMap map[string][]Entry, level int) {
	sb.WriteString(strings.Repeat("  ", level))
	sb.WriteString("- [")
	sb.WriteString(FormatStatusChar(e.Status))
	sb.WriteString("] ")
	sb.WriteString(FormatText(e))
	sb.WriteString("\n")

	if children, ok := childrenMap[e.ID]; ok {
		for i := range children {
			WriteTree(sb, &children[i], childrenMap, level+1)
		}
	}
}

// Render produces a checklist document with the given heading.
func Render(heading string, entries []Entry) string {
	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(heading)
	sb.WriteString("\n\n")

	roots, childrenMap := OrganizeHierarchically(entries)
	for i := range roots {
		WriteTree(&sb, &roots[i], childrenMap, 0)
	}
	return sb.String()
}

// Parse reads the checklist lines of a document. Lines without an id comment
// are skipped. Indentation sets ParentID.
func Parse(doc string) []Entry {
	type level struct {
		id     string
		indent int
	}

	var entries []Entry
	var parents []level

	scanner := bufio.NewScanner(strings.NewReader(doc))
	for scanner.Scan() {
		matches := taskPattern.FindStringSubmatch(scanner.Text())
		if len(matches) != 4 {
			continue
		}
		indent := len(matches[1])
		e := ParseText(strings.TrimSpace(matches[3]))
		if e.ID == "" {
			continue
		}
		e.Status = ParseStatusChar(matches[2])

		for len(parents) > 0 && parents[len(parents)-1].indent >= indent {
			parents = parents[:len(parents)-1]
		}
		if len(parents) > 0 {
			e.ParentID = parents[len(parents)-1].id
		}
		parents = append(parents, level{id: e.ID, indent: indent})
		entries = append(entries, e)
	}
	return entries
}

// ParseStatusChar converts a markdown checkbox character to a task status.
func ParseStatusChar(char string) store.Status {
	switch strings.ToLower(char) {
	case "x":
		return store.StatusDone
	case "-":
		return store.StatusDismissed
	default:
		return store.StatusActive
	}
}

// FormatStatusChar converts a task status to a markdown checkbox character.
func FormatStatusChar(status store.Status) string {
	switch status {
	case store.StatusDone:
		return "x"
	case store.StatusDismissed:
		return "-"
	default:
		return " "
	}
}

// ParseText extracts title, due date, tags and id from the text of a line.
// Format: "Task title @2024-01-15 #tag1 #tag2 <!-- id:... -->"
func ParseText(text string) Entry {
	var e Entry
	title := text

	if matches := idPattern.FindStringSubmatch(title); len(matches) == 2 {
		e.ID = matches[1]
		title = idPattern.ReplaceAllString(title, "")
	}

	if matches := dueDatePattern.FindStringSubmatch(title); len(matches) == 2 {
		if t, err := time.Parse(time.DateOnly, matches[1]); err == nil {
			e.Due = t
		}
		title = dueDatePattern.ReplaceAllString(title, " ")
	}

	for _, match := range tagPattern.FindAllStringSubmatch(title, -1) {
		e.Tags = append(e.Tags, match[1])
	}
	if len(e.Tags) > 0 {
		title = tagPattern.ReplaceAllString(title, "")
	}

	e.Title = strings.Join(strings.Fields(title), " ")
	return e
}

// FormatText formats an entry back to markdown text.
func FormatText(e *Entry) string {
	parts := []string{e.Title}

	if !e.Due.IsZero() {
		parts = append(parts, "@"+e.Due.Format(time.DateOnly))
	}
	for _, tag := range e.Tags {
		parts = append(parts, "#"+strings.ReplaceAll(strings.TrimSpace(tag), " ", "-"))
	}
	if e.ID != "" {
		parts = append(parts, "<!-- id:"+e.ID+" -->")
	}
	return strings.Join(parts, " ")
}
