// Package firstrun provides the content of a brand new data file.
package firstrun

import (
	"time"

	"gtgstore/internal/store"
)

// Tag names created on first run.
var Tags = []string{"getting-started", "backends", "backups"}

type sample struct {
	title   string
	tags    []string
	content string
	parent  int // index into samples, -1 for top level
}

var samples = []sample{
	{
		title:  "Welcome to gtgstore",
		tags:   []string{"getting-started"},
		parent: -1,
		content: "Your tasks, tags and saved searches live in a single XML file.\n" +
			"Run `gtgstore info` to see where it is and what it holds.",
	},
	{
		title:  "Learn how saving works",
		tags:   []string{"getting-started", "backups"},
		parent: 0,
		content: "Every save first moves the previous file aside, then writes the new one.\n" +
			"If a save is interrupted the previous data is recovered on the next start.",
	},
	{
		title:  "Look at your backups",
		tags:   []string{"backups"},
		parent: 0,
		content: "Each save keeps a numbered copy and one snapshot per day in the\n" +
			"backup directory. `gtgstore backups list` shows them.",
	},
	{
		title:  "Mirror tasks somewhere else",
		tags:   []string{"getting-started", "backends"},
		parent: 0,
		content: "Backends copy tasks to SQLite or a markdown checklist.\n" +
			"Add one to the config file and attach it to a tag to sync only those tasks.",
	},
}

// TaskCount is the number of tasks Populate creates.
var TaskCount = len(samples)

// Populate fills empty stores with the welcome content, stamped with now.
func Populate(tags *store.TagStore, searches *store.SavedSearchStore, tasks *store.TaskStore, now time.Time) {
	for _, name := range Tags {
		tag := tags.New(name)
		tag.Color = tags.GenerateColor()
	}
	searches.New("Getting started", "@getting-started")

	created := make([]*store.Task, len(samples))
	for i, s := range samples {
		t := &store.Task{
			ID:       store.NewID(),
			Title:    s.title,
			Status:   store.StatusActive,
			Content:  s.content,
			Added:    now,
			Modified: now,
		}
		for _, name := range s.tags {
			t.AddTag(tags.Find(name))
		}
		tasks.Add(t)
		created[i] = t
	}

	for i, s := range samples {
		if s.parent >= 0 {
			_ = tasks.Parent(created[i].ID, created[s.parent].ID)
		}
	}
}
