package datastore

import (
	"math"
	"time"

	"gtgstore/internal/utils"
)

// PurgeResult counts what Purge removed.
type PurgeResult struct {
	Tasks int
	Tags  int
}

// Purge removes tasks closed more than maxDays whole days ago, then every
// tag no task uses that has neither a color nor an icon.
func (ds *Datastore) Purge(maxDays int) PurgeResult {
	var res PurgeResult
	today := startOfDay(ds.now())

	utils.Debugf("Deleting old tasks")
	for _, t := range ds.Tasks.Data() {
		if !t.IsClosed() || t.Closed.IsZero() {
			continue
		}
		days := int(math.Round(today.Sub(startOfDay(t.Closed)).Hours() / 24))
		if days > maxDays && ds.Tasks.Remove(t.ID) {
			res.Tasks++
		}
	}

	utils.Debugf("Deleting unused tags")
	counts := ds.TagCounts()
	for _, tag := range ds.Tags.Data() {
		if counts[tag.Name] == 0 && !tag.Customized() && ds.Tags.Remove(tag.ID) {
			res.Tags++
		}
	}
	return res
}

// TagCounts returns the number of tasks carrying each tag, by tag name.
func (ds *Datastore) TagCounts() map[string]int {
	counts := make(map[string]int)
	for _, t := range ds.Tasks.Data() {
		for _, name := range t.TagNames() {
			counts[name]++
		}
	}
	return counts
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
