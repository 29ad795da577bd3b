package datastore

import (
	_ "embed"
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

//go:embed sample_words.txt
var sampleWords string

func sampleWordList() []string {
	return strings.Fields(sampleWords)
}

// FillWithSamples adds tasksCount random tasks together with random tags and
// saved searches. It is meant for trying out backends and for load tests.
func (ds *Datastore) FillWithSamples(tasksCount int) {
	if tasksCount <= 0 {
		return
	}

	words := sampleWordList()
	coin := func() bool { return rand.IntN(2) == 1 }
	pick := func(list []string) string { return list[rand.IntN(len(list))] }
	randomDate := func() time.Time {
		return ds.now().AddDate(0, 0, 1+rand.IntN(365*5))
	}

	tagsCount := min(tasksCount/10+rand.IntN(tasksCount-tasksCount/10+1), len(words))
	searchCount := rand.IntN(tasksCount/10 + 1)

	shuffled := slices.Clone(words)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	tagWords := shuffled[:tagsCount]

	taskSizes := make([]int, 10)
	for i := range taskSizes {
		taskSizes[i] = rand.IntN(201)
	}

	for range searchCount {
		ds.SavedSearches.New(pick(words), pick(words))
	}

	for _, name := range tagWords {
		tag := ds.Tags.New(name)
		tag.Actionable = coin()
		tag.Color = ds.Tags.GenerateColor()
	}

	tags := ds.Tags.Data()
	for _, tag := range tags {
		if !coin() {
			continue
		}
		parent := tags[rand.IntN(len(tags))]
		if parent.ID == tag.ID || parent.ParentID == tag.ID {
			continue
		}
		_ = ds.Tags.Parent(tag.ID, parent.ID)
	}

	word := func() string {
		w := pick(words)
		if slices.Contains(tagWords, w) {
			return "@" + w
		}
		return w
	}

	created := make([]string, 0, tasksCount)
	for range tasksCount {
		var title strings.Builder
		for range 1 + rand.IntN(15) {
			title.WriteString(word())
			title.WriteByte(' ')
		}
		task := ds.Tasks.New(title.String())

		if len(tagWords) > 0 {
			for range rand.IntN(11) {
				task.AddTag(ds.Tags.Find(pick(tagWords)))
			}
		}

		if coin() {
			task.ToggleStatus()
		}
		if coin() {
			task.Dismiss()
		}

		var content strings.Builder
		for range rand.IntN(taskSizes[rand.IntN(len(taskSizes))] + 1) {
			content.WriteString(word())
			content.WriteByte(' ')
			if coin() {
				content.WriteByte('\n')
			}
		}
		task.Content = content.String()

		if coin() {
			task.Start = randomDate()
		}
		if coin() {
			task.Due = randomDate()
		}
		created = append(created, task.ID)
	}

	// Parent failures (cycles) are skipped.
	for _, id := range created {
		if coin() {
			_ = ds.Tasks.Parent(id, created[rand.IntN(len(created))])
		}
	}
}
