package backend

import (
	"gtgstore/internal/store"
)

// Parameter keys understood by every backend.
const (
	KeyEnabled        = "enabled"
	KeyDefaultBackend = "default"
	KeyAttachedTags   = "attached-tags"
	KeyPID            = "pid"
)

// AllTasksTag as an attached tag means the backend syncs every task.
const AllTasksTag = "gtg-tags-all"

// TaskSource gives backends read access to the datastore's tasks.
type TaskSource interface {
	// Lookup returns a copy of the task, safe to use from any goroutine.
	Lookup(id string) (*store.Task, bool)
	// TaskIDs returns a snapshot of every task id.
	TaskIDs() []string
}

// Backend is a synchronization unit that mirrors tasks to another storage
// system. Implementations usually embed *Generic and override the lifecycle
// methods they need.
type Backend interface {
	ID() string
	IsEnabled() bool
	IsDefault() bool

	// Attach hands the backend its task source and the datastore signals.
	// Called once at registration.
	Attach(source TaskSource, signals *Signals)

	// Initialize prepares the backend and marks it enabled. When
	// connectSignals is true the backend may subscribe to datastore events.
	Initialize(connectSignals bool) error
	// StartGetTasks runs an ingestion pass. Default backends emit
	// DefaultBackendLoaded when their first pass completes.
	StartGetTasks()
	// Quit stops the backend. disable also clears its enabled flag.
	Quit(disable bool)

	// QueueSetTask asks the backend to re-evaluate a task against its filter.
	QueueSetTask(taskID string)

	SetAttachedTags(names []string)
	AttachedTags() []string

	SetParameter(key string, value any)
	Parameter(key string) (any, bool)

	// ThisIsTheFirstRun is called before registration when the backend was
	// just created by the user.
	ThisIsTheFirstRun()
}
