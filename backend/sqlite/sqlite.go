// Package sqlite implements a backend that mirrors the tasks passing its tag
// filter into a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"gtgstore/backend"
	"gtgstore/internal/store"
	"gtgstore/internal/utils"
)

// TypeName is the registry name of this backend.
const TypeName = "sqlite"

// KeyPath is the parameter holding the database path.
const KeyPath = "path"

const queueSize = 256

// Backend mirrors tasks into SQLite. Tasks offered through QueueSetTask are
// written by a single worker goroutine.
type Backend struct {
	*backend.Generic

	mu      sync.RWMutex
	db      *sql.DB
	queue   chan string
	pending sync.WaitGroup
	worker  sync.WaitGroup
}

func init() {
	backend.RegisterTypeWithPriority(TypeName, func(id string, params map[string]any) (backend.Backend, error) {
		if path, _ := params[KeyPath].(string); path == "" {
			return nil, fmt.Errorf("sqlite backend requires a %q parameter", KeyPath)
		}
		return New(id, params), nil
	}, 50)
}

// New creates a SQLite mirror. The database is opened by Initialize.
func New(id string, params map[string]any) *Backend {
	return &Backend{Generic: backend.NewGeneric(id, params)}
}

// Initialize opens the database, creates the schema and starts the worker.
func (b *Backend) Initialize(connectSignals bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return b.Generic.Initialize(connectSignals)
	}

	path := b.String(KeyPath, "")
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	// A single connection keeps ":memory:" databases alive across queries.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	b.db = db
	b.queue = make(chan string, queueSize)
	b.worker.Add(1)
	go b.run(b.db, b.queue)

	utils.Debugf("backend %s: mirroring into %s", b.ID(), path)
	return b.Generic.Initialize(connectSignals)
}

// initSchema creates the database tables if they don't exist
func initSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'Active',
			content TEXT DEFAULT '',
			tags TEXT DEFAULT '',
			added TEXT,
			modified TEXT,
			closed TEXT,
			due_date TEXT,
			start_date TEXT,
			parent_id TEXT DEFAULT '',
			synced TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks(parent_id);
	`
	_, err := db.Exec(schema)
	return err
}

// QueueSetTask schedules the task for mirroring. Tasks offered before
// Initialize or after Quit are dropped.
func (b *Backend) QueueSetTask(taskID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.queue == nil {
		utils.Debugf("backend %s: not running, dropping task %s", b.ID(), taskID)
		return
	}
	b.pending.Add(1)
	b.queue <- taskID
}

func (b *Backend) run(db *sql.DB, queue <-chan string) {
	defer b.worker.Done()
	for id := range queue {
		if err := b.syncTask(context.Background(), db, id); err != nil {
			utils.Errorf("backend %s: failed to sync task %s: %v", b.ID(), id, err)
		}
		b.pending.Done()
	}
}

// syncTask writes the task if it passes the filter and removes it otherwise.
func (b *Backend) syncTask(ctx context.Context, db *sql.DB, id string) error {
	source := b.Source()
	if source == nil {
		return errors.New("backend is not attached")
	}

	t, ok := source.Lookup(id)
	if !ok || !b.ShouldSync(t) {
		_, err := db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
		return err
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, status, content, tags, added, modified, closed, due_date, start_date, parent_id, synced)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, status = excluded.status, content = excluded.content,
			tags = excluded.tags, added = excluded.added, modified = excluded.modified,
			closed = excluded.closed, due_date = excluded.due_date, start_date = excluded.start_date,
			parent_id = excluded.parent_id, synced = excluded.synced`,
		t.ID, t.Title, string(t.Status), t.Content, strings.Join(t.TagNames(), ","),
		timeToNullString(t.Added), timeToNullString(t.Modified), timeToNullString(t.Closed),
		timeToNullString(t.Due), timeToNullString(t.Start), t.ParentID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Drain blocks until every queued task has been written.
func (b *Backend) Drain() {
	b.pending.Wait()
}

// StartGetTasks reconciles the mirror with the datastore: rows whose task no
// longer exists are removed.
func (b *Backend) StartGetTasks() {
	b.mu.RLock()
	db := b.db
	b.mu.RUnlock()

	if db != nil {
		if n, err := b.removeOrphans(context.Background(), db); err != nil {
			utils.Errorf("backend %s: failed to reconcile: %v", b.ID(), err)
		} else if n > 0 {
			utils.Debugf("backend %s: removed %d orphaned rows", b.ID(), n)
		}
	}
	b.InitialLoadDone()
}

func (b *Backend) removeOrphans(ctx context.Context, db *sql.DB) (int, error) {
	source := b.Source()
	if source == nil {
		return 0, nil
	}

	ids, err := queryIDs(ctx, db)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if _, ok := source.Lookup(id); ok {
			continue
		}
		if _, err := db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Quit stops the worker after the queue is drained and closes the database.
func (b *Backend) Quit(disable bool) {
	b.mu.Lock()
	if b.queue != nil {
		close(b.queue)
		b.queue = nil
	}
	db := b.db
	b.db = nil
	b.mu.Unlock()

	b.worker.Wait()
	if db != nil {
		if err := db.Close(); err != nil {
			utils.Warnf("backend %s: failed to close database: %v", b.ID(), err)
		}
	}
	b.Generic.Quit(disable)
}

// Record is a mirrored task row.
type Record struct {
	ID       string
	Title    string
	Status   store.Status
	Content  string
	Tags     []string
	ParentID string
	Added    time.Time
	Modified time.Time
	Closed   *time.Time
	Due      *time.Time
	Start    *time.Time
}

// Records returns every mirrored row ordered by title. The backend must be
// initialized.
func (b *Backend) Records(ctx context.Context) ([]Record, error) {
	b.mu.RLock()
	db := b.db
	b.mu.RUnlock()
	if db == nil {
		return nil, errors.New("backend is not initialized")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, title, status, content, tags, added, modified, closed, due_date, start_date, parent_id
		 FROM tasks ORDER BY title, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func queryIDs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT id FROM tasks")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// timeToNullString converts a time to sql.NullString; the zero time is NULL.
func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// parseOptionalDate parses a nullable date string and returns a pointer to time.Time.
func parseOptionalDate(str sql.NullString) *time.Time {
	if str.Valid && str.String != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, str.String); err == nil {
			return &parsed
		}
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Rows and *sql.Row
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var r Record
	var status, tags string
	var content, parentID sql.NullString
	var added, modified, closed, due, start sql.NullString

	if err := s.Scan(&r.ID, &r.Title, &status, &content, &tags, &added, &modified, &closed, &due, &start, &parentID); err != nil {
		return nil, err
	}

	r.Status = store.Status(status)
	r.Content = content.String
	r.ParentID = parentID.String
	if tags != "" {
		r.Tags = strings.Split(tags, ",")
	}
	if t := parseOptionalDate(added); t != nil {
		r.Added = *t
	}
	if t := parseOptionalDate(modified); t != nil {
		r.Modified = *t
	}
	r.Closed = parseOptionalDate(closed)
	r.Due = parseOptionalDate(due)
	r.Start = parseOptionalDate(start)
	return &r, nil
}

var _ backend.Backend = (*Backend)(nil)
