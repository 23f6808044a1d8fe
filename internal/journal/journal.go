// Package journal persists a record of every debug-time mutation (constant
// and register overwrites) to a SQLite database, so patched runs can be
// audited after the fact.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS mutations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session    TEXT NOT NULL,
	at         TEXT NOT NULL,
	op         TEXT NOT NULL,
	func_name  TEXT NOT NULL,
	slot       INTEGER NOT NULL,
	level      INTEGER NOT NULL,
	old_value  TEXT NOT NULL,
	new_value  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mutations_session ON mutations(session);
`

// Entry is one recorded mutation
type Entry struct {
	ID       int64
	Session  string
	At       time.Time
	Op       string
	FuncName string
	Slot     int
	Level    int
	OldValue string
	NewValue string
}

// Mutation op names
const (
	OpSetConstant   = "set_constant"
	OpSetStackValue = "set_stack_value"
)

// Journal records debug mutations for one process. All methods are safe for
// concurrent use; the remote debug server writes from its own goroutine.
type Journal struct {
	db      *sql.DB
	session string
	mu      sync.Mutex
}

// Open creates or opens a journal database at path and starts a new
// session. Use ":memory:" for an ephemeral journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{
		db:      db,
		session: uuid.NewString(),
	}, nil
}

// Session returns the session id entries are recorded under
func (j *Journal) Session() string {
	return j.session
}

// RecordConstant records a constant-pool overwrite
func (j *Journal) RecordConstant(funcName string, slot int, oldValue, newValue string) error {
	return j.record(OpSetConstant, funcName, slot, 0, oldValue, newValue)
}

// RecordStackValue records a call-frame register overwrite
func (j *Journal) RecordStackValue(level, slot int, oldValue, newValue string) error {
	return j.record(OpSetStackValue, "", slot, level, oldValue, newValue)
}

func (j *Journal) record(op, funcName string, slot, level int, oldValue, newValue string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO mutations (session, at, op, func_name, slot, level, old_value, new_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.session, time.Now().UTC().Format(time.RFC3339Nano),
		op, funcName, slot, level, oldValue, newValue,
	)
	if err != nil {
		return fmt.Errorf("failed to record mutation: %w", err)
	}
	return nil
}

// Entries returns all mutations recorded under the given session, oldest
// first. An empty session selects the current one.
func (j *Journal) Entries(session string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if session == "" {
		session = j.session
	}

	rows, err := j.db.Query(
		`SELECT id, session, at, op, func_name, slot, level, old_value, new_value
		 FROM mutations WHERE session = ? ORDER BY id`, session)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &e.Session, &at, &e.Op, &e.FuncName,
			&e.Slot, &e.Level, &e.OldValue, &e.NewValue); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the journal database
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
