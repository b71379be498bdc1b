// Package outbox provides a durable append-only relay buffer for
// goal-namespace events, backed by SQLite. An external relay process can
// read the buffer without a live subscription to the event bus.
package outbox

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/condoflow/condoflow/internal/bus"
)

// Entry is one relayed event with its append position.
type Entry struct {
	// Seq is the monotonically increasing append position.
	Seq int64
	// Event is the relayed event.
	Event bus.Event
	// AppendedAt is when the entry was written.
	AppendedAt time.Time
}

// Outbox wraps an SQLite database holding the relay buffer.
type Outbox struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens the relay buffer at the given path, creating parent
// directories and the schema as needed. WAL mode is enabled so the
// relay process can read while the engine appends.
func Open(path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create outbox directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create outbox schema: %w", err)
	}

	return &Outbox{conn: conn, path: path}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS relay_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	goal_id TEXT,
	payload TEXT NOT NULL,
	appended_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relay_events_goal_id ON relay_events(goal_id);
`

// Append writes one event to the buffer. Implements bus.Sink.
func (o *Outbox) Append(e bus.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	_, err = o.conn.Exec(`
		INSERT INTO relay_events (event_type, goal_id, payload, appended_at)
		VALUES (?, ?, ?, ?)
	`, string(e.Type), e.GoalID, string(payload), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append relay event: %w", err)
	}
	return nil
}

// ReadSince returns up to limit entries with Seq greater than after,
// in append order. A limit of 0 means no limit.
func (o *Outbox) ReadSince(after int64, limit int) ([]Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	query := `
		SELECT seq, payload, appended_at FROM relay_events
		WHERE seq > ? ORDER BY seq ASC
	`
	args := []any{after}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := o.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("read relay events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			seq        int64
			payload    string
			appendedAt string
		)
		if err := rows.Scan(&seq, &payload, &appendedAt); err != nil {
			return nil, fmt.Errorf("scan relay event: %w", err)
		}

		var e bus.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("parse relay event %d: %w", seq, err)
		}

		entry := Entry{Seq: seq, Event: e}
		if t, err := time.Parse(time.RFC3339, appendedAt); err == nil {
			entry.AppendedAt = t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Purge deletes entries older than the given duration. Returns the
// number of entries removed.
func (o *Outbox) Purge(olderThan time.Duration) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)
	res, err := o.conn.Exec(`DELETE FROM relay_events WHERE appended_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge relay events: %w", err)
	}
	return res.RowsAffected()
}

// Path returns the path to the database file.
func (o *Outbox) Path() string {
	return o.path
}

// Close closes the database connection.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.Close()
}

// Verify Outbox implements bus.Sink at compile time.
var _ bus.Sink = (*Outbox)(nil)
