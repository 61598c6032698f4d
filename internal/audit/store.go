package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/AIDilloBot/trustgate/internal/model"
)

// Store is a queryable SQLite sink for audit events. The JSONL log is
// the tamper-evident record; the store exists for ad-hoc querying
// (`trustgate audit tail --db`).
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	ts           TEXT NOT NULL,
	type         TEXT NOT NULL,
	severity     INTEGER NOT NULL,
	session_key  TEXT,
	sender_id    TEXT,
	channel      TEXT,
	content_hash TEXT,
	detail       TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// OpenStore opens (or creates) the SQLite event store.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one event.
func (s *Store) Record(e Event) error {
	var detail []byte
	if len(e.Detail) > 0 {
		detail, _ = json.Marshal(e.Detail)
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO events (id, ts, type, severity, session_key, sender_id, channel, content_hash, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, string(e.Type), int(e.Severity),
		e.SessionKey, e.SenderID, e.Channel, e.ContentHash, string(detail),
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Listener returns a bus listener that records into this store.
func (s *Store) Listener() Listener {
	return func(e Event) {
		if err := s.Record(e); err != nil {
			fmt.Fprintf(os.Stderr, "audit: %v\n", err)
		}
	}
}

// Recent returns up to limit events, newest first, optionally filtered
// by type.
func (s *Store) Recent(limit int, typ EventType) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, ts, type, severity, session_key, sender_id, channel, content_hash, detail
		FROM events`
	args := []any{}
	if typ != "" {
		query += ` WHERE type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var severity int
		var typ, detail string
		if err := rows.Scan(&e.ID, &e.Timestamp, &typ, &severity,
			&e.SessionKey, &e.SenderID, &e.Channel, &e.ContentHash, &detail); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		e.Type = EventType(typ)
		e.Severity = model.Severity(severity)
		if detail != "" {
			_ = json.Unmarshal([]byte(detail), &e.Detail)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
