// Package eventlog persists observer events in SQLite so clients can
// replay a session after reconnecting.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/martinemde/toolloop/agentloop"
)

// Record is a stored event with its log position.
type Record struct {
	ID    int64           `json:"id"`
	Event agentloop.Event `json:"event"`
}

// Store is an append-only event log.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			prompt_id  TEXT NOT NULL DEFAULT '',
			type       TEXT NOT NULL,
			data       TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_session_id
			ON events(session_id, id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores ev and returns its ID. IDs increase monotonically.
func (s *Store) Append(ctx context.Context, ev agentloop.Event) (int64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encoding event: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, prompt_id, type, data, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, ev.PromptID, string(ev.Kind), string(data), ev.Timestamp.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Since returns the events of a session with an ID greater than afterID,
// oldest first.
func (s *Store) Since(ctx context.Context, sessionID string, afterID int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM events
		 WHERE session_id = ? AND id > ?
		 ORDER BY id ASC`,
		sessionID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var data string
		if err := rows.Scan(&r.ID, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &r.Event); err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Turn summarizes one prompt of a session.
type Turn struct {
	PromptID string              `json:"prompt_id"`
	Events   int                 `json:"events"`
	Outcome  agentloop.EventKind `json:"outcome,omitempty"` // terminal event, empty while running
}

// Turns lists the prompts of a session in the order they started.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt_id, COUNT(*),
		        COALESCE(MAX(CASE WHEN type IN ('finished', 'cancelled', 'error') THEN type END), '')
		 FROM events
		 WHERE session_id = ? AND prompt_id != ''
		 GROUP BY prompt_id
		 ORDER BY MIN(id) ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var outcome string
		if err := rows.Scan(&t.PromptID, &t.Events, &outcome); err != nil {
			return nil, err
		}
		t.Outcome = agentloop.EventKind(outcome)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
