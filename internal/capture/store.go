// Package capture persists and replays full adapter command/reply sessions
// so the engine, UDS, and ISO-TP layers can be exercised in tests and demos
// without real ELM327 hardware attached.
package capture

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

// Exchange is one recorded command/reply pair within a session, in the
// order it was observed on the wire.
type Exchange struct {
	Seq       int
	Command   string
	Reply     string
	Timestamp time.Time
}

// Store is a SQLite-backed archive of capture sessions.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) a SQLite database at dbPath and
// ensures its schema exists.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", dbPath, err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exchanges (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			command TEXT NOT NULL,
			reply TEXT NOT NULL,
			recorded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("capture: create schema: %w", err)
		}
	}
	return nil
}

// NewSession inserts a new session row and returns its generated id.
func (s *Store) NewSession(label string) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.Exec(`INSERT INTO sessions (id, label, started_at) VALUES (?, ?, ?)`, id, label, time.Now()); err != nil {
		return "", fmt.Errorf("capture: create session: %w", err)
	}
	return id, nil
}

// RecordExchange appends one command/reply pair to a session.
func (s *Store) RecordExchange(sessionID string, seq int, command, reply string, ts time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO exchanges (session_id, seq, command, reply, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, seq, command, reply, ts,
	)
	if err != nil {
		return fmt.Errorf("capture: record exchange: %w", err)
	}
	return nil
}

// LoadSession returns every exchange of a session in recorded order.
func (s *Store) LoadSession(sessionID string) ([]Exchange, error) {
	rows, err := s.db.Query(`SELECT seq, command, reply, recorded_at FROM exchanges WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("capture: load session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.Seq, &e.Command, &e.Reply, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("capture: scan exchange: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	return nil
}
