// Package session persists conversation transcripts and tool activity to a
// SQLite database, one session row per process run. Secrets are redacted
// before anything touches disk.
package session

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/luaclaw/luaclaw/internal/agent"
)

const busyTimeoutMillis = 5000

// Message is one persisted conversation turn.
type Message struct {
	Seq     int
	Role    string
	Content string
}

// Store records one session. Implements agent.Recorder.
type Store struct {
	db        *sql.DB
	sessionID string
}

// Open creates (or reuses) the database at path and starts a new session.
// The database uses WAL mode, a 5 s busy timeout, and a single connection
// (SQLite serialises writes).
func Open(path string, allowWrites bool) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("session: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: enable WAL: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMillis)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: set busy_timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	id, err := createSession(db, allowWrites)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, sessionID: id}, nil
}

// createSession inserts a unique session row. IDs follow the
// session-<unix>-<pid> scheme; a numeric suffix resolves collisions.
func createSession(db *sql.DB, allowWrites bool) (string, error) {
	base := fmt.Sprintf("session-%d-%d", time.Now().Unix(), os.Getpid())
	writes := 0
	if allowWrites {
		writes = 1
	}

	id := base
	for attempt := 2; ; attempt++ {
		_, err := db.Exec("INSERT INTO sessions (id, allow_writes) VALUES (?, ?)", id, writes)
		if err == nil {
			return id, nil
		}
		if attempt > 10 {
			return "", fmt.Errorf("session: create session row: %w", err)
		}
		id = fmt.Sprintf("%s-%d", base, attempt)
	}
}

// SessionID returns the identifier of the session being recorded.
func (s *Store) SessionID() string { return s.sessionID }

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

// RecordMessage implements agent.Recorder.
func (s *Store) RecordMessage(role, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (session_id, seq, role, content)
		VALUES (?, COALESCE((SELECT MAX(seq) FROM messages WHERE session_id = ?), 0) + 1, ?, ?)`,
		s.sessionID, s.sessionID, role, Redact(content),
	)
	if err != nil {
		return fmt.Errorf("session: record message: %w", err)
	}
	return nil
}

// RecordToolLog implements agent.Recorder. Re-recording an entry id replaces
// the stored row, so a log entry's final state wins.
func (s *Store) RecordToolLog(entry agent.ToolLogEntry) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tool_logs (session_id, entry_id, title, status, detail)
		VALUES (?, ?, ?, ?, ?)`,
		s.sessionID, entry.ID, Redact(entry.Title), string(entry.Status), Redact(entry.Detail),
	)
	if err != nil {
		return fmt.Errorf("session: record tool log: %w", err)
	}
	return nil
}

// Messages returns the session transcript in chronological order.
func (s *Store) Messages() ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT seq, role, content FROM messages
		WHERE session_id = ? ORDER BY seq ASC`, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("session: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: message rows: %w", err)
	}
	return msgs, nil
}

// ToolLogs returns the session's tool log entries ordered by entry id.
func (s *Store) ToolLogs() ([]agent.ToolLogEntry, error) {
	rows, err := s.db.Query(`
		SELECT entry_id, title, status, detail FROM tool_logs
		WHERE session_id = ? ORDER BY entry_id ASC`, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: load tool logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []agent.ToolLogEntry
	for rows.Next() {
		var e agent.ToolLogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.Title, &status, &e.Detail); err != nil {
			return nil, fmt.Errorf("session: scan tool log: %w", err)
		}
		e.Status = agent.ToolStatus(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: tool log rows: %w", err)
	}
	return entries, nil
}

// Compile-time interface assertion.
var _ agent.Recorder = (*Store)(nil)
