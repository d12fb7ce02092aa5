// Package sqlite is a [history.Store] in a local SQLite file, using the pure
// Go modernc.org/sqlite driver so the binary needs no cgo for storage.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/MrWong99/lexicoach/internal/history"
	"github.com/MrWong99/lexicoach/internal/transcript"
)

// Schema creates the tables if they do not exist. Times are unix
// milliseconds; learner, words and used_words are JSON.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER NOT NULL,
	learner    TEXT NOT NULL DEFAULT '{}',
	scene      TEXT NOT NULL DEFAULT '',
	words      TEXT NOT NULL DEFAULT '[]',
	used_words TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	text       TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// Store is a [history.Store] backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ history.Store = (*Store)(nil)

// DefaultPath returns the default database location in the user's config
// directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "lexicoach", "history.sqlite")
}

// Open opens or creates the database at path and applies [Schema]. path may
// also be a full "file:" DSN or ":memory:".
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history/sqlite: create directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history/sqlite: open: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history/sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history/sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession implements [history.Store].
func (s *Store) SaveSession(ctx context.Context, r history.Record) error {
	learner, err := json.Marshal(r.Learner)
	if err != nil {
		return fmt.Errorf("history/sqlite: marshal learner: %w", err)
	}
	words, err := json.Marshal(history.NonNil(r.Words))
	if err != nil {
		return fmt.Errorf("history/sqlite: marshal words: %w", err)
	}
	used, err := json.Marshal(history.NonNil(r.UsedWords))
	if err != nil {
		return fmt.Errorf("history/sqlite: marshal used words: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history/sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, ended_at, learner, scene, words, used_words)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UnixMilli(), r.EndedAt.UnixMilli(),
		string(learner), r.Scene, string(words), string(used),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("%w: %s", history.ErrDuplicate, r.ID)
		}
		return fmt.Errorf("history/sqlite: insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (session_id, seq, role, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history/sqlite: prepare messages: %w", err)
	}
	defer stmt.Close()
	for i, m := range r.Messages {
		if _, err := stmt.ExecContext(ctx, r.ID, i, string(m.Role), m.Text); err != nil {
			return fmt.Errorf("history/sqlite: insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history/sqlite: commit: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, learner, scene, words, used_words
		FROM sessions
		ORDER BY started_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history/sqlite: query sessions: %w", err)
	}
	defer rows.Close()

	var records []history.Record
	for rows.Next() {
		var (
			r                      history.Record
			started, ended         int64
			learner, words, usedJS string
		)
		if err := rows.Scan(&r.ID, &started, &ended, &learner, &r.Scene, &words, &usedJS); err != nil {
			return nil, fmt.Errorf("history/sqlite: scan session: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.EndedAt = time.UnixMilli(ended)
		if err := errors.Join(
			json.Unmarshal([]byte(learner), &r.Learner),
			json.Unmarshal([]byte(words), &r.Words),
			json.Unmarshal([]byte(usedJS), &r.UsedWords),
		); err != nil {
			return nil, fmt.Errorf("history/sqlite: decode session %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history/sqlite: iterate sessions: %w", err)
	}
	rows.Close()

	for i := range records {
		msgs, err := s.messages(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Messages = msgs
	}
	return records, nil
}

func (s *Store) messages(ctx context.Context, sessionID string) ([]transcript.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, text FROM messages
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history/sqlite: query messages: %w", err)
	}
	defer rows.Close()

	var msgs []transcript.ChatMessage
	for rows.Next() {
		var m transcript.ChatMessage
		var role string
		if err := rows.Scan(&role, &m.Text); err != nil {
			return nil, fmt.Errorf("history/sqlite: scan message: %w", err)
		}
		m.Role = transcript.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func isPrimaryKeyViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
