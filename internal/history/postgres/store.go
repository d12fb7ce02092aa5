// Package postgres is a [history.Store] backed by PostgreSQL via pgx.
//
// Structured fields (learner profile, word lists) are stored as JSONB so
// they can be queried ad hoc without a schema change.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lexicoach/internal/history"
	"github.com/MrWong99/lexicoach/internal/transcript"
)

// Schema is the SQL DDL for the history tables. [Store.Migrate] applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS lexicoach_sessions (
    id          TEXT PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ NOT NULL,
    learner     JSONB NOT NULL DEFAULT '{}',
    scene       TEXT NOT NULL DEFAULT '',
    words       JSONB NOT NULL DEFAULT '[]',
    used_words  JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_lexicoach_sessions_started ON lexicoach_sessions(started_at DESC);

CREATE TABLE IF NOT EXISTS lexicoach_messages (
    session_id  TEXT NOT NULL REFERENCES lexicoach_sessions(id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    role        TEXT NOT NULL,
    text        TEXT NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// Store is a [history.Store] backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ history.Store = (*Store)(nil)

// New connects to dsn, verifies the connection and applies [Schema].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history/postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history/postgres: ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema]. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history/postgres: migrate: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// SaveSession implements [history.Store]. The session row and its messages
// are written in one transaction; messages use COPY.
func (s *Store) SaveSession(ctx context.Context, r history.Record) error {
	learner, err := json.Marshal(r.Learner)
	if err != nil {
		return fmt.Errorf("history/postgres: marshal learner: %w", err)
	}
	words, err := json.Marshal(history.NonNil(r.Words))
	if err != nil {
		return fmt.Errorf("history/postgres: marshal words: %w", err)
	}
	used, err := json.Marshal(history.NonNil(r.UsedWords))
	if err != nil {
		return fmt.Errorf("history/postgres: marshal used words: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history/postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO lexicoach_sessions (id, started_at, ended_at, learner, scene, words, used_words)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.StartedAt, r.EndedAt, learner, r.Scene, words, used,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", history.ErrDuplicate, r.ID)
		}
		return fmt.Errorf("history/postgres: insert session: %w", err)
	}

	if len(r.Messages) > 0 {
		rows := make([][]any, len(r.Messages))
		for i, m := range r.Messages {
			rows[i] = []any{r.ID, int32(i), string(m.Role), m.Text}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"lexicoach_messages"},
			[]string{"session_id", "seq", "role", "text"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("history/postgres: copy messages: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("history/postgres: commit: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, ended_at, learner, scene, words, used_words
		FROM lexicoach_sessions
		ORDER BY started_at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history/postgres: query sessions: %w", err)
	}
	defer rows.Close()

	var (
		records []history.Record
		ids     []string
		index   = make(map[string]int)
	)
	for rows.Next() {
		var (
			r                     history.Record
			started, ended        time.Time
			learner, words, usedJ []byte
		)
		if err := rows.Scan(&r.ID, &started, &ended, &learner, &r.Scene, &words, &usedJ); err != nil {
			return nil, fmt.Errorf("history/postgres: scan session: %w", err)
		}
		r.StartedAt, r.EndedAt = started, ended
		if err := errors.Join(
			json.Unmarshal(learner, &r.Learner),
			json.Unmarshal(words, &r.Words),
			json.Unmarshal(usedJ, &r.UsedWords),
		); err != nil {
			return nil, fmt.Errorf("history/postgres: decode session %s: %w", r.ID, err)
		}
		index[r.ID] = len(records)
		ids = append(ids, r.ID)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history/postgres: iterate sessions: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	msgRows, err := s.pool.Query(ctx, `
		SELECT session_id, role, text
		FROM lexicoach_messages
		WHERE session_id = ANY($1)
		ORDER BY session_id, seq`, ids)
	if err != nil {
		return nil, fmt.Errorf("history/postgres: query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var id, role, text string
		if err := msgRows.Scan(&id, &role, &text); err != nil {
			return nil, fmt.Errorf("history/postgres: scan message: %w", err)
		}
		i := index[id]
		records[i].Messages = append(records[i].Messages, transcript.ChatMessage{
			Role: transcript.Role(role),
			Text: text,
		})
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("history/postgres: iterate messages: %w", err)
	}
	return records, nil
}

// isDuplicateKeyError reports a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
