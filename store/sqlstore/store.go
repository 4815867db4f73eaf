// Package sqlstore keeps a session event log in SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luca-patrignani/accord/consensus"

	_ "modernc.org/sqlite"
)

// Store is a consensus.EventLog backed by a database/sql handle to SQLite.
// Appends run in one transaction each, so seq order is commit order.
type Store struct {
	db        *sql.DB
	sessionID string
	poll      time.Duration
}

// Open opens (or creates) the SQLite file at path.
func Open(ctx context.Context, path, sessionID string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection turns lock contention
	// into queueing.
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db, sessionID)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle, creating tables and the session row.
func New(ctx context.Context, db *sql.DB, sessionID string) (*Store, error) {
	s := &Store{db: db, sessionID: sessionID, poll: 200 * time.Millisecond}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, frozen) VALUES (?, 0) ON CONFLICT (session_id) DO NOTHING`,
		sessionID,
	); err != nil {
		return nil, fmt.Errorf("sqlstore: create session: %w", err)
	}
	return s, nil
}

// WithPollInterval sets how often Subscribe checks for new events.
func (s *Store) WithPollInterval(d time.Duration) *Store {
	s.poll = d
	return s
}

func (s *Store) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		frozen INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS events (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, seq),
		UNIQUE (session_id, event_id)
	);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, e consensus.Event) (seq uint64, err error) {
	e.Seq = 0
	body, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: marshal event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM events WHERE session_id = ? AND event_id = ?`, s.sessionID, e.ID,
	).Scan(&existing)
	switch {
	case err == nil:
		return uint64(existing), tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("sqlstore: lookup event: %w", err)
	}

	var frozen bool
	if err = tx.QueryRowContext(ctx,
		`SELECT frozen FROM sessions WHERE session_id = ?`, s.sessionID,
	).Scan(&frozen); err != nil {
		return 0, fmt.Errorf("sqlstore: read session: %w", err)
	}
	if frozen {
		err = consensus.ErrLogFrozen
		return 0, err
	}

	var next int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE session_id = ?`, s.sessionID,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("sqlstore: next seq: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO events (session_id, seq, event_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.sessionID, next, e.ID, string(body), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, fmt.Errorf("sqlstore: insert event: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlstore: commit: %w", err)
	}
	return uint64(next), nil
}

func (s *Store) Read(ctx context.Context, afterSeq uint64) ([]consensus.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, body FROM events WHERE session_id = ? AND seq > ? ORDER BY seq`,
		s.sessionID, int64(afterSeq),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: read: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []consensus.Event
	for rows.Next() {
		var seq int64
		var body string
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, err
		}
		var e consensus.Event
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("sqlstore: decode event %d: %w", seq, err)
		}
		e.Seq = uint64(seq)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Subscribe polls the table: SQLite has no change notification visible to
// other processes.
func (s *Store) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		var lastSeq int64 = -1
		lastFrozen := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			var seq int64
			var frozen bool
			err := s.db.QueryRowContext(ctx,
				`SELECT COALESCE((SELECT MAX(seq) FROM events WHERE session_id = ?), 0), frozen FROM sessions WHERE session_id = ?`,
				s.sessionID, s.sessionID,
			).Scan(&seq, &frozen)
			if err != nil {
				continue
			}
			if seq != lastSeq || frozen != lastFrozen {
				lastSeq, lastFrozen = seq, frozen
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch, nil
}

func (s *Store) Freeze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET frozen = 1 WHERE session_id = ?`, s.sessionID,
	); err != nil {
		return fmt.Errorf("sqlstore: freeze: %w", err)
	}
	return nil
}

func (s *Store) Frozen(ctx context.Context) (bool, error) {
	var frozen bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT frozen FROM sessions WHERE session_id = ?`, s.sessionID,
	).Scan(&frozen); err != nil {
		return false, fmt.Errorf("sqlstore: read session: %w", err)
	}
	return frozen, nil
}
