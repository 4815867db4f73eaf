// Package pgstore keeps session event logs in PostgreSQL, for sessions whose
// parties run on different hosts but share a database.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luca-patrignani/accord/consensus"
)

const notifyChannel = "accord_events"

const schema = `
CREATE TABLE IF NOT EXISTS accord_sessions (
	session_id TEXT PRIMARY KEY,
	last_seq BIGINT NOT NULL DEFAULT 0,
	frozen BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS accord_events (
	session_id TEXT NOT NULL REFERENCES accord_sessions (session_id),
	seq BIGINT NOT NULL,
	event_id TEXT NOT NULL,
	body JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, seq),
	UNIQUE (session_id, event_id)
);`

// Store is a consensus.EventLog on a pgx pool. Seq values come from a
// counter row locked by every append, so they are handed out in commit
// order.
type Store struct {
	pool      *pgxpool.Pool
	sessionID string
}

// NewPool constructs a pgx connection pool using the provided connection string.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, fmt.Errorf("pgstore: empty connection string")
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse config: %w", err)
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// New creates the tables if needed and registers sessionID.
func New(ctx context.Context, pool *pgxpool.Pool, sessionID string) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}
	if _, err := pool.Exec(ctx,
		`INSERT INTO accord_sessions (session_id) VALUES ($1) ON CONFLICT (session_id) DO NOTHING`,
		sessionID,
	); err != nil {
		return nil, fmt.Errorf("pgstore: create session: %w", err)
	}
	return &Store{pool: pool, sessionID: sessionID}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) existingSeq(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, eventID string) (uint64, bool, error) {
	var seq int64
	err := q.QueryRow(ctx,
		`SELECT seq FROM accord_events WHERE session_id = $1 AND event_id = $2`,
		s.sessionID, eventID,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(seq), true, nil
}

func (s *Store) Append(ctx context.Context, e consensus.Event) (uint64, error) {
	if seq, ok, err := s.existingSeq(ctx, s.pool, e.ID); err != nil {
		return 0, fmt.Errorf("pgstore: lookup event: %w", err)
	} else if ok {
		return seq, nil
	}

	seq, err := s.insert(ctx, e)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// a concurrent append of the same event won
		existing, ok, lookupErr := s.existingSeq(ctx, s.pool, e.ID)
		if lookupErr == nil && ok {
			return existing, nil
		}
	}
	if errors.Is(err, consensus.ErrLogFrozen) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: append: %w", err)
	}
	return seq, nil
}

func (s *Store) insert(ctx context.Context, e consensus.Event) (uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var next int64
	err = tx.QueryRow(ctx,
		`UPDATE accord_sessions SET last_seq = last_seq + 1
		 WHERE session_id = $1 AND NOT frozen RETURNING last_seq`,
		s.sessionID,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, consensus.ErrLogFrozen
	}
	if err != nil {
		return 0, err
	}

	e.Seq = uint64(next)
	body, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO accord_events (session_id, seq, event_id, body) VALUES ($1, $2, $3, $4)`,
		s.sessionID, next, e.ID, body,
	); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, s.sessionID); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return e.Seq, nil
}

func (s *Store) Read(ctx context.Context, afterSeq uint64) ([]consensus.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, body FROM accord_events WHERE session_id = $1 AND seq > $2 ORDER BY seq`,
		s.sessionID, int64(afterSeq),
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: read: %w", err)
	}
	defer rows.Close()

	var events []consensus.Event
	for rows.Next() {
		var (
			seq  int64
			body []byte
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		var e consensus.Event
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("pgstore: decode event %d: %w", seq, err)
		}
		e.Seq = uint64(seq)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Subscribe holds a pooled connection listening on the notify channel until
// ctx is done.
func (s *Store) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgstore: acquire: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("pgstore: listen: %w", err)
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer func() {
			// the connection still listens; drop it instead of returning it
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return
			}
			if n.Payload != s.sessionID {
				continue
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch, nil
}

func (s *Store) Freeze(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`WITH f AS (UPDATE accord_sessions SET frozen = TRUE WHERE session_id = $1 RETURNING session_id)
		 SELECT pg_notify($2, session_id) FROM f`,
		s.sessionID, notifyChannel)
	if err != nil {
		return fmt.Errorf("pgstore: freeze: %w", err)
	}
	return nil
}

func (s *Store) Frozen(ctx context.Context) (bool, error) {
	var frozen bool
	err := s.pool.QueryRow(ctx,
		`SELECT frozen FROM accord_sessions WHERE session_id = $1`, s.sessionID).Scan(&frozen)
	if err != nil {
		return false, fmt.Errorf("pgstore: frozen: %w", err)
	}
	return frozen, nil
}
