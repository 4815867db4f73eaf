// Package store opens the event log backend named in the configuration.
package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/luca-patrignani/accord/config"
	"github.com/luca-patrignani/accord/consensus"
	"github.com/luca-patrignani/accord/ledger"
	"github.com/luca-patrignani/accord/store/boltstore"
	"github.com/luca-patrignani/accord/store/pgstore"
	"github.com/luca-patrignani/accord/store/redisstore"
	"github.com/luca-patrignani/accord/store/sqlstore"
)

// Log is an event log that may hold resources to release.
type Log interface {
	consensus.EventLog
	io.Closer
}

type nopCloser struct{ consensus.EventLog }

func (nopCloser) Close() error { return nil }

type pgCloser struct{ *pgstore.Store }

func (c pgCloser) Close() error {
	c.Store.Close()
	return nil
}

// Open returns the log of sessionID on the configured backend.
func Open(ctx context.Context, cfg config.Store, sessionID string) (Log, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return nopCloser{ledger.NewLog()}, nil
	case "sqlite":
		s, err := sqlstore.Open(ctx, cfg.Path, sessionID)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "bolt":
		s, err := boltstore.Open(cfg.Path, sessionID)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := redisstore.Open(ctx, cfg.DSN, cfg.Password, 0, sessionID)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		s, err := pgstore.New(ctx, pool, sessionID)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return pgCloser{s}, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
