// Package boltstore keeps session event logs in a BoltDB file. Each session
// gets its own bucket holding the events keyed by seq, an id index and a
// frozen flag.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/boltdb/bolt"

	"github.com/luca-patrignani/accord/consensus"
)

var (
	eventsBucket = []byte("Events")
	idsBucket    = []byte("EventIDs")
	frozenKey    = []byte("frozen")
)

// Store is a consensus.EventLog for one session inside a Bolt database.
// Bolt allows a single writer, so seq assignment inside Update is atomic.
type Store struct {
	db        *bolt.DB
	sessionID []byte

	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// Open opens the Bolt file at path and prepares the buckets of sessionID.
func Open(path, sessionID string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	s := &Store{db: db, sessionID: []byte(sessionID), subs: make(map[chan struct{}]struct{})}
	err = db.Update(func(btx *bolt.Tx) error {
		session, err := btx.CreateBucketIfNotExists(s.sessionID)
		if err != nil {
			return fmt.Errorf("failed to create session bucket: %v", err)
		}
		if _, err := session.CreateBucketIfNotExists(eventsBucket); err != nil {
			return err
		}
		_, err = session.CreateBucketIfNotExists(idsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func (s *Store) Append(_ context.Context, e consensus.Event) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(btx *bolt.Tx) error {
		session := btx.Bucket(s.sessionID)
		ids := session.Bucket(idsBucket)
		if existing := ids.Get([]byte(e.ID)); existing != nil {
			seq = binary.BigEndian.Uint64(existing)
			return nil
		}
		if session.Get(frozenKey) != nil {
			return consensus.ErrLogFrozen
		}
		events := session.Bucket(eventsBucket)
		next, err := events.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = next
		body, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := events.Put(seqKey(next), body); err != nil {
			return err
		}
		if err := ids.Put([]byte(e.ID), seqKey(next)); err != nil {
			return err
		}
		seq = next
		return nil
	})
	if err != nil {
		if err == consensus.ErrLogFrozen {
			return 0, err
		}
		return 0, fmt.Errorf("boltstore: append: %w", err)
	}
	s.notify()
	return seq, nil
}

func (s *Store) Read(_ context.Context, afterSeq uint64) ([]consensus.Event, error) {
	var events []consensus.Event
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(s.sessionID).Bucket(eventsBucket).Cursor()
		for k, v := c.Seek(seqKey(afterSeq + 1)); k != nil; k, v = c.Next() {
			var e consensus.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: read: %w", err)
	}
	return events, nil
}

// Subscribe wakes on appends made through this Store. The Bolt file lock
// keeps other processes out, so no other writer exists.
func (s *Store) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) Freeze(context.Context) error {
	err := s.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(s.sessionID).Put(frozenKey, []byte{1})
	})
	if err != nil {
		return fmt.Errorf("boltstore: freeze: %w", err)
	}
	s.notify()
	return nil
}

func (s *Store) Frozen(context.Context) (bool, error) {
	frozen := false
	err := s.db.View(func(btx *bolt.Tx) error {
		frozen = btx.Bucket(s.sessionID).Get(frozenKey) != nil
		return nil
	})
	return frozen, err
}
