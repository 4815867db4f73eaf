// Package redisstore keeps a session event log in a Redis stream. The seq of
// an event is the millisecond part of its stream id, so XRANGE returns
// events in seq order.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luca-patrignani/accord/consensus"
)

// appendScript stores an event atomically.
// KEYS[1] = seq counter
// KEYS[2] = event id -> seq hash
// KEYS[3] = frozen flag
// KEYS[4] = event stream
// ARGV[1] = event id
// ARGV[2] = encoded event
// Returns {status, seq}: 0 already stored, 1 frozen, 2 appended.
var appendScript = redis.NewScript(`
local existing = redis.call("HGET", KEYS[2], ARGV[1])
if existing then
    return {0, tonumber(existing)}
end
if redis.call("EXISTS", KEYS[3]) == 1 then
    return {1, 0}
end
local seq = redis.call("INCR", KEYS[1])
redis.call("XADD", KEYS[4], seq .. "-1", "event", ARGV[2])
redis.call("HSET", KEYS[2], ARGV[1], seq)
return {2, seq}
`)

// Store is a consensus.EventLog backed by Redis.
type Store struct {
	client *redis.Client
	prefix string
	block  time.Duration
}

// New creates a store for sessionID on an existing client.
func New(client *redis.Client, sessionID string) *Store {
	return &Store{client: client, prefix: "accord:" + sessionID, block: time.Second}
}

// Open connects to addr and checks the connection.
func Open(ctx context.Context, addr, password string, db int, sessionID string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", addr, err)
	}
	return New(rdb, sessionID), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	return s.prefix + ":" + name
}

func (s *Store) Append(ctx context.Context, e consensus.Event) (uint64, error) {
	e.Seq = 0
	body, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	keys := []string{s.key("seq"), s.key("ids"), s.key("frozen"), s.key("events")}
	res, err := appendScript.Run(ctx, s.client, keys, e.ID, string(body)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: append: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return 0, fmt.Errorf("redisstore: invalid response from append script")
	}
	status, _ := results[0].(int64)
	seq, _ := results[1].(int64)
	if status == 1 {
		return 0, consensus.ErrLogFrozen
	}
	return uint64(seq), nil
}

func (s *Store) Read(ctx context.Context, afterSeq uint64) ([]consensus.Event, error) {
	msgs, err := s.client.XRange(ctx, s.key("events"), fmt.Sprintf("%d-2", afterSeq), "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: read: %w", err)
	}
	return decode(msgs)
}

func decode(msgs []redis.XMessage) ([]consensus.Event, error) {
	events := make([]consensus.Event, 0, len(msgs))
	for _, m := range msgs {
		seq, err := seqOf(m.ID)
		if err != nil {
			return nil, err
		}
		raw, _ := m.Values["event"].(string)
		var e consensus.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("redisstore: decode event %d: %w", seq, err)
		}
		e.Seq = seq
		events = append(events, e)
	}
	return events, nil
}

func seqOf(streamID string) (uint64, error) {
	ms, _, _ := strings.Cut(streamID, "-")
	seq, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redisstore: bad stream id %q", streamID)
	}
	return seq, nil
}

// Subscribe blocks on XREAD in the background, so appends made by any
// process sharing the Redis instance wake the subscriber. The cursors are
// taken before it returns, so nothing appended afterwards is missed.
func (s *Store) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	keys := []string{s.key("events"), s.key("notify")}
	cursors := make([]string, len(keys))
	for i, k := range keys {
		last, err := s.lastID(ctx, k)
		if err != nil {
			return nil, err
		}
		cursors[i] = last
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: append(append([]string{}, keys...), cursors...),
				Block:   s.block,
				Count:   100,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(s.block)
				continue
			}
			for _, st := range streams {
				n := len(st.Messages)
				if n == 0 {
					continue
				}
				for i, k := range keys {
					if st.Stream == k {
						cursors[i] = st.Messages[n-1].ID
					}
				}
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch, nil
}

// lastID returns the newest id of stream key, or 0-0 when it is empty.
func (s *Store) lastID(ctx context.Context, key string) (string, error) {
	msgs, err := s.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("redisstore: subscribe: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// Freeze sets the frozen flag and posts to the notify stream so blocked
// subscribers see the change.
func (s *Store) Freeze(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("frozen"), 1, 0)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.key("notify"),
			Values: map[string]interface{}{"frozen": 1},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: freeze: %w", err)
	}
	return nil
}

func (s *Store) Frozen(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.key("frozen")).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: frozen: %w", err)
	}
	return n == 1, nil
}
