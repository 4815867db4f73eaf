package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"

	"github.com/luca-patrignani/accord/consensus"
)

// Log is an in-memory consensus.EventLog.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]uint64
	frozen  bool
	subs    map[chan struct{}]struct{}
	now     func() time.Time
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		entries: make([]Entry, 0),
		byID:    make(map[string]uint64),
		subs:    make(map[chan struct{}]struct{}),
		now:     time.Now,
	}
}

// Append assigns the next seq to e and links it into the chain. An event id
// that is already stored yields its original seq and changes nothing.
func (l *Log) Append(_ context.Context, e consensus.Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if seq, ok := l.byID[e.ID]; ok && e.ID != "" {
		return seq, nil
	}
	if l.frozen {
		return 0, consensus.ErrLogFrozen
	}

	prev := genesisHash
	if len(l.entries) > 0 {
		prev = l.entries[len(l.entries)-1].Hash
	}
	e.Seq = uint64(len(l.entries)) + 1
	entry := Entry{
		Event:     e,
		Timestamp: l.now().UnixNano(),
		PrevHash:  prev,
	}
	hash, err := calculateHash(entry)
	if err != nil {
		return 0, fmt.Errorf("ledger: hash entry: %w", err)
	}
	entry.Hash = hash

	l.entries = append(l.entries, entry)
	if e.ID != "" {
		l.byID[e.ID] = e.Seq
	}
	l.notify()
	return e.Seq, nil
}

// Read returns the events after afterSeq.
func (l *Log) Read(_ context.Context, afterSeq uint64) ([]consensus.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if afterSeq >= uint64(len(l.entries)) {
		return nil, nil
	}
	out := make([]consensus.Event, 0, uint64(len(l.entries))-afterSeq)
	for _, entry := range l.entries[afterSeq:] {
		out = append(out, entry.Event)
	}
	return out, nil
}

// Subscribe returns a channel woken after every append and on freeze.
// Wake-ups coalesce: a slow reader sees one signal for many appends.
func (l *Log) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, ch)
		l.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// notify must be called with l.mu held.
func (l *Log) notify() {
	for ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Freeze stops accepting appends. Reads keep working.
func (l *Log) Freeze(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.frozen {
		l.frozen = true
		l.notify()
	}
	return nil
}

func (l *Log) Frozen(context.Context) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen, nil
}

// Len returns the number of stored events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// GetLatest returns the most recent entry.
func (l *Log) GetLatest() (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return Entry{}, fmt.Errorf("log is empty")
	}
	return l.entries[len(l.entries)-1], nil
}

// GetBySeq retrieves the entry with the given seq.
func (l *Log) GetBySeq(seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("seq %d out of range", seq)
	}
	return l.entries[seq-1], nil
}

// Verify validates the integrity of the entire chain: seq continuity, hash
// links and entry hashes.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := Entry{Hash: genesisHash}
	for i, current := range l.entries {
		if err := validateEntry(current, prev, uint64(i)+1); err != nil {
			return fmt.Errorf("entry %d invalid: %w", i+1, err)
		}
		prev = current
	}
	return nil
}

func validateEntry(current, previous Entry, wantSeq uint64) error {
	if current.Event.Seq != wantSeq {
		return fmt.Errorf("invalid seq: expected %d, got %d", wantSeq, current.Event.Seq)
	}
	if current.PrevHash != previous.Hash {
		return fmt.Errorf("invalid prev hash: expected %s, got %s", previous.Hash, current.PrevHash)
	}
	expected, err := calculateHash(current)
	if err != nil {
		return err
	}
	if current.Hash != expected {
		return fmt.Errorf("invalid hash: expected %s, got %s", expected, current.Hash)
	}
	return nil
}

// calculateHash computes BLAKE2b-256 over the seq, timestamp, previous hash
// and the canonical JSON of the event.
func calculateHash(entry Entry) (string, error) {
	raw, err := json.Marshal(entry.Event)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(h, "%d|%d|%s|", entry.Event.Seq, entry.Timestamp, entry.PrevHash)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
