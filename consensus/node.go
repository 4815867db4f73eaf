package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

// Node is one party's view of a negotiation session. It keeps the events it
// has read from the shared log, folds them into a LedgerState and offers the
// protocol operations of that party.
//
// A Node never decides anything on its own: its checks only spare the user an
// append that the fold would ignore anyway.
type Node struct {
	self   negotiation.Party
	keys   *KeyPair
	roster Roster
	log    EventLog
	known  []negotiation.Party
	logger *slog.Logger
	rec    Recorder

	mu       sync.RWMutex
	events   []Event
	state    LedgerState
	reported int
}

// Option configures a Node.
type Option func(*Node)

// WithKeyPair makes the node sign every event it appends.
func WithKeyPair(kp KeyPair) Option {
	return func(n *Node) { n.keys = &kp }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(n *Node) { n.rec = r }
}

// WithKnownParties adds parties whose private data this node may see, so
// ResolveOutcome can report their payoffs too. A session host passes every
// party here.
func WithKnownParties(parties ...negotiation.Party) Option {
	return func(n *Node) {
		for _, p := range parties {
			if p.ID != n.self.ID {
				n.known = append(n.known, p)
			}
		}
	}
}

// NewNode creates the protocol facade for party self.
//
// Parameters:
//   - self: the local party, with its private scoresheet
//   - roster: every party of the session; its size is the unanimity threshold
//   - log: the shared event log
//
// The local party must be a roster member and, if the roster carries a public
// key for it, a matching key pair must be supplied with WithKeyPair.
func NewNode(self negotiation.Party, roster Roster, log EventLog, opts ...Option) (*Node, error) {
	n := &Node{
		self:   self,
		roster: roster,
		log:    log,
		logger: slog.Default(),
		rec:    nopRecorder{},
		state:  LedgerState{History: []ProposalRecord{}},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "consensus", "party", self.ID)

	m, ok := roster.Member(self.ID)
	if !ok {
		return nil, fmt.Errorf("consensus: party %q is not in the roster", self.ID)
	}
	if m.PublicKey != nil {
		if n.keys == nil {
			return nil, fmt.Errorf("consensus: roster has a key for %q but no key pair was given", self.ID)
		}
		if !m.PublicKey.Equal(n.keys.Public) {
			return nil, fmt.Errorf("consensus: key pair does not match roster key of %q", self.ID)
		}
	}
	if self.Scoresheet != nil && roster.Agenda != nil && !self.Scoresheet.Agenda().Equal(roster.Agenda) {
		return nil, fmt.Errorf("%w: %s", negotiation.ErrIssueMismatch, self.ID)
	}
	return n, nil
}

// ID returns the local party id.
func (n *Node) ID() string { return n.self.ID }

// Roster returns the session roster.
func (n *Node) Roster() Roster { return n.roster }

// CurrentState returns a copy of the fold of the last observed log.
func (n *Node) CurrentState() LedgerState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.Clone()
}

// Events returns a copy of the events observed so far.
func (n *Node) Events() []Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}

// Sync reads the events appended since the last observed seq and refolds.
func (n *Node) Sync(ctx context.Context) (LedgerState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var after uint64
	if len(n.events) > 0 {
		after = n.events[len(n.events)-1].Seq
	}
	fresh, err := n.log.Read(ctx, after)
	if err != nil {
		return n.state.Clone(), fmt.Errorf("consensus: sync: %w", err)
	}
	if len(fresh) == 0 {
		return n.state.Clone(), nil
	}
	n.events = append(n.events, fresh...)
	n.state = Fold(n.roster, n.events)
	for _, d := range n.state.Dropped[n.reported:] {
		n.logger.DebugContext(ctx, "event dropped by fold", "seq", d.Seq, "id", d.ID, "reason", d.Reason)
		n.rec.EventDropped(ctx, DropReason(d.Reason))
	}
	n.reported = len(n.state.Dropped)
	return n.state.Clone(), nil
}

// Run follows the log until ctx is done, calling onChange every time the
// observed state advances. It returns nil when the subscription ends.
func (n *Node) Run(ctx context.Context, onChange func(LedgerState)) error {
	wake, err := n.log.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("consensus: subscribe: %w", err)
	}
	last := n.CurrentState().LastSeq
	step := func() error {
		state, err := n.Sync(ctx)
		if err != nil {
			return err
		}
		if state.LastSeq != last {
			last = state.LastSeq
			if onChange != nil {
				onChange(state)
			}
		}
		return nil
	}
	if err := step(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-wake:
			if !ok {
				return nil
			}
			if err := step(); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				n.logger.WarnContext(ctx, "sync failed", "error", err)
			}
		}
	}
}

// ResolveOutcome syncs and resolves the outcome for the parties this node
// knows. Once the log is frozen it always returns the same value.
func (n *Node) ResolveOutcome(ctx context.Context) (Outcome, error) {
	state, err := n.Sync(ctx)
	if err != nil {
		return Outcome{}, err
	}
	parties := append([]negotiation.Party{n.self}, n.known...)
	return Resolve(state, parties)
}

// Evaluate scores sel against the local scoresheet.
func (n *Node) Evaluate(sel negotiation.Selection) (negotiation.Evaluation, error) {
	return n.self.Evaluate(sel)
}
