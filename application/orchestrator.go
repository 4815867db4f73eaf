// Package application runs a hosted negotiation session through its stages:
// reading roles, negotiating, and closing with a resolved outcome.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/luca-patrignani/accord/archive"
	"github.com/luca-patrignani/accord/consensus"
	"github.com/luca-patrignani/accord/domain/negotiation"
)

// Stage is a step of the session timeline.
type Stage string

const (
	StageReadRole  Stage = "read_role"
	StageNegotiate Stage = "negotiate"
	StageClosed    Stage = "closed"
)

// Plan holds the stage durations.
type Plan struct {
	ReadRole  time.Duration
	Negotiate time.Duration
}

// DefaultPlan gives five minutes to read the role and thirty to negotiate.
func DefaultPlan() Plan {
	return Plan{ReadRole: 300 * time.Second, Negotiate: 1800 * time.Second}
}

// OutcomeRecorder is told about every resolved outcome.
type OutcomeRecorder interface {
	OutcomeResolved(ctx context.Context, out consensus.Outcome)
}

// Orchestrator drives one session on the host. It never appends events; it
// only watches the log, freezes it when the session ends and resolves the
// outcome with every party's private scoresheet.
type Orchestrator struct {
	sessionID string
	log       consensus.EventLog
	roster    consensus.Roster
	parties   []negotiation.Party
	plan      Plan
	sink      archive.Sink
	metrics   OutcomeRecorder
	logger    *slog.Logger
	now       func() time.Time
	onStage   func(Stage, time.Time)
}

type Option func(*Orchestrator)

func WithPlan(p Plan) Option {
	return func(o *Orchestrator) { o.plan = p }
}

// WithArchive stores the closed session in sink.
func WithArchive(sink archive.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithStageHook calls fn on every stage change with the time the stage ends
// (zero for StageClosed).
func WithStageHook(fn func(Stage, time.Time)) Option {
	return func(o *Orchestrator) { o.onStage = fn }
}

// NewOrchestrator checks that parties match the roster and returns an
// orchestrator for the session.
func NewOrchestrator(sessionID string, log consensus.EventLog, roster consensus.Roster, parties []negotiation.Party, opts ...Option) (*Orchestrator, error) {
	agenda, err := negotiation.ValidateParties(parties)
	if err != nil {
		return nil, fmt.Errorf("application: %w", err)
	}
	if len(parties) != roster.Size() {
		return nil, fmt.Errorf("application: %d parties for a roster of %d", len(parties), roster.Size())
	}
	for _, p := range parties {
		if _, ok := roster.Member(p.ID); !ok {
			return nil, fmt.Errorf("application: party %q is not in the roster", p.ID)
		}
	}
	if roster.Agenda != nil && !agenda.Equal(roster.Agenda) {
		return nil, fmt.Errorf("application: %w", negotiation.ErrIssueMismatch)
	}
	o := &Orchestrator{
		sessionID: sessionID,
		log:       log,
		roster:    roster,
		parties:   parties,
		plan:      DefaultPlan(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator", "session", sessionID)
	return o, nil
}

// Run plays the whole session and returns its outcome. The negotiate stage
// ends early once an agreement is finalized. If ctx ends first the log is
// left open and ctx.Err() is returned.
func (o *Orchestrator) Run(ctx context.Context) (consensus.Outcome, error) {
	if o.plan.ReadRole > 0 {
		o.enter(StageReadRole, o.plan.ReadRole)
		select {
		case <-ctx.Done():
			return consensus.Outcome{}, ctx.Err()
		case <-time.After(o.plan.ReadRole):
		}
	}
	o.enter(StageNegotiate, o.plan.Negotiate)
	if err := o.negotiate(ctx); err != nil {
		return consensus.Outcome{}, err
	}
	return o.Close(ctx)
}

func (o *Orchestrator) enter(s Stage, d time.Duration) {
	var ends time.Time
	if d > 0 {
		ends = o.now().Add(d)
	}
	o.logger.Info("stage started", "stage", s, "ends_at", ends)
	if o.onStage != nil {
		o.onStage(s, ends)
	}
}

// negotiate returns when the deadline passes or the fold reaches a final
// agreement.
func (o *Orchestrator) negotiate(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wake, err := o.log.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("application: subscribe: %w", err)
	}
	deadline := time.NewTimer(o.plan.Negotiate)
	defer deadline.Stop()

	var events []consensus.Event
	for {
		var after uint64
		if n := len(events); n > 0 {
			after = events[n-1].Seq
		}
		fresh, err := o.log.Read(ctx, after)
		if err != nil && ctx.Err() == nil {
			o.logger.Warn("read failed", "error", err)
		}
		if len(fresh) > 0 {
			events = append(events, fresh...)
			if consensus.Fold(o.roster, events).Finalized() {
				o.logger.Info("agreement finalized", "seq", events[len(events)-1].Seq)
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			o.logger.Info("negotiation deadline reached")
			return nil
		case <-wake:
		}
	}
}

// Close freezes the log, resolves the outcome and archives the session. It
// is safe to call again: a frozen log always resolves to the same outcome.
func (o *Orchestrator) Close(ctx context.Context) (consensus.Outcome, error) {
	if err := o.log.Freeze(ctx); err != nil {
		return consensus.Outcome{}, fmt.Errorf("application: freeze: %w", err)
	}
	frozenAt := o.now()
	events, err := o.log.Read(ctx, 0)
	if err != nil {
		return consensus.Outcome{}, fmt.Errorf("application: read frozen log: %w", err)
	}
	state := consensus.Fold(o.roster, events)
	out, err := consensus.Resolve(state, o.parties)
	if err != nil {
		return consensus.Outcome{}, fmt.Errorf("application: resolve: %w", err)
	}
	o.logger.Info("session closed",
		"agreement", out.Agreement,
		"proposal", out.ProposalID,
		"events", len(events),
		"dropped", len(state.Dropped),
	)
	if o.metrics != nil {
		o.metrics.OutcomeResolved(ctx, out)
	}
	if o.sink != nil {
		rec := archive.Record{
			SessionID: o.sessionID,
			Roster:    o.roster,
			Parties:   o.parties,
			Events:    events,
			Outcome:   out,
			FrozenAt:  frozenAt,
		}
		if err := o.sink.Put(ctx, rec); err != nil {
			// the outcome stands even if archiving fails
			o.logger.Error("archive failed", "error", err)
		}
	}
	o.enter(StageClosed, 0)
	return out, nil
}
