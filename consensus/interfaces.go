package consensus

import (
	"context"
	"errors"
)

// ErrLogFrozen is returned by EventLog.Append once the log no longer accepts
// events.
var ErrLogFrozen = errors.New("consensus: log is frozen")

// EventLog is the shared, totally ordered log the protocol runs on.
// Implementations must assign strictly increasing seq values on Append and
// never reorder or remove events.
type EventLog interface {
	// Append stores e and returns its seq. Appending an event whose id is
	// already stored returns the existing seq.
	Append(ctx context.Context, e Event) (uint64, error)

	// Read returns the events with seq greater than afterSeq, in seq order.
	Read(ctx context.Context, afterSeq uint64) ([]Event, error)

	// Subscribe returns a channel that receives a value whenever new events
	// may be available. It is closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan struct{}, error)

	// Freeze makes the log read-only.
	Freeze(ctx context.Context) error

	// Frozen reports whether Freeze has been called.
	Frozen(ctx context.Context) (bool, error)
}

// Recorder receives protocol measurements. observability.Provider implements
// it with OpenTelemetry counters.
type Recorder interface {
	EventAppended(ctx context.Context, t EventType)
	EventDropped(ctx context.Context, reason DropReason)
	ProposalRejected(ctx context.Context, reason RejectReason)
}

type nopRecorder struct{}

func (nopRecorder) EventAppended(context.Context, EventType)       {}
func (nopRecorder) EventDropped(context.Context, DropReason)       {}
func (nopRecorder) ProposalRejected(context.Context, RejectReason) {}
