package consensus

import "fmt"

// RejectReason names why a facade call refused to append anything.
type RejectReason string

const (
	ReasonProposalAlreadyActive  RejectReason = "ProposalAlreadyActive"
	ReasonNoSuchProposal         RejectReason = "NoSuchProposal"
	ReasonPhaseAlreadyResolved   RejectReason = "PhaseAlreadyResolved"
	ReasonProposalNotYetAccepted RejectReason = "ProposalNotYetAccepted"
	ReasonEmptyProposal          RejectReason = "EmptyProposal"
	ReasonInvalidSelection       RejectReason = "InvalidSelection"
	ReasonInvalidVote            RejectReason = "InvalidVote"
	ReasonSessionClosed          RejectReason = "SessionClosed"
)

// RejectedError is returned to the caller only; it is never written to the
// log.
type RejectedError struct {
	Reason RejectReason
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rejected: %s: %v", e.Reason, e.Err)
	}
	return "rejected: " + string(e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Is matches any RejectedError with the same reason.
func (e *RejectedError) Is(target error) bool {
	t, ok := target.(*RejectedError)
	return ok && t.Reason == e.Reason
}

var (
	ErrProposalAlreadyActive  = &RejectedError{Reason: ReasonProposalAlreadyActive}
	ErrNoSuchProposal         = &RejectedError{Reason: ReasonNoSuchProposal}
	ErrPhaseAlreadyResolved   = &RejectedError{Reason: ReasonPhaseAlreadyResolved}
	ErrProposalNotYetAccepted = &RejectedError{Reason: ReasonProposalNotYetAccepted}
	ErrEmptyProposal          = &RejectedError{Reason: ReasonEmptyProposal}
	ErrInvalidSelection       = &RejectedError{Reason: ReasonInvalidSelection}
	ErrInvalidVote            = &RejectedError{Reason: ReasonInvalidVote}
	ErrSessionClosed          = &RejectedError{Reason: ReasonSessionClosed}
)
