package consensus

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

// Phase identifies one of the two voting rounds a proposal goes through.
type Phase string

const (
	PhaseInitial Phase = "initial"
	PhaseFinal   Phase = "final"
)

type VoteValue string

const (
	VoteAccept   VoteValue = "ACCEPT"
	VoteReject   VoteValue = "REJECT"
	VoteFinalize VoteValue = "FINALIZE"
	VoteContinue VoteValue = "CONTINUE"
)

// ValidFor reports whether v may be cast in phase p.
func (v VoteValue) ValidFor(p Phase) bool {
	switch p {
	case PhaseInitial:
		return v == VoteAccept || v == VoteReject
	case PhaseFinal:
		return v == VoteFinalize || v == VoteContinue
	}
	return false
}

type EventType string

const (
	EventProposalSubmitted EventType = "proposal_submitted"
	EventVoteCast          EventType = "vote_cast"
)

// Event is the unit stored in the shared log. Seq is assigned by the log on
// append; everything else is set by the author before signing.
type Event struct {
	Seq       uint64          `json:"seq"`
	ID        string          `json:"id"`
	Version   string          `json:"v"`
	Type      EventType       `json:"type"`
	AuthorID  string          `json:"author_id"`
	Payload   json.RawMessage `json:"payload"`
	Signature []byte          `json:"sig,omitempty"`
}

// ProposalSubmitted is the payload of an EventProposalSubmitted event.
type ProposalSubmitted struct {
	ProposalID string                `json:"proposal_id"`
	Selection  negotiation.Selection `json:"selection"`
}

// VoteCast is the payload of an EventVoteCast event.
type VoteCast struct {
	ProposalID string    `json:"proposal_id"`
	VoterID    string    `json:"voter_id"`
	Phase      Phase     `json:"phase"`
	Value      VoteValue `json:"value"`
}

// Proposal is a submission that won arbitration and entered the history.
type Proposal struct {
	ID           string                `json:"id"`
	AuthorID     string                `json:"author_id"`
	Selection    negotiation.Selection `json:"selection"`
	CreatedAtSeq uint64                `json:"created_at_seq"`
}

// Vote is a recorded vote. Seq is the log position of the vote that is
// currently in effect for the voter.
type Vote struct {
	VoterID string    `json:"voter_id"`
	Value   VoteValue `json:"value"`
	Seq     uint64    `json:"seq"`
}

// ProposalRecord is a proposal together with the votes recorded on it.
type ProposalRecord struct {
	Proposal
	InitialVotes map[string]Vote `json:"initial_votes"`
	FinalVotes   map[string]Vote `json:"final_votes"`
	Status       Status          `json:"status"`
}

func (r *ProposalRecord) votes(p Phase) map[string]Vote {
	if p == PhaseFinal {
		return r.FinalVotes
	}
	return r.InitialVotes
}

// Agreement is the proposal that was finalized by every party.
type Agreement struct {
	ProposalID string                `json:"proposal_id"`
	Selection  negotiation.Selection `json:"selection"`
	Seq        uint64                `json:"seq"`
}

// DroppedEvent records an event the fold treated as a no-op.
type DroppedEvent struct {
	Seq    uint64 `json:"seq"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// LedgerState is the derived view of the log. It is never stored, only
// recomputed by Fold.
type LedgerState struct {
	History          []ProposalRecord `json:"history"`
	ActiveProposalID string           `json:"active_proposal_id,omitempty"`
	Outcome          *Agreement       `json:"outcome,omitempty"`
	LastSeq          uint64           `json:"last_seq"`
	Dropped          []DroppedEvent   `json:"dropped,omitempty"`
}

// Clone returns a deep copy of s.
func (s LedgerState) Clone() LedgerState {
	out := s
	if s.History != nil {
		out.History = make([]ProposalRecord, len(s.History))
		for i, r := range s.History {
			r.Selection = maps.Clone(r.Selection)
			r.InitialVotes = maps.Clone(r.InitialVotes)
			r.FinalVotes = maps.Clone(r.FinalVotes)
			out.History[i] = r
		}
	}
	if s.Outcome != nil {
		a := *s.Outcome
		a.Selection = maps.Clone(a.Selection)
		out.Outcome = &a
	}
	out.Dropped = slices.Clone(s.Dropped)
	return out
}

// Finalized reports whether the session has reached agreement.
func (s LedgerState) Finalized() bool {
	return s.Outcome != nil
}

// Proposal returns the history record for id.
func (s LedgerState) Proposal(id string) (ProposalRecord, bool) {
	for _, r := range s.History {
		if r.ID == id {
			return r, true
		}
	}
	return ProposalRecord{}, false
}

// Active returns the active proposal, if any.
func (s LedgerState) Active() (ProposalRecord, bool) {
	if s.ActiveProposalID == "" {
		return ProposalRecord{}, false
	}
	return s.Proposal(s.ActiveProposalID)
}
