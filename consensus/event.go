package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

// EventVersion is the schema version stamped on events written by this
// package.
const EventVersion = "1.0.0"

// supportedVersions is the range of event schema versions Fold understands.
var supportedVersions = mustConstraint("^1.0.0")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// Supported reports whether the event schema version can be folded.
func (e Event) Supported() bool {
	v, err := semver.NewVersion(e.Version)
	if err != nil {
		return false
	}
	return supportedVersions.Check(v)
}

func makeEvent(t EventType, authorID string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("consensus: marshal %s payload: %w", t, err)
	}
	return Event{
		ID:       uuid.NewString(),
		Version:  EventVersion,
		Type:     t,
		AuthorID: authorID,
		Payload:  b,
	}, nil
}

// NewProposalEvent builds an unsigned proposal_submitted event. The proposal
// id is generated.
func NewProposalEvent(authorID string, sel negotiation.Selection) (Event, error) {
	if sel == nil {
		sel = negotiation.Selection{}
	}
	return makeEvent(EventProposalSubmitted, authorID, ProposalSubmitted{
		ProposalID: uuid.NewString(),
		Selection:  sel,
	})
}

// NewVoteEvent builds an unsigned vote_cast event.
func NewVoteEvent(voterID, proposalID string, phase Phase, value VoteValue) (Event, error) {
	return makeEvent(EventVoteCast, voterID, VoteCast{
		ProposalID: proposalID,
		VoterID:    voterID,
		Phase:      phase,
		Value:      value,
	})
}

// ProposalPayload decodes the payload of a proposal_submitted event.
func (e Event) ProposalPayload() (ProposalSubmitted, error) {
	var p ProposalSubmitted
	if e.Type != EventProposalSubmitted {
		return p, fmt.Errorf("consensus: event %s is %s, not %s", e.ID, e.Type, EventProposalSubmitted)
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("consensus: decode proposal payload: %w", err)
	}
	if p.ProposalID == "" {
		return p, fmt.Errorf("consensus: proposal payload without id")
	}
	return p, nil
}

// VotePayload decodes the payload of a vote_cast event.
func (e Event) VotePayload() (VoteCast, error) {
	var v VoteCast
	if e.Type != EventVoteCast {
		return v, fmt.Errorf("consensus: event %s is %s, not %s", e.ID, e.Type, EventVoteCast)
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("consensus: decode vote payload: %w", err)
	}
	return v, nil
}
