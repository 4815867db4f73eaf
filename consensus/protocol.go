package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

// SubmitProposal proposes sel as the next candidate agreement and returns the
// new proposal id. It is refused while another proposal is active or after
// the session is finalized. Even when accepted locally, the fold may still
// drop the submission if another party's proposal was ordered first.
func (n *Node) SubmitProposal(ctx context.Context, sel negotiation.Selection) (string, error) {
	state := n.CurrentState()
	if state.ActiveProposalID != "" || state.Finalized() {
		return "", n.reject(ctx, ErrProposalAlreadyActive, nil)
	}
	if n.roster.Agenda != nil {
		if err := n.roster.Agenda.Check(sel); err != nil {
			return "", n.reject(ctx, ErrInvalidSelection, err)
		}
	}
	if n.self.Scoresheet != nil {
		if err := n.self.Scoresheet.CheckNotEmpty(sel); err != nil {
			return "", n.reject(ctx, ErrEmptyProposal, err)
		}
	}
	e, err := NewProposalEvent(n.self.ID, sel)
	if err != nil {
		return "", err
	}
	if err := n.append(ctx, e); err != nil {
		return "", err
	}
	p, err := e.ProposalPayload()
	if err != nil {
		return "", err
	}
	return p.ProposalID, nil
}

// CastInitialVote records ACCEPT or REJECT on a proposal. A later vote by the
// same party replaces the earlier one until every party has voted.
func (n *Node) CastInitialVote(ctx context.Context, proposalID string, value VoteValue) error {
	if !value.ValidFor(PhaseInitial) {
		return n.reject(ctx, ErrInvalidVote, fmt.Errorf("%s is not an initial vote", value))
	}
	r, ok := n.CurrentState().Proposal(proposalID)
	if !ok {
		return n.reject(ctx, ErrNoSuchProposal, nil)
	}
	if phaseResolved(&r, PhaseInitial, n.roster.Size()) {
		return n.reject(ctx, ErrPhaseAlreadyResolved, nil)
	}
	return n.vote(ctx, proposalID, PhaseInitial, value)
}

// CastFinalVote records FINALIZE or CONTINUE on a proposal whose initial
// phase passed unanimously.
func (n *Node) CastFinalVote(ctx context.Context, proposalID string, value VoteValue) error {
	if !value.ValidFor(PhaseFinal) {
		return n.reject(ctx, ErrInvalidVote, fmt.Errorf("%s is not a final vote", value))
	}
	r, ok := n.CurrentState().Proposal(proposalID)
	if !ok {
		return n.reject(ctx, ErrNoSuchProposal, nil)
	}
	size := n.roster.Size()
	if !initialPassed(&r, size) {
		return n.reject(ctx, ErrProposalNotYetAccepted, nil)
	}
	if phaseResolved(&r, PhaseFinal, size) {
		return n.reject(ctx, ErrPhaseAlreadyResolved, nil)
	}
	return n.vote(ctx, proposalID, PhaseFinal, value)
}

func (n *Node) vote(ctx context.Context, proposalID string, phase Phase, value VoteValue) error {
	e, err := NewVoteEvent(n.self.ID, proposalID, phase, value)
	if err != nil {
		return err
	}
	return n.append(ctx, e)
}

// append signs e, appends it unconditionally and refreshes the local view so
// the caller observes its own event.
func (n *Node) append(ctx context.Context, e Event) error {
	if n.keys != nil {
		if err := e.Sign(n.keys.Private); err != nil {
			return err
		}
	}
	seq, err := n.log.Append(ctx, e)
	if errors.Is(err, ErrLogFrozen) {
		return n.reject(ctx, ErrSessionClosed, nil)
	}
	if err != nil {
		return fmt.Errorf("consensus: append %s: %w", e.Type, err)
	}
	n.logger.InfoContext(ctx, "event appended", "seq", seq, "type", e.Type, "id", e.ID)
	n.rec.EventAppended(ctx, e.Type)
	if _, err := n.Sync(ctx); err != nil {
		n.logger.WarnContext(ctx, "sync after append failed", "error", err)
	}
	return nil
}

func (n *Node) reject(ctx context.Context, sentinel *RejectedError, cause error) error {
	n.rec.ProposalRejected(ctx, sentinel.Reason)
	n.logger.DebugContext(ctx, "operation rejected", "reason", sentinel.Reason)
	if cause == nil {
		return sentinel
	}
	return &RejectedError{Reason: sentinel.Reason, Err: cause}
}
