package consensus

import (
	"fmt"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

// Outcome is the final result of a session.
type Outcome struct {
	Agreement     bool                  `json:"agreement"`
	ProposalID    string                `json:"proposal_id,omitempty"`
	Selection     negotiation.Selection `json:"selection,omitempty"`
	Payoffs       map[string]float64    `json:"payoffs"`
	ResolvedAtSeq uint64                `json:"resolved_at_seq"`
}

// Resolve computes every given party's payoff. With a finalized agreement a
// party earns the score of the agreed selection on its own scoresheet, so the
// same agreement pays each party differently. Without one each party falls
// back to its reservation value.
//
// Only parties passed in get a payoff; a party that does not know another's
// scoresheet simply leaves it out.
func Resolve(state LedgerState, parties []negotiation.Party) (Outcome, error) {
	out := Outcome{
		Payoffs:       make(map[string]float64, len(parties)),
		ResolvedAtSeq: state.LastSeq,
	}
	if state.Outcome == nil {
		for _, p := range parties {
			out.Payoffs[p.ID] = p.ReservationValue
		}
		return out, nil
	}
	out.Agreement = true
	out.ProposalID = state.Outcome.ProposalID
	out.Selection = state.Outcome.Selection
	for _, p := range parties {
		score, err := p.Scoresheet.Score(state.Outcome.Selection)
		if err != nil {
			return Outcome{}, fmt.Errorf("consensus: payoff of %s: %w", p.ID, err)
		}
		out.Payoffs[p.ID] = score
	}
	return out, nil
}
