package consensus

import (
	"testing"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

func issue(yes float64) negotiation.Issue {
	return negotiation.Issue{
		Options: []negotiation.Option{{Label: "Yes", Score: yes}, {Label: "No"}},
		Default: negotiation.DefaultOptionIndex,
	}
}

// testParties are three parties with deliberately opposed interests.
func testParties() []negotiation.Party {
	return []negotiation.Party{
		{ID: "p1", ReservationValue: 1, Scoresheet: negotiation.Scoresheet{"IssueA": issue(10), "IssueB": issue(-4)}},
		{ID: "p2", ReservationValue: 2, Scoresheet: negotiation.Scoresheet{"IssueA": issue(-6), "IssueB": issue(8)}},
		{ID: "p3", ReservationValue: 0, Scoresheet: negotiation.Scoresheet{"IssueA": issue(3), "IssueB": issue(3)}},
	}
}

func testRoster(t testing.TB) Roster {
	t.Helper()
	r, err := RosterFromParties(testParties())
	if err != nil {
		t.Fatalf("failed to build roster: %v", err)
	}
	return r
}

// script builds a log by hand, assigning seqs the way a store would.
type script struct {
	t      testing.TB
	events []Event
}

func (s *script) push(e Event) Event {
	e.Seq = uint64(len(s.events)) + 1
	s.events = append(s.events, e)
	return e
}

func (s *script) propose(author string, sel negotiation.Selection) string {
	s.t.Helper()
	e, err := NewProposalEvent(author, sel)
	if err != nil {
		s.t.Fatalf("failed to build proposal: %v", err)
	}
	s.push(e)
	p, _ := e.ProposalPayload()
	return p.ProposalID
}

func (s *script) vote(voter, proposalID string, phase Phase, value VoteValue) Event {
	s.t.Helper()
	e, err := NewVoteEvent(voter, proposalID, phase, value)
	if err != nil {
		s.t.Fatalf("failed to build vote: %v", err)
	}
	return s.push(e)
}

func (s *script) votes(proposalID string, phase Phase, values ...VoteValue) {
	s.t.Helper()
	for i, v := range values {
		s.vote(testParties()[i].ID, proposalID, phase, v)
	}
}
