package consensus_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/luca-patrignani/accord/consensus"
	"github.com/luca-patrignani/accord/domain/negotiation"
	"github.com/luca-patrignani/accord/ledger"
)

func yesNo(yes float64) negotiation.Issue {
	return negotiation.Issue{
		Options: []negotiation.Option{{Label: "Yes", Score: yes}, {Label: "No"}},
		Default: negotiation.DefaultOptionIndex,
	}
}

func parties() []negotiation.Party {
	return []negotiation.Party{
		{ID: "p1", ReservationValue: 1, Scoresheet: negotiation.Scoresheet{"IssueA": yesNo(10), "IssueB": yesNo(-4)}},
		{ID: "p2", ReservationValue: 2, Scoresheet: negotiation.Scoresheet{"IssueA": yesNo(-6), "IssueB": yesNo(8)}},
		{ID: "p3", ReservationValue: 0, Scoresheet: negotiation.Scoresheet{"IssueA": yesNo(3), "IssueB": yesNo(3)}},
	}
}

// newSession creates one signed node per party over a shared in-memory log.
func newSession(t *testing.T) ([]*consensus.Node, *ledger.Log) {
	t.Helper()
	ps := parties()
	keys := make([]consensus.KeyPair, len(ps))
	members := make([]consensus.Member, len(ps))
	for i, p := range ps {
		keys[i] = consensus.NewKeyPair()
		members[i] = consensus.Member{ID: p.ID, PublicKey: keys[i].Public}
	}
	agenda, err := negotiation.ValidateParties(ps)
	if err != nil {
		t.Fatal(err)
	}
	roster, err := consensus.NewRoster(agenda, members...)
	if err != nil {
		t.Fatal(err)
	}
	log := ledger.NewLog()
	nodes := make([]*consensus.Node, len(ps))
	for i, p := range ps {
		n, err := consensus.NewNode(p, roster, log, consensus.WithKeyPair(keys[i]))
		if err != nil {
			t.Fatalf("failed to create node %s: %v", p.ID, err)
		}
		nodes[i] = n
	}
	return nodes, log
}

func syncAll(t *testing.T, nodes []*consensus.Node) {
	t.Helper()
	for _, n := range nodes {
		if _, err := n.Sync(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNodeFullAgreement(t *testing.T) {
	ctx := context.Background()
	nodes, log := newSession(t)

	pid, err := nodes[0].SubmitProposal(ctx, negotiation.Selection{"IssueA": 0, "IssueB": 0})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	syncAll(t, nodes)
	for _, n := range nodes {
		if err := n.CastInitialVote(ctx, pid, consensus.VoteAccept); err != nil {
			t.Fatalf("initial vote of %s failed: %v", n.ID(), err)
		}
	}
	syncAll(t, nodes)
	for _, n := range nodes {
		if err := n.CastFinalVote(ctx, pid, consensus.VoteFinalize); err != nil {
			t.Fatalf("final vote of %s failed: %v", n.ID(), err)
		}
	}
	syncAll(t, nodes)
	if err := log.Freeze(ctx); err != nil {
		t.Fatal(err)
	}

	want := map[string]float64{"p1": 6, "p2": 2, "p3": 6}
	for _, n := range nodes {
		out, err := n.ResolveOutcome(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !out.Agreement || out.ProposalID != pid {
			t.Fatalf("%s: expected agreement on %s, got %+v", n.ID(), pid, out)
		}
		if out.Payoffs[n.ID()] != want[n.ID()] {
			t.Fatalf("%s: payoff %v, want %v", n.ID(), out.Payoffs[n.ID()], want[n.ID()])
		}
		again, _ := n.ResolveOutcome(ctx)
		if again.Payoffs[n.ID()] != out.Payoffs[n.ID()] || again.ResolvedAtSeq != out.ResolvedAtSeq {
			t.Fatal("resolve must be idempotent")
		}
	}
	if err := log.Verify(); err != nil {
		t.Fatalf("log should verify: %v", err)
	}
}

func TestCurrentStateIsACopy(t *testing.T) {
	ctx := context.Background()
	nodes, _ := newSession(t)

	pid, err := nodes[0].SubmitProposal(ctx, negotiation.Selection{"IssueA": 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := nodes[0].CastInitialVote(ctx, pid, consensus.VoteAccept); err != nil {
		t.Fatal(err)
	}
	if _, err := nodes[0].Sync(ctx); err != nil {
		t.Fatal(err)
	}

	got := nodes[0].CurrentState()
	got.History[0].InitialVotes["p2"] = consensus.Vote{VoterID: "p2", Value: consensus.VoteAccept}
	got.History[0].Selection["IssueB"] = 0
	got.History = append(got.History[:0], consensus.ProposalRecord{})
	got.ActiveProposalID = ""

	again := nodes[0].CurrentState()
	r, ok := again.Active()
	if !ok || r.ID != pid {
		t.Fatalf("active proposal lost: %+v", again)
	}
	if len(r.InitialVotes) != 1 {
		t.Fatalf("caller mutation leaked into the node: %v", r.InitialVotes)
	}
	if _, leaked := r.Selection["IssueB"]; leaked {
		t.Fatal("caller mutation leaked into the selection")
	}
}

func TestSubmitWhileActiveIsRejected(t *testing.T) {
	ctx := context.Background()
	nodes, log := newSession(t)
	if _, err := nodes[0].SubmitProposal(ctx, negotiation.Selection{"IssueA": 0}); err != nil {
		t.Fatal(err)
	}
	syncAll(t, nodes)
	_, err := nodes[1].SubmitProposal(ctx, negotiation.Selection{"IssueB": 0})
	if !errors.Is(err, consensus.ErrProposalAlreadyActive) {
		t.Fatalf("expected ProposalAlreadyActive, got %v", err)
	}
	var rej *consensus.RejectedError
	if !errors.As(err, &rej) || rej.Reason != consensus.ReasonProposalAlreadyActive {
		t.Fatalf("expected a RejectedError, got %T", err)
	}
	if log.Len() != 1 {
		t.Fatal("a rejected call must not append")
	}
}

func TestStaleSubmitIsArbitratedAtFold(t *testing.T) {
	ctx := context.Background()
	nodes, _ := newSession(t)
	first, err := nodes[0].SubmitProposal(ctx, negotiation.Selection{"IssueA": 0})
	if err != nil {
		t.Fatal(err)
	}
	// nodes[1] has not synced, so its local check passes and the event is appended
	second, err := nodes[1].SubmitProposal(ctx, negotiation.Selection{"IssueB": 0})
	if err != nil {
		t.Fatalf("stale view should not reject locally: %v", err)
	}
	syncAll(t, nodes)
	for _, n := range nodes {
		s := n.CurrentState()
		if s.ActiveProposalID != first {
			t.Fatalf("%s: expected %s active, got %s", n.ID(), first, s.ActiveProposalID)
		}
		if _, ok := s.Proposal(second); ok {
			t.Fatalf("%s: losing proposal in history", n.ID())
		}
	}
}

func TestVotePreChecks(t *testing.T) {
	ctx := context.Background()
	nodes, _ := newSession(t)

	if err := nodes[0].CastInitialVote(ctx, "missing", consensus.VoteAccept); !errors.Is(err, consensus.ErrNoSuchProposal) {
		t.Fatalf("expected NoSuchProposal, got %v", err)
	}
	pid, err := nodes[0].SubmitProposal(ctx, negotiation.Selection{"IssueA": 0})
	if err != nil {
		t.Fatal(err)
	}
	syncAll(t, nodes)

	if err := nodes[0].CastFinalVote(ctx, pid, consensus.VoteFinalize); !errors.Is(err, consensus.ErrProposalNotYetAccepted) {
		t.Fatalf("expected ProposalNotYetAccepted, got %v", err)
	}
	if err := nodes[0].CastInitialVote(ctx, pid, consensus.VoteFinalize); !errors.Is(err, consensus.ErrInvalidVote) {
		t.Fatalf("expected InvalidVote, got %v", err)
	}

	for _, n := range nodes {
		if err := n.CastInitialVote(ctx, pid, consensus.VoteReject); err != nil {
			t.Fatal(err)
		}
	}
	syncAll(t, nodes)
	if err := nodes[2].CastInitialVote(ctx, pid, consensus.VoteAccept); !errors.Is(err, consensus.ErrPhaseAlreadyResolved) {
		t.Fatalf("expected PhaseAlreadyResolved, got %v", err)
	}
}

func TestSubmitValidatesSelection(t *testing.T) {
	ctx := context.Background()
	nodes, _ := newSession(t)
	if _, err := nodes[0].SubmitProposal(ctx, negotiation.Selection{"IssueZ": 0}); !errors.Is(err, consensus.ErrInvalidSelection) {
		t.Fatalf("expected InvalidSelection, got %v", err)
	}
	if _, err := nodes[0].SubmitProposal(ctx, negotiation.Selection{"IssueA": 1}); !errors.Is(err, consensus.ErrEmptyProposal) {
		t.Fatalf("expected EmptyProposal, got %v", err)
	}
}

func TestFrozenLogRejectsWithSessionClosed(t *testing.T) {
	ctx := context.Background()
	nodes, log := newSession(t)
	if err := log.Freeze(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := nodes[0].SubmitProposal(ctx, negotiation.Selection{"IssueA": 0})
	if !errors.Is(err, consensus.ErrSessionClosed) {
		t.Fatalf("expected SessionClosed, got %v", err)
	}
	out, err := nodes[0].ResolveOutcome(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Agreement || out.Payoffs["p1"] != 1 {
		t.Fatalf("expected reservation payoff, got %+v", out)
	}
}

func TestNewNodeChecks(t *testing.T) {
	ps := parties()
	kp := consensus.NewKeyPair()
	roster, err := consensus.NewRoster(ps[0].Scoresheet.Agenda(), consensus.Member{ID: "p1", PublicKey: kp.Public})
	if err != nil {
		t.Fatal(err)
	}
	log := ledger.NewLog()
	if _, err := consensus.NewNode(ps[1], roster, log); err == nil {
		t.Fatal("expected error for a party outside the roster")
	}
	if _, err := consensus.NewNode(ps[0], roster, log); err == nil {
		t.Fatal("expected error for a missing key pair")
	}
	if _, err := consensus.NewNode(ps[0], roster, log, consensus.WithKeyPair(consensus.NewKeyPair())); err == nil {
		t.Fatal("expected error for a mismatched key pair")
	}
	if _, err := consensus.NewNode(ps[0], roster, log, consensus.WithKeyPair(kp)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestConcurrentParties runs every party in its own goroutine, the way they
// run on separate machines, and checks they all fold to the same state.
func TestConcurrentParties(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodes, _ := newSession(t)

	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		fatal := make(chan error, len(nodes))
		for i, n := range nodes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sel := negotiation.Selection{"IssueA": i % 2, "IssueB": (i + 1) % 2}
				_, err := n.SubmitProposal(ctx, sel)
				if err != nil && !errors.Is(err, consensus.ErrProposalAlreadyActive) {
					fatal <- fmt.Errorf("node %s: %w", n.ID(), err)
				}
			}()
		}
		wg.Wait()
		close(fatal)
		for err := range fatal {
			t.Fatal(err)
		}
		syncAll(t, nodes)

		active := nodes[0].CurrentState().ActiveProposalID
		if active == "" {
			t.Fatal("one submission must win")
		}
		for _, n := range nodes {
			if err := n.CastInitialVote(ctx, active, consensus.VoteReject); err != nil {
				t.Fatal(err)
			}
		}
		syncAll(t, nodes)
	}

	ref := nodes[0].CurrentState()
	for _, n := range nodes[1:] {
		s := n.CurrentState()
		if s.LastSeq != ref.LastSeq || len(s.History) != len(ref.History) {
			t.Fatalf("%s diverged: %d/%d proposals", n.ID(), len(s.History), len(ref.History))
		}
	}
	if len(ref.History) != 5 {
		t.Fatalf("expected 5 rejected proposals, got %d", len(ref.History))
	}
}

func TestRunNotifiesOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodes, _ := newSession(t)

	changed := make(chan consensus.LedgerState, 8)
	done := make(chan error, 1)
	go func() { done <- nodes[1].Run(ctx, func(s consensus.LedgerState) { changed <- s }) }()

	pid, err := nodes[0].SubmitProposal(ctx, negotiation.Selection{"IssueA": 0})
	if err != nil {
		t.Fatal(err)
	}
	for s := range changed {
		if s.ActiveProposalID == pid {
			break
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) && err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}
