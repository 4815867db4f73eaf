package consensus

import (
	"sort"
)

// DropReason explains why Fold treated an event as a no-op.
type DropReason string

const (
	DropUnsupportedVersion DropReason = "unsupported_version"
	DropUnknownAuthor      DropReason = "unknown_author"
	DropBadSignature       DropReason = "bad_signature"
	DropDuplicateEvent     DropReason = "duplicate_event"
	DropMalformed          DropReason = "malformed"
	DropSessionFinalized   DropReason = "session_finalized"
	DropProposalActive     DropReason = "proposal_active"
	DropDuplicateProposal  DropReason = "duplicate_proposal"
	DropInvalidSelection   DropReason = "invalid_selection"
	DropVoterMismatch      DropReason = "voter_mismatch"
	DropInvalidVote        DropReason = "invalid_vote"
	DropNoSuchProposal     DropReason = "no_such_proposal"
	DropNotYetAccepted     DropReason = "not_yet_accepted"
	DropPhaseResolved      DropReason = "phase_resolved"
	DropRepeatedVote       DropReason = "repeated_vote"
)

type folder struct {
	roster Roster
	n      int
	index  map[string]int
	seen   map[string]struct{}
	state  LedgerState
}

// Fold derives the ledger state from the log. It is pure: the same roster
// and the same events always give the same state, so every replica that has
// read the same prefix agrees.
//
// Events are applied in seq order. A submission is accepted only while no
// proposal is active and the session is not finalized, so among concurrent
// submissions the one the log ordered first wins and the rest are dropped.
// A vote overwrites the voter's earlier vote in the same phase until the
// phase has N votes; from then on the phase result is final.
func Fold(roster Roster, events []Event) LedgerState {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	f := folder{
		roster: roster,
		n:      roster.Size(),
		index:  make(map[string]int),
		seen:   make(map[string]struct{}),
		state:  LedgerState{History: []ProposalRecord{}},
	}
	for i, e := range ordered {
		if i > 0 && e.Seq == ordered[i-1].Seq {
			continue
		}
		f.apply(e)
		f.state.LastSeq = e.Seq
	}
	return f.state
}

func (f *folder) drop(e Event, reason DropReason) {
	f.state.Dropped = append(f.state.Dropped, DroppedEvent{Seq: e.Seq, ID: e.ID, Reason: string(reason)})
}

func (f *folder) apply(e Event) {
	if e.ID == "" {
		f.drop(e, DropMalformed)
		return
	}
	if !e.Supported() {
		f.drop(e, DropUnsupportedVersion)
		return
	}
	m, ok := f.roster.Member(e.AuthorID)
	if !ok {
		f.drop(e, DropUnknownAuthor)
		return
	}
	if m.PublicKey != nil {
		if ok, err := e.VerifySignature(m.PublicKey); err != nil || !ok {
			f.drop(e, DropBadSignature)
			return
		}
	}
	// only authenticated events claim an id, so a forged copy cannot shadow
	// the real one
	if _, dup := f.seen[e.ID]; dup {
		f.drop(e, DropDuplicateEvent)
		return
	}
	f.seen[e.ID] = struct{}{}

	switch e.Type {
	case EventProposalSubmitted:
		f.submit(e)
	case EventVoteCast:
		f.vote(e)
	default:
		f.drop(e, DropMalformed)
	}
}

func (f *folder) submit(e Event) {
	p, err := e.ProposalPayload()
	if err != nil {
		f.drop(e, DropMalformed)
		return
	}
	if f.state.Outcome != nil {
		f.drop(e, DropSessionFinalized)
		return
	}
	if f.state.ActiveProposalID != "" {
		f.drop(e, DropProposalActive)
		return
	}
	if _, ok := f.index[p.ProposalID]; ok {
		f.drop(e, DropDuplicateProposal)
		return
	}
	if f.roster.Agenda != nil {
		if err := f.roster.Agenda.Check(p.Selection); err != nil {
			f.drop(e, DropInvalidSelection)
			return
		}
	}
	f.index[p.ProposalID] = len(f.state.History)
	f.state.History = append(f.state.History, ProposalRecord{
		Proposal: Proposal{
			ID:           p.ProposalID,
			AuthorID:     e.AuthorID,
			Selection:    p.Selection,
			CreatedAtSeq: e.Seq,
		},
		InitialVotes: map[string]Vote{},
		FinalVotes:   map[string]Vote{},
		Status:       StatusPending,
	})
	f.state.ActiveProposalID = p.ProposalID
}

func (f *folder) vote(e Event) {
	v, err := e.VotePayload()
	if err != nil {
		f.drop(e, DropMalformed)
		return
	}
	if v.VoterID != e.AuthorID {
		f.drop(e, DropVoterMismatch)
		return
	}
	if !v.Value.ValidFor(v.Phase) {
		f.drop(e, DropInvalidVote)
		return
	}
	i, ok := f.index[v.ProposalID]
	if !ok {
		f.drop(e, DropNoSuchProposal)
		return
	}
	r := &f.state.History[i]
	if phaseResolved(r, v.Phase, f.n) {
		f.drop(e, DropPhaseResolved)
		return
	}
	if v.Phase == PhaseFinal && !initialPassed(r, f.n) {
		f.drop(e, DropNotYetAccepted)
		return
	}
	votes := r.votes(v.Phase)
	if prev, ok := votes[v.VoterID]; ok && prev.Value == v.Value {
		f.drop(e, DropRepeatedVote)
		return
	}
	votes[v.VoterID] = Vote{VoterID: v.VoterID, Value: v.Value, Seq: e.Seq}
	r.Status = deriveStatus(r, f.n)

	switch r.Status {
	case StatusRejected, StatusContinuing:
		if f.state.ActiveProposalID == r.ID {
			f.state.ActiveProposalID = ""
		}
	case StatusFinalized:
		f.state.Outcome = &Agreement{ProposalID: r.ID, Selection: r.Selection, Seq: e.Seq}
	}
}
