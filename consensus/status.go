package consensus

// Status is the lifecycle position of a proposal, always derived from its
// recorded votes.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRejected      Status = "rejected"
	StatusAwaitingFinal Status = "awaiting_final"
	StatusFinalized     Status = "finalized"
	StatusContinuing    Status = "continuing"
)

// Terminal reports whether the proposal no longer holds the active slot or,
// for StatusFinalized, closed the session.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusFinalized || s == StatusContinuing
}

// deriveStatus computes the status of r for a roster of n parties.
func deriveStatus(r *ProposalRecord, n int) Status {
	if len(r.InitialVotes) < n {
		return StatusPending
	}
	if !unanimous(r.InitialVotes, VoteAccept) {
		return StatusRejected
	}
	if len(r.FinalVotes) < n {
		return StatusAwaitingFinal
	}
	if unanimous(r.FinalVotes, VoteFinalize) {
		return StatusFinalized
	}
	return StatusContinuing
}

func unanimous(votes map[string]Vote, want VoteValue) bool {
	for _, v := range votes {
		if v.Value != want {
			return false
		}
	}
	return true
}

// phaseResolved reports whether every party has voted in phase p, after which
// the phase's result can no longer change.
func phaseResolved(r *ProposalRecord, p Phase, n int) bool {
	return len(r.votes(p)) >= n
}

// initialPassed reports whether the initial phase resolved with every party
// accepting.
func initialPassed(r *ProposalRecord, n int) bool {
	return phaseResolved(r, PhaseInitial, n) && unanimous(r.InitialVotes, VoteAccept)
}
