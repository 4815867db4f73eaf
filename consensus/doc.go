// Package consensus implements a leaderless agreement protocol for N parties
// negotiating over a shared agenda. Parties never talk to each other directly:
// they append events to a shared, totally ordered log and each one folds the
// log into the same LedgerState.
//
// # Core Components
//
// Event: a signed proposal_submitted or vote_cast record. The log assigns its
// seq; the seq order is the only arbiter of races.
//
// Fold: the pure reducer from events to LedgerState. It enforces at most one
// active proposal, last-writer-wins votes within an unresolved phase, and a
// single terminal agreement.
//
// Node: the facade a party uses to submit proposals and vote. Its checks run
// against the last observed state and only avoid useless appends.
//
// EventLog: the interface every store implements.
//
// # Protocol
//
// The protocol follows these steps:
//  1. A party submits a proposal while none is active; it becomes active
//  2. Every party casts an initial vote, ACCEPT or REJECT
//  3. Any REJECT once all have voted clears the active slot
//  4. Unanimous ACCEPT opens the final phase, FINALIZE or CONTINUE
//  5. Unanimous FINALIZE ends the session; anything else clears the slot
//
// Payoffs are computed by Resolve from each party's private scoresheet, or
// fall back to the party's reservation value when nothing was finalized.
package consensus
