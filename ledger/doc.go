// Package ledger implements an in-memory, hash-chained event log for a single
// negotiation session. It satisfies consensus.EventLog and is the log a
// session host serves when no persistent store is configured.
//
// # Core Components
//
// Log: an append-only sequence of events. Append assigns the next seq under a
// lock, so the order of successful appends is the total order of the log.
//
// Entry: an event plus its position in the hash chain.
//
// # Security Properties
//
// The log provides:
//   - Immutability: entries are never modified or removed
//   - Verifiability: Verify recomputes every hash and link
//   - Idempotency: appending an event id twice returns the first seq
//
// Freeze makes the log read-only when the negotiation stage ends.
package ledger
