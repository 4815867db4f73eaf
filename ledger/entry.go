package ledger

import "github.com/luca-patrignani/accord/consensus"

// genesisHash is the PrevHash of the first entry.
const genesisHash = "0"

// Entry is one event in the hash chain.
type Entry struct {
	Event     consensus.Event `json:"event"`
	Timestamp int64           `json:"timestamp"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}
