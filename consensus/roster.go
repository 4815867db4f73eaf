package consensus

import (
	"encoding/json"
	"fmt"

	"go.dedis.ch/kyber/v4"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

// Member is a party as known publicly: no scoresheet, only identity.
type Member struct {
	ID        string
	Name      string
	PublicKey kyber.Point
}

type memberJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key,omitempty"`
}

func (m Member) MarshalJSON() ([]byte, error) {
	out := memberJSON{ID: m.ID, Name: m.Name}
	if m.PublicKey != nil {
		k, err := EncodePublicKey(m.PublicKey)
		if err != nil {
			return nil, err
		}
		out.PublicKey = k
	}
	return json.Marshal(out)
}

func (m *Member) UnmarshalJSON(b []byte) error {
	var in memberJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	m.ID, m.Name, m.PublicKey = in.ID, in.Name, nil
	if in.PublicKey != "" {
		p, err := DecodePublicKey(in.PublicKey)
		if err != nil {
			return err
		}
		m.PublicKey = p
	}
	return nil
}

// Roster is the fixed set of parties of a session and the agenda they
// negotiate over. Its size is the N every phase waits for.
type Roster struct {
	Members []Member           `json:"members"`
	Agenda  negotiation.Agenda `json:"agenda"`
}

// NewRoster builds a roster and rejects duplicate member ids.
func NewRoster(agenda negotiation.Agenda, members ...Member) (Roster, error) {
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m.ID == "" {
			return Roster{}, fmt.Errorf("consensus: roster member without id")
		}
		if _, dup := seen[m.ID]; dup {
			return Roster{}, fmt.Errorf("consensus: duplicate roster member %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return Roster{Members: members, Agenda: agenda}, nil
}

// RosterFromParties builds a roster without keys from a validated party list.
func RosterFromParties(parties []negotiation.Party) (Roster, error) {
	agenda, err := negotiation.ValidateParties(parties)
	if err != nil {
		return Roster{}, err
	}
	members := make([]Member, len(parties))
	for i, p := range parties {
		members[i] = Member{ID: p.ID, Name: p.Name}
	}
	return NewRoster(agenda, members...)
}

// Size is the number of parties whose votes resolve a phase.
func (r Roster) Size() int { return len(r.Members) }

// Member returns the roster entry for id.
func (r Roster) Member(id string) (Member, bool) {
	for _, m := range r.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}
