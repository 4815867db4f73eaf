package catalog

import (
	"fmt"
	"math/rand"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

// Player is someone who joined a session and waits for a role.
type Player struct {
	ID   string
	Name string
}

// Party binds a player to role r.
func (r Role) Party(p Player) negotiation.Party {
	return negotiation.Party{
		ID:               p.ID,
		Name:             p.Name,
		Role:             r.Name,
		Narrative:        r.Narrative,
		Scoresheet:       r.Sheet(),
		ReservationValue: r.ReservationValue(),
		ReservationPoint: r.RP,
	}
}

// Assign shuffles the players and gives the i-th of them the role
// i mod len(roles). With more players than roles, roles repeat. The result
// is in the original player order.
func (c *Catalog) Assign(players []Player, rng *rand.Rand) ([]negotiation.Party, error) {
	if len(players) == 0 {
		return nil, ErrNoPlayers
	}
	if len(c.Roles) == 0 {
		return nil, ErrNoRoles
	}
	perm := rng.Perm(len(players))
	parties := make([]negotiation.Party, len(players))
	for i, p := range perm {
		parties[p] = c.Roles[i%len(c.Roles)].Party(players[p])
	}
	if _, err := negotiation.ValidateParties(parties); err != nil {
		return nil, fmt.Errorf("catalog: assign: %w", err)
	}
	return parties, nil
}
