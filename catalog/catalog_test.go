package catalog

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

func TestLoad_RolesJSON(t *testing.T) {
	c, err := Load(filepath.Join("testdata", "roles.json"))
	require.NoError(t, err)
	require.Len(t, c.Roles, 2)

	landlord, err := c.Role("Landlord")
	require.NoError(t, err)
	assert.Equal(t, 3.0, landlord.ReservationValue())
	assert.Equal(t, 4.0, landlord.RP)

	tenant, err := c.Role("Tenant")
	require.NoError(t, err)
	assert.Equal(t, "Moving back home", tenant.BATNA.Text)
	assert.Equal(t, -2.0, tenant.ReservationValue())

	sheet := tenant.Sheet()
	assert.Equal(t, 0, sheet["Rent"].Default, "explicit default")
	assert.Equal(t, negotiation.DefaultOptionIndex, sheet["Deposit"].Default)

	score, err := sheet.Score(negotiation.Selection{})
	require.NoError(t, err)
	assert.Equal(t, -8.0, score)
}

func TestRoommates(t *testing.T) {
	c := Roommates()
	assert.Equal(t, []string{"The Cat Owner", "The Night Owl", "The Student"}, c.RoleNames())
	owner, err := c.Role("The Cat Owner")
	require.NoError(t, err)
	assert.Equal(t, 0.0, owner.ReservationValue())

	score, err := owner.Sheet().Score(negotiation.Selection{"Pets_Allowed": 0, "Overnight_Guests": 0})
	require.NoError(t, err)
	assert.Equal(t, 22.0, score)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not yaml", "roles: [unclosed"},
		{"no roles", `{"roles": []}`},
		{"missing scoresheet", `{"roles": [{"role_name": "A"}]}`},
		{"score not a number", `{"roles": [{"role_name": "A", "scoresheet": {"X": [{"option": "Yes", "score": "high"}]}}]}`},
		{"batna object", `{"roles": [{"role_name": "A", "BATNA": {}, "scoresheet": {"X": [{"option": "Yes", "score": 1}]}}]}`},
		{"issue mismatch", `
roles:
  - role_name: A
    scoresheet:
      X: [{option: "Yes", score: 1}, {option: "No", score: 0}]
  - role_name: B
    scoresheet:
      Y: [{option: "Yes", score: 1}, {option: "No", score: 0}]
`},
		{"default out of range", `
roles:
  - role_name: A
    scoresheet:
      X: [{option: "Only", score: 1}]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParse_IssueMismatchIsInvalid(t *testing.T) {
	_, err := Parse([]byte(`
roles:
  - role_name: A
    scoresheet:
      X: [{option: "Yes", score: 1}, {option: "No", score: 0}]
  - role_name: B
    scoresheet:
      X: [{option: "Yes", score: 1}, {option: "No", score: 0}, {option: "Maybe", score: 0}]
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestParse_DefaultMismatchIsInvalid(t *testing.T) {
	_, err := Parse([]byte(`
roles:
  - role_name: A
    scoresheet:
      X: [{option: "Yes", score: 1}, {option: "No", score: 0}]
      Y: [{option: "Yes", score: 1}, {option: "No", score: 0}]
  - role_name: B
    scoresheet:
      X: [{option: "Yes", score: 10}, {option: "No", score: 0}]
      Y: [{option: "Yes", score: 1}, {option: "No", score: 0}]
    defaults:
      X: 0
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestAssign(t *testing.T) {
	c := Roommates()
	players := []Player{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	parties, err := c.Assign(players, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Len(t, parties, 4)

	counts := map[string]int{}
	for i, p := range parties {
		assert.Equal(t, players[i].ID, p.ID)
		assert.NotEmpty(t, p.Scoresheet)
		counts[p.Role]++
	}
	assert.Len(t, counts, 3, "every role used")
	for _, n := range counts {
		assert.True(t, n == 1 || n == 2)
	}

	again, err := c.Assign(players, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	for i := range parties {
		assert.Equal(t, parties[i].Role, again[i].Role, "same seed, same assignment")
	}
}

func TestAssign_Empty(t *testing.T) {
	_, err := Roommates().Assign(nil, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrNoPlayers)
	_, err = (&Catalog{}).Assign([]Player{{ID: "a"}}, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrNoRoles)
}
