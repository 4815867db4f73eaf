// Package catalog loads negotiation role catalogs and assigns roles to
// players.
//
// A catalog lists roles; each role carries a narrative, a private
// scoresheet, a BATNA and a reservation point. Catalogs are written in YAML or
// JSON and are validated against an embedded JSON Schema before decoding.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/luca-patrignani/accord/domain/negotiation"
)

var (
	ErrNoRoles      = errors.New("catalog: no roles")
	ErrInvalid      = errors.New("catalog: invalid catalog")
	ErrNoPlayers    = errors.New("catalog: no players")
	ErrRoleNotFound = errors.New("catalog: role not found")
)

//go:embed schema.json
var schemaJSON string

//go:embed roommates.yaml
var roommatesYAML []byte

const schemaURL = "https://accord.schemas.local/catalog.schema.json"

var catalogSchema = mustCompile()

func mustCompile() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Errorf("catalog schema load failed: %w", err))
	}
	return c.MustCompile(schemaURL)
}

// Catalog is a set of roles played in one negotiation.
type Catalog struct {
	Title string `json:"title,omitempty"`
	Roles []Role `json:"roles"`
}

// Role is one negotiator profile.
type Role struct {
	Name       string                          `json:"role_name"`
	Narrative  string                          `json:"narrative,omitempty"`
	Scoresheet map[string][]negotiation.Option `json:"scoresheet"`
	BATNA      BATNA                           `json:"BATNA"`
	// BATNAValue is the payoff of a narrative BATNA.
	BATNAValue *float64 `json:"batna_value,omitempty"`
	RP         float64  `json:"RP"`
	// Defaults overrides the option used for issues a proposal leaves out.
	Defaults map[string]int `json:"defaults,omitempty"`
}

// BATNA is either a plain number or a narrative text.
type BATNA struct {
	Text  string
	Value *float64
}

func (b *BATNA) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		b.Value = &v
		return nil
	}
	return json.Unmarshal(data, &b.Text)
}

func (b BATNA) MarshalJSON() ([]byte, error) {
	if b.Value != nil {
		return json.Marshal(*b.Value)
	}
	return json.Marshal(b.Text)
}

// ReservationValue is the payoff of the role when no agreement is reached.
func (r Role) ReservationValue() float64 {
	switch {
	case r.BATNA.Value != nil:
		return *r.BATNA.Value
	case r.BATNAValue != nil:
		return *r.BATNAValue
	default:
		return 0
	}
}

// Sheet converts the role scoresheet, applying defaults.
func (r Role) Sheet() negotiation.Scoresheet {
	sheet := make(negotiation.Scoresheet, len(r.Scoresheet))
	for name, opts := range r.Scoresheet {
		def := negotiation.DefaultOptionIndex
		if d, ok := r.Defaults[name]; ok {
			def = d
		}
		sheet[name] = negotiation.Issue{Name: name, Options: opts, Default: def}
	}
	return sheet
}

// Parse decodes a catalog in YAML or JSON and validates it.
func Parse(data []byte) (*Catalog, error) {
	// YAML is a superset of JSON, so one decoder reads both formats.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if err := catalogSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Roommates returns the built-in three-role roommate agreement catalog.
func Roommates() *Catalog {
	c, err := Parse(roommatesYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks that every role shares the same issues with the same
// option counts, so any assignment yields a valid session.
func (c *Catalog) Validate() error {
	if len(c.Roles) == 0 {
		return ErrNoRoles
	}
	parties := make([]negotiation.Party, len(c.Roles))
	for i, r := range c.Roles {
		parties[i] = negotiation.Party{ID: fmt.Sprintf("role-%d", i), Scoresheet: r.Sheet()}
	}
	if _, err := negotiation.ValidateParties(parties); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Role returns the role named name.
func (c *Catalog) Role(name string) (Role, error) {
	for _, r := range c.Roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
}

// RoleNames returns the role names sorted.
func (c *Catalog) RoleNames() []string {
	names := make([]string, len(c.Roles))
	for i, r := range c.Roles {
		names[i] = r.Name
	}
	sort.Strings(names)
	return names
}
