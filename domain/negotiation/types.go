package negotiation

// DefaultOptionIndex is the option a Selection falls back to when it omits an
// issue. Catalog scoresheets list "Yes" first and "No" second, so the
// fallback excludes the issue.
const DefaultOptionIndex = 1

// Option is one choice for an issue as seen by a single party.
type Option struct {
	Label  string  `json:"option" yaml:"option"`
	Score  float64 `json:"score" yaml:"score"`
	Reason string  `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Issue is an ordered list of options plus the index used when a selection
// does not mention the issue.
type Issue struct {
	Name    string   `json:"name" yaml:"name"`
	Options []Option `json:"options" yaml:"options"`
	Default int      `json:"default" yaml:"default"`
}

// Scoresheet maps issue names to a party's private view of each issue.
type Scoresheet map[string]Issue

// Selection maps issue names to chosen option indices. Issues may be omitted.
type Selection map[string]int

// Agenda is the public shape of a negotiation: issue name -> option count.
// It is what every party may know about the others' scoresheets.
type Agenda map[string]int

// Party is a negotiator bound to a role.
type Party struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Role       string     `json:"role"`
	Narrative  string     `json:"narrative,omitempty"`
	Scoresheet Scoresheet `json:"scoresheet,omitempty"`
	// ReservationValue is the payoff the party receives when no agreement is
	// reached (BATNA).
	ReservationValue float64 `json:"reservation_value"`
	// ReservationPoint is the lowest agreement the party should accept. It is
	// advisory and never used by the protocol.
	ReservationPoint float64 `json:"reservation_point"`
}
