package negotiation

import "fmt"

// ValidateParties checks the session setup invariants: every party holds a
// scoresheet and all scoresheets share issue names, option counts and the
// default option of every issue. It returns the common agenda.
func ValidateParties(parties []Party) (Agenda, error) {
	if len(parties) == 0 {
		return nil, fmt.Errorf("negotiation: no parties")
	}
	var (
		agenda   Agenda
		defaults map[string]int
	)
	seen := make(map[string]struct{}, len(parties))
	for _, p := range parties {
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("negotiation: duplicate party id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if len(p.Scoresheet) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoScoresheet, p.ID)
		}
		for name, issue := range p.Scoresheet {
			if issue.Default < 0 || issue.Default >= len(issue.Options) {
				return nil, fmt.Errorf("%w: default %d of %q for %s", ErrOptionOutOfRange, issue.Default, name, p.ID)
			}
		}
		a := p.Scoresheet.Agenda()
		if agenda == nil {
			agenda = a
			defaults = make(map[string]int, len(p.Scoresheet))
			for name, issue := range p.Scoresheet {
				defaults[name] = issue.Default
			}
			continue
		}
		if !agenda.Equal(a) {
			return nil, fmt.Errorf("%w: %s", ErrIssueMismatch, p.ID)
		}
		for name, issue := range p.Scoresheet {
			if issue.Default != defaults[name] {
				return nil, fmt.Errorf("%w: default of %q differs for %s", ErrIssueMismatch, name, p.ID)
			}
		}
	}
	return agenda, nil
}

// CheckNotEmpty rejects a selection that leaves every issue at the sheet
// default, i.e. a proposal that includes nothing.
func (s Scoresheet) CheckNotEmpty(sel Selection) error {
	for name := range s {
		if s.Resolve(sel, name) != s[name].Default {
			return nil
		}
	}
	return ErrEmptySelection
}

// Evaluation is a party's private reading of a selection.
type Evaluation struct {
	Score            float64
	BeatsReservation bool
	BeatsBATNA       bool
}

// Evaluate scores sel for p and compares it against the reservation point and
// the reservation value.
func (p Party) Evaluate(sel Selection) (Evaluation, error) {
	score, err := p.Scoresheet.Score(sel)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluation{
		Score:            score,
		BeatsReservation: score >= p.ReservationPoint,
		BeatsBATNA:       score > p.ReservationValue,
	}, nil
}
