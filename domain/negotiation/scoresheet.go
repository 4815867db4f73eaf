package negotiation

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownIssue     = errors.New("negotiation: unknown issue")
	ErrOptionOutOfRange = errors.New("negotiation: option index out of range")
	ErrIssueMismatch    = errors.New("negotiation: scoresheets do not share the same issues")
	ErrNoScoresheet     = errors.New("negotiation: party has no scoresheet")
	ErrEmptySelection   = errors.New("negotiation: selection keeps every issue at its default")
)

// IssueNames returns the issue names in lexical order.
func (s Scoresheet) IssueNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Agenda strips scores and reasons, leaving issue names and option counts.
func (s Scoresheet) Agenda() Agenda {
	a := make(Agenda, len(s))
	for name, issue := range s {
		a[name] = len(issue.Options)
	}
	return a
}

// Resolve returns the option index for issue under sel, falling back to the
// issue default.
func (s Scoresheet) Resolve(sel Selection, issue string) int {
	if idx, ok := sel[issue]; ok {
		return idx
	}
	return s[issue].Default
}

// Score sums the score of the selected option of every issue in the sheet.
// Omitted issues contribute the score of their default option.
func (s Scoresheet) Score(sel Selection) (float64, error) {
	if err := s.Agenda().Check(sel); err != nil {
		return 0, err
	}
	total := 0.0
	for _, name := range s.IssueNames() {
		issue := s[name]
		idx := s.Resolve(sel, name)
		if idx < 0 || idx >= len(issue.Options) {
			return 0, fmt.Errorf("%w: default %d of %q", ErrOptionOutOfRange, idx, name)
		}
		total += issue.Options[idx].Score
	}
	return total, nil
}

// Check verifies that every issue named by sel exists and that each index is
// within range.
func (a Agenda) Check(sel Selection) error {
	for name, idx := range sel {
		n, ok := a[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownIssue, name)
		}
		if idx < 0 || idx >= n {
			return fmt.Errorf("%w: %d for %q (%d options)", ErrOptionOutOfRange, idx, name, n)
		}
	}
	return nil
}

// Equal reports whether two agendas describe the same issues.
func (a Agenda) Equal(b Agenda) bool {
	if len(a) != len(b) {
		return false
	}
	for name, n := range a {
		if m, ok := b[name]; !ok || m != n {
			return false
		}
	}
	return true
}
