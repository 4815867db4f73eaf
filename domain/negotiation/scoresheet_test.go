package negotiation

import (
	"errors"
	"testing"
)

func yesNo(yes float64) Issue {
	return Issue{
		Options: []Option{{Label: "Yes", Score: yes}, {Label: "No", Score: 0}},
		Default: DefaultOptionIndex,
	}
}

func demoSheet() Scoresheet {
	return Scoresheet{
		"Pets_Allowed":       yesNo(12),
		"Overnight_Guests":   yesNo(10),
		"Kitchen_Storage":    yesNo(8),
		"Clean_Ourselves":    yesNo(0),
		"Late_Nights_OK":     yesNo(-5),
		"Cooler_Winter_Temp": yesNo(-7),
		"Shared_Groceries":   yesNo(-9),
		"Living_Room":        yesNo(-11),
	}
}

func TestScoreDefaultsOmittedIssues(t *testing.T) {
	sheet := demoSheet()
	score, err := sheet.Score(Selection{"Pets_Allowed": 0})
	if err != nil {
		t.Fatal(err)
	}
	if score != 12 {
		t.Fatalf("expected 12, got %v", score)
	}
	score, err = sheet.Score(Selection{})
	if err != nil {
		t.Fatal(err)
	}
	if score != 0 {
		t.Fatalf("empty selection should score the defaults, got %v", score)
	}
}

func TestScoreCanBeNegative(t *testing.T) {
	sheet := demoSheet()
	score, err := sheet.Score(Selection{"Living_Room": 0, "Shared_Groceries": 0, "Kitchen_Storage": 0})
	if err != nil {
		t.Fatal(err)
	}
	if score != -12 {
		t.Fatalf("expected -12, got %v", score)
	}
}

func TestScoreRejectsBadSelection(t *testing.T) {
	sheet := demoSheet()
	tests := []struct {
		name string
		sel  Selection
		want error
	}{
		{"unknown issue", Selection{"Parking": 0}, ErrUnknownIssue},
		{"index too high", Selection{"Pets_Allowed": 2}, ErrOptionOutOfRange},
		{"negative index", Selection{"Pets_Allowed": -1}, ErrOptionOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sheet.Score(tt.sel); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateParties(t *testing.T) {
	a := Party{ID: "a", Scoresheet: demoSheet()}
	b := Party{ID: "b", Scoresheet: demoSheet()}
	agenda, err := ValidateParties([]Party{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if len(agenda) != 8 || agenda["Pets_Allowed"] != 2 {
		t.Fatalf("unexpected agenda %v", agenda)
	}

	c := Party{ID: "c", Scoresheet: demoSheet()}
	delete(c.Scoresheet, "Living_Room")
	if _, err := ValidateParties([]Party{a, c}); !errors.Is(err, ErrIssueMismatch) {
		t.Fatalf("expected issue mismatch, got %v", err)
	}

	if _, err := ValidateParties([]Party{a, {ID: "d"}}); !errors.Is(err, ErrNoScoresheet) {
		t.Fatalf("expected missing scoresheet, got %v", err)
	}

	if _, err := ValidateParties([]Party{a, {ID: "a", Scoresheet: demoSheet()}}); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestValidatePartiesDefaultMismatch(t *testing.T) {
	a := Party{ID: "a", Scoresheet: demoSheet()}
	b := Party{ID: "b", Scoresheet: demoSheet()}
	issue := b.Scoresheet["Living_Room"]
	issue.Default = 0
	b.Scoresheet["Living_Room"] = issue
	if _, err := ValidateParties([]Party{a, b}); !errors.Is(err, ErrIssueMismatch) {
		t.Fatalf("expected issue mismatch on differing defaults, got %v", err)
	}
}

func TestCheckNotEmpty(t *testing.T) {
	sheet := demoSheet()
	if err := sheet.CheckNotEmpty(Selection{"Pets_Allowed": 1}); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("all-default selection should be empty, got %v", err)
	}
	if err := sheet.CheckNotEmpty(Selection{"Pets_Allowed": 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	p := Party{ID: "a", Scoresheet: demoSheet(), ReservationValue: 0, ReservationPoint: 10}
	ev, err := p.Evaluate(Selection{"Pets_Allowed": 0})
	if err != nil {
		t.Fatal(err)
	}
	if ev.Score != 12 || !ev.BeatsReservation || !ev.BeatsBATNA {
		t.Fatalf("unexpected evaluation %+v", ev)
	}
	ev, _ = p.Evaluate(Selection{"Kitchen_Storage": 0})
	if ev.BeatsReservation || !ev.BeatsBATNA {
		t.Fatalf("unexpected evaluation %+v", ev)
	}
}
