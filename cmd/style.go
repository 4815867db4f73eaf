package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/accord/consensus"
	"github.com/luca-patrignani/accord/domain/negotiation"
)

// describeSelection names the chosen option of every issue, in issue order.
func describeSelection(sheet negotiation.Scoresheet, sel negotiation.Selection) string {
	parts := make([]string, 0, len(sheet))
	for _, name := range sheet.IssueNames() {
		idx := sheet.Resolve(sel, name)
		label := "?"
		if opts := sheet[name].Options; idx >= 0 && idx < len(opts) {
			label = opts[idx].Label
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, label))
	}
	return strings.Join(parts, ", ")
}

// getRolePanel renders the private role of a party.
func getRolePanel(p negotiation.Party) string {
	data := pterm.TableData{{"Issue", "Option", "Score", "Why"}}
	for _, name := range p.Scoresheet.IssueNames() {
		issue := p.Scoresheet[name]
		for i, o := range issue.Options {
			label := o.Label
			if i == issue.Default {
				label += " (default)"
			}
			data = append(data, []string{name, label, fmt.Sprintf("%+g", o.Score), o.Reason})
		}
	}
	table, _ := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()

	info := pterm.Sprintfln("%s\n", strings.TrimSpace(p.Narrative))
	info += table + "\n\n"
	info += pterm.Sprintfln("No agreement pays you %s", pterm.LightYellow(fmt.Sprintf("%g", p.ReservationValue)))
	info += pterm.Sprintf("Do not settle for less than %s", pterm.LightYellow(fmt.Sprintf("%g", p.ReservationPoint)))

	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	return pbox.WithTitle(pterm.LightCyan("|" + strings.ToUpper(p.Role) + "|")).WithTitleTopCenter().Sprint(info)
}

func votesString(votes map[string]consensus.Vote, roster consensus.Roster) string {
	parts := make([]string, 0, len(roster.Members))
	for _, m := range roster.Members {
		v, ok := votes[m.ID]
		if !ok {
			parts = append(parts, pterm.Gray(m.Name+": -"))
			continue
		}
		switch v.Value {
		case consensus.VoteAccept, consensus.VoteFinalize:
			parts = append(parts, pterm.LightGreen(m.Name+": "+string(v.Value)))
		default:
			parts = append(parts, pterm.LightRed(m.Name+": "+string(v.Value)))
		}
	}
	return strings.Join(parts, "  ")
}

func memberName(roster consensus.Roster, id string) string {
	if m, ok := roster.Member(id); ok && m.Name != "" {
		return m.Name
	}
	return id
}

// getStatePanel renders the session as seen by self: the active proposal,
// how it scores for self and the votes cast so far.
func getStatePanel(self negotiation.Party, roster consensus.Roster, state consensus.LedgerState) string {
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	info := pterm.Sprintfln("%d proposals so far, log at seq %d", len(state.History), state.LastSeq)
	r, ok := state.Active()
	if !ok {
		info += "No proposal on the table."
		return pbox.WithTitle(pterm.LightYellow("|TABLE|")).WithTitleTopCenter().Sprint(info)
	}
	info += pterm.Sprintfln("%s proposes: %s", pterm.LightCyan(memberName(roster, r.AuthorID)), describeSelection(self.Scoresheet, r.Selection))
	if ev, err := self.Evaluate(r.Selection); err == nil {
		score := fmt.Sprintf("%g", ev.Score)
		if ev.BeatsReservation {
			score = pterm.LightGreen(score)
		} else {
			score = pterm.LightRed(score)
		}
		info += pterm.Sprintfln("Worth %s to you", score)
	}
	info += pterm.Sprintfln("Status: %s", r.Status)
	info += pterm.Sprintfln("Initial: %s", votesString(r.InitialVotes, roster))
	if r.Status == consensus.StatusAwaitingFinal || len(r.FinalVotes) > 0 {
		info += pterm.Sprintf("Final: %s", votesString(r.FinalVotes, roster))
	}
	return pbox.WithTitle(pterm.LightYellow("|TABLE|")).WithTitleTopCenter().Sprint(info)
}

// getOutcomePanel renders the payoffs. parties may be partial; unknown ids
// are shown by id.
func getOutcomePanel(out consensus.Outcome, parties []negotiation.Party) string {
	byID := make(map[string]negotiation.Party, len(parties))
	for _, p := range parties {
		byID[p.ID] = p
	}
	ids := make([]string, 0, len(out.Payoffs))
	for id := range out.Payoffs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data := pterm.TableData{{"Party", "Role", "Payoff", "BATNA"}}
	for _, id := range ids {
		p, ok := byID[id]
		name, role, batna := id, "", ""
		if ok {
			name, role, batna = p.Name, p.Role, fmt.Sprintf("%g", p.ReservationValue)
		}
		data = append(data, []string{name, role, fmt.Sprintf("%g", out.Payoffs[id]), batna})
	}
	table, _ := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()

	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	var info string
	if out.Agreement {
		sel := out.Selection
		if len(parties) > 0 {
			info = pterm.Sprintfln("Agreed on %s\n", describeSelection(parties[0].Scoresheet, sel))
		} else {
			info = pterm.Sprintfln("Agreed on proposal %s\n", out.ProposalID)
		}
		return pbox.WithTitle(pterm.LightGreen("|AGREEMENT|")).WithTitleTopCenter().Sprint(info + table)
	}
	info = pterm.Sprintfln("No agreement: everyone falls back to their BATNA\n")
	return pbox.WithTitle(pterm.LightRed("|NO AGREEMENT|")).WithTitleTopCenter().Sprint(info + table)
}
