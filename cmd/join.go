package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/accord/config"
	"github.com/luca-patrignani/accord/consensus"
	"github.com/luca-patrignani/accord/discovery"
	"github.com/luca-patrignani/accord/domain/negotiation"
	"github.com/luca-patrignani/accord/network"
	"github.com/luca-patrignani/accord/observability"
)

const defaultPort = 8742

const (
	actionPropose = "Propose"
	actionVote    = "Vote on the table"
	actionRole    = "Show my role"
	actionWait    = "Wait for the others"
	actionRefresh = "Refresh"
	actionLeave   = "Leave"
)

func runJoin(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	base, err := findSession(ctx, args, cfg.TLS)
	if err != nil {
		return err
	}

	opts := []network.ClientOption{network.WithClientLogger(logger)}
	if cfg.CAFile != "" {
		pemBytes, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return fmt.Errorf("no certificate in %s", cfg.CAFile)
		}
		opts = append(opts, network.WithRootCAs(pool))
	}
	client := network.NewClient(base, opts...)

	name, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter your name").Show()
	pterm.Println()

	keys := consensus.NewKeyPair()
	resp, err := client.Join(ctx, name, keys.Public)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Joined session %q as %s", resp.SessionID, resp.PartyID)

	spinner, _ := pterm.DefaultSpinner.Start("Waiting for the other parties...")
	roster, err := client.WaitRoster(ctx, time.Second)
	if err != nil {
		spinner.Fail()
		return err
	}
	spinner.Success()
	self, err := client.Role(ctx)
	if err != nil {
		return err
	}
	pterm.Println(getRolePanel(self))

	metrics, err := observability.New(ctx, &observability.Config{
		ServiceName:  "accord-party",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     true,
		Interval:     15 * time.Second,
	})
	if err != nil {
		return err
	}
	defer metrics.Shutdown(context.Background())

	node, err := consensus.NewNode(self, roster, client,
		consensus.WithKeyPair(keys),
		consensus.WithLogger(logger),
		consensus.WithRecorder(metrics),
	)
	if err != nil {
		return err
	}
	if err := negotiate(ctx, node, client, self); err != nil {
		return err
	}

	spinner, _ = pterm.DefaultSpinner.Start("Waiting for the host to resolve the outcome...")
	for {
		out, err := client.Outcome(ctx)
		if err == nil {
			spinner.Success()
			pterm.Println(getOutcomePanel(out, []negotiation.Party{self}))
			return nil
		}
		if !errors.Is(err, network.ErrNotResolved) {
			spinner.Fail()
			return err
		}
		select {
		case <-ctx.Done():
			spinner.Fail()
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// findSession resolves the session base URL from the command line, or scans
// the local network when nothing was given.
func findSession(ctx context.Context, args []string, tls bool) (string, error) {
	ip := localIP()
	if len(args) > 0 {
		return sessionURL(ip, args[0], defaultPort, tls)
	}
	spinner, _ := pterm.DefaultSpinner.Start("Looking for sessions on " + ip.String() + "...")
	scanCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	found, err := discovery.Scan(scanCtx, discovery.WithHost(ip.String()), discovery.WithAttempts(3))
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		spinner.Fail()
		return "", err
	}
	if len(found) == 0 {
		spinner.Fail()
		return "", fmt.Errorf("no session found, pass the host address")
	}
	spinner.Success()
	if len(found) == 1 {
		return found[0].Address, nil
	}
	labels := make([]string, len(found))
	byLabel := make(map[string]string, len(found))
	for i, e := range found {
		labels[i] = fmt.Sprintf("%s (%d parties) at %s", e.SessionID, e.Parties, e.Address)
		byLabel[labels[i]] = e.Address
	}
	choice, err := pterm.DefaultInteractiveSelect.WithDefaultText("Select a session").WithOptions(labels).Show()
	if err != nil {
		return "", err
	}
	return byLabel[choice], nil
}

// negotiate runs the interactive loop until the log is frozen or the
// session is finalized.
func negotiate(ctx context.Context, node *consensus.Node, client *network.Client, self negotiation.Party) error {
	for {
		state, err := node.Sync(ctx)
		if err != nil {
			return err
		}
		if state.Finalized() {
			pterm.Success.Println("An agreement was finalized")
			return nil
		}
		if frozen, err := client.Frozen(ctx); err == nil && frozen {
			pterm.Warning.Println("The session was closed by the host")
			return nil
		}
		pterm.Println(getStatePanel(self, node.Roster(), state))

		actions := []string{actionPropose, actionVote, actionRole, actionWait, actionRefresh, actionLeave}
		if _, ok := state.Active(); ok {
			actions = []string{actionVote, actionRole, actionWait, actionRefresh, actionLeave}
		}
		choice, err := pterm.DefaultInteractiveSelect.WithDefaultText("What next?").WithOptions(actions).Show()
		if err != nil {
			return err
		}
		switch choice {
		case actionPropose:
			err = propose(ctx, node, self)
		case actionVote:
			err = vote(ctx, node, state)
		case actionRole:
			pterm.Println(getRolePanel(self))
		case actionWait:
			err = waitForChange(ctx, node)
		case actionRefresh:
		case actionLeave:
			return nil
		}
		var rejected *consensus.RejectedError
		if errors.As(err, &rejected) {
			pterm.Warning.Println(rejected.Error())
			if errors.Is(err, consensus.ErrSessionClosed) {
				return nil
			}
			continue
		}
		if errors.Is(err, network.ErrRateLimited) {
			pterm.Warning.Println("Too many requests, slow down")
			continue
		}
		if err != nil {
			return err
		}
	}
}

func propose(ctx context.Context, node *consensus.Node, self negotiation.Party) error {
	sel := negotiation.Selection{}
	for _, name := range self.Scoresheet.IssueNames() {
		issue := self.Scoresheet[name]
		labels := make([]string, len(issue.Options))
		for i, o := range issue.Options {
			labels[i] = fmt.Sprintf("%s (%+g)", o.Label, o.Score)
		}
		choice, err := pterm.DefaultInteractiveSelect.
			WithDefaultText(name).
			WithOptions(labels).
			WithDefaultOption(labels[issue.Default]).
			Show()
		if err != nil {
			return err
		}
		for i, l := range labels {
			if l == choice {
				sel[name] = i
			}
		}
	}
	ev, err := node.Evaluate(sel)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("%s is worth %g to you", describeSelection(self.Scoresheet, sel), ev.Score)
	if !ev.BeatsReservation {
		pterm.Warning.Printfln("That is below your reservation point of %g", self.ReservationPoint)
	}
	ok, _ := pterm.DefaultInteractiveConfirm.WithDefaultText("Submit this proposal?").Show()
	if !ok {
		return nil
	}
	id, err := node.SubmitProposal(ctx, sel)
	if err != nil {
		return err
	}
	if r, ok := node.CurrentState().Active(); !ok || r.ID != id {
		pterm.Warning.Println("Another proposal reached the table first")
		return nil
	}
	pterm.Success.Println("Proposal submitted")
	return nil
}

func vote(ctx context.Context, node *consensus.Node, state consensus.LedgerState) error {
	r, ok := state.Active()
	if !ok {
		pterm.Info.Println("There is nothing to vote on")
		return nil
	}
	if r.Status == consensus.StatusAwaitingFinal {
		choice, err := pterm.DefaultInteractiveSelect.
			WithDefaultText("Finalize this agreement?").
			WithOptions([]string{string(consensus.VoteFinalize), string(consensus.VoteContinue)}).
			Show()
		if err != nil {
			return err
		}
		return node.CastFinalVote(ctx, r.ID, consensus.VoteValue(choice))
	}
	choice, err := pterm.DefaultInteractiveSelect.
		WithDefaultText("Your vote").
		WithOptions([]string{string(consensus.VoteAccept), string(consensus.VoteReject)}).
		Show()
	if err != nil {
		return err
	}
	return node.CastInitialVote(ctx, r.ID, consensus.VoteValue(choice))
}

// waitForChange blocks until the log moves on.
func waitForChange(ctx context.Context, node *consensus.Node) error {
	spinner, _ := pterm.DefaultSpinner.Start("Waiting for the others...")
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := node.Run(waitCtx, func(consensus.LedgerState) { cancel() })
	if ctx.Err() != nil {
		spinner.Fail()
		return ctx.Err()
	}
	spinner.Success()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
