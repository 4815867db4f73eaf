package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"

	"github.com/luca-patrignani/accord/application"
	"github.com/luca-patrignani/accord/catalog"
	"github.com/luca-patrignani/accord/config"
	"github.com/luca-patrignani/accord/consensus"
	"github.com/luca-patrignani/accord/domain/negotiation"
	"github.com/luca-patrignani/accord/observability"
	"github.com/luca-patrignani/accord/store"
)

// maxCandidates bounds the selections a bot enumerates.
const maxCandidates = 4096

var botNames = []string{"Ada", "Bruno", "Chiara", "Dario", "Elena", "Fabio", "Giulia", "Hugo"}

func runSimulate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	log, err := store.Open(ctx, cfg.Store, cfg.SessionID)
	if err != nil {
		return err
	}
	defer log.Close()

	metrics, err := observability.New(ctx, &observability.Config{
		ServiceName:  "accord-simulate",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     true,
		Interval:     15 * time.Second,
	})
	if err != nil {
		return err
	}
	defer metrics.Shutdown(context.Background())

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Simulating %d parties on %q...", cfg.Parties, cat.Title))
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	out, parties, err := simulate(ctx, cat, log, cfg.Parties, application.Plan{Negotiate: cfg.Negotiate}, metrics, logger, rng)
	if err != nil {
		spinner.Fail()
		return err
	}
	spinner.Success()
	pterm.Println(getOutcomePanel(out, parties))
	return nil
}

// simulate plays one session on log with n scripted parties and returns
// the outcome resolved by the orchestrator. Every node and the orchestrator
// report to metrics.
func simulate(ctx context.Context, cat *catalog.Catalog, log consensus.EventLog, n int, plan application.Plan, metrics *observability.Provider, logger *slog.Logger, rng *rand.Rand) (consensus.Outcome, []negotiation.Party, error) {
	players := make([]catalog.Player, n)
	for i := range players {
		players[i] = catalog.Player{ID: fmt.Sprintf("p%d", i+1), Name: botNames[i%len(botNames)]}
	}
	parties, err := cat.Assign(players, rng)
	if err != nil {
		return consensus.Outcome{}, nil, err
	}
	agenda, err := negotiation.ValidateParties(parties)
	if err != nil {
		return consensus.Outcome{}, nil, err
	}
	keys := make([]consensus.KeyPair, n)
	members := make([]consensus.Member, n)
	for i, p := range parties {
		keys[i] = consensus.NewKeyPair()
		members[i] = consensus.Member{ID: p.ID, Name: p.Name, PublicKey: keys[i].Public}
	}
	roster, err := consensus.NewRoster(agenda, members...)
	if err != nil {
		return consensus.Outcome{}, nil, err
	}

	bots := make([]*bot, n)
	for i, p := range parties {
		node, err := consensus.NewNode(p, roster, log,
			consensus.WithKeyPair(keys[i]),
			consensus.WithLogger(logger),
			consensus.WithRecorder(metrics),
		)
		if err != nil {
			return consensus.Outcome{}, nil, err
		}
		bots[i] = newBot(node, p, logger)
	}
	orch, err := application.NewOrchestrator("simulation", log, roster, parties,
		application.WithPlan(plan),
		application.WithLogger(logger),
		application.WithOutcomeRecorder(metrics),
	)
	if err != nil {
		return consensus.Outcome{}, nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	botCtx, stopBots := context.WithCancel(gctx)
	defer stopBots()

	var out consensus.Outcome
	g.Go(func() error {
		defer stopBots()
		var err error
		out, err = orch.Run(gctx)
		return err
	})
	for _, b := range bots {
		g.Go(func() error { return b.run(botCtx) })
	}
	if err := g.Wait(); err != nil {
		return consensus.Outcome{}, nil, err
	}
	return out, parties, nil
}

// bot is a scripted party. It proposes the selections it can live with,
// best first, and accepts and finalizes whatever reaches its reservation
// point.
type bot struct {
	node   *consensus.Node
	self   negotiation.Party
	plan   []negotiation.Selection
	next   int
	logger *slog.Logger
}

func newBot(node *consensus.Node, self negotiation.Party, logger *slog.Logger) *bot {
	return &bot{
		node:   node,
		self:   self,
		plan:   candidates(self),
		logger: logger.With("bot", self.ID),
	}
}

// run acts on every state change until ctx is done.
func (b *bot) run(ctx context.Context) error {
	if _, err := b.node.Sync(ctx); err != nil {
		return err
	}
	b.act(ctx, b.node.CurrentState())
	err := b.node.Run(ctx, func(s consensus.LedgerState) { b.act(ctx, s) })
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *bot) act(ctx context.Context, s consensus.LedgerState) {
	if s.Finalized() {
		return
	}
	var err error
	r, ok := s.Active()
	switch {
	case !ok:
		if b.next >= len(b.plan) {
			return
		}
		var id string
		id, err = b.node.SubmitProposal(ctx, b.plan[b.next])
		// a submission that lost the race is retried on the next free slot
		if _, accepted := b.node.CurrentState().Proposal(id); err == nil && accepted {
			b.next++
		}
	case r.Status == consensus.StatusPending:
		if _, voted := r.InitialVotes[b.self.ID]; voted {
			return
		}
		value := consensus.VoteReject
		if b.likes(r.Selection) {
			value = consensus.VoteAccept
		}
		err = b.node.CastInitialVote(ctx, r.ID, value)
	case r.Status == consensus.StatusAwaitingFinal:
		if _, voted := r.FinalVotes[b.self.ID]; voted {
			return
		}
		value := consensus.VoteContinue
		if b.likes(r.Selection) {
			value = consensus.VoteFinalize
		}
		err = b.node.CastFinalVote(ctx, r.ID, value)
	}
	var rejected *consensus.RejectedError
	if errors.As(err, &rejected) {
		b.logger.Debug("action refused", "reason", rejected.Reason)
		return
	}
	if err != nil && ctx.Err() == nil {
		b.logger.Warn("action failed", "error", err)
	}
}

func (b *bot) likes(sel negotiation.Selection) bool {
	ev, err := b.self.Evaluate(sel)
	return err == nil && ev.BeatsReservation && ev.BeatsBATNA
}

// candidates lists the non-empty selections that reach the reservation
// point of p, best first.
func candidates(p negotiation.Party) []negotiation.Selection {
	names := p.Scoresheet.IssueNames()
	var all []negotiation.Selection
	var walk func(i int, sel negotiation.Selection)
	walk = func(i int, sel negotiation.Selection) {
		if len(all) >= maxCandidates {
			return
		}
		if i == len(names) {
			cp := make(negotiation.Selection, len(sel))
			for k, v := range sel {
				cp[k] = v
			}
			all = append(all, cp)
			return
		}
		for opt := range p.Scoresheet[names[i]].Options {
			sel[names[i]] = opt
			walk(i+1, sel)
		}
	}
	walk(0, negotiation.Selection{})

	type scored struct {
		sel   negotiation.Selection
		score float64
	}
	var keep []scored
	for _, sel := range all {
		if p.Scoresheet.CheckNotEmpty(sel) != nil {
			continue
		}
		ev, err := p.Evaluate(sel)
		if err != nil || !ev.BeatsReservation || !ev.BeatsBATNA {
			continue
		}
		keep = append(keep, scored{sel, ev.Score})
	}
	sort.SliceStable(keep, func(i, j int) bool { return keep[i].score > keep[j].score })
	out := make([]negotiation.Selection, len(keep))
	for i, k := range keep {
		out[i] = k.sel
	}
	return out
}
