package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/accord/application"
	"github.com/luca-patrignani/accord/archive"
	"github.com/luca-patrignani/accord/config"
	"github.com/luca-patrignani/accord/discovery"
	"github.com/luca-patrignani/accord/network"
	"github.com/luca-patrignani/accord/observability"
	"github.com/luca-patrignani/accord/store"
)

func runHost(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Catalog: %s (%d roles)", cat.Title, len(cat.Roles))

	log, err := store.Open(ctx, cfg.Store, cfg.SessionID)
	if err != nil {
		return err
	}
	defer log.Close()

	metrics, err := observability.New(ctx, &observability.Config{
		ServiceName:  "accord-host",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     true,
		Interval:     15 * time.Second,
	})
	if err != nil {
		return err
	}
	defer metrics.Shutdown(context.Background())

	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
	}

	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen on address", "address", cfg.ListenAddr, "error", err)
		return err
	}
	if tl, ok := l.(*net.TCPListener); ok {
		if subnet, err := subnetOfListener(tl); err == nil {
			pterm.Info.Printfln("Parties on %s can reach this host", subnet.String())
		}
	}
	ip := localIP()
	_, port, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		l.Close()
		return err
	}
	address := net.JoinHostPort(ip.String(), port)

	opts := []network.ServerOption{
		network.WithServerLogger(logger),
		network.WithRateLimit(cfg.RatePerSecond, cfg.RateBurst),
	}
	scheme := "http"
	if cfg.TLS {
		cert, certPEM, err := network.GenerateSelfSignedCert(address)
		if err != nil {
			l.Close()
			return err
		}
		certFile := cfg.SessionID + ".pem"
		if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
			l.Close()
			return err
		}
		pterm.Info.Printfln("Certificate written to %s, hand it to the parties", certFile)
		opts = append(opts, network.WithCertificate(cert))
		scheme = "https"
	}

	srv, err := network.NewServer(cfg.SessionID, cfg.Parties, cat, log, secret, opts...)
	if err != nil {
		l.Close()
		return err
	}
	srv.Start(l)
	defer srv.Close()
	url := scheme + "://" + address
	pterm.Success.Printfln("Session %q listening on %s", cfg.SessionID, url)

	ann, err := discovery.NewWithOptions(&discovery.Announcement{
		SessionID: cfg.SessionID,
		Address:   url,
		Parties:   cfg.Parties,
	}, discovery.WithHost(ip.String()), discovery.WithAttempts(0))
	if err != nil {
		logger.Warn("session not announced", "error", err)
	} else {
		defer ann.Close()
		pterm.Info.Printfln("Announced on %s:%d", ip, ann.Port())
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Waiting for %d parties to join...", cfg.Parties))
	parties, roster, err := srv.WaitReady(ctx)
	if err != nil {
		spinner.Fail()
		return err
	}
	spinner.Success()
	for _, m := range roster.Members {
		logger.Info("party joined", "id", m.ID, "name", m.Name)
	}

	orchOpts := []application.Option{
		application.WithPlan(application.Plan{ReadRole: cfg.ReadRole, Negotiate: cfg.Negotiate}),
		application.WithLogger(logger),
		application.WithOutcomeRecorder(metrics),
		application.WithStageHook(func(s application.Stage, endsAt time.Time) {
			srv.SetStage(string(s), endsAt)
			if endsAt.IsZero() {
				pterm.Info.Printfln("Stage %s", s)
				return
			}
			pterm.Info.Printfln("Stage %s until %s", s, endsAt.Format(time.Kitchen))
		}),
	}
	if cfg.Archive != "" {
		sink, err := archive.Open(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, application.WithArchive(sink))
	}
	orch, err := application.NewOrchestrator(cfg.SessionID, log, roster, parties, orchOpts...)
	if err != nil {
		return err
	}
	out, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	srv.SetOutcome(out)
	pterm.Println(getOutcomePanel(out, parties))

	pterm.Info.Println("Serving the outcome to the parties, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}
