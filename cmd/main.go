package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/luca-patrignani/accord/catalog"
	"github.com/luca-patrignani/accord/config"
)

const usage = `usage: %s <command> [args]

commands:
  host              host a session and wait for the parties to join
  join [address]    join a session; without an address the LAN is scanned
  simulate          run a whole session with scripted parties

configuration is read from ACCORD_* environment variables and the YAML file
named in ACCORD_CONFIG
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}

	// Create a new slog handler with the default PTerm logger
	handler := pterm.NewSlogHandler(&pterm.DefaultLogger)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	pterm.DefaultLogger.Level = logLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	banner()

	switch os.Args[1] {
	case "host":
		err = runHost(ctx, cfg, logger)
	case "join":
		err = runJoin(ctx, cfg, logger, os.Args[2:])
	case "simulate":
		err = runSimulate(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func banner() {
	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("A", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("ccord", pterm.FgDarkGray.ToStyle()),
	).Render()
}

func logLevel(level string) pterm.LogLevel {
	switch strings.ToUpper(level) {
	case "TRACE":
		return pterm.LogLevelTrace
	case "DEBUG":
		return pterm.LogLevelDebug
	case "WARN", "WARNING":
		return pterm.LogLevelWarn
	case "ERROR":
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}

// loadCatalog reads the configured catalog, or the built-in roommates one.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Roommates(), nil
	}
	return catalog.Load(cfg.CatalogPath)
}
