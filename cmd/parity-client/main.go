// Command parity-client bridges one player's emulator into a sync session:
// it polls RetroArch's command port for game state, exchanges deltas with
// the parity server, and writes merged state back into live RAM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/beyondparity/parity/internal/client"
	"github.com/beyondparity/parity/internal/config"
	"github.com/beyondparity/parity/internal/logdedup"
)

var (
	configPath  = pflag.StringP("config", "c", "beyond_parity.cfg", "path to the Settings INI file")
	sessionName = pflag.String("session", "", "session to join or create (overridden by JOIN_SESSION_NAME)")
	createFlag  = pflag.Bool("new", false, "create the session instead of joining it")
)

func main() {
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(logdedup.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	slog.SetDefault(log)

	session := cfg.JoinSessionName
	create := false
	if session == "" {
		session = *sessionName
		create = *createFlag
	}
	if session == "" {
		return errors.New("no session: set JOIN_SESSION_NAME or pass -session")
	}

	cl, err := client.New(cfg, log)
	if err != nil {
		return err
	}
	defer cl.Close()

	if err := cl.Start(session, create); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cl.Run(ctx) })
	return g.Wait()
}
