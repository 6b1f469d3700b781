// Command parity-server coordinates sync sessions: it holds the canonical
// item ledger per session, deduplicates client change logs, and fans state
// back out to every member.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/beyondparity/parity/internal/config"
	"github.com/beyondparity/parity/internal/logdedup"
	"github.com/beyondparity/parity/internal/server"
)

var (
	configPath = pflag.StringP("config", "c", "parity_server.cfg", "path to the Settings INI file")
	debugFlag  = pflag.Bool("debug", false, "log at debug level")
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
	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelInfo
	if *debugFlag {
		level = slog.LevelDebug
	}
	log := slog.New(logdedup.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	slog.SetDefault(log)

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}
	defer srv.Close()
	log.Info("listening", "addr", srv.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.MetricsHandler())
		httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		g.Go(func() error {
			log.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
