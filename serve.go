package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/pos-server/config"
	"github.com/stevemurr/pos-server/handler"
	"github.com/stevemurr/pos-server/housekeeping"
	"github.com/stevemurr/pos-server/pos"
	"github.com/stevemurr/pos-server/schema"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	logger := slog.Default()

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	reg, err := schema.NewRegistry(cfg.Schemas)
	if err != nil {
		return err
	}
	s, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := handler.Options{
		Store:          s,
		Schemas:        reg,
		UploadDir:      cfg.UploadDir,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit: handler.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	}

	g, ctx := errgroup.WithContext(ctx)
	// Housekeeping runs only where the data lives.
	if cfg.Mode == config.ModeServer {
		backuper := housekeeping.NewBackuper(s, cfg.BackupDir, cfg.MaxBackups, logger.With("component", "backup"))
		sched := housekeeping.NewScheduler(pos.NewService(s, pos.WithLogger(logger)), backuper, logger.With("component", "scheduler"))
		opts.Backuper = backuper
		opts.Scheduler = sched
		g.Go(func() error { return sched.Run(ctx) })
	}

	h := handler.New(opts)
	defer h.Close()
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("POS server starting", "addr", srv.Addr, "mode", cfg.Mode, "store", cfg.Store, "version", version)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
