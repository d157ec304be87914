package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/stevemurr/pos-server/config"
	"github.com/stevemurr/pos-server/pos"
	"github.com/stevemurr/pos-server/store"
)

var version = "dev"

var (
	configDir string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "pos-server",
	Short: "Restaurant POS backend",
	Long: `pos-server serves the restaurant POS API over an embedded document store.

In server mode it owns the SQLite database and runs offer expiry and backups.
In client mode it forwards every store operation to the configured server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger(logLevel)
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", env("CONFIG_DIR", "."), "directory holding config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, backupCmd, restoreCmd, exportCmd, versionCmd)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogger(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      l,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			switch t := a.Value.Any().(type) {
			case string:
				if t == "" {
					return slog.Attr{}
				}
			case time.Duration:
				if t == 0 {
					return slog.Attr{}
				}
			case nil:
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)
	return nil
}

// openStore returns a RemoteStore in client mode and a LocalStore over the
// configured backend otherwise.
func openStore(cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Mode == config.ModeClient {
		logger.Info("client mode", "server", cfg.ServerURL())
		return store.NewRemoteStore(cfg.ServerURL(), nil), nil
	}
	backend, err := store.OpenBackend(cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store (backend=%s): %w", cfg.Store, err)
	}
	s, err := store.NewLocalStore(backend, logger, pos.Collections...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	logger.Info("store opened", "backend", strings.ToLower(cfg.Store), "data", cfg.DataDir)
	return s, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
