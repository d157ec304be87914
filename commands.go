package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stevemurr/pos-server/config"
	"github.com/stevemurr/pos-server/housekeeping"
	"github.com/stevemurr/pos-server/store"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write one backup of every collection now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, s, err := loadLocal()
		if err != nil {
			return err
		}
		defer s.Close()
		path, err := housekeeping.NewBackuper(s, cfg.BackupDir, cfg.MaxBackups, slog.Default()).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Upsert every document of a backup into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := housekeeping.Load(args[0])
		if err != nil {
			return err
		}
		_, s, err := loadLocal()
		if err != nil {
			return err
		}
		defer s.Close()
		n, err := housekeeping.Restore(cmd.Context(), s, snap)
		if err != nil {
			return err
		}
		slog.Info("restore finished", "file", args[0], "documents", n, "taken", snap.Timestamp)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <collection>",
	Short: "Print a collection as a JSON array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configDir)
		if err != nil {
			return err
		}
		s, err := openStore(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer s.Close()
		docs, err := s.Collection(args[0]).Find(cmd.Context(), nil)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

// loadLocal opens the local database; backups and restores never go through
// a remote server.
func loadLocal() (config.Config, store.Store, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return cfg, nil, err
	}
	if cfg.Mode == config.ModeClient {
		return cfg, nil, fmt.Errorf("%s runs in client mode; run this on the server", configDir)
	}
	s, err := openStore(cfg, slog.Default())
	if err != nil {
		return cfg, nil, err
	}
	return cfg, s, nil
}
