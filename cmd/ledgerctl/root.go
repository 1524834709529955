package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mmynk/groupledger/internal/app"
	"github.com/mmynk/groupledger/internal/config"
	"github.com/mmynk/groupledger/pkg/logging"
)

var (
	cfg    *config.Config
	logger *slog.Logger

	dbPath string
)

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Maintain a group ledger database",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides DB_PATH).")
}

// openApp builds the engine for commands that read or repair the ledger.
func openApp(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), cfg, logger, app.Options{})
}
