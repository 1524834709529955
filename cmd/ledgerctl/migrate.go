package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmynk/groupledger/internal/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		version, err := sqlite.Migrate(cfg.DBPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", cfg.DBPath, version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
