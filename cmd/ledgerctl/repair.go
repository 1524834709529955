package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmynk/groupledger/internal/events"
)

var repairGroupID string

var repairCmd = &cobra.Command{
	Use:   "repair-rates",
	Short: "Resolve exchange rates for transactions stored without one",
	Long:  "Resolve exchange rates for transactions stored without one.\nWithout --group every live group is scanned.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Ledger.RepairDeferredRates(cmd.Context(), repairGroupID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, repaired %d, pending %d\n", res.Scanned, res.Repaired, res.Pending)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Repair deferred rates as rate.deferred messages arrive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.AMQPURL == "" {
			return errors.New("AMQP_URL is required for the worker")
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		dial := func() (events.Consumer, error) {
			client, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
		logger.Info("Worker starting", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		return events.NewWorker(dial, a.Ledger, logger).Run(cmd.Context())
	},
}

func init() {
	repairCmd.Flags().StringVar(&repairGroupID, "group", "", "Only repair this group.")
	rootCmd.AddCommand(repairCmd, workerCmd)
}
