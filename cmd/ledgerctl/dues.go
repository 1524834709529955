package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmynk/groupledger/internal/money"
)

var groupID, memberID string

var duesCmd = &cobra.Command{
	Use:   "dues",
	Short: "Print a member's balance against everyone else in a group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		dues, err := a.Ledger.MemberDues(cmd.Context(), groupID, memberID)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(dues.Amounts))
		for id := range dues.Amounts {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", id, money.Format(dues.Amounts[id], dues.BaseCurrency), dues.BaseCurrency)
		}
		return w.Flush()
	},
}

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Print net positions and suggested transfers for a group",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.Ledger.ComputeBalances(cmd.Context(), groupID, memberID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
		for _, n := range b.Net {
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", n.MemberID, money.Format(n.NetBalance, b.BaseCurrency), b.BaseCurrency)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if len(b.Suggested) > 0 {
			fmt.Fprintln(out)
		}
		for _, e := range b.Suggested {
			fmt.Fprintf(out, "%s pays %s %s %s\n", e.From, e.To, money.Format(e.Amount, b.BaseCurrency), b.BaseCurrency)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{duesCmd, balancesCmd} {
		c.Flags().StringVar(&groupID, "group", "", "Group id.")
		c.Flags().StringVar(&memberID, "member", "", "Member id to read as.")
		c.MarkFlagRequired("group")
		c.MarkFlagRequired("member")
		rootCmd.AddCommand(c)
	}
}
