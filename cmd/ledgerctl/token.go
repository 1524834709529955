package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmynk/groupledger/internal/auth"
)

var tokenMember string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a member",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret, err := cfg.Secret()
		if err != nil {
			return err
		}
		token, err := auth.NewJWTManager(secret, cfg.TokenTTL).Generate(tokenMember)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenMember, "member", "", "Member id the token identifies.")
	tokenCmd.MarkFlagRequired("member")
	rootCmd.AddCommand(tokenCmd)
}
