package main

import (
	"os"

	"github.com/panyam/authgate"
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(os.Stderr)
		if err != nil {
			return err
		}
		boot := &authgate.Bootstrapper{Store: a.store, API: a.client, Logger: a.logger}
		if err := boot.Run(cmd.Context()); err != nil {
			return err
		}
		printIdentity(cmd.OutOrStdout(), a.store.Get().Identity)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
