package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the analysis backend is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		client := newBackendClient()
		msg, err := client.Ping(ctx)
		if err != nil {
			return explain(err)
		}
		if msg == "" {
			msg = "ok"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %s\n", client.BaseURL(), msg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
