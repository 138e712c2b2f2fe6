// ABOUTME: fieldnet status: prints the network status report
// ABOUTME: Heartbeats the saved agent first so checking in keeps it live

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/report"
)

func statusCmd() *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show live agents, the field, collectives, recent messages and open work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				if id, err := agentID(); err == nil {
					if _, err := n.Heartbeat(ctx, id); err != nil {
						fmt.Fprintf(os.Stderr, "heartbeat for %s failed: %v\n", id, err)
					}
				}
				st, err := n.Status(ctx, recent)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(report.Markdown(st))
				return err
			})
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent messages to show")
	return cmd
}
