// ABOUTME: fieldnet send: sends a direct or broadcast message as the CLI agent

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/router"
)

func sendCmd() *cobra.Command {
	var opts router.SendOptions
	cmd := &cobra.Command{
		Use:   "send TO MESSAGE...",
		Short: "Send a message to an agent id, or to 'all'",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := agentID()
			if err != nil {
				return err
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				receipt, err := n.Send(ctx, from, args[0], strings.Join(args[1:], " "), opts)
				if err != nil {
					return err
				}
				printReceipt(receipt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "collaboration, support, gratitude, encouragement, wisdom_sharing")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority label (default: normal)")
	cmd.Flags().BoolVar(&opts.ResponseNeeded, "response-needed", false, "ask the recipient to reply")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "retries with the same key are not delivered twice")
	return cmd
}

func printReceipt(r router.Receipt) {
	if r.Replayed {
		color.New(color.FgYellow).Print("↻ already sent ")
	} else {
		color.New(color.FgGreen).Print("✓ sent ")
	}
	fmt.Printf("%d message(s)\n", len(r.MessageIDs))
	for _, id := range r.MessageIDs {
		fmt.Printf("  %s\n", id)
	}
}
