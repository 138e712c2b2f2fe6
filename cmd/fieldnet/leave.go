// ABOUTME: fieldnet leave: marks the CLI agent inactive and forgets the saved identity

package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fieldnet-gateway/internal/network"
)

func leaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the network",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := agentID()
			if err != nil {
				return err
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				if err := n.Leave(ctx, id); err != nil {
					return err
				}
				if actingAs == "" {
					if err := removeSession(sessionPath()); err != nil {
						return err
					}
				}
				color.New(color.FgGreen).Printf("✓ %s left the network\n", id)
				return nil
			})
		},
	}
}
