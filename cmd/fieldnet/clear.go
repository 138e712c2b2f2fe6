// ABOUTME: fieldnet clear: wipes every agent, message, collective and snapshot

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fieldnet-gateway/internal/network"
)

func clearCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all network data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to clear without --force")
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				if err := n.Clear(ctx); err != nil {
					return err
				}
				if err := removeSession(sessionPath()); err != nil {
					return err
				}
				color.New(color.FgYellow).Println("network cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	return cmd
}
