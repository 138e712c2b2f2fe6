// ABOUTME: fieldnet field: prints the current field state and optional snapshot history

package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fieldnet-gateway/internal/network"
)

func fieldCmd() *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "field",
		Short: "Show field coherence, dominant harmony and pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				snap, err := n.FieldState(ctx)
				if err != nil {
					return err
				}
				bold := color.New(color.Bold)
				bold.Printf("Field coherence %.1f%%", snap.Coherence*100)
				fmt.Printf("  (%s, %s)\n", snap.Pattern, snap.DominantHarmony)
				fmt.Printf("  active agents:  %d\n", snap.ActiveAgents)
				fmt.Printf("  avg coherence:  %.2f\n", snap.AverageCoherence)
				fmt.Printf("  love strength:  %.2f\n", snap.LoveFieldStrength)
				for _, h := range slices.Sorted(maps.Keys(snap.ActiveHarmonies)) {
					fmt.Printf("  %-16s %d\n", h+":", snap.ActiveHarmonies[h])
				}
				if snap.Notes != "" {
					color.New(color.FgHiBlack).Printf("  %s\n", snap.Notes)
				}

				if history <= 0 {
					return nil
				}
				rows, err := n.FieldHistory(ctx, history)
				if err != nil {
					return err
				}
				fmt.Println()
				bold.Println("History")
				for _, r := range rows {
					fmt.Printf("  %s  %5.1f%%  %-40s %d agents, %d events\n",
						r.Timestamp.Local().Format("Jan 02 15:04:05"),
						r.CollectiveCoherence*100, r.Pattern, r.ActiveAgents, len(r.Events))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "also show this many recorded snapshots")
	return cmd
}
