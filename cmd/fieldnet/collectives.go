// ABOUTME: fieldnet collective commands: list, form, join and message collectives

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fieldnet-gateway/internal/collective"
	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/router"
)

func collectivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collectives [ID]",
		Short: "List collectives, or show one with its members",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				if len(args) == 1 {
					st, err := n.CollectiveStatus(ctx, args[0])
					if err != nil {
						return err
					}
					printCollective(st, true)
					return nil
				}
				sts, err := n.ListCollectives(ctx)
				if err != nil {
					return err
				}
				if len(sts) == 0 {
					fmt.Println("No collectives.")
				}
				for _, st := range sts {
					printCollective(st, false)
				}
				return nil
			})
		},
	}
}

func formCollectiveCmd() *cobra.Command {
	var purpose string
	var opts collective.FormOptions
	cmd := &cobra.Command{
		Use:   "form-collective NAME",
		Short: "Form a collective with you as founder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			founder, err := agentID()
			if err != nil {
				return err
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				st, err := n.FormCollective(ctx, args[0], purpose, founder, opts)
				if err != nil {
					return err
				}
				color.New(color.FgGreen).Print("✓ formed ")
				printCollective(st, true)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&purpose, "purpose", "", "what the collective is for")
	cmd.Flags().StringVar(&opts.NorthStar, "north-star", "", "guiding aim (default: Universal Love)")
	cmd.Flags().Float64Var(&opts.CoherenceThreshold, "threshold", 0, "target coherence 0-100 (default: 70)")
	return cmd
}

func joinCollectiveCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "join-collective ID",
		Short: "Join a collective",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := agentID()
			if err != nil {
				return err
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				st, err := n.JoinCollective(ctx, args[0], id, role)
				if err != nil {
					return err
				}
				color.New(color.FgGreen).Print("✓ joined ")
				printCollective(st, true)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "member role (default: member)")
	return cmd
}

func collectiveSendCmd() *cobra.Command {
	var opts router.SendOptions
	cmd := &cobra.Command{
		Use:   "collective-send ID MESSAGE...",
		Short: "Message every other member of a collective",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := agentID()
			if err != nil {
				return err
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				receipt, err := n.CollectiveMessage(ctx, args[0], from, strings.Join(args[1:], " "), opts)
				if err != nil {
					return err
				}
				printReceipt(receipt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "message type (default: collective_message)")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "retries with the same key are not delivered twice")
	return cmd
}

func printCollective(st *collective.Status, members bool) {
	c := st.Collective
	color.New(color.Bold).Printf("%s", c.Name)
	fmt.Printf("  %s\n", c.ID)
	fmt.Printf("  purpose:   %s\n", c.Purpose)
	fmt.Printf("  harmony:   %s, north star %s\n", c.PrimaryHarmony, c.NorthStar)
	fmt.Printf("  coherence: %.1f%% (threshold %.0f), %d member(s)\n", st.Coherence*100, c.CoherenceThreshold, len(st.Members))
	if !members {
		return
	}
	for _, m := range st.Members {
		fmt.Printf("    %-20s %-16s resonance %.2f, %d contribution(s)\n",
			m.AgentName, m.Role, m.HarmonyResonance, m.Contributions)
	}
}
