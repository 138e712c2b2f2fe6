// ABOUTME: fieldnet work commands: create, list, progress and complete work items

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/store"
	"github.com/2389/fieldnet-gateway/internal/work"
)

func workCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Create and track work items",
	}
	cmd.AddCommand(workCreateCmd(), workListCmd(), workProgressCmd(), workDoneCmd())
	return cmd
}

func workCreateCmd() *cobra.Command {
	var description string
	var opts work.CreateOptions
	cmd := &cobra.Command{
		Use:   "create TITLE...",
		Short: "Create a work item scored for harmony and growth potential",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creator, err := agentID()
			if err != nil {
				return err
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				item, err := n.CreateWork(ctx, creator, strings.Join(args, " "), description, opts)
				if err != nil {
					return err
				}
				color.New(color.FgGreen).Print("✓ created ")
				printWork(item)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "what the work involves")
	cmd.Flags().StringVar(&opts.AssignedTo, "assign", "", "agent id to assign the work to")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low, normal, high or urgent (default: normal)")
	return cmd
}

func workListCmd() *cobra.Command {
	var all bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open work items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				items, err := n.ListWork(ctx, !all, limit)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Println("No work items.")
				}
				for _, item := range items {
					printWork(item)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include completed items")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of items")
	return cmd
}

func workProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress ID PERCENT",
		Short: "Record progress on a work item; 100 completes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := strconv.Atoi(strings.TrimSuffix(args[1], "%"))
			if err != nil {
				return fmt.Errorf("invalid percent %q", args[1])
			}
			id, err := agentID()
			if err != nil {
				return err
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				item, err := n.UpdateWork(ctx, id, args[0], pct)
				if err != nil {
					return err
				}
				printWork(item)
				return nil
			})
		},
	}
}

func workDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done ID",
		Short: "Complete a work item and take credit for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := agentID()
			if err != nil {
				return err
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				item, err := n.CompleteWork(ctx, id, args[0])
				if err != nil {
					return err
				}
				color.New(color.FgGreen).Print("✓ completed ")
				printWork(item)
				return nil
			})
		},
	}
}

func printWork(w *store.WorkItem) {
	color.New(color.Bold).Printf("%s", w.Title)
	fmt.Printf("  %s\n", w.ID)
	fmt.Printf("  status:  %s, %d%%, priority %s\n", w.Status, w.Progress, w.Priority)
	fmt.Printf("  harmony: %s, growth potential %.0f%%, benefit %s\n", w.PrimaryHarmony, w.GrowthPotential*100, w.CollectiveBenefit)
	if w.AssignedTo != "" {
		fmt.Printf("  assigned to %s\n", w.AssignedTo)
	}
	if w.CompletedBy != "" {
		fmt.Printf("  completed by %s\n", w.CompletedBy)
	}
}
