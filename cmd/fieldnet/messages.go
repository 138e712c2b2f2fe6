// ABOUTME: fieldnet messages: lists the CLI agent's inbox or full conversation

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/store"
)

func messagesCmd() *cobra.Command {
	var limit int
	var since time.Duration
	var all bool
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Show messages delivered to you, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := agentID()
			if err != nil {
				return err
			}
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				var msgs []*store.Message
				if all {
					msgs, err = n.Conversation(ctx, id, limit)
				} else {
					var after time.Time
					if since > 0 {
						after = time.Now().Add(-since)
					}
					msgs, err = n.Inbox(ctx, id, after, limit)
				}
				if err != nil {
					return err
				}
				printMessages(msgs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of messages")
	cmd.Flags().DurationVar(&since, "since", 0, "only messages newer than this, e.g. 1h")
	cmd.Flags().BoolVar(&all, "all", false, "include messages you sent")
	return cmd
}

func printMessages(msgs []*store.Message) {
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)
	for _, m := range msgs {
		gray.Printf("%s ", m.CreatedAt.Local().Format("Jan 02 15:04"))
		cyan.Printf("%s → %s", m.FromAgent, m.ToAgent)
		gray.Printf(" [%s, %s, impact %.2f]\n", m.Type, m.Harmony, m.FieldImpact)
		fmt.Printf("  %s\n", m.Content)
	}
}
