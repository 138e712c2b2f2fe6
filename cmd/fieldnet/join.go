// ABOUTME: fieldnet join: registers or reconnects the CLI agent and saves its identity
// ABOUTME: Rejoining under the saved name reuses the saved fingerprint, so it reconnects

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/session"
)

func joinCmd() *cobra.Command {
	var name, role string
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the network as a named agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNetwork(func(ctx context.Context, n *network.Network) error {
				return runJoin(ctx, n, name, role, capabilities)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "role, e.g. 'Code Weaver' (default: Bridge Builder)")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capability tag (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runJoin(ctx context.Context, n *network.Network, name, role string, capabilities []string) error {
	path := sessionPath()
	saved, err := loadSession(path)
	if err != nil {
		return err
	}

	fp := n.Fingerprint()
	if saved != nil && saved.Name == name {
		fp = saved.fingerprint()
	}

	res, err := n.Join(ctx, network.JoinRequest{
		Name:         name,
		Role:         role,
		Capabilities: capabilities,
		Fingerprint:  &fp,
	})
	if err != nil {
		return err
	}

	if err := saveSession(path, &savedSession{
		AgentID:   res.AgentID,
		Name:      name,
		Platform:  fp.Platform,
		PID:       fp.PID,
		StartTime: fp.StartTime,
		Nonce:     fp.Nonce,
	}); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	switch res.Outcome {
	case session.ReconnectedSameSession:
		green.Print("↻ reconnected ")
	case session.NameConflict:
		color.New(color.FgYellow).Printf("! another live agent is named %q (%s) ", name, res.Previous)
	default:
		green.Print("✓ joined ")
	}
	fmt.Printf("%s as %s\n", res.Agent.Name, res.Agent.Role)
	fmt.Printf("  id:        %s\n", res.AgentID)
	fmt.Printf("  harmony:   %s\n", res.Agent.PrimaryHarmony)
	fmt.Printf("  coherence: %.2f\n", res.Agent.CoherenceLevel)
	fmt.Printf("  heartbeat: every %s\n", n.HeartbeatInterval())
	return nil
}
