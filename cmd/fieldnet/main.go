// ABOUTME: Entry point for the fieldnet CLI working directly against the local network store
// ABOUTME: Registers the cobra command tree; each command lives in its own file

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

// Persistent flags.
var (
	configPath string
	actingAs   string
)

func main() {
	root := &cobra.Command{
		Use:           "fieldnet",
		Short:         "Join and observe the fieldnet presence network",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $FIELDNET_CONFIG or ~/.config/fieldnet/gateway.yaml)")
	root.PersistentFlags().StringVar(&actingAs, "as", "", "agent id to act as (default: the agent saved by join)")

	root.AddCommand(joinCmd())
	root.AddCommand(leaveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(messagesCmd())
	root.AddCommand(fieldCmd())
	root.AddCommand(collectivesCmd())
	root.AddCommand(formCollectiveCmd())
	root.AddCommand(joinCollectiveCmd())
	root.AddCommand(collectiveSendCmd())
	root.AddCommand(workCmd())
	root.AddCommand(clearCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
