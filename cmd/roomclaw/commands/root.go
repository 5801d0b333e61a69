// Package commands implements the roomclaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "roomclaw",
		Short: "RoomClaw — a multi-room chat agent",
		Long: `RoomClaw runs an LLM agent that lives across chat rooms: it watches
incoming messages, keeps a private memory room, and manipulates scrollable
content windows to manage its own context.

Examples:
  roomclaw serve
  roomclaw serve --channel console
  roomclaw setup
  roomclaw config show`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newHealthCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
