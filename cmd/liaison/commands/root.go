package commands

import (
	"github.com/spf13/cobra"

	"github.com/liaison-ai/liaison/internal/config"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liaison",
		Short: "Liaison - chat-driven MCP tool orchestrator",
		Long:  `Liaison bridges chat channels to MCP tool servers through a tool-calling agent.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return configureLogger(config.DefaultConfig(), logLevelOverride)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewChatCmd(),
		NewRunCmd(),
		NewStatusCmd(),
		NewMCPCmd(),
		NewVersionCmd(),
	)

	return cmd
}
