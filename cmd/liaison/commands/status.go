package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liaison-ai/liaison/internal/config"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Liaison configuration status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}

	fmt.Println("=== Liaison Status ===")
	fmt.Println()

	fmt.Printf("Config: %s\n", config.ConfigPath())
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found (run 'liaison init')")
	}

	fmt.Printf("\nWorkspace: %s\n", workspacePath)

	fmt.Printf("\nModel: %s\n", cfg.Agent.Model)

	fmt.Println("\nProviders:")
	providers := []struct {
		name string
		key  string
	}{
		{"OpenRouter", cfg.Providers.OpenRouter.APIKey},
		{"Claude", cfg.Providers.Claude.APIKey},
		{"OpenAI", cfg.Providers.OpenAI.APIKey},
		{"DeepSeek", cfg.Providers.DeepSeek.APIKey},
		{"Ollama", cfg.Providers.Ollama.BaseURL},
	}
	for _, p := range providers {
		status := "Not configured"
		if p.key != "" {
			status = "Configured"
		}
		fmt.Printf("  %s: %s\n", p.name, status)
	}

	fmt.Println("\nMCP servers:")
	if len(cfg.MCP.Servers) == 0 {
		fmt.Println("  (none configured)")
	}
	for _, name := range sortedMCPServerNames(cfg.MCP.Servers) {
		server := cfg.MCP.Servers[name]
		state := "enabled"
		if !config.IsMCPServerEnabled(server) {
			state = "disabled"
		}
		transport := server.Transport
		if transport == "" {
			transport = "stdio"
		}
		fmt.Printf("  %s: %s (%s)\n", name, state, transport)
	}

	fmt.Println("\nChannels:")
	tgState := "disabled"
	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token != "" {
			tgState = "enabled (ready)"
		} else {
			tgState = "enabled (missing token)"
		}
	}
	fmt.Printf("  Telegram: %s\n", tgState)

	fmt.Println("\nGateway:")
	fmt.Printf("  Address: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token != "" {
		fmt.Println("  Auth:    token configured")
	} else {
		fmt.Println("  Auth:    no token (open)")
	}

	return nil
}
