package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/liaison-ai/liaison/internal/config"
	"github.com/liaison-ai/liaison/internal/mcp"
)

const mcpProbeTimeout = 8 * time.Second

var mcpProbeServer = probeMCPServer

func NewMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP servers",
	}

	cmd.AddCommand(
		newMCPStatusCmd(),
		newMCPListCmd(),
		newMCPCallCmd(),
		newMCPReconnectCmd(),
		newMCPDisableCmd(),
	)

	return cmd
}

func newMCPStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show MCP server health and degraded reasons",
		RunE:  runMCPStatus,
	}
}

func newMCPListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <server>",
		Short: "List tools advertised by one MCP server",
		Args:  cobra.ExactArgs(1),
		RunE:  runMCPList,
	}
}

func newMCPCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <server> <tool> [json-args]",
		Short: "Call one tool directly, bypassing the model",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runMCPCall,
	}
}

func newMCPReconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect <server>",
		Short: "Probe and reconnect one MCP server",
		Args:  cobra.ExactArgs(1),
		RunE:  runMCPReconnect,
	}
}

func newMCPDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <server>",
		Short: "Disable an MCP server in config",
		Args:  cobra.ExactArgs(1),
		RunE:  runMCPDisable,
	}
}

func runMCPStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(cfg.MCP.Servers) == 0 {
		fmt.Println("No MCP servers configured.")
		return nil
	}

	fmt.Println("MCP servers:")
	for _, name := range sortedMCPServerNames(cfg.MCP.Servers) {
		serverCfg := cfg.MCP.Servers[name]
		if !config.IsMCPServerEnabled(serverCfg) {
			fmt.Printf("  %s: disabled\n", name)
			continue
		}

		status, probeErr := probeServerWithTimeout(name, serverCfg)
		if probeErr != nil {
			fmt.Printf("  %s: degraded (%v)\n", name, probeErr)
			continue
		}

		if !status.Ready() {
			msg := strings.TrimSpace(status.Message)
			if msg == "" {
				msg = "unknown error"
			}
			fmt.Printf("  %s: %s (%s)\n", name, status.State, msg)
			continue
		}

		fmt.Printf("  %s: connected (tools=%d)\n", name, status.ToolCount)
	}

	return nil
}

func runMCPList(cmd *cobra.Command, args []string) error {
	serverName := strings.TrimSpace(args[0])

	serverCfg, err := loadEnabledServer(serverName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), mcpProbeTimeout)
	defer cancel()

	registry := mcp.NewRegistry(mcp.DefaultConnectors())
	defer registry.Close()
	if err := registry.Register(ctx, serverName, serverCfg); err != nil {
		return fmt.Errorf("connect %s: %w", serverName, err)
	}

	tools, err := registry.Tools(serverName)
	if err != nil {
		return fmt.Errorf("list tools on %s: %w", serverName, err)
	}
	if len(tools) == 0 {
		fmt.Printf("No tools advertised by %s.\n", serverName)
		return nil
	}
	fmt.Printf("Tools on %s:\n", serverName)
	for _, tool := range tools {
		desc := strings.TrimSpace(tool.Description)
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Printf("  %s: %s\n", tool.Name, desc)
	}
	return nil
}

func runMCPCall(cmd *cobra.Command, args []string) error {
	serverName := strings.TrimSpace(args[0])
	toolName := strings.TrimSpace(args[1])
	argsJSON := "{}"
	if len(args) > 2 {
		argsJSON = args[2]
	}

	serverCfg, err := loadEnabledServer(serverName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), mcpProbeTimeout)
	defer cancel()

	registry := mcp.NewRegistry(mcp.DefaultConnectors())
	defer registry.Close()
	if err := registry.Register(ctx, serverName, serverCfg); err != nil {
		return fmt.Errorf("connect %s: %w", serverName, err)
	}

	result, err := registry.Invoke(ctx, serverName, toolName, argsJSON)
	if err != nil {
		return fmt.Errorf("call %s on %s: %w", toolName, serverName, err)
	}
	fmt.Println(result)
	return nil
}

func runMCPReconnect(cmd *cobra.Command, args []string) error {
	serverName := strings.TrimSpace(args[0])

	serverCfg, err := loadEnabledServer(serverName)
	if err != nil {
		return err
	}

	status, probeErr := probeServerWithTimeout(serverName, serverCfg)
	if probeErr != nil {
		return fmt.Errorf("reconnect %s failed: %w", serverName, probeErr)
	}
	if !status.Ready() {
		msg := strings.TrimSpace(status.Message)
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("mcp server %s is still %s: %s", serverName, status.State, msg)
	}

	fmt.Printf("MCP server %s reconnected (tools=%d).\n", serverName, status.ToolCount)
	return nil
}

func runMCPDisable(cmd *cobra.Command, args []string) error {
	serverName := strings.TrimSpace(args[0])

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	serverCfg, ok := cfg.MCP.Servers[serverName]
	if !ok {
		return fmt.Errorf("mcp server not found: %s", serverName)
	}

	disabled := false
	serverCfg.Enabled = &disabled
	cfg.MCP.Servers[serverName] = serverCfg
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("MCP server %s disabled in config.\n", serverName)
	return nil
}

func loadEnabledServer(serverName string) (config.MCPServerConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.MCPServerConfig{}, fmt.Errorf("failed to load config: %w", err)
	}

	serverCfg, ok := cfg.MCP.Servers[serverName]
	if !ok {
		return config.MCPServerConfig{}, fmt.Errorf("mcp server not found: %s", serverName)
	}
	if !config.IsMCPServerEnabled(serverCfg) {
		return config.MCPServerConfig{}, fmt.Errorf("mcp server %s is disabled in config", serverName)
	}
	return serverCfg, nil
}

func probeServerWithTimeout(serverName string, cfg config.MCPServerConfig) (mcp.ServerStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mcpProbeTimeout)
	defer cancel()

	return mcpProbeServer(ctx, serverName, cfg)
}

func probeMCPServer(ctx context.Context, serverName string, cfg config.MCPServerConfig) (mcp.ServerStatus, error) {
	registry := mcp.NewRegistry(mcp.DefaultConnectors())
	defer registry.Close()

	if err := registry.Register(ctx, serverName, cfg); err != nil {
		return mcp.ServerStatus{}, err
	}

	statuses := registry.Servers()
	if len(statuses) == 0 {
		return mcp.ServerStatus{
			Name:      serverName,
			Transport: strings.ToLower(strings.TrimSpace(cfg.Transport)),
			State:     mcp.StateDegraded,
			Message:   "no status available",
		}, nil
	}
	return statuses[0], nil
}

func sortedMCPServerNames(servers map[string]config.MCPServerConfig) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
