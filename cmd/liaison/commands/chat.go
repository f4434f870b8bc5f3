package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liaison-ai/liaison/internal/agent"
	"github.com/liaison-ai/liaison/internal/bus"
	"github.com/liaison-ai/liaison/internal/config"
	"github.com/liaison-ai/liaison/internal/provider"
)

func NewChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with Liaison",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	model, err := provider.NewChatModel(ctx, cfg)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
		fmt.Println("No model configured. Directives still work, free text does not.")
		model = nil
	}

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	msgBus := bus.NewMessageBus(10)
	loop, err := agent.NewLoop(cfg, msgBus, model, registry)
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}

	if len(args) > 0 {
		message := strings.Join(args, " ")
		resp, err := loop.ProcessDirect(ctx, message)
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	}

	fmt.Printf("Liaison ready. Type 'exit' to quit, '%s help' for tool directives.\n", cfg.Agent.CommandPrefix)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "exit" || input == "quit" {
			break
		}
		if input == "" {
			continue
		}

		resp, err := loop.ProcessDirect(ctx, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Println(resp)
	}

	return nil
}
