package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/liaison-ai/liaison/internal/agent"
	"github.com/liaison-ai/liaison/internal/bus"
	"github.com/liaison-ai/liaison/internal/channel"
	"github.com/liaison-ai/liaison/internal/channel/telegram"
	"github.com/liaison-ai/liaison/internal/config"
	"github.com/liaison-ai/liaison/internal/gateway"
	"github.com/liaison-ai/liaison/internal/mcp"
	"github.com/liaison-ai/liaison/internal/provider"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the Liaison server",
		RunE:  runServer,
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	msgBus := bus.NewMessageBus(100)

	model, err := provider.NewChatModel(ctx, cfg)
	if err != nil {
		slog.Warn("no model configured", "error", err)
	}

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()
	registry.StartHealthChecks(ctx)

	loop, err := agent.NewLoop(cfg, msgBus, model, registry)
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("agent loop failed: %w", err)
		}
	}()

	chanMgr := channel.NewManager(msgBus)
	registerEnabledChannels(cfg, msgBus, chanMgr)
	chanMgr.StartAll(ctx)
	go chanMgr.RouteOutbound(ctx)

	gatewayServer := gateway.New(cfg.Gateway, loop, registry)
	go func() {
		if err := gatewayServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Printf("Liaison server running. Gateway: http://%s\nPress Ctrl+C to stop.\n", gatewayServer.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("server component failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	chanMgr.StopAll(shutdownCtx)
	if err := gatewayServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway shutdown failed", "error", err)
	}

	return runErr
}

// buildRegistry connects the enabled MCP servers. A server that fails to
// connect starts degraded instead of blocking startup.
func buildRegistry(ctx context.Context, cfg *config.Config) (*mcp.Registry, error) {
	registry, err := mcp.NewRegistryFromConfig(ctx, cfg.MCP.Servers, mcp.DefaultConnectors())
	if err != nil {
		return nil, fmt.Errorf("failed to set up mcp servers: %w", err)
	}
	return registry, nil
}

func registerEnabledChannels(cfg *config.Config, msgBus *bus.MessageBus, mgr *channel.Manager) {
	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			slog.Warn("telegram channel enabled but token is empty, skipping")
			return
		}
		mgr.Register(telegram.New(&cfg.Channels.Telegram, msgBus))
	}
}
