package mcp

import (
	"context"
	"encoding/json"

	"github.com/liaison-ai/liaison/internal/config"
)

const (
	TransportStdio   = "stdio"
	TransportHTTPSSE = "http_sse"
)

// SessionState is the lifecycle state of one server session.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateReady        SessionState = "ready"
	StateDegraded     SessionState = "degraded"
	StateClosed       SessionState = "closed"
)

// ToolDefinition describes a tool discovered from an MCP server.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ResourceDefinition describes a resource advertised by an MCP server.
type ResourceDefinition struct {
	URI         string
	Name        string
	Description string
}

// PromptDefinition describes a prompt advertised by an MCP server.
type PromptDefinition struct {
	Name        string
	Description string
}

// Capabilities is the full handshake-time advertisement of one server.
type Capabilities struct {
	Tools     []ToolDefinition
	Resources []ResourceDefinition
	Prompts   []PromptDefinition
}

// Client is the MCP client abstraction used by the registry.
type Client interface {
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	ListResources(ctx context.Context) ([]ResourceDefinition, error)
	ListPrompts(ctx context.Context) ([]PromptDefinition, error)
	CallTool(ctx context.Context, toolName, argsJSON string) (any, error)
	Close() error
}

// Connector dials a server and returns a client implementation.
type Connector interface {
	Connect(ctx context.Context, serverName string, cfg config.MCPServerConfig) (Client, error)
}

// Connectors groups supported transport connectors.
type Connectors struct {
	Stdio   Connector
	HTTPSSE Connector
}

// ServerStatus represents current registry state for one configured server.
type ServerStatus struct {
	Name      string       `json:"name"`
	Transport string       `json:"transport"`
	State     SessionState `json:"state"`
	ToolCount int          `json:"tool_count"`
	Message   string       `json:"message,omitempty"`
}

// Ready reports whether the session is currently usable.
func (s ServerStatus) Ready() bool {
	return s.State == StateReady
}
