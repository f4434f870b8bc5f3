package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liaison-ai/liaison/internal/mcp"
)

const defaultCallTimeout = 30 * time.Second

// Router dispatches parsed directives through a session registry and renders
// chat-postable replies. It keeps no per-directive state.
type Router struct {
	registry    *mcp.Registry
	prefix      string
	callTimeout time.Duration
}

// NewRouter creates a router over the given registry. prefix and callTimeout
// fall back to defaults when zero.
func NewRouter(registry *mcp.Registry, prefix string, callTimeout time.Duration) *Router {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Router{
		registry:    registry,
		prefix:      prefix,
		callTimeout: callTimeout,
	}
}

// Handle parses raw chat text and executes it if it is a directive. handled
// is false for free text, which the caller routes to the agent instead.
func (r *Router) Handle(ctx context.Context, content string) (reply string, handled bool, err error) {
	directive, handled, err := Parse(r.prefix, content)
	if err != nil || !handled {
		return "", handled, err
	}
	reply, err = r.Execute(ctx, directive)
	return reply, true, err
}

// Execute runs one parsed directive. Unknown servers fail with a UsageError
// before any adapter call is issued.
func (r *Router) Execute(ctx context.Context, directive *Directive) (string, error) {
	switch directive.Action {
	case ActionHelp:
		return r.renderHelp(), nil
	case ActionServers:
		return renderServers(r.registry.Servers()), nil
	}

	if err := r.checkServer(directive.Server); err != nil {
		return "", err
	}

	switch directive.Action {
	case ActionTools:
		tools, err := r.registry.Tools(directive.Server)
		if err != nil {
			return "", err
		}
		return renderTools(directive.Server, tools), nil
	case ActionResources:
		resources, err := r.registry.Resources(directive.Server)
		if err != nil {
			return "", err
		}
		return renderResources(directive.Server, resources), nil
	case ActionPrompts:
		prompts, err := r.registry.Prompts(directive.Server)
		if err != nil {
			return "", err
		}
		return renderPrompts(directive.Server, prompts), nil
	case ActionCall:
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()

		result, err := r.registry.Invoke(callCtx, directive.Server, directive.Tool, directive.ArgsJSON)
		if err != nil {
			return "", err
		}
		return renderToolOutput(directive.Server, directive.Tool, result), nil
	default:
		return "", &UsageError{
			Msg:          fmt.Sprintf("unknown action %q", directive.Action),
			KnownActions: KnownActions,
		}
	}
}

func (r *Router) checkServer(server string) error {
	for _, name := range r.registry.ServerNames() {
		if name == server {
			return nil
		}
	}
	return &UsageError{
		Msg:          fmt.Sprintf("unknown server %q", server),
		KnownServers: r.registry.ServerNames(),
		KnownActions: KnownActions,
	}
}

func (r *Router) renderHelp() string {
	var sb strings.Builder
	sb.WriteString("**MCP directives:**\n\n")
	sb.WriteString(fmt.Sprintf("- `%s servers` - list configured servers and their state\n", r.prefix))
	sb.WriteString(fmt.Sprintf("- `%s <server> tools` - list the server's tools\n", r.prefix))
	sb.WriteString(fmt.Sprintf("- `%s <server> resources` - list the server's resources\n", r.prefix))
	sb.WriteString(fmt.Sprintf("- `%s <server> prompts` - list the server's prompts\n", r.prefix))
	sb.WriteString(fmt.Sprintf("- `%s <server> call <tool> [json-args]` - invoke a tool directly\n", r.prefix))
	return sb.String()
}
