package agent

import (
	"fmt"
	"strings"

	"github.com/liaison-ai/liaison/internal/session"
	"github.com/cloudwego/eino/schema"
)

const coreSystemPrompt = `You are Liaison, an assistant with access to external tools over MCP.
Tools are named "mcp.<server>.<tool>". Call a tool whenever it can answer the
user's request better than you can from memory. When a tool fails, read the
error and either retry with corrected arguments or explain the failure.`

// ContextBuilder assembles the message list handed to the model.
type ContextBuilder struct {
	systemPrompt string
}

// NewContextBuilder creates a builder. An empty systemPrompt uses the default
// framing.
func NewContextBuilder(systemPrompt string) *ContextBuilder {
	return &ContextBuilder{systemPrompt: strings.TrimSpace(systemPrompt)}
}

// SystemPrompt returns the framing used for every inference call.
func (c *ContextBuilder) SystemPrompt() string {
	if c.systemPrompt != "" {
		return c.systemPrompt
	}
	return coreSystemPrompt
}

// BuildMessages constructs the full message list from thread history plus the
// current user text. Past tool turns are rendered as assistant context since
// their original call ids are gone.
func (c *ContextBuilder) BuildMessages(history []*session.Turn, current string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)

	messages = append(messages, &schema.Message{
		Role:    schema.System,
		Content: c.SystemPrompt(),
	})

	for _, turn := range history {
		switch turn.Role {
		case session.RoleAssistant:
			messages = append(messages, &schema.Message{
				Role:    schema.Assistant,
				Content: turn.Content,
			})
		case session.RoleTool:
			messages = append(messages, &schema.Message{
				Role:    schema.Assistant,
				Content: renderToolTurn(turn),
			})
		case session.RoleSystem:
			messages = append(messages, &schema.Message{
				Role:    schema.System,
				Content: turn.Content,
			})
		default:
			messages = append(messages, &schema.Message{
				Role:    schema.User,
				Content: turn.Content,
			})
		}
	}

	messages = append(messages, &schema.Message{
		Role:    schema.User,
		Content: strings.TrimSpace(current),
	})

	return messages
}

func renderToolTurn(turn *session.Turn) string {
	args := strings.TrimSpace(turn.ToolArgs)
	if args == "" {
		args = "{}"
	}
	return fmt.Sprintf("[tool call] %s %s\n[result] %s", turn.ToolName, args, turn.ToolResult)
}
