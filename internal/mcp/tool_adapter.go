package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const toolNamePrefix = "mcp."

// FullToolName returns the namespaced form "mcp.<server>.<tool>" used when
// exposing tools to the model. Server names keep collisions apart.
func FullToolName(server, toolName string) string {
	return fmt.Sprintf("%s%s.%s", toolNamePrefix, strings.TrimSpace(server), strings.TrimSpace(toolName))
}

// SplitToolName is the inverse of FullToolName.
func SplitToolName(fullName string) (server, toolName string, ok bool) {
	rest, found := strings.CutPrefix(fullName, toolNamePrefix)
	if !found {
		return "", "", false
	}
	server, toolName, found = strings.Cut(rest, ".")
	if !found || server == "" || toolName == "" {
		return "", "", false
	}
	return server, toolName, true
}

type toolAdapter struct {
	registry   *Registry
	serverName string
	toolName   string
	fullName   string
	desc       string
	params     *schema.ParamsOneOf
}

func newToolAdapter(registry *Registry, serverName string, def ToolDefinition) toolAdapter {
	toolName := strings.TrimSpace(def.Name)
	desc := strings.TrimSpace(def.Description)
	if desc == "" {
		desc = toolName
	}

	return toolAdapter{
		registry:   registry,
		serverName: strings.TrimSpace(serverName),
		toolName:   toolName,
		fullName:   FullToolName(serverName, toolName),
		desc:       desc,
		params:     paramsFromInputSchema(def.InputSchema),
	}
}

func (a toolAdapter) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        a.fullName,
		Desc:        a.desc,
		ParamsOneOf: a.params,
		Extra: map[string]any{
			"provider": "mcp",
			"server":   a.serverName,
			"tool":     a.toolName,
		},
	}, nil
}

func (a toolAdapter) InvokableRun(ctx context.Context, argsJSON string, opts ...tool.Option) (string, error) {
	if a.registry == nil {
		return "", fmt.Errorf("mcp registry is not configured")
	}
	result, err := a.registry.Invoke(ctx, a.serverName, a.toolName, argsJSON)
	if err != nil {
		return "", err
	}
	return normalizeToolResult(result), nil
}

// AgentTools returns one invokable tool per cached tool of every ready server,
// sorted by server then tool name.
func (r *Registry) AgentTools() []tool.InvokableTool {
	out := make([]tool.InvokableTool, 0)
	for _, sess := range r.allSessions() {
		if sess.snapshotState() != StateReady {
			continue
		}
		for _, def := range sess.capabilities().Tools {
			if strings.TrimSpace(def.Name) == "" {
				continue
			}
			out = append(out, newToolAdapter(r, sess.name, def))
		}
	}
	return out
}

// paramsFromInputSchema converts the top level of a JSON Schema object into
// eino parameter info. Nested objects and arrays keep their element typing one
// level deep; anything unrecognized falls back to a string parameter.
func paramsFromInputSchema(raw json.RawMessage) *schema.ParamsOneOf {
	if len(raw) == 0 {
		return nil
	}

	var parsed struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Properties) == 0 {
		return nil
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, name := range parsed.Required {
		required[name] = true
	}

	params := make(map[string]*schema.ParameterInfo, len(parsed.Properties))
	for name, propRaw := range parsed.Properties {
		info := parameterInfo(propRaw)
		info.Required = required[name]
		params[name] = info
	}
	return schema.NewParamsOneOfByParams(params)
}

func parameterInfo(raw json.RawMessage) *schema.ParameterInfo {
	var prop struct {
		Type        string          `json:"type"`
		Description string          `json:"description"`
		Enum        []string        `json:"enum"`
		Items       json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return &schema.ParameterInfo{Type: schema.String}
	}

	info := &schema.ParameterInfo{
		Type: dataTypeOf(prop.Type),
		Desc: strings.TrimSpace(prop.Description),
		Enum: prop.Enum,
	}
	if info.Type == schema.Array && len(prop.Items) > 0 {
		info.ElemInfo = parameterInfo(prop.Items)
	}
	return info
}

func dataTypeOf(jsonType string) schema.DataType {
	switch strings.ToLower(strings.TrimSpace(jsonType)) {
	case "object":
		return schema.Object
	case "number":
		return schema.Number
	case "integer":
		return schema.Integer
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "null":
		return schema.Null
	default:
		return schema.String
	}
}

func normalizeToolResult(v any) string {
	switch value := v.(type) {
	case nil:
		return "(no output)"
	case string:
		text := strings.TrimSpace(value)
		if text == "" {
			return "(no output)"
		}
		return text
	case []byte:
		text := strings.TrimSpace(string(value))
		if text == "" {
			return "(no output)"
		}
		return text
	case fmt.Stringer:
		text := strings.TrimSpace(value.String())
		if text == "" {
			return "(no output)"
		}
		return text
	default:
		data, err := json.Marshal(value)
		if err != nil {
			text := strings.TrimSpace(fmt.Sprint(value))
			if text == "" {
				return "(no output)"
			}
			return text
		}
		text := strings.TrimSpace(string(data))
		if text == "" || text == "null" {
			return "(no output)"
		}
		return text
	}
}
