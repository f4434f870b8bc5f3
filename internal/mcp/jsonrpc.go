package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const jsonRPCVersion = "2.0"

const protocolVersion = "2024-11-05"

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func decodeToolDefinitions(result any) ([]ToolDefinition, error) {
	if result == nil {
		return nil, nil
	}

	var toolsValue any
	switch value := result.(type) {
	case map[string]any:
		toolsValue = value["tools"]
	default:
		toolsValue = value
	}

	items, ok := toolsValue.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tools/list result shape")
	}

	defs := make([]ToolDefinition, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringValue(obj["name"]))
		if name == "" {
			continue
		}
		def := ToolDefinition{
			Name:        name,
			Description: strings.TrimSpace(stringValue(obj["description"])),
		}
		if schemaValue, ok := obj["inputSchema"]; ok && schemaValue != nil {
			if raw, err := json.Marshal(schemaValue); err == nil {
				def.InputSchema = raw
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func decodeResourceDefinitions(result any) ([]ResourceDefinition, error) {
	if result == nil {
		return nil, nil
	}

	var listValue any
	switch value := result.(type) {
	case map[string]any:
		listValue = value["resources"]
	default:
		listValue = value
	}
	if listValue == nil {
		return nil, nil
	}

	items, ok := listValue.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected resources/list result shape")
	}

	defs := make([]ResourceDefinition, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		uri := strings.TrimSpace(stringValue(obj["uri"]))
		name := strings.TrimSpace(stringValue(obj["name"]))
		if uri == "" && name == "" {
			continue
		}
		defs = append(defs, ResourceDefinition{
			URI:         uri,
			Name:        name,
			Description: strings.TrimSpace(stringValue(obj["description"])),
		})
	}
	return defs, nil
}

func decodePromptDefinitions(result any) ([]PromptDefinition, error) {
	if result == nil {
		return nil, nil
	}

	var listValue any
	switch value := result.(type) {
	case map[string]any:
		listValue = value["prompts"]
	default:
		listValue = value
	}
	if listValue == nil {
		return nil, nil
	}

	items, ok := listValue.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected prompts/list result shape")
	}

	defs := make([]PromptDefinition, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringValue(obj["name"]))
		if name == "" {
			continue
		}
		defs = append(defs, PromptDefinition{
			Name:        name,
			Description: strings.TrimSpace(stringValue(obj["description"])),
		})
	}
	return defs, nil
}

func parseToolArgs(argsJSON string) (any, error) {
	trimmed := strings.TrimSpace(argsJSON)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, fmt.Errorf("invalid tool args json: %w", err)
	}
	if parsed == nil {
		return map[string]any{}, nil
	}
	return parsed, nil
}

func decodeCallResult(serverName string, result any) (any, error) {
	obj, ok := result.(map[string]any)
	if !ok {
		return result, nil
	}

	isErr, _ := obj["isError"].(bool)
	if text := extractTextContent(obj["content"]); text != "" {
		if isErr {
			return nil, &RemoteError{Server: serverName, Message: text}
		}
		return text, nil
	}
	if isErr {
		return nil, &RemoteError{Server: serverName, Message: "tool call failed"}
	}

	if structured, ok := obj["structuredContent"]; ok && structured != nil {
		return structured, nil
	}
	return result, nil
}

func extractTextContent(v any) string {
	items, ok := v.([]any)
	if !ok {
		return ""
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if strings.ToLower(strings.TrimSpace(stringValue(obj["type"]))) != "text" {
			continue
		}
		text := strings.TrimSpace(stringValue(obj["text"]))
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	switch value := v.(type) {
	case string:
		return value
	default:
		return fmt.Sprint(v)
	}
}

// decodeRPCResponse unwraps one JSON-RPC envelope. Responses for other ids and
// server-initiated notifications report matched=false so callers keep reading.
func decodeRPCResponse(serverName string, payload []byte, expectedID int64) (any, bool, error) {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, false, &ProtocolError{Server: serverName, Msg: "malformed json-rpc response", Err: err}
	}

	if _, hasID := envelope["id"]; !hasID {
		return nil, false, nil
	}

	if normalizeRPCID(envelope["id"]) != normalizeRPCID(expectedID) {
		return nil, false, nil
	}

	if errValue, ok := envelope["error"]; ok && errValue != nil {
		parsedErr := rpcErrorBody{}
		if raw, err := json.Marshal(errValue); err == nil {
			_ = json.Unmarshal(raw, &parsedErr)
		}
		msg := strings.TrimSpace(parsedErr.Message)
		if msg == "" {
			msg = strings.TrimSpace(fmt.Sprint(errValue))
		}
		if msg == "" {
			msg = "json-rpc request failed"
		}
		return nil, true, &RemoteError{Server: serverName, Code: parsedErr.Code, Message: msg}
	}

	return envelope["result"], true, nil
}

func normalizeRPCID(id any) string {
	switch value := id.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		return fmt.Sprintf("%.0f", value)
	case int:
		return fmt.Sprintf("%d", value)
	case int64:
		return fmt.Sprintf("%d", value)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func buildInitializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "liaison",
			"version": "v0.2.0",
		},
	}
}

func compactJSONOrRaw(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "{}"
	}
	var out bytes.Buffer
	if err := json.Compact(&out, []byte(trimmed)); err != nil {
		return trimmed
	}
	return out.String()
}

type rpcInvoker interface {
	invoke(ctx context.Context, method string, params any) (any, error)
	notify(ctx context.Context, method string, params any) error
}

func initializeClient(ctx context.Context, invoker rpcInvoker) error {
	if _, err := invoker.invoke(ctx, "initialize", buildInitializeParams()); err != nil {
		return fmt.Errorf("initialize mcp session: %w", err)
	}
	if err := invoker.notify(ctx, "notifications/initialized", map[string]any{}); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// listOptional issues a discovery call that many servers do not implement.
// A RemoteError (method not found) yields an empty list, not a failure.
func listOptional[T any](ctx context.Context, invoker rpcInvoker, method string, decode func(any) ([]T, error)) ([]T, error) {
	result, err := invoker.invoke(ctx, method, map[string]any{})
	if err != nil {
		if IsRemoteError(err) {
			return nil, nil
		}
		return nil, err
	}
	return decode(result)
}
