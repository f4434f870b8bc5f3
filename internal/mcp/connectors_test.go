package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/liaison-ai/liaison/internal/config"
)

func TestStdioConnector_ConnectAndCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connector := newStdioConnector()
	client, err := connector.Connect(ctx, "helper", config.MCPServerConfig{
		Transport: "stdio",
		Command:   os.Args[0],
		Args:      []string{"-test.run=TestMCPHelperProcess", "--", "mcp-stdio-helper"},
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
		},
	})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("unexpected tool definitions: %+v", tools)
	}
	if !strings.Contains(string(tools[0].InputSchema), "input") {
		t.Fatalf("expected input schema to survive discovery, got %s", tools[0].InputSchema)
	}

	resources, err := client.ListResources(context.Background())
	if err != nil {
		t.Fatalf("ListResources() error: %v", err)
	}
	if len(resources) != 1 || resources[0].URI != "file:///notes.md" {
		t.Fatalf("unexpected resource definitions: %+v", resources)
	}

	prompts, err := client.ListPrompts(context.Background())
	if err != nil {
		t.Fatalf("ListPrompts() error: %v", err)
	}
	if len(prompts) != 1 || prompts[0].Name != "summarize" {
		t.Fatalf("unexpected prompt definitions: %+v", prompts)
	}

	result, err := client.CallTool(context.Background(), "echo", `{"input":"hello"}`)
	if err != nil {
		t.Fatalf("CallTool() error: %v", err)
	}
	if got := strings.TrimSpace(fmt.Sprint(result)); got != "echo: hello" {
		t.Fatalf("unexpected tool result: %v", result)
	}
}

func TestStdioConnector_CallTimeoutLeavesProcessUsable(t *testing.T) {
	connector := newStdioConnector()
	client, err := connector.Connect(context.Background(), "helper", config.MCPServerConfig{
		Transport: "stdio",
		Command:   os.Args[0],
		Args:      []string{"-test.run=TestMCPHelperProcess", "--", "mcp-stdio-helper"},
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
		},
	})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = client.CallTool(ctx, "sleep", `{"millis":2000}`)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The stale response for the timed-out call must not be delivered to the
	// next request on the same pipe.
	result, err := client.CallTool(context.Background(), "echo", `{"input":"after-timeout"}`)
	if err != nil {
		t.Fatalf("CallTool() after timeout error: %v", err)
	}
	if got := strings.TrimSpace(fmt.Sprint(result)); got != "echo: after-timeout" {
		t.Fatalf("unexpected tool result after timeout: %v", result)
	}
}

func TestHTTPSSEConnector_ConnectDiscoverAndCall(t *testing.T) {
	var receivedHeader string

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		receivedHeader = r.Header.Get("X-Test-Token")
		w.Header().Set("Content-Type", "text/event-stream")
		if flusher, ok := w.(http.Flusher); ok {
			_, _ = io.WriteString(w, "event: endpoint\ndata: /rpc\n\n")
			flusher.Flush()
			return
		}
		_, _ = io.WriteString(w, "event: endpoint\ndata: /rpc\n\n")
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Test-Token"); got == "" {
			t.Errorf("expected custom header on RPC request")
		}

		defer r.Body.Close()
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		method := strings.TrimSpace(stringValue(req["method"]))
		id, hasID := req["id"]
		if !hasID {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"result":  helperResult(method, req),
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	connector := newHTTPSSEConnector()
	client, err := connector.Connect(context.Background(), "remote", config.MCPServerConfig{
		Transport: "http_sse",
		URL:       server.URL + "/sse",
		Headers: map[string]string{
			"X-Test-Token": "abc123",
		},
	})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if receivedHeader != "abc123" {
		t.Fatalf("expected header on SSE discovery request, got %q", receivedHeader)
	}

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("unexpected tool definitions: %+v", tools)
	}

	result, err := client.CallTool(context.Background(), "echo", `{"input":"from-http"}`)
	if err != nil {
		t.Fatalf("CallTool() error: %v", err)
	}
	if got := strings.TrimSpace(fmt.Sprint(result)); got != "echo: from-http" {
		t.Fatalf("unexpected tool result: %v", result)
	}
}

func TestHTTPSSEConnector_RemoteErrorIsNotRetried(t *testing.T) {
	callCount := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: endpoint\ndata: /rpc\n\n")
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		method := strings.TrimSpace(stringValue(req["method"]))
		id, hasID := req["id"]
		if !hasID {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		if method == "tools/call" {
			callCount++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      id,
				"error": map[string]any{
					"code":    -32602,
					"message": "unknown tool",
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"result":  helperResult(method, req),
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	connector := newHTTPSSEConnector()
	client, err := connector.Connect(context.Background(), "remote", config.MCPServerConfig{
		Transport: "http_sse",
		URL:       server.URL + "/sse",
	})
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	_, err = client.CallTool(context.Background(), "nope", `{}`)
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remoteErr.Code != -32602 {
		t.Fatalf("expected remote code -32602, got %d", remoteErr.Code)
	}
	if callCount != 1 {
		t.Fatalf("expected exactly one tools/call request, got %d", callCount)
	}
}

func TestMCPHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	isHelper := false
	for _, arg := range os.Args {
		if arg == "mcp-stdio-helper" {
			isHelper = true
			break
		}
	}
	if !isHelper {
		return
	}

	runMCPHelperProcess()
	os.Exit(0)
}

func runMCPHelperProcess() {
	reader := bufio.NewReader(os.Stdin)
	writer := os.Stdout

	for {
		contentLength, err := readContentLength(reader)
		if err != nil {
			return
		}
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(reader, body); err != nil {
			return
		}

		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			return
		}

		method := strings.TrimSpace(stringValue(req["method"]))
		id, hasID := req["id"]
		if !hasID {
			continue
		}

		if method == "tools/call" {
			if params, ok := req["params"].(map[string]any); ok {
				if stringValue(params["name"]) == "sleep" {
					if args, ok := params["arguments"].(map[string]any); ok {
						if millis, ok := args["millis"].(float64); ok {
							time.Sleep(time.Duration(millis) * time.Millisecond)
						}
					}
				}
			}
		}

		resp, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"result":  helperResult(method, req),
		})
		_, _ = io.WriteString(writer, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(resp)))
		_, _ = writer.Write(resp)
	}
}

func helperResult(method string, req map[string]any) any {
	switch method {
	case "initialize":
		return map[string]any{
			"capabilities": map[string]any{},
			"serverInfo": map[string]any{
				"name":    "test-mcp",
				"version": "1.0.0",
			},
		}
	case "tools/list":
		return map[string]any{
			"tools": []map[string]any{
				{
					"name":        "echo",
					"description": "Echo tool",
					"inputSchema": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"input": map[string]any{"type": "string"},
						},
						"required": []string{"input"},
					},
				},
			},
		}
	case "resources/list":
		return map[string]any{
			"resources": []map[string]any{
				{
					"uri":  "file:///notes.md",
					"name": "notes",
				},
			},
		}
	case "prompts/list":
		return map[string]any{
			"prompts": []map[string]any{
				{
					"name":        "summarize",
					"description": "Summarize prompt",
				},
			},
		}
	case "tools/call":
		text := "echo: "
		if params, ok := req["params"].(map[string]any); ok {
			if args, ok := params["arguments"].(map[string]any); ok {
				text += strings.TrimSpace(stringValue(args["input"]))
			}
		}
		return map[string]any{
			"content": []map[string]any{
				{
					"type": "text",
					"text": text,
				},
			},
		}
	default:
		return map[string]any{}
	}
}

func TestReadSSEEndpointEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	payload := "event: endpoint\ndata: /rpc\n\n"
	endpoint, ok := readSSEEndpointEvent(ctx, strings.NewReader(payload))
	if !ok {
		t.Fatal("expected endpoint event")
	}
	if endpoint != "/rpc" {
		t.Fatalf("expected /rpc, got %q", endpoint)
	}
}
