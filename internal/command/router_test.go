package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/liaison-ai/liaison/internal/config"
	"github.com/liaison-ai/liaison/internal/mcp"
)

type stubClient struct {
	tools     []mcp.ToolDefinition
	resources []mcp.ResourceDefinition
	prompts   []mcp.PromptDefinition
	result    any
	callErr   error
	calls     []string
}

func (s *stubClient) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	return s.tools, nil
}

func (s *stubClient) ListResources(ctx context.Context) ([]mcp.ResourceDefinition, error) {
	return s.resources, nil
}

func (s *stubClient) ListPrompts(ctx context.Context) ([]mcp.PromptDefinition, error) {
	return s.prompts, nil
}

func (s *stubClient) CallTool(ctx context.Context, toolName, argsJSON string) (any, error) {
	s.calls = append(s.calls, toolName+" "+argsJSON)
	if s.callErr != nil {
		return nil, s.callErr
	}
	return s.result, nil
}

func (s *stubClient) Close() error { return nil }

type stubConnector struct {
	client *stubClient
	calls  int
}

func (s *stubConnector) Connect(ctx context.Context, serverName string, cfg config.MCPServerConfig) (mcp.Client, error) {
	s.calls++
	return s.client, nil
}

func newTestRouter(t *testing.T, client *stubClient) (*Router, *stubConnector) {
	t.Helper()

	connector := &stubConnector{client: client}
	registry, err := mcp.NewRegistryFromConfig(context.Background(),
		map[string]config.MCPServerConfig{
			"simple-mcp-server": {Transport: "stdio", Command: "simple-mcp"},
		},
		mcp.Connectors{Stdio: connector, HTTPSSE: connector},
	)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig() error: %v", err)
	}
	t.Cleanup(registry.Close)
	return NewRouter(registry, "!mcp", 0), connector
}

func TestParse_Grammar(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		handled bool
		want    Directive
	}{
		{"bare prefix", "!mcp", true, Directive{Action: ActionHelp}},
		{"help", "!mcp help", true, Directive{Action: ActionHelp}},
		{"servers", "!mcp servers", true, Directive{Action: ActionServers}},
		{"tools", "!mcp weather tools", true, Directive{Server: "weather", Action: ActionTools}},
		{"resources", "!mcp weather resources", true, Directive{Server: "weather", Action: ActionResources}},
		{"prompts", "!mcp weather prompts", true, Directive{Server: "weather", Action: ActionPrompts}},
		{
			"call with args",
			`!mcp weather call lookup {"city":"oslo"}`,
			true,
			Directive{Server: "weather", Action: ActionCall, Tool: "lookup", ArgsJSON: `{"city":"oslo"}`},
		},
		{
			"call without args",
			"!mcp weather call ping",
			true,
			Directive{Server: "weather", Action: ActionCall, Tool: "ping", ArgsJSON: "{}"},
		},
		{"free text", "what is the weather in oslo?", false, Directive{}},
		{"prefix inside word", "!mcpx servers", false, Directive{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			directive, handled, err := Parse("!mcp", tc.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tc.input, err)
			}
			if handled != tc.handled {
				t.Fatalf("Parse(%q) handled = %v, want %v", tc.input, handled, tc.handled)
			}
			if !handled {
				return
			}
			if *directive != tc.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tc.input, *directive, tc.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, handled, err := Parse("!mcp", "!mcp weather")
	if !handled {
		t.Fatal("expected directive to be handled")
	}
	var usageErr *UsageError
	if !errors.As(err, &usageErr) {
		t.Fatalf("expected UsageError for missing action, got %v", err)
	}
	if !strings.Contains(usageErr.Error(), ActionCall) {
		t.Fatalf("expected known actions in help text, got %q", usageErr.Error())
	}

	_, _, err = Parse("!mcp", "!mcp weather explode")
	if !errors.As(err, &usageErr) {
		t.Fatalf("expected UsageError for unknown action, got %v", err)
	}

	_, _, err = Parse("!mcp", `!mcp weather call lookup {"city":`)
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError for malformed json, got %v", err)
	}
	if !strings.Contains(argErr.Error(), `{"city":`) {
		t.Fatalf("expected offending fragment in error, got %q", argErr.Error())
	}
}

func TestRouter_CallDirective(t *testing.T) {
	client := &stubClient{
		tools:  []mcp.ToolDefinition{{Name: "echo", Description: "Echo tool"}},
		result: "hi",
	}
	router, _ := newTestRouter(t, client)

	reply, handled, err := router.Handle(context.Background(), `!mcp simple-mcp-server call echo {"input":"hi"}`)
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if !handled {
		t.Fatal("expected directive to be handled")
	}
	if !strings.Contains(reply, "hi") {
		t.Fatalf("expected reply to contain tool result, got %q", reply)
	}

	if len(client.calls) != 1 || client.calls[0] != `echo {"input":"hi"}` {
		t.Fatalf("unexpected adapter calls: %v", client.calls)
	}
}

func TestRouter_UnknownServer_NoAdapterCall(t *testing.T) {
	client := &stubClient{result: "never"}
	router, connector := newTestRouter(t, client)
	startupConnects := connector.calls

	_, handled, err := router.Handle(context.Background(), `!mcp ghost-server call echo {}`)
	if !handled {
		t.Fatal("expected directive to be handled")
	}

	var usageErr *UsageError
	if !errors.As(err, &usageErr) {
		t.Fatalf("expected UsageError, got %v", err)
	}
	if !strings.Contains(usageErr.Error(), "simple-mcp-server") {
		t.Fatalf("expected known servers in reply, got %q", usageErr.Error())
	}
	if len(client.calls) != 0 {
		t.Fatalf("expected no adapter call, got %v", client.calls)
	}
	if connector.calls != startupConnects {
		t.Fatalf("expected no new connects, got %d", connector.calls-startupConnects)
	}
}

func TestRouter_ListDirectives(t *testing.T) {
	client := &stubClient{
		tools: []mcp.ToolDefinition{
			{Name: "echo", Description: "Echo tool"},
			{Name: "read_file", Description: "Read a file\nwith newline"},
		},
		resources: []mcp.ResourceDefinition{{URI: "file:///a.md", Name: "a"}},
		prompts:   []mcp.PromptDefinition{{Name: "summarize", Description: "Summarize"}},
	}
	router, _ := newTestRouter(t, client)

	reply, _, err := router.Handle(context.Background(), "!mcp simple-mcp-server tools")
	if err != nil {
		t.Fatalf("tools directive error: %v", err)
	}
	if !strings.Contains(reply, "| Tool | Description |") || !strings.Contains(reply, "| echo |") {
		t.Fatalf("expected tools table, got %q", reply)
	}
	if strings.Contains(reply, "with newline") && strings.Contains(reply, "\nwith") {
		t.Fatalf("expected newline-free table cells, got %q", reply)
	}

	reply, _, err = router.Handle(context.Background(), "!mcp simple-mcp-server resources")
	if err != nil {
		t.Fatalf("resources directive error: %v", err)
	}
	if !strings.Contains(reply, "file:///a.md") {
		t.Fatalf("expected resource table, got %q", reply)
	}

	reply, _, err = router.Handle(context.Background(), "!mcp servers")
	if err != nil {
		t.Fatalf("servers directive error: %v", err)
	}
	if !strings.Contains(reply, "simple-mcp-server") || !strings.Contains(reply, "ready") {
		t.Fatalf("expected servers table, got %q", reply)
	}
}

func TestRouter_HelpDirective(t *testing.T) {
	router, _ := newTestRouter(t, &stubClient{})

	reply, handled, err := router.Handle(context.Background(), "!mcp")
	if err != nil || !handled {
		t.Fatalf("Handle() = handled %v, err %v", handled, err)
	}
	for _, want := range []string{"servers", "tools", "call"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("expected help to mention %q, got %q", want, reply)
		}
	}
}
