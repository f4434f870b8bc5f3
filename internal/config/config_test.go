package config

import (
	"strings"
	"testing"
)

func TestValidate_FillsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.MaxToolIterations = 0
	cfg.Agent.HistoryTurns = 0
	cfg.Agent.CommandPrefix = ""
	cfg.Log.Level = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Agent.MaxToolIterations != 10 {
		t.Errorf("expected default max_tool_iterations 10, got %d", cfg.Agent.MaxToolIterations)
	}
	if cfg.Agent.HistoryTurns != 50 {
		t.Errorf("expected default history_turns 50, got %d", cfg.Agent.HistoryTurns)
	}
	if cfg.Agent.CommandPrefix != "!mcp" {
		t.Errorf("expected default command prefix, got %q", cfg.Agent.CommandPrefix)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Log.Level)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "negative iterations",
			mutate: func(c *Config) { c.Agent.MaxToolIterations = -1 },
			want:   "max_tool_iterations",
		},
		{
			name:   "temperature out of range",
			mutate: func(c *Config) { c.Agent.Temperature = 3.0 },
			want:   "temperature",
		},
		{
			name:   "prefix with whitespace",
			mutate: func(c *Config) { c.Agent.CommandPrefix = "! mcp" },
			want:   "command_prefix",
		},
		{
			name:   "bad gateway port",
			mutate: func(c *Config) { c.Gateway.Port = 70000 },
			want:   "gateway.port",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Log.Level = "verbose" },
			want:   "log.level",
		},
		{
			name: "stdio server without command",
			mutate: func(c *Config) {
				c.MCP.Servers = map[string]MCPServerConfig{
					"files": {Transport: "stdio"},
				}
			},
			want: "requires command",
		},
		{
			name: "http server without url",
			mutate: func(c *Config) {
				c.MCP.Servers = map[string]MCPServerConfig{
					"web": {Transport: "http_sse"},
				}
			},
			want: "requires url",
		},
		{
			name: "unknown transport",
			mutate: func(c *Config) {
				c.MCP.Servers = map[string]MCPServerConfig{
					"odd": {Transport: "carrier-pigeon"},
				}
			},
			want: "unknown transport",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestIsMCPServerEnabled(t *testing.T) {
	if !IsMCPServerEnabled(MCPServerConfig{}) {
		t.Error("missing enabled flag should count as enabled")
	}
	disabled := false
	if IsMCPServerEnabled(MCPServerConfig{Enabled: &disabled}) {
		t.Error("explicitly disabled server reported enabled")
	}
}
