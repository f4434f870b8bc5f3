package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Workspace string          `mapstructure:"workspace" json:"workspace,omitempty"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Providers ProvidersConfig `mapstructure:"providers"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Log       LogConfig       `mapstructure:"log"`
}

// AgentConfig model and loop settings
type AgentConfig struct {
	Model             string  `mapstructure:"model"`
	SystemPrompt      string  `mapstructure:"system_prompt"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxToolIterations int     `mapstructure:"max_tool_iterations"`
	HistoryTurns      int     `mapstructure:"history_turns"`
	ToolTimeoutSecs   int     `mapstructure:"tool_timeout_seconds"`
	CommandPrefix     string  `mapstructure:"command_prefix"`
}

// ChannelsConfig chat platform settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig telegram bot settings
type TelegramConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Token     string   `mapstructure:"token"`
	AllowFrom []string `mapstructure:"allow_from"`
}

// ProvidersConfig LLM provider settings
type ProvidersConfig struct {
	OpenRouter ProviderConfig `mapstructure:"openrouter"`
	Claude     ProviderConfig `mapstructure:"claude"`
	OpenAI     ProviderConfig `mapstructure:"openai"`
	DeepSeek   ProviderConfig `mapstructure:"deepseek"`
	Ollama     ProviderConfig `mapstructure:"ollama"`
}

// ProviderConfig single provider settings
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// MCPConfig tool-provider server settings
type MCPConfig struct {
	Servers map[string]MCPServerConfig `mapstructure:"servers"`
}

// MCPServerConfig one tool-provider server endpoint
type MCPServerConfig struct {
	Enabled   *bool             `mapstructure:"enabled" json:"enabled,omitempty"`
	Transport string            `mapstructure:"transport" json:"transport"`
	Command   string            `mapstructure:"command" json:"command,omitempty"`
	Args      []string          `mapstructure:"args" json:"args,omitempty"`
	Env       map[string]string `mapstructure:"env" json:"env,omitempty"`
	URL       string            `mapstructure:"url" json:"url,omitempty"`
	Headers   map[string]string `mapstructure:"headers" json:"headers,omitempty"`
}

// IsMCPServerEnabled reports whether a server entry should be connected.
// A missing enabled flag counts as enabled.
func IsMCPServerEnabled(server MCPServerConfig) bool {
	return server.Enabled == nil || *server.Enabled
}

// GatewayConfig HTTP gateway settings
type GatewayConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

const defaultSystemPrompt = "You are an assistant integrated with chat and MCP tool servers. " +
	"You can call tools from connected servers to answer questions. " +
	"Be helpful, accurate, and concise. If you don't know something, say so."

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:             "anthropic/claude-sonnet-4-5",
			SystemPrompt:      defaultSystemPrompt,
			MaxTokens:         8192,
			Temperature:       0.7,
			MaxToolIterations: 10,
			HistoryTurns:      50,
			ToolTimeoutSecs:   60,
			CommandPrefix:     "!mcp",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				AllowFrom: []string{},
			},
		},
		Providers: ProvidersConfig{},
		MCP: MCPConfig{
			Servers: map[string]MCPServerConfig{},
		},
		Gateway: GatewayConfig{
			Host:  "0.0.0.0",
			Port:  18890,
			Token: "",
		},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
	}
}

// ConfigDir returns the liaison config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".liaison")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// WorkspacePath returns the directory used for thread persistence.
func WorkspacePath() string {
	return filepath.Join(ConfigDir(), "workspace")
}

// WorkspacePathChecked returns the workspace directory, creating it if needed.
// An unset workspace falls back to the default under the config directory.
func (c *Config) WorkspacePathChecked() (string, error) {
	path := strings.TrimSpace(c.Workspace)
	if path == "" {
		path = WorkspacePath()
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}
	return path, nil
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("LIAISON")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	a := &c.Agent

	if a.MaxToolIterations < 0 {
		return fmt.Errorf("agent.max_tool_iterations must not be negative, got %d", a.MaxToolIterations)
	}
	if a.MaxToolIterations == 0 {
		a.MaxToolIterations = 10
	}

	if a.Temperature < 0 || a.Temperature > 2.0 {
		return fmt.Errorf("agent.temperature must be between 0 and 2.0, got %f", a.Temperature)
	}

	if a.MaxTokens <= 0 {
		return fmt.Errorf("agent.max_tokens must be > 0, got %d", a.MaxTokens)
	}

	if a.HistoryTurns <= 0 {
		a.HistoryTurns = 50
	}
	if a.ToolTimeoutSecs <= 0 {
		a.ToolTimeoutSecs = 60
	}
	if strings.TrimSpace(a.SystemPrompt) == "" {
		a.SystemPrompt = defaultSystemPrompt
	}

	prefix := strings.TrimSpace(a.CommandPrefix)
	if prefix == "" {
		prefix = "!mcp"
	}
	if strings.ContainsAny(prefix, " \t") {
		return fmt.Errorf("agent.command_prefix must not contain whitespace, got %q", a.CommandPrefix)
	}
	a.CommandPrefix = prefix

	for name, server := range c.MCP.Servers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("mcp.servers contains an entry with an empty name")
		}
		transport := strings.ToLower(strings.TrimSpace(server.Transport))
		switch transport {
		case "", "stdio":
			if strings.TrimSpace(server.Command) == "" {
				return fmt.Errorf("mcp.servers.%s: stdio transport requires command", name)
			}
		case "http_sse":
			if strings.TrimSpace(server.URL) == "" {
				return fmt.Errorf("mcp.servers.%s: http_sse transport requires url", name)
			}
		default:
			return fmt.Errorf("mcp.servers.%s: unknown transport %q", name, server.Transport)
		}
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	return nil
}
