package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/liaison-ai/liaison/internal/config"
)

type providerName string

const (
	providerOpenRouter providerName = "openrouter"
	providerClaude     providerName = "claude"
	providerOpenAI     providerName = "openai"
	providerDeepSeek   providerName = "deepseek"
	providerOllama     providerName = "ollama"
)

// NewChatModel creates a ChatModel based on configuration
func NewChatModel(ctx context.Context, cfg *config.Config) (model.ChatModel, error) {
	name, pcfg, err := resolveProvider(cfg)
	if err != nil {
		return nil, err
	}

	a := cfg.Agent
	switch name {
	case providerOpenRouter:
		return newOpenAICompatModel(ctx, pcfg.APIKey, orDefault(pcfg.BaseURL, "https://openrouter.ai/api/v1"), a)
	case providerClaude:
		return newOpenAICompatModel(ctx, pcfg.APIKey, orDefault(pcfg.BaseURL, "https://api.anthropic.com/v1"), a)
	case providerOpenAI:
		return newOpenAICompatModel(ctx, pcfg.APIKey, pcfg.BaseURL, a)
	case providerDeepSeek:
		return newOpenAICompatModel(ctx, pcfg.APIKey, orDefault(pcfg.BaseURL, "https://api.deepseek.com/v1"), a)
	case providerOllama:
		return newOpenAICompatModel(ctx, "", pcfg.BaseURL+"/v1", a)
	default:
		return nil, fmt.Errorf("no provider configured: set api_key for at least one provider")
	}
}

// providerFromModel maps a prefixed model name like "openai/gpt-4o" to the
// provider that serves it. Unprefixed or unknown prefixes return "".
func providerFromModel(modelName string) providerName {
	prefix, _, ok := strings.Cut(modelName, "/")
	if !ok {
		return ""
	}
	switch prefix {
	case "openrouter":
		return providerOpenRouter
	case "anthropic", "claude":
		return providerClaude
	case "openai":
		return providerOpenAI
	case "deepseek":
		return providerDeepSeek
	case "ollama":
		return providerOllama
	default:
		return ""
	}
}

// resolveProvider picks the provider for the configured model. A model prefix
// wins when that provider is configured; otherwise the first configured
// provider in a fixed order is used.
func resolveProvider(cfg *config.Config) (providerName, config.ProviderConfig, error) {
	p := cfg.Providers

	if name := providerFromModel(cfg.Agent.Model); name != "" {
		pcfg, ok := providerConfigFor(p, name)
		if !ok {
			return "", config.ProviderConfig{}, fmt.Errorf("model %q requires provider %s, but it is not configured", cfg.Agent.Model, name)
		}
		return name, pcfg, nil
	}

	for _, name := range []providerName{providerOpenRouter, providerClaude, providerOpenAI, providerDeepSeek, providerOllama} {
		if pcfg, ok := providerConfigFor(p, name); ok {
			return name, pcfg, nil
		}
	}
	return "", config.ProviderConfig{}, fmt.Errorf("no provider configured: set api_key for at least one provider")
}

func providerConfigFor(p config.ProvidersConfig, name providerName) (config.ProviderConfig, bool) {
	switch name {
	case providerOpenRouter:
		return p.OpenRouter, p.OpenRouter.APIKey != ""
	case providerClaude:
		return p.Claude, p.Claude.APIKey != ""
	case providerOpenAI:
		return p.OpenAI, p.OpenAI.APIKey != ""
	case providerDeepSeek:
		return p.DeepSeek, p.DeepSeek.APIKey != ""
	case providerOllama:
		// Ollama needs no key, only a reachable server.
		return p.Ollama, p.Ollama.BaseURL != ""
	default:
		return config.ProviderConfig{}, false
	}
}

func newOpenAICompatModel(ctx context.Context, apiKey, baseURL string, a config.AgentConfig) (model.ChatModel, error) {
	mcfg := &openai.ChatModelConfig{
		Model:       bareModelName(a.Model),
		APIKey:      apiKey,
		Temperature: toFloat32Ptr(a.Temperature),
		MaxTokens:   toIntPtr(a.MaxTokens),
	}
	if baseURL != "" {
		mcfg.BaseURL = baseURL
	}
	return openai.NewChatModel(ctx, mcfg)
}

// bareModelName strips the provider prefix before the name goes on the wire.
func bareModelName(modelName string) string {
	if prefix, rest, ok := strings.Cut(modelName, "/"); ok && providerFromModel(prefix+"/") != "" {
		return rest
	}
	return modelName
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	return &i
}
