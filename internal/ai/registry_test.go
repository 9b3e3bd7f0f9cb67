package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultRegistry(t *testing.T) {
	reg := NewDefaultRegistry(Settings{
		Endpoint:          "http://gateway.local/v1",
		DefaultModel:      "gpt-4o-mini",
		OpenAIAPIKey:      "sk-openai",
		OpenRouterAPIKey:  "sk-or",
		OpenRouterSiteURL: "https://example.org",
		OpenRouterAppName: "relay",
	})
	require.Equal(t, []string{"ollama", "openai", "openrouter"}, reg.Names())

	p, err := reg.Get(context.Background(), "openai", "")
	require.NoError(t, err)
	oa := p.(*OpenAIProvider)
	require.Equal(t, "openai", oa.Name)
	require.Equal(t, "gpt-4o-mini", oa.Model)
	require.Equal(t, "sk-openai", oa.APIKey)
	require.Equal(t, "http://gateway.local/v1", oa.BaseURL)

	p, err = reg.Get(context.Background(), "OpenRouter", " anthropic/claude ")
	require.NoError(t, err)
	orp := p.(*OpenAIProvider)
	require.Equal(t, "openrouter", orp.Name)
	require.Equal(t, "anthropic/claude", orp.Model)
	require.Equal(t, "sk-or", orp.APIKey)
	require.Equal(t, "https://example.org", orp.header().Get("HTTP-Referer"))
	require.Equal(t, "relay", orp.header().Get("X-Title"))

	p, err = reg.Get(context.Background(), "ollama", "phi3")
	require.NoError(t, err)
	require.Equal(t, "phi3", p.(*OllamaProvider).Model)
}
