package ai

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ProviderFactory builds a provider for model. An empty model means the
// provider's default.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry maps provider names (case-insensitive) to factories. The server
// picks its backend from AI_PROVIDER through it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[registryKey(name)] = f
}

func (r *Registry) Get(ctx context.Context, name, model string) (Provider, error) {
	key := registryKey(name)
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s (known: %s)", key, strings.Join(r.Names(), ", "))
	}
	return f(ctx, model)
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// Settings configures the built-in providers. Endpoint is the base URL of
// whichever backend is selected.
type Settings struct {
	Endpoint     string
	DefaultModel string

	OpenAIAPIKey      string
	OpenRouterAPIKey  string
	OpenRouterSiteURL string
	OpenRouterAppName string
}

func (s Settings) model(m string) string {
	if m = strings.TrimSpace(m); m != "" {
		return m
	}
	return s.DefaultModel
}

// NewDefaultRegistry registers the openai, openrouter and ollama backends.
func NewDefaultRegistry(s Settings) *Registry {
	r := NewRegistry()
	r.Register("openai", func(_ context.Context, model string) (Provider, error) {
		return NewOpenAIProvider(s.Endpoint, s.OpenAIAPIKey, s.model(model)), nil
	})
	r.Register("openrouter", func(_ context.Context, model string) (Provider, error) {
		return NewOpenRouterProvider(s.Endpoint, s.OpenRouterAPIKey, s.model(model),
			s.OpenRouterSiteURL, s.OpenRouterAppName), nil
	})
	r.Register("ollama", func(_ context.Context, model string) (Provider, error) {
		return NewOllamaProvider(s.Endpoint, s.model(model)), nil
	})
	return r
}
