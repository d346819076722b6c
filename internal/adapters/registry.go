package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps providers to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Provider]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[Provider]Adapter),
	}
}

// Register adds an adapter, replacing any previous one for the same provider.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Get returns the adapter for a provider. A missing adapter is a
// configuration problem, reported via ErrNotConfigured.
func (r *Registry) Get(p Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w: no adapter registered", p, ErrNotConfigured)
	}
	return a, nil
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]Provider, 0, len(r.adapters))
	for p := range r.adapters {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

// BuildRegistry constructs adapters for each configured provider. Unknown
// provider names are rejected here so call sites never meet them.
func BuildRegistry(ctx context.Context, configs map[Provider]Options) (*Registry, error) {
	registry := NewRegistry()
	for provider, opts := range configs {
		switch provider {
		case ProviderAnthropic:
			registry.Register(NewAnthropicAdapter(opts))
		case ProviderOpenAI:
			registry.Register(NewOpenAIAdapter(opts))
		case ProviderOllama:
			registry.Register(NewOllamaAdapter(opts))
		case ProviderBedrock:
			adapter, err := NewBedrockAdapter(ctx, opts)
			if err != nil {
				return nil, err
			}
			registry.Register(adapter)
		case ProviderMock:
			registry.Register(NewMockAdapter())
		default:
			return nil, fmt.Errorf("unknown provider %q", provider)
		}
	}
	return registry, nil
}
