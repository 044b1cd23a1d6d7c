package provider

import (
	"fmt"
	"sort"
)

// Constructor builds an adapter from resolved provider configuration.
type Constructor func(cfg Config) (Adapter, error)

// builtins is the fixed enumeration of supported providers.
var builtins = map[string]Constructor{
	"openai":   NewOpenAI,
	"deepseek": NewDeepSeek,
	"moonshot": NewMoonshot,
	"zhipu":    NewZhipu,
	"gemini":   NewGemini,
}

// SupportedProviders returns the sorted names of all built-in providers.
func SupportedProviders() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry holds adapters constructed once at startup. Construction is
// where credentials are resolved; a missing key fails fast as a
// configuration error instead of surfacing at call time.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs adapters for every provider present in configs.
// Unknown provider names are rejected.
func NewRegistry(configs map[string]Config) (*Registry, error) {
	adapters := make(map[string]Adapter, len(configs))
	for name, cfg := range configs {
		ctor, ok := builtins[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
		adapter, err := ctor(cfg)
		if err != nil {
			return nil, fmt.Errorf("construct %s adapter: %w", name, err)
		}
		adapters[name] = adapter
	}
	return &Registry{adapters: adapters}, nil
}

// Resolve returns the adapter registered under name.
func (r *Registry) Resolve(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("provider not configured: %s", name)
	}
	return adapter, nil
}

// Has reports whether a provider is configured.
func (r *Registry) Has(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

// Names returns the sorted names of configured providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
