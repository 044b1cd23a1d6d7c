package config

// ProviderConfig contains credentials and endpoint overrides for one AI
// provider. A provider with an empty API key is simply not registered.
type ProviderConfig struct {
	APIKey  string `env:"API_KEY"  envDefault:""`
	BaseURL string `env:"BASE_URL" envDefault:""`
	Model   string `env:"MODEL"    envDefault:""`
}

// Enabled reports whether the provider has credentials configured.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// ProvidersConfig contains per-provider configuration.
type ProvidersConfig struct {
	OpenAI   ProviderConfig `envPrefix:"OPENAI_"`
	Gemini   ProviderConfig `envPrefix:"GEMINI_"`
	DeepSeek ProviderConfig `envPrefix:"DEEPSEEK_"`
	Moonshot ProviderConfig `envPrefix:"MOONSHOT_"`
	Zhipu    ProviderConfig `envPrefix:"ZHIPU_"`
}

// Enabled returns the configured providers keyed by registry name.
func (p ProvidersConfig) Enabled() map[string]ProviderConfig {
	all := map[string]ProviderConfig{
		"openai":   p.OpenAI,
		"gemini":   p.Gemini,
		"deepseek": p.DeepSeek,
		"moonshot": p.Moonshot,
		"zhipu":    p.Zhipu,
	}
	enabled := make(map[string]ProviderConfig)
	for name, cfg := range all {
		if cfg.Enabled() {
			enabled[name] = cfg
		}
	}
	return enabled
}
