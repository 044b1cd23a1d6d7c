package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geolens/geolens/config"
)

func TestBuildRegistry(t *testing.T) {
	t.Run("no providers configured", func(t *testing.T) {
		_, err := buildRegistry(config.ProvidersConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no AI providers configured")
	})

	t.Run("configured providers become adapters", func(t *testing.T) {
		registry, err := buildRegistry(config.ProvidersConfig{
			OpenAI: config.ProviderConfig{APIKey: "sk-test"},
			Gemini: config.ProviderConfig{APIKey: "g-test"},
		})
		require.NoError(t, err)
		assert.True(t, registry.Has("openai"))
		assert.True(t, registry.Has("gemini"))
		assert.False(t, registry.Has("deepseek"))
	})
}

func TestBuildServices_Validation(t *testing.T) {
	_, err := BuildServices(ServiceDeps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app config is required")

	_, err = BuildServices(ServiceDeps{Config: &config.AppConfig{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection is required")
}

func TestRunServicesWithShutdown_Validation(t *testing.T) {
	require.Error(t, RunServicesWithShutdown(nil))
	require.Error(t, RunServicesWithShutdown(&ServiceOrchestrationConfig{}))
}
