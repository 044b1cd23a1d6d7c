package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/geolens/geolens/internal/errors"
)

func newTestChatAdapter(t *testing.T) Adapter {
	t.Helper()
	a, err := NewOpenAI(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	return a
}

func TestChatAdapter_RequiresAPIKey(t *testing.T) {
	for name, ctor := range map[string]Constructor{
		"openai":   NewOpenAI,
		"deepseek": NewDeepSeek,
		"moonshot": NewMoonshot,
		"zhipu":    NewZhipu,
		"gemini":   NewGemini,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ctor(Config{})
			assert.Error(t, err)
		})
	}
}

func TestChatAdapter_BuildRequest(t *testing.T) {
	a := newTestChatAdapter(t)

	body, err := a.BuildRequest(Request{
		Brand:       "Acme",
		Question:    "best crm?",
		Prompt:      "rendered prompt",
		Model:       "gpt-4o",
		MaxTokens:   512,
		Temperature: 0.2,
	})
	require.NoError(t, err)

	var wire chatRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "gpt-4o", wire.Model)
	require.Len(t, wire.Messages, 1)
	assert.Equal(t, "user", wire.Messages[0].Role)
	assert.Equal(t, "rendered prompt", wire.Messages[0].Content)
	assert.Equal(t, 512, wire.MaxTokens)
}

func TestChatAdapter_BuildRequest_DefaultModel(t *testing.T) {
	a := newTestChatAdapter(t)
	body, err := a.BuildRequest(Request{Prompt: "p"})
	require.NoError(t, err)

	var wire chatRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "gpt-4o-mini", wire.Model)
}

func TestChatAdapter_Headers(t *testing.T) {
	a := newTestChatAdapter(t)
	headers := a.Headers()
	assert.Equal(t, "Bearer sk-test", headers["Authorization"])
	assert.Equal(t, "application/json", headers["Content-Type"])
	assert.Contains(t, a.EndpointURL(), "/chat/completions")
}

func TestChatAdapter_ParseResponse(t *testing.T) {
	a := newTestChatAdapter(t)

	wire := `{
		"id": "chatcmpl-123",
		"model": "gpt-4o-mini-2024",
		"choices": [{"message": {"content": "{\"rank\": 1}"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 20, "completion_tokens": 10, "total_tokens": 30}
	}`
	resp, err := a.ParseResponse([]byte(wire), Request{Model: "gpt-4o-mini"})
	require.NoError(t, err)

	assert.Equal(t, `{"rank": 1}`, resp.Content)
	assert.Equal(t, "gpt-4o-mini-2024", resp.Model)
	assert.Equal(t, 20, resp.PromptTokens)
	assert.Equal(t, 10, resp.CompletionTokens)
	assert.Equal(t, 30, resp.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "chatcmpl-123", resp.RequestID)
	assert.Equal(t, []byte(wire), resp.Raw)
}

func TestChatAdapter_ParseResponse_Malformed(t *testing.T) {
	a := newTestChatAdapter(t)

	t.Run("invalid json", func(t *testing.T) {
		_, err := a.ParseResponse([]byte("not json"), Request{})
		assert.True(t, apperrors.IsResponse(err))
	})

	t.Run("no choices", func(t *testing.T) {
		_, err := a.ParseResponse([]byte(`{"id": "x", "choices": []}`), Request{})
		assert.True(t, apperrors.IsResponse(err))
	})
}

func TestChatAdapter_ParseError(t *testing.T) {
	a := newTestChatAdapter(t)

	tests := []struct {
		name   string
		body   string
		status int
		want   apperrors.Kind
	}{
		{
			name:   "invalid api key",
			body:   `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}}`,
			status: 401,
			want:   apperrors.KindAuthentication,
		},
		{
			name:   "rate limit",
			body:   `{"error": {"message": "Rate limit reached", "type": "rate_limit_exceeded", "code": null}}`,
			status: 429,
			want:   apperrors.KindRateLimit,
		},
		{
			name:   "insufficient quota",
			body:   `{"error": {"message": "You exceeded your current quota", "type": "insufficient_quota", "code": "insufficient_quota"}}`,
			status: 429,
			want:   apperrors.KindQuotaExceeded,
		},
		{
			name:   "model not found",
			body:   `{"error": {"message": "The model does not exist", "type": "invalid_request_error", "code": "model_not_found"}}`,
			status: 404,
			want:   apperrors.KindModelNotFound,
		},
		{
			name:   "content filter",
			body:   `{"error": {"message": "Content violates policy", "type": "invalid_request_error", "code": "content_policy_violation"}}`,
			status: 400,
			want:   apperrors.KindContentFilter,
		},
		{
			name:   "unparseable body falls back to status",
			body:   `<html>bad gateway</html>`,
			status: 502,
			want:   apperrors.KindConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.ParseError([]byte(tt.body), tt.status)
			assert.Equal(t, tt.want, apperrors.KindOf(err), "got error: %v", err)
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("constructs configured providers", func(t *testing.T) {
		reg, err := NewRegistry(map[string]Config{
			"openai":   {APIKey: "sk-a"},
			"deepseek": {APIKey: "sk-b"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"deepseek", "openai"}, reg.Names())
		assert.True(t, reg.Has("openai"))
		assert.False(t, reg.Has("gemini"))

		a, err := reg.Resolve("deepseek")
		require.NoError(t, err)
		assert.Equal(t, "deepseek", a.Name())
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		_, err := NewRegistry(map[string]Config{"clippy": {APIKey: "x"}})
		assert.Error(t, err)
	})

	t.Run("missing key fails fast", func(t *testing.T) {
		_, err := NewRegistry(map[string]Config{"openai": {}})
		assert.Error(t, err)
	})

	t.Run("unconfigured resolve fails", func(t *testing.T) {
		reg, err := NewRegistry(nil)
		require.NoError(t, err)
		_, err = reg.Resolve("openai")
		assert.Error(t, err)
	})
}

func TestSupportedProviders(t *testing.T) {
	assert.Equal(t, []string{"deepseek", "gemini", "moonshot", "openai", "zhipu"}, SupportedProviders())
}
