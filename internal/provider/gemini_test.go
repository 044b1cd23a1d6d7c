package provider

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/geolens/geolens/internal/errors"
)

func newTestGemini(t *testing.T) Adapter {
	t.Helper()
	a, err := NewGemini(Config{APIKey: "gk-test"})
	require.NoError(t, err)
	return a
}

func TestGemini_EndpointAndHeaders(t *testing.T) {
	a := newTestGemini(t)
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
		a.EndpointURL())
	assert.Equal(t, "gk-test", a.Headers()["x-goog-api-key"])
}

func TestGemini_BuildRequest(t *testing.T) {
	a := newTestGemini(t)
	body, err := a.BuildRequest(Request{Prompt: "which crm is best?", MaxTokens: 256, Temperature: 0.1})
	require.NoError(t, err)

	var wire geminiRequest
	require.NoError(t, json.Unmarshal(body, &wire))
	require.Len(t, wire.Contents, 1)
	require.Len(t, wire.Contents[0].Parts, 1)
	assert.Equal(t, "which crm is best?", wire.Contents[0].Parts[0].Text)
	require.NotNil(t, wire.GenerationConfig)
	assert.Equal(t, 256, wire.GenerationConfig.MaxOutputTokens)
}

func TestGemini_ParseResponse(t *testing.T) {
	a := newTestGemini(t)

	wire := `{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"rank\""}, {"text": ": 2}"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 15, "candidatesTokenCount": 8, "totalTokenCount": 23},
		"modelVersion": "gemini-2.0-flash-001",
		"responseId": "resp-42"
	}`
	resp, err := a.ParseResponse([]byte(wire), Request{})
	require.NoError(t, err)

	assert.Equal(t, `{"rank": 2}`, resp.Content)
	assert.Equal(t, "gemini-2.0-flash-001", resp.Model)
	assert.Equal(t, 23, resp.TotalTokens)
	assert.Equal(t, "resp-42", resp.RequestID)
	assert.Equal(t, "gemini", resp.Provider)
}

func TestGemini_ParseResponse_SafetyBlock(t *testing.T) {
	a := newTestGemini(t)
	wire := `{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`
	_, err := a.ParseResponse([]byte(wire), Request{})
	assert.True(t, apperrors.IsContentFilter(err))
}

func TestGemini_ParseError(t *testing.T) {
	a := newTestGemini(t)

	tests := []struct {
		status   int
		rpcState string
		want     apperrors.Kind
	}{
		{401, "UNAUTHENTICATED", apperrors.KindAuthentication},
		{403, "PERMISSION_DENIED", apperrors.KindAuthentication},
		{429, "RESOURCE_EXHAUSTED", apperrors.KindRateLimit},
		{404, "NOT_FOUND", apperrors.KindModelNotFound},
		{504, "DEADLINE_EXCEEDED", apperrors.KindTimeout},
		{503, "UNAVAILABLE", apperrors.KindConnection},
	}
	for _, tt := range tests {
		t.Run(tt.rpcState, func(t *testing.T) {
			body := fmt.Sprintf(
				`{"error": {"code": %d, "message": "upstream says no", "status": %q}}`,
				tt.status, tt.rpcState)
			err := a.ParseError([]byte(body), tt.status)
			assert.Equal(t, tt.want, apperrors.KindOf(err))
		})
	}

	t.Run("unparseable body falls back to status", func(t *testing.T) {
		err := a.ParseError([]byte("oops"), 500)
		assert.Equal(t, apperrors.KindConnection, apperrors.KindOf(err))
	})
}
