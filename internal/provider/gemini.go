package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/geolens/geolens/internal/errors"
	"github.com/geolens/geolens/internal/geo"
)

// geminiAdapter implements Adapter for the Google generativelanguage REST
// API, which uses a different wire shape than the OpenAI dialect.
type geminiAdapter struct {
	apiKey  string
	baseURL string
	model   string
}

// NewGemini constructs the Gemini adapter.
func NewGemini(cfg Config) (Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &geminiAdapter{apiKey: cfg.APIKey, baseURL: baseURL, model: model}, nil
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
	ResponseID   string `json:"responseId"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (a *geminiAdapter) Name() string { return "gemini" }

func (a *geminiAdapter) EndpointURL() string {
	return fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, a.model)
}

func (a *geminiAdapter) Headers() map[string]string {
	return map[string]string{
		"Content-Type":   "application/json",
		"x-goog-api-key": a.apiKey,
	}
}

func (a *geminiAdapter) BuildRequest(req Request) ([]byte, error) {
	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		payload.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindAdapter, a.Name(), "marshal request")
	}
	return body, nil
}

func (a *geminiAdapter) ParseResponse(body []byte, req Request) (*Response, error) {
	var wire geminiResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindResponse, a.Name(), "decode response")
	}
	if len(wire.Candidates) == 0 {
		return nil, apperrors.New(apperrors.KindResponse, a.Name(), "response has no candidates")
	}

	candidate := wire.Candidates[0]
	if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "PROHIBITED_CONTENT" {
		return nil, apperrors.New(apperrors.KindContentFilter, a.Name(),
			"candidate blocked: "+candidate.FinishReason)
	}

	var content strings.Builder
	for _, part := range candidate.Content.Parts {
		content.WriteString(part.Text)
	}

	modelVersion := wire.ModelVersion
	if modelVersion == "" {
		modelVersion = a.model
	}
	return &Response{
		Content:          content.String(),
		Model:            modelVersion,
		PromptTokens:     wire.UsageMetadata.PromptTokenCount,
		CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      wire.UsageMetadata.TotalTokenCount,
		FinishReason:     candidate.FinishReason,
		Provider:         a.Name(),
		RequestID:        wire.ResponseID,
		Raw:              body,
	}, nil
}

func (a *geminiAdapter) ParseError(body []byte, status int) error {
	var wire geminiErrorBody
	if err := json.Unmarshal(body, &wire); err != nil || wire.Error.Message == "" {
		return apperrors.FromStatus(a.Name(), status)
	}

	var kind apperrors.Kind
	switch wire.Error.Status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		kind = apperrors.KindAuthentication
	case "RESOURCE_EXHAUSTED":
		kind = apperrors.KindRateLimit
	case "NOT_FOUND":
		kind = apperrors.KindModelNotFound
	case "DEADLINE_EXCEEDED":
		kind = apperrors.KindTimeout
	case "UNAVAILABLE", "INTERNAL":
		kind = apperrors.KindConnection
	default:
		kind = apperrors.KindOf(apperrors.FromStatus(a.Name(), status))
	}
	return apperrors.New(kind, a.Name(), wire.Error.Message).WithStatus(status)
}

func (a *geminiAdapter) SignalAliases() geo.AliasSet {
	aliases := geo.DefaultAliases()
	// Gemini tends to emit camelCase keys when left unguided.
	aliases.Mentioned = append(aliases.Mentioned, "brandMentioned")
	aliases.Sources = append(aliases.Sources, "citedSources")
	return aliases
}
