package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/geolens/geolens/internal/errors"
	"github.com/geolens/geolens/internal/geo"
)

// chatRequest is the OpenAI-compatible chat completions payload shared by
// every OpenAI-dialect provider (OpenAI, DeepSeek, Moonshot, Zhipu).
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// chatAdapter implements Adapter for OpenAI-compatible providers. The
// concrete adapters differ only in endpoint, defaults, and aliasing.
type chatAdapter struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	aliases    geo.AliasSet
	extraHeads map[string]string
}

func newChatAdapter(name, defaultBaseURL, defaultModel string, cfg Config) (*chatAdapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s: api key is required", name)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &chatAdapter{
		name:    name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		aliases: geo.DefaultAliases(),
	}, nil
}

func (a *chatAdapter) Name() string { return a.name }

func (a *chatAdapter) EndpointURL() string {
	return a.baseURL + "/chat/completions"
}

func (a *chatAdapter) Headers() map[string]string {
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + a.apiKey,
	}
	for k, v := range a.extraHeads {
		headers[k] = v
	}
	return headers
}

func (a *chatAdapter) BuildRequest(req Request) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindAdapter, a.name, "marshal request")
	}
	return body, nil
}

func (a *chatAdapter) ParseResponse(body []byte, req Request) (*Response, error) {
	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindResponse, a.name, "decode response")
	}
	if len(wire.Choices) == 0 {
		return nil, apperrors.New(apperrors.KindResponse, a.name, "response has no choices")
	}

	model := wire.Model
	if model == "" {
		model = req.Model
	}
	return &Response{
		Content:          wire.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     wire.Usage.PromptTokens,
		CompletionTokens: wire.Usage.CompletionTokens,
		TotalTokens:      wire.Usage.TotalTokens,
		FinishReason:     wire.Choices[0].FinishReason,
		Provider:         a.name,
		RequestID:        wire.ID,
		Raw:              body,
	}, nil
}

func (a *chatAdapter) ParseError(body []byte, status int) error {
	var wire chatErrorBody
	if err := json.Unmarshal(body, &wire); err != nil || wire.Error.Message == "" {
		return apperrors.FromStatus(a.name, status)
	}

	kind := classifyChatError(wire.Error.Type, fmt.Sprint(wire.Error.Code), status)
	return apperrors.New(kind, a.name, wire.Error.Message).WithStatus(status)
}

func (a *chatAdapter) SignalAliases() geo.AliasSet { return a.aliases }

// classifyChatError maps OpenAI-dialect error type/code strings into the
// closed taxonomy, falling back to the HTTP status.
func classifyChatError(errType, errCode string, status int) apperrors.Kind {
	hay := strings.ToLower(errType + " " + errCode)
	switch {
	case strings.Contains(hay, "invalid_api_key"),
		strings.Contains(hay, "authentication"),
		strings.Contains(hay, "invalid_request_key"):
		return apperrors.KindAuthentication
	case strings.Contains(hay, "insufficient_quota"),
		strings.Contains(hay, "quota"),
		strings.Contains(hay, "billing"):
		return apperrors.KindQuotaExceeded
	case strings.Contains(hay, "rate_limit"):
		return apperrors.KindRateLimit
	case strings.Contains(hay, "model_not_found"),
		strings.Contains(hay, "model_not_exist"):
		return apperrors.KindModelNotFound
	case strings.Contains(hay, "content_filter"),
		strings.Contains(hay, "content_policy"),
		strings.Contains(hay, "sensitive"):
		return apperrors.KindContentFilter
	default:
		return apperrors.KindOf(apperrors.FromStatus("", status))
	}
}

// NewOpenAI constructs the OpenAI adapter.
func NewOpenAI(cfg Config) (Adapter, error) {
	return newChatAdapter("openai", "https://api.openai.com/v1", "gpt-4o-mini", cfg)
}

// NewDeepSeek constructs the DeepSeek adapter.
func NewDeepSeek(cfg Config) (Adapter, error) {
	a, err := newChatAdapter("deepseek", "https://api.deepseek.com/v1", "deepseek-chat", cfg)
	if err != nil {
		return nil, err
	}
	// DeepSeek answers commonly use position/competitor naming.
	a.aliases.Rank = []string{"rank", "position"}
	a.aliases.Interception = []string{"interception", "competitor", "intercepted_by"}
	return a, nil
}

// NewMoonshot constructs the Moonshot (Kimi) adapter.
func NewMoonshot(cfg Config) (Adapter, error) {
	a, err := newChatAdapter("moonshot", "https://api.moonshot.cn/v1", "moonshot-v1-8k", cfg)
	if err != nil {
		return nil, err
	}
	a.aliases.Sentiment = []string{"sentiment", "sentiment_score"}
	return a, nil
}

// NewZhipu constructs the Zhipu (GLM) adapter.
func NewZhipu(cfg Config) (Adapter, error) {
	a, err := newChatAdapter("zhipu", "https://open.bigmodel.cn/api/paas/v4", "glm-4-flash", cfg)
	if err != nil {
		return nil, err
	}
	a.aliases.Sources = []string{"cited_sources", "sources", "references"}
	return a, nil
}
