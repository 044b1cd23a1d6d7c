// Package provider normalizes heterogeneous generative-AI platforms into
// one adapter contract consumed by the execution matrix runner.
package provider

import (
	"github.com/geolens/geolens/internal/geo"
)

// Request is the generic ask issued for one execution cell.
type Request struct {
	Brand       string
	Question    string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the normalized answer every adapter produces. Token counts
// are optional; providers that do not report usage leave them zero.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string
	Provider         string
	RequestID        string
	Raw              []byte
}

// Adapter translates generic requests into one platform's wire format and
// its wire responses and errors back into generic types. Implementations
// resolve credentials at construction time and fail fast when a key is
// absent, so a constructed adapter is always callable.
type Adapter interface {
	// Name returns the registry name of the provider.
	Name() string
	// EndpointURL returns the fully resolved request URL.
	EndpointURL() string
	// Headers returns the headers attached to every request.
	Headers() map[string]string
	// BuildRequest serializes a generic request into the wire payload.
	BuildRequest(req Request) ([]byte, error)
	// ParseResponse decodes a 2xx wire body into a Response.
	ParseResponse(body []byte, req Request) (*Response, error)
	// ParseError maps a >=400 wire body and status into the error taxonomy.
	ParseError(body []byte, status int) error
	// SignalAliases returns the provider-specific field aliasing used by
	// the GEO signal parser.
	SignalAliases() geo.AliasSet
}

// Config carries the per-provider settings resolved from configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}
