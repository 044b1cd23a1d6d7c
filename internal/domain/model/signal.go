package model

// Signal degradation codes set by the GEO parser when extraction falls
// back to defaults. A nil ErrorCode means the source text simply carried
// no structured signal.
const (
	// SignalErrEmptyResponse marks an empty answer body.
	SignalErrEmptyResponse = "EMPTY_RESPONSE"
	// SignalErrMalformedJSON marks an answer whose embedded JSON failed to decode.
	SignalErrMalformedJSON = "MALFORMED_JSON"
	// SignalErrPartialSignal marks a decoded object missing expected signal keys.
	SignalErrPartialSignal = "PARTIAL_SIGNAL"
)

// RankUnknown is the sentinel for an unranked or unparseable rank.
const RankUnknown = -1

// CitedSource is one source the provider cited for its answer.
type CitedSource struct {
	URL      string `json:"url"`
	SiteName string `json:"site_name,omitempty"`
	Attitude string `json:"attitude,omitempty"`
}

// GEOSignal is the structured visibility data extracted from one
// provider answer.
type GEOSignal struct {
	BrandMentioned bool          `json:"brand_mentioned"`
	Rank           int           `json:"rank"`
	Sentiment      float64       `json:"sentiment"`
	CitedSources   []CitedSource `json:"cited_sources,omitempty"`
	Interception   string        `json:"interception,omitempty"`
	ErrorCode      *string       `json:"error_code,omitempty"`
}

// DefaultSignal returns the safe-default signal used when extraction
// degrades: unranked, neutral sentiment, nothing cited.
func DefaultSignal() GEOSignal {
	return GEOSignal{Rank: RankUnknown, Sentiment: 0.0}
}

// WithErrorCode returns a copy of the signal tagged with a degradation code.
func (s GEOSignal) WithErrorCode(code string) GEOSignal {
	s.ErrorCode = &code
	return s
}
