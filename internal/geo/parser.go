// Package geo extracts structured brand-visibility signals from an AI
// provider's free-text answer.
package geo

import (
	"encoding/json"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/geolens/geolens/internal/domain/model"
)

// AliasSet maps signal fields to ordered JMESPath expressions. The first
// expression yielding a value wins, which lets adapters accommodate
// provider-specific field naming without their own parsing code.
type AliasSet struct {
	Mentioned    []string
	Rank         []string
	Sentiment    []string
	Interception []string
	Sources      []string
}

// DefaultAliases covers the field names the prompt template asks every
// provider for, plus common drift observed in answers.
func DefaultAliases() AliasSet {
	return AliasSet{
		Mentioned:    []string{"brand_mentioned", "mentioned", "brand.mentioned"},
		Rank:         []string{"rank", "position", "brand_rank"},
		Sentiment:    []string{"sentiment", "sentiment_score", "score"},
		Interception: []string{"interception", "intercepted_by", "competitor"},
		Sources:      []string{"cited_sources", "sources", "citations", "references"},
	}
}

// merge overlays non-empty alias lists from o onto the receiver.
func (a AliasSet) merge(o AliasSet) AliasSet {
	if len(o.Mentioned) > 0 {
		a.Mentioned = o.Mentioned
	}
	if len(o.Rank) > 0 {
		a.Rank = o.Rank
	}
	if len(o.Sentiment) > 0 {
		a.Sentiment = o.Sentiment
	}
	if len(o.Interception) > 0 {
		a.Interception = o.Interception
	}
	if len(o.Sources) > 0 {
		a.Sources = o.Sources
	}
	return a
}

// Parse extracts a GEOSignal from answer text. It tolerates surrounding
// prose and fenced code blocks, degrades to safe defaults on malformed
// input, and never returns an error; degradations are reported through
// the signal's ErrorCode.
func Parse(text string, aliases AliasSet) model.GEOSignal {
	aliases = DefaultAliases().merge(aliases)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return model.DefaultSignal().WithErrorCode(model.SignalErrEmptyResponse)
	}

	candidate, found := locateJSON(trimmed)
	if !found {
		// Plain prose with no structured signal is not an error.
		return model.DefaultSignal()
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(candidate), &data); err != nil {
		return model.DefaultSignal().WithErrorCode(model.SignalErrMalformedJSON)
	}

	signal := model.DefaultSignal()
	complete := true

	if v, ok := search(data, aliases.Mentioned); ok {
		signal.BrandMentioned = asBool(v)
	} else {
		complete = false
	}

	if v, ok := search(data, aliases.Rank); ok {
		signal.Rank = asRank(v)
	} else {
		complete = false
	}

	if v, ok := search(data, aliases.Sentiment); ok {
		signal.Sentiment = clampSentiment(asFloat(v))
	} else {
		complete = false
	}

	if v, ok := search(data, aliases.Interception); ok {
		signal.Interception = asString(v)
	} else {
		complete = false
	}

	if v, ok := search(data, aliases.Sources); ok {
		signal.CitedSources = asSources(v)
	}

	if !complete {
		return signal.WithErrorCode(model.SignalErrPartialSignal)
	}
	return signal
}

// locateJSON finds the most plausible JSON object in the text: a fenced
// code block first, then the first balanced top-level object.
func locateJSON(text string) (string, bool) {
	if fenced, ok := fencedBlock(text); ok {
		if obj, ok := balancedObject(fenced); ok {
			return obj, true
		}
	}
	return balancedObject(text)
}

func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	// Skip the language tag on the opening fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// balancedObject scans for the first {...} with balanced braces,
// honoring strings and escapes.
func balancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func search(data map[string]any, exprs []string) (any, bool) {
	for _, expr := range exprs {
		v, err := jmespath.Search(expr, data)
		if err == nil && v != nil {
			return v, true
		}
	}
	return nil, false
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "yes"
	case float64:
		return t != 0
	default:
		return false
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(t)), &f); err == nil {
			return f
		}
	}
	return 0
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// asRank accepts ranks ≥ 1; everything else is unranked.
func asRank(v any) int {
	f := asFloat(v)
	r := int(f)
	if r < 1 {
		return model.RankUnknown
	}
	return r
}

func clampSentiment(f float64) float64 {
	if f < -1 {
		return -1
	}
	if f > 1 {
		return 1
	}
	return f
}

// asSources accepts either a list of objects ({url, site_name, attitude}
// with aliasing for name/site and stance) or a list of bare URL strings.
func asSources(v any) []model.CitedSource {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	sources := make([]model.CitedSource, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case string:
			if u := strings.TrimSpace(t); u != "" {
				sources = append(sources, model.CitedSource{URL: u})
			}
		case map[string]any:
			src := model.CitedSource{
				URL:      firstString(t, "url", "link", "href"),
				SiteName: firstString(t, "site_name", "site", "name", "title"),
				Attitude: firstString(t, "attitude", "stance", "tone"),
			}
			if src.URL != "" || src.SiteName != "" {
				sources = append(sources, src)
			}
		}
	}
	if len(sources) == 0 {
		return nil
	}
	return sources
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
