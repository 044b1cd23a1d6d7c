package runner

import "strings"

// DefaultPromptTemplate asks the model to answer the question and then
// self-report visibility signals for the target brand as a JSON object.
// Adapters that speak a different dialect still receive the same prompt;
// only the wire envelope differs.
const DefaultPromptTemplate = `Answer the following question, then report how the brand "{{brand}}" appears in your answer.

Question: {{question}}

After your answer, output a single JSON object with exactly these fields:
{
  "brand_mentioned": <true if "{{brand}}" appears in your answer, else false>,
  "rank": <1-based position of "{{brand}}" among brands you mentioned, or -1 if absent>,
  "sentiment": <sentiment toward "{{brand}}" between -1.0 and 1.0>,
  "interception": <name of a competing brand you recommended instead, or "">,
  "cited_sources": [{"url": "...", "site_name": "...", "attitude": "..."}]
}`

// RenderPrompt substitutes the brand and question into the template.
func RenderPrompt(template, brand, question string) string {
	out := strings.ReplaceAll(template, "{{brand}}", brand)
	return strings.ReplaceAll(out, "{{question}}", question)
}
