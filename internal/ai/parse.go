package ai

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Parsed is the structured payload recovered from a model reply.
type Parsed struct {
	Description string
	Confidence  *int // nil when nothing parseable was found
}

var (
	truncatedDescRe = regexp.MustCompile(`\{\s*"description"\s*:\s*"((?:[^"\\]|\\.)*)`)
	confPhraseRe    = regexp.MustCompile(`(?i)confidence[^0-9]{0,10}(\d{1,3})|(\d{1,3})\s*%\s*confident`)
)

// ParseResponse recovers description and confidence from a free-form model
// reply. Providers return JSON embedded in prose, truncated JSON, or plain
// text; each salvage step is tried in order and the raw text is the final
// fallback.
func ParseResponse(raw string) Parsed {
	raw = strings.TrimSpace(raw)

	// 1. Outermost braces as strict JSON.
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			var payload struct {
				Description string           `json:"description"`
				Confidence  *json.RawMessage `json:"confidence"`
			}
			if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err == nil && payload.Description != "" {
				return Parsed{
					Description: payload.Description,
					Confidence:  parseConfidenceRaw(payload.Confidence),
				}
			}
		}
	}

	// 2. Truncated-JSON salvage: {"description": "... with no closing quote.
	if m := truncatedDescRe.FindStringSubmatch(raw); m != nil {
		desc := unescapeJSONFragment(m[1])
		if desc != "" {
			return Parsed{Description: desc, Confidence: findConfidencePhrase(raw)}
		}
	}

	// 3. Raw text with any confidence phrasing.
	return Parsed{Description: raw, Confidence: findConfidencePhrase(raw)}
}

func parseConfidenceRaw(raw *json.RawMessage) *int {
	if raw == nil {
		return nil
	}
	s := strings.Trim(strings.TrimSpace(string(*raw)), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return clampConfidence(int(f))
}

func findConfidencePhrase(s string) *int {
	m := confPhraseRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	for _, g := range m[1:] {
		if g != "" {
			n, err := strconv.Atoi(g)
			if err != nil {
				return nil
			}
			return clampConfidence(n)
		}
	}
	return nil
}

func clampConfidence(n int) *int {
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return &n
}

func unescapeJSONFragment(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// Object-tag keywords matched against the description text.
var objectKeywords = map[string][]string{
	"person":  {"person", "people", "man", "woman", "child", "someone", "pedestrian", "visitor"},
	"vehicle": {"vehicle", "car", "truck", "van", "suv", "motorcycle", "bus", "sedan", "pickup"},
	"animal":  {"animal", "dog", "cat", "bird", "deer", "raccoon", "squirrel", "fox", "coyote"},
	"package": {"package", "box", "parcel", "delivery", "envelope"},
}

// InferObjects extracts object tags from a description via keyword match.
// Emits ["unknown"] when nothing matches.
func InferObjects(description string) []string {
	lower := strings.ToLower(description)
	var out []string
	for _, tag := range []string{"person", "vehicle", "animal", "package"} {
		for _, kw := range objectKeywords[tag] {
			if containsWord(lower, kw) {
				out = append(out, tag)
				break
			}
		}
	}
	if len(out) == 0 {
		return []string{"unknown"}
	}
	return out
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(haystack[start-1])
		afterOK := end == len(haystack) || !isAlnum(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(haystack) {
			return false
		}
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
