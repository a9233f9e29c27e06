package bridge

import "strings"

// Carriers with dedicated package sensors.
var carriers = []struct {
	tag      string
	keywords []string
}{
	{"fedex", []string{"fedex", "fed ex"}},
	{"ups", []string{"ups"}},
	{"usps", []string{"usps", "postal service", "mail carrier", "mailman"}},
	{"amazon", []string{"amazon", "prime van"}},
	{"dhl", []string{"dhl"}},
}

// ExtractCarrier returns the carrier tag mentioned in a description, or "".
// Matching is whole-word so "cups" does not read as "ups".
func ExtractCarrier(description string) string {
	text := strings.ToLower(description)
	for _, c := range carriers {
		for _, kw := range c.keywords {
			if containsWord(text, kw) {
				return c.tag
			}
		}
	}
	return ""
}

func containsWord(text, word string) bool {
	for i := 0; i+len(word) <= len(text); i++ {
		if text[i:i+len(word)] != word {
			continue
		}
		if i > 0 && isAlnum(text[i-1]) {
			continue
		}
		if end := i + len(word); end < len(text) && isAlnum(text[end]) {
			continue
		}
		return true
	}
	return false
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
