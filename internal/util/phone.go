package util

import (
	"regexp"
	"strings"
	"unicode"
)

var nonDialable = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone tries to normalize user input into E.164-like format.
// countryCode is the local calling code without '+', e.g. "90"; national
// numbers starting with a single trunk '0' get it prefixed. Alphanumeric
// sender ids (any letter, e.g. "BIM2024") are returned trimmed and untouched.
func NormalizePhone(raw, countryCode string) string {
	s := strings.TrimSpace(raw)
	if !strings.ContainsAny(s, "0123456789") || strings.IndexFunc(s, unicode.IsLetter) >= 0 {
		return s
	}
	s = nonDialable.ReplaceAllString(s, "")

	switch {
	case strings.HasPrefix(s, "+"):
	case strings.HasPrefix(s, "00"):
		s = "+" + s[2:]
	case countryCode != "" && strings.HasPrefix(s, "0") && len(s) == 11:
		s = "+" + countryCode + s[1:]
	case countryCode != "" && strings.HasPrefix(s, countryCode) && len(s) == len(countryCode)+10:
		s = "+" + s
	}

	return s
}
