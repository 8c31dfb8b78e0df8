package util

import (
	"regexp"
	"strings"
)

var (
	// Matches the places API auth header if it ever leaks into an error string.
	apiKeyHeaderRe = regexp.MustCompile(`(?i)\bX-API-KEY\s*[:=]\s*[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|serper[_-]?api[_-]?key|gemini[_-]?api[_-]?key)\b\s*[:=]\s*[^\s"']+`)
)

// RedactSecrets removes obvious secret-bearing substrings from error/log strings.
//
// This is intentionally conservative: it should be safe to call on any message,
// including user-provided inputs and upstream error strings.
func RedactSecrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = apiKeyHeaderRe.ReplaceAllString(out, "X-API-KEY <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}
