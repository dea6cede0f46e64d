// Package redact strips secrets and local details from error text before it
// is logged, stored on a queue item or returned to a client. Errors from the
// generation backends can echo request URLs, API keys and connection strings.
package redact

import "regexp"

// Placeholders written in place of redacted text.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedQueryPlaceholder      = "[REDACTED_QUERY]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; earlier rules see the original text.
var rules = []rule{
	{
		// userinfo of postgres://, redis://, rediss:// and similar DSNs
		pattern:     regexp.MustCompile(`(?i)\b((?:postgres(?:ql)?|redis|rediss|mysql|mongodb|sqlite|file)://)[^@\s/]+@`),
		replacement: "${1}" + RedactedCredentialPlaceholder + "@",
	},
	{
		// query strings of request URLs, which may carry key=...
		pattern:     regexp.MustCompile(`(?i)(https?://[^\s"'?]+)\?[^\s"']*`),
		replacement: "${1}?" + RedactedQueryPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/=]+`),
		replacement: "Bearer " + RedactedKeyPlaceholder,
	},
	{
		// Google API keys
		pattern:     regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{30,}`),
		replacement: RedactedKeyPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(api[_-]?key|x-goog-api-key|token|secret|access[_-]?key)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`),
		replacement: "${1}${2}" + RedactedKeyPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(password|passwd|pwd)([=:\s]+['"]?)[^'"&\s]{3,}`),
		replacement: "${1}${2}" + RedactedCredentialPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`(?:goroutine \d+ \[|panic: )[\s\S]*?(\n\t.*)+`),
		replacement: RedactedStackPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		replacement: RedactedEmailPlaceholder,
	},
	{
		// absolute file paths; URL paths are kept because they follow a host
		pattern:     regexp.MustCompile(`(^|[\s'"(=])(?:/[\w.-]+){2,}`),
		replacement: "${1}" + RedactedPathPlaceholder,
	},
	{
		pattern:     regexp.MustCompile(`[A-Za-z]:\\[^\\\s]+(\\[^\\\s]+)+`),
		replacement: RedactedPathPlaceholder,
	},
}

// String redacts sensitive information from input.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from err.Error().
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
