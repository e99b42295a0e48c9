package utils

import (
	"strings"
	"unicode"
)

// SanitizeForLog replaces newlines, carriage returns, and tabs with spaces and
// strips every other control character from a string before it's written to
// a log line, so a value an
// attacker controls (a session name, a question) can't forge a fake log
// entry or split one line into two.
func SanitizeForLog(input string) string {
	if input == "" {
		return ""
	}

	sanitized := strings.ReplaceAll(input, "\n", " ")
	sanitized = strings.ReplaceAll(sanitized, "\r", " ")
	sanitized = strings.ReplaceAll(sanitized, "\t", " ")

	var builder strings.Builder
	for _, r := range sanitized {
		if !unicode.IsControl(r) {
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

// SanitizeForLogArray applies SanitizeForLog to every element, for logging
// a caller-supplied list (e.g. a request's explicit technique overrides)
// without trusting its contents.
func SanitizeForLogArray(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}

	sanitized := make([]string, 0, len(input))
	for _, item := range input {
		sanitized = append(sanitized, SanitizeForLog(item))
	}

	return sanitized
}
