package logger

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

// SanitizedUsername masks a username for logging (e.g., "a****")
func SanitizedUsername(username string) string {
	if username == "" {
		return ""
	}

	first, size := utf8.DecodeRuneInString(username)
	rest := utf8.RuneCountInString(username[size:])
	return string(first) + strings.Repeat("*", rest)
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password",
		"token",
		"secret",
		"username",
		"linking_code",
		"code",
		"auth",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
