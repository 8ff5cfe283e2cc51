package athena

import (
	"regexp"
	"strings"

	apperrors "github.com/SS8816/rulequery/internal/errors"
)

// dangerousPatterns reject statement chaining, comment smuggling, and
// system-catalog probing before anything reaches the engine.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is);\s*(drop|delete|truncate|alter|create|insert|update)\s+`),
	regexp.MustCompile(`(?is)--\s*`),
	regexp.MustCompile(`(?is)/\*.*?\*/`),
	regexp.MustCompile(`(?is)xp_cmdshell`),
	regexp.MustCompile(`(?is)sp_executesql`),
	regexp.MustCompile(`(?is)exec\s*\(`),
	regexp.MustCompile(`(?is)information_schema`),
	regexp.MustCompile(`(?is)sys\.`),
}

var identifierStrip = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

const (
	defaultMaxQueryBytes = 100 * 1024
	maxIdentifierBytes   = 255
)

// ValidateQuery rejects empty, oversized, or pattern-flagged SQL text.
// maxBytes bounds the query size; zero or negative falls back to 100KB.
func ValidateQuery(query string, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = defaultMaxQueryBytes
	}

	if strings.TrimSpace(query) == "" {
		return apperrors.New(apperrors.ErrTypeSanitize, "query cannot be empty")
	}

	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(query) {
			return apperrors.Newf(apperrors.ErrTypeSanitize,
				"query contains potentially dangerous pattern: %s", pattern.String())
		}
	}

	if len(query) > maxBytes {
		return apperrors.Newf(apperrors.ErrTypeSanitize, "query is too large (max %dKB)", maxBytes/1024)
	}

	return nil
}

// SanitizeIdentifier strips characters outside [a-zA-Z0-9_.-] and bounds the
// length. An identifier that sanitizes to nothing is an error.
func SanitizeIdentifier(identifier string) (string, error) {
	if strings.TrimSpace(identifier) == "" {
		return "", apperrors.New(apperrors.ErrTypeSanitize, "identifier cannot be empty")
	}

	sanitized := identifierStrip.ReplaceAllString(strings.TrimSpace(identifier), "")
	if sanitized == "" {
		return "", apperrors.New(apperrors.ErrTypeSanitize, "identifier contains only invalid characters")
	}

	if len(sanitized) > maxIdentifierBytes {
		return "", apperrors.New(apperrors.ErrTypeSanitize, "identifier is too long (max 255 characters)")
	}

	return sanitized, nil
}
