package engine

import (
	"regexp"

	apperrors "github.com/SS8816/rulequery/internal/errors"
)

var (
	// databasePrimary captures the identifier before the dot (or a bare
	// identifier) in a table creation statement.
	databasePrimary = regexp.MustCompile("(?i)CREATE EXTERNAL TABLE\\s+`?([^.`\\s]+)(?:\\.|\\s)")

	// databaseFallback catches qualified latest_* table references.
	databaseFallback = regexp.MustCompile("(?i)`([a-z0-9_]+)\\.latest_")
)

// resolveDatabase extracts the target database name from schema DDL text.
// No match is a fatal error: retrying SQL cannot repair malformed schema
// text, so no retry slot is consumed.
func resolveDatabase(schemaDDL string) (string, error) {
	if m := databasePrimary.FindStringSubmatch(schemaDDL); m != nil {
		return m[1], nil
	}

	if m := databaseFallback.FindStringSubmatch(schemaDDL); m != nil {
		return m[1], nil
	}

	return "", apperrors.Newf(apperrors.ErrTypeSchemaResolution,
		"could not extract database name from DDL (schema starts with: %s)", truncate(schemaDDL, 200)).
		WithSuggestion("schema text must contain a CREATE EXTERNAL TABLE statement with a qualified table name")
}
