package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/SS8816/rulequery/internal/errors"
)

const tableTimestampLayout = "20060102_150405"

var (
	categoryClean    = regexp.MustCompile(`[^a-z0-9_]`)
	materializedName = regexp.MustCompile(`^[a-z0-9_]+\.rule_[a-z0-9_]+_\d{8}_\d{6}$`)
)

// deriveTableName builds the materialized table name for a run:
// {database}.rule_{category}_{dbshort}_{YYYYMMDD_HHMMSS}. The category is
// lowercased and stripped to [a-z0-9_]; dbshort is the database without any
// catalog prefix.
func deriveTableName(ruleCategory, database string, now time.Time) string {
	category := categoryClean.ReplaceAllString(strings.ToLower(ruleCategory), "")

	dbShort := database
	if idx := strings.LastIndex(database, "."); idx >= 0 {
		dbShort = database[idx+1:]
	}

	return fmt.Sprintf("%s.rule_%s_%s_%s", database, category, dbShort, now.Format(tableTimestampLayout))
}

// validTableName reports whether a name matches the materialized naming
// scheme.
func validTableName(name string) bool {
	return materializedName.MatchString(name)
}

// TableMeta is the metadata recoverable from a materialized table name.
type TableMeta struct {
	Database  string
	Table     string
	CreatedAt time.Time
}

// ParseTableName extracts the database, bare table name, and creation
// timestamp from a materialized table name. Names outside the naming
// scheme are an error; cleanup uses that to refuse unmanaged tables.
func ParseTableName(name string) (*TableMeta, error) {
	if !validTableName(name) {
		return nil, apperrors.Newf(apperrors.ErrTypeInternal, "not a materialized table name: %s", name)
	}

	idx := strings.Index(name, ".")
	table := name[idx+1:]

	// timestamp is the fixed-width suffix
	ts := table[len(table)-len(tableTimestampLayout):]

	createdAt, err := time.Parse(tableTimestampLayout, ts)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrTypeInternal, "invalid timestamp in table name %s", name)
	}

	return &TableMeta{
		Database:  name[:idx],
		Table:     table,
		CreatedAt: createdAt,
	}, nil
}
