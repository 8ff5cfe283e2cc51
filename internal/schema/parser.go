// Package schema parses raw nested table-definition text into a structured
// catalog of tables and ordered column descriptors. The catalog feeds the
// prompt builders in the orchestration engine.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// ColumnDescriptor describes a single column of a parsed table definition.
type ColumnDescriptor struct {
	Name         string   `json:"column_name"`
	RawType      string   `json:"full_type"`
	IsNested     bool     `json:"is_nested"`
	NestedFields []string `json:"nested_fields,omitempty"`
}

// Catalog maps table names to their ordered column descriptors. It is
// immutable once built; callers must not modify the returned slices.
type Catalog struct {
	tables map[string][]ColumnDescriptor
	order  []string
}

// nestedFieldPreviewLimit bounds how many child field names a summary shows
// per nested column, independent of struct width.
const nestedFieldPreviewLimit = 5

var (
	// Table-definition blocks: a creation keyword through the column list,
	// terminated by a partition/storage marker.
	tablePattern = regexp.MustCompile(
		"(?is)CREATE EXTERNAL TABLE\\s+`?([^`\\s(]+)`?\\s*\\((.*?)\\)\\s*(?:PARTITIONED\\s+BY|ROW\\s+FORMAT|STORED\\s+AS)")

	// Single column definition: name, whitespace, type (rest of the string).
	columnPattern = regexp.MustCompile("(?s)^`?([^`\\s]+)`?\\s+(.+)$")

	lineCommentPattern = regexp.MustCompile(`--.*`)
)

// nestedTypePrefixes are the composite-type prefixes that mark a column as
// nested: record-like, list-like, and map-like.
var nestedTypePrefixes = []string{"struct<", "array<", "map<"}

// Parse parses table-creation blocks out of raw schema text. Text with no
// matching definition pattern yields an empty catalog, not an error.
func Parse(text string) *Catalog {
	catalog := &Catalog{tables: make(map[string][]ColumnDescriptor)}

	for _, match := range tablePattern.FindAllStringSubmatch(text, -1) {
		tableName := match[1]
		columnsText := match[2]

		columns := parseColumns(columnsText)

		if _, seen := catalog.tables[tableName]; !seen {
			catalog.order = append(catalog.order, tableName)
		}

		catalog.tables[tableName] = columns
	}

	return catalog
}

// parseColumns splits a column-list substring into descriptors, handling
// deeply nested composite types.
func parseColumns(columnsText string) []ColumnDescriptor {
	columnsText = lineCommentPattern.ReplaceAllString(columnsText, "")

	var columns []ColumnDescriptor

	for _, colDef := range splitTopLevel(columnsText) {
		colDef = strings.TrimSpace(colDef)
		if colDef == "" {
			continue
		}

		match := columnPattern.FindStringSubmatch(colDef)
		if match == nil {
			// No name/type separator; skip the malformed line.
			continue
		}

		name := strings.TrimSpace(match[1])
		rawType := strings.TrimSuffix(strings.TrimSpace(match[2]), ",")

		col := ColumnDescriptor{
			Name:     name,
			RawType:  rawType,
			IsNested: isNestedType(rawType),
		}

		// Only record-like nesting exposes child field names; one level
		// deep, deeper access is left to dot notation at generation time.
		if col.IsNested && strings.HasPrefix(rawType, "struct<") {
			col.NestedFields = extractNestedFieldNames(rawType)
		}

		columns = append(columns, col)
	}

	return columns
}

// splitTopLevel splits text on commas while tracking nesting depth, so that
// commas inside struct<...>, array<...>, map<...>, parens, or brackets never
// produce a split. N top-level comma-separated definitions always yield
// exactly N parts.
func splitTopLevel(text string) []string {
	var parts []string

	var current strings.Builder

	depth := 0

	for _, ch := range text {
		switch {
		case ch == '<' || ch == '(' || ch == '[':
			depth++
		case ch == '>' || ch == ')' || ch == ']':
			depth--
		case ch == ',' && depth == 0:
			parts = append(parts, current.String())
			current.Reset()

			continue
		}

		current.WriteRune(ch)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

// isNestedType reports whether a column type is a composite type.
func isNestedType(rawType string) bool {
	trimmed := strings.TrimSpace(rawType)
	for _, prefix := range nestedTypePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}

	return false
}

// extractNestedFieldNames extracts the immediate child field names from a
// struct type string.
func extractNestedFieldNames(structType string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(structType, "struct<"), ">")

	var fields []string

	for _, fieldDef := range splitTopLevel(inner) {
		fieldDef = strings.TrimSpace(fieldDef)

		name, _, found := strings.Cut(fieldDef, ":")
		if !found {
			continue
		}

		fields = append(fields, strings.Trim(name, "` "))
	}

	return fields
}

// Tables returns the parsed table names in definition order.
func (c *Catalog) Tables() []string {
	return c.order
}

// Columns returns the ordered column descriptors for a table, or nil if the
// table is not in the catalog.
func (c *Catalog) Columns(table string) []ColumnDescriptor {
	return c.tables[table]
}

// Len returns the number of tables in the catalog.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Summarize emits a compact, prompt-friendly description of the catalog.
// Nested columns show up to five child field names with an ellipsis marker
// when more exist.
func (c *Catalog) Summarize() string {
	var sb strings.Builder

	for _, tableName := range c.order {
		sb.WriteString("TABLE: " + tableName + "\n")
		sb.WriteString("COLUMNS:\n")

		for _, col := range c.tables[tableName] {
			switch {
			case col.IsNested && len(col.NestedFields) > 0:
				preview := col.NestedFields
				truncated := false

				if len(preview) > nestedFieldPreviewLimit {
					preview = preview[:nestedFieldPreviewLimit]
					truncated = true
				}

				line := fmt.Sprintf("  - %s (nested: %s", col.Name, strings.Join(preview, ", "))
				if truncated {
					line += ", ..."
				}

				sb.WriteString(line + ")\n")
			case col.IsNested:
				sb.WriteString(fmt.Sprintf("  - %s (complex nested type)\n", col.Name))
			default:
				sb.WriteString(fmt.Sprintf("  - %s (%s)\n", col.Name, col.RawType))
			}
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

// RedactedDDL re-emits a minimal creation statement for a table containing
// only the selected columns with their original full type strings. Returns
// an empty string if the table is not in the catalog.
func (c *Catalog) RedactedDDL(table string, selectedColumns []string) string {
	columns, ok := c.tables[table]
	if !ok {
		return ""
	}

	selected := make(map[string]bool, len(selectedColumns))
	for _, name := range selectedColumns {
		selected[name] = true
	}

	var lines []string

	for _, col := range columns {
		if selected[col.Name] {
			lines = append(lines, fmt.Sprintf("  `%s` %s", col.Name, col.RawType))
		}
	}

	return fmt.Sprintf("CREATE EXTERNAL TABLE `%s` (\n%s\n);", table, strings.Join(lines, ",\n"))
}
