package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/SS8816/rulequery/internal/retrieval"
)

// coreSyntaxRules is embedded in generation and repair prompts.
const coreSyntaxRules = `### CORE ATHENA SYNTAX RULES:
1. Athena is Trino SQL. Use Trino function names and semantics only.
2. Enclose all column names in double quotes; string literals use single quotes.
3. Arrays of structs require UNNEST with a table alias:
   CROSS JOIN UNNEST("col") AS t(item), then item.field for access.
4. UNNEST alias count must match struct field count exactly, or use a single
   alias and dot access.
5. No trailing semicolons inside a CTAS body.
6. Use TRY/TRY_CAST to guard type conversions on dirty data.
7. Use approx_percentile instead of percentile_cont; array_agg + array_join
   instead of group_concat.`

// geometryRules covers the geospatial mistakes that dominate repair traffic.
const geometryRules = `### GEOMETRY RULES:
- ST_Point(longitude, latitude): longitude FIRST.
- ST_Buffer(geometry, distance): geometry FIRST.
- ST_Length on SphericalGeography accepts only LINE_STRING or MULTI_LINE_STRING.
- Build WKT strings with format/array_join + ST_GeometryFromText; never CAST
  row() to Geometry.
- Use from_geojson_geometry / to_geojson_geometry, not ST_GeomFromJson.`

// syntaxPatternCatalog is the fixed set of named syntax-error patterns with
// canonical fixes, fed to the syntax validation pass.
const syntaxPatternCatalog = `## KNOWN SYNTAX ERROR PATTERNS

[MISMATCHED_COLUMN_ALIASES]: UNNEST alias count must match the struct field
count. For array<struct<a,b,c>> use UNNEST(arr) AS t(single_alias) with
single_alias.a access, or UNNEST(arr) AS t(a, b, c).

[COLUMN_NOT_FOUND]: Column names are case sensitive and must be quoted with
double quotes exactly as they appear in the schema.

[TYPE_MISMATCH]: Comparisons across varchar/bigint/double need explicit
CAST or TRY_CAST on one side.

[MISSING_CATALOG_PREFIX]: Tables must be referenced as database.table when
the query runs outside the default database context.

[TRAILING_SEMICOLON]: A semicolon inside a CTAS body is a syntax error;
emit the bare statement.

[RESERVED_WORD_ALIAS]: Aliases that collide with reserved words must be
double quoted.`

// repairGuidance maps error-message patterns to targeted fixing advice.
var repairGuidance = []struct {
	pattern  *regexp.Regexp
	guidance string
}{
	{
		pattern: regexp.MustCompile(`(?i)MISMATCHED_COLUMN_ALIASES|column aliases`),
		guidance: `The UNNEST alias count does not match the struct field count.
Count the fields in the schema and use either a single alias with dot access
or exactly one alias per field.`,
	},
	{
		pattern: regexp.MustCompile(`(?i)column .* cannot be resolved|COLUMN_NOT_FOUND`),
		guidance: `A referenced column does not exist. Check the schema for the exact
case-sensitive name and quote it with double quotes.`,
	},
	{
		pattern: regexp.MustCompile(`(?i)function .* not registered|FUNCTION_NOT_FOUND`),
		guidance: `The function is not supported by Athena. Replace it with the Trino
equivalent; do not invent function names.`,
	},
	{
		pattern: regexp.MustCompile(`(?i)type mismatch|cannot be applied to`),
		guidance: `Operand types are incompatible. Add TRY_CAST on the offending side
so the comparison or arithmetic uses one consistent type.`,
	},
	{
		pattern: regexp.MustCompile(`(?i)exhausted at|timeout|timed out`),
		guidance: `The query is too expensive. Push filters into the earliest possible
stage, prune partitions explicitly, and avoid cross joins over unfiltered
arrays.`,
	},
}

const generalRepairGuidance = `### GENERAL DEBUGGING GUIDANCE:
- Read the error message carefully; it names the exact problem.
- Verify all column names match the schema exactly (case sensitive).
- Check function support and parameter order against Athena/Trino docs.
- Verify UNNEST alias counts against struct field counts in the schema.`

// buildGenerationPrompt assembles the first-pass synthesis prompt.
func buildGenerationPrompt(schemaDDL, nlQuery, constraints string) string {
	if strings.TrimSpace(constraints) == "" {
		constraints = "No specific constraints provided."
	}

	return fmt.Sprintf(`You are an expert AWS Athena SQL programmer. Write a single, optimized, syntactically correct Athena (Trino SQL) query that answers the user's question using the provided schema.

### USER QUESTION:
%s

### DATABASE SCHEMA:
%s

### USER-PROVIDED CONSTRAINTS:
%s

%s

%s

### CRITICAL INSTRUCTIONS:
1. Adhere strictly to ALL syntax rules above.
2. Use ONLY supported Athena/Trino functions.
3. Enclose all column names in double quotes.
4. Guard nullable and dirty columns with IS NOT NULL checks and TRY_CAST.
5. Generate ONLY the SQL query. No explanations, no markdown formatting.

### SQL QUERY:
`, nlQuery, schemaDDL, constraints, coreSyntaxRules, geometryRules)
}

// buildFunctionValidationPrompt assembles the first validation pass: function
// existence and usage, with per-function reference snippets when available.
func buildFunctionValidationPrompt(sql string, review functionReview, docs map[string][]retrieval.Snippet, schemaDDL string) string {
	var b strings.Builder

	b.WriteString(`You are an AWS Athena SQL function validator. Validate that every function in the query exists in Athena/Trino and is used correctly (parameter count, order, and types). Fix ONLY function usage; do not restructure the query.

### SQL TO VALIDATE:
`)
	b.WriteString(sql)
	b.WriteString("\n\n### DATABASE SCHEMA (for type checking):\n")
	b.WriteString(truncate(schemaDDL, 4000))

	b.WriteString("\n\n## FUNCTION STATUS\n\nUnclassified functions (not in the known-good list):\n")

	if len(review.Unclassified) == 0 {
		b.WriteString("  None\n")
	}

	for _, name := range review.Unclassified {
		fmt.Fprintf(&b, "  - %s (verify against the references; leave table aliases and WKT/SQL type names untouched)\n", name)
	}

	b.WriteString("\nInvalid functions (known unsupported):\n")

	if len(review.Invalid) == 0 {
		b.WriteString("  None\n")
	}

	for _, name := range sortedKeys(review.Invalid) {
		fmt.Fprintf(&b, "  - %s: %s\n", name, review.Invalid[name])
	}

	if len(docs) > 0 {
		b.WriteString("\n## FUNCTION REFERENCES\n")

		for _, name := range sortedKeys(docs) {
			snippets := docs[name]
			if len(snippets) == 0 {
				continue
			}

			fmt.Fprintf(&b, "\n### %s\n", name)

			for _, snippet := range snippets {
				b.WriteString(snippet.Text)
				b.WriteString("\n")
			}
		}
	}

	b.WriteString(`
## OUTPUT REQUIREMENTS
- Replace each invalid function with its suggested alternative.
- Remove or replace unclassified functions that have no reference, unless
  they are table aliases or type names.
- If no issues are found, return the original SQL unchanged.
- Return ONLY the SQL query. No markdown, no explanations.

### VALIDATED SQL:
`)

	return b.String()
}

// buildSyntaxValidationPrompt assembles the second validation pass. Function
// usage was validated in the previous pass and must be left alone.
func buildSyntaxValidationPrompt(sql, errorNotes, schemaDDL string) string {
	var b strings.Builder

	b.WriteString(`You are an AWS Athena SQL syntax validator.

CRITICAL: The functions in this SQL have ALREADY been validated. DO NOT modify any function or its usage. Fix ONLY syntax and structure issues.

### SQL TO VALIDATE:
`)
	b.WriteString(sql)
	b.WriteString("\n\n")
	b.WriteString(syntaxPatternCatalog)

	if strings.TrimSpace(errorNotes) != "" {
		b.WriteString("\n\n## RECENTLY OBSERVED PRODUCTION ERRORS\n\n")
		b.WriteString(errorNotes)
		b.WriteString("\nCheck whether this SQL could trigger any of them.\n")
	}

	b.WriteString("\n### FULL SCHEMA DDL:\n")
	b.WriteString(schemaDDL)

	b.WriteString(`

## OUTPUT REQUIREMENTS
- If the SQL is already correct, return it unchanged.
- Return ONLY the SQL query. No markdown, no explanations.

### VALIDATED SQL:
`)

	return b.String()
}

// buildRepairPrompt assembles the fixing prompt for a failed execution,
// optionally augmented with retrieved reference snippets.
func buildRepairPrompt(nlQuery, schemaDDL, schemaSummary, brokenSQL, errorMessage string, snippets []retrieval.Snippet) string {
	guidance := generalRepairGuidance

	for _, g := range repairGuidance {
		if g.pattern.MatchString(errorMessage) {
			guidance = "### SPECIFIC ERROR GUIDANCE:\n" + g.guidance

			break
		}
	}

	var b strings.Builder

	b.WriteString(`You are an expert AWS Athena SQL programmer. Your previous query failed. Analyze the error and write a corrected query.

### ORIGINAL USER QUESTION:
`)
	b.WriteString(nlQuery)

	if strings.TrimSpace(schemaSummary) != "" {
		b.WriteString("\n\n### SCHEMA SUMMARY (for quick reference):\n")
		b.WriteString(schemaSummary)
	}

	b.WriteString("\n\n### FULL DATABASE SCHEMA:\n")
	b.WriteString(schemaDDL)
	b.WriteString("\n\n### BROKEN SQL QUERY:\n")
	b.WriteString(brokenSQL)
	b.WriteString("\n\n### DATABASE ERROR MESSAGE:\n")
	b.WriteString(errorMessage)
	b.WriteString("\n\n")
	b.WriteString(guidance)

	if len(snippets) > 0 {
		b.WriteString("\n\n### RELEVANT DOCUMENTATION:\n")

		for _, snippet := range snippets {
			b.WriteString(snippet.Text)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(coreSyntaxRules)
	b.WriteString("\n\n")
	b.WriteString(geometryRules)

	b.WriteString(`

### FIXING INSTRUCTIONS:
1. The error message pinpoints the exact problem; fix that first.
2. Do not repeat the same mistake.
3. Rewrite the ENTIRE query with the fix applied.
4. Generate ONLY the corrected SQL query. No explanations, no markdown.

### CORRECTED SQL QUERY:
`)

	return b.String()
}

// validStatementKeywords are the accepted statement starts after cleanup.
var validStatementKeywords = []string{"WITH", "SELECT", "CREATE"}

// formatSQL strips markdown code fences from a raw completion and prefixes a
// SELECT when the result does not begin with a recognized statement keyword.
func formatSQL(raw string) string {
	cleaned := strings.TrimSpace(raw)

	if strings.HasPrefix(cleaned, "```sql") {
		cleaned = cleaned[6:]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[3:]
	}

	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	cleaned = strings.TrimSpace(cleaned)

	upper := strings.ToUpper(cleaned)
	for _, keyword := range validStatementKeywords {
		if strings.HasPrefix(upper, keyword) {
			return cleaned
		}
	}

	return "SELECT " + cleaned
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
