package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SS8816/rulequery/internal/retrieval"
)

func TestFormatSQL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain select", raw: "SELECT 1", want: "SELECT 1"},
		{name: "sql fence", raw: "```sql\nSELECT 1\n```", want: "SELECT 1"},
		{name: "bare fence", raw: "```\nWITH t AS (SELECT 1) SELECT * FROM t\n```", want: "WITH t AS (SELECT 1) SELECT * FROM t"},
		{name: "create kept", raw: "CREATE TABLE x AS SELECT 1", want: "CREATE TABLE x AS SELECT 1"},
		{name: "lowercase select kept", raw: "select 1", want: "select 1"},
		{name: "missing keyword prefixed", raw: `"a", "b" FROM t`, want: `SELECT "a", "b" FROM t`},
		{name: "whitespace trimmed", raw: "  \nSELECT 1\n  ", want: "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSQL(tt.raw))
		})
	}
}

func TestBuildGenerationPrompt(t *testing.T) {
	prompt := buildGenerationPrompt("CREATE EXTERNAL TABLE db.t (...)", "count events per day", "")

	assert.Contains(t, prompt, "count events per day")
	assert.Contains(t, prompt, "CREATE EXTERNAL TABLE db.t")
	assert.Contains(t, prompt, "No specific constraints provided.")
	assert.Contains(t, prompt, "CORE ATHENA SYNTAX RULES")
}

func TestBuildFunctionValidationPrompt(t *testing.T) {
	review := classifyFunctions([]string{"GROUP_CONCAT", "MYSTERY_FN", "COUNT"})
	docs := map[string][]retrieval.Snippet{
		"COUNT": {{Text: "COUNT(x) counts non-null values", SourceRef: "fn.md#1"}},
	}

	prompt := buildFunctionValidationPrompt("SELECT group_concat(a) FROM t", review, docs, "schema ddl")

	assert.Contains(t, prompt, "GROUP_CONCAT")
	assert.Contains(t, prompt, "array_agg")
	assert.Contains(t, prompt, "MYSTERY_FN")
	assert.Contains(t, prompt, "COUNT(x) counts non-null values")
}

func TestBuildSyntaxValidationPromptWithNotes(t *testing.T) {
	prompt := buildSyntaxValidationPrompt("SELECT 1", "[TYPE_MISMATCH] seen on 2026-08-12", "ddl")

	assert.Contains(t, prompt, "RECENTLY OBSERVED PRODUCTION ERRORS")
	assert.Contains(t, prompt, "seen on 2026-08-12")
	assert.Contains(t, prompt, "MISMATCHED_COLUMN_ALIASES")
}

func TestBuildSyntaxValidationPromptWithoutNotes(t *testing.T) {
	prompt := buildSyntaxValidationPrompt("SELECT 1", "  ", "ddl")

	assert.NotContains(t, prompt, "RECENTLY OBSERVED PRODUCTION ERRORS")
}

func TestBuildRepairPromptGuidance(t *testing.T) {
	prompt := buildRepairPrompt("count things", "ddl", "summary",
		"SELECT bad", "MISMATCHED_COLUMN_ALIASES: alias count wrong", nil)

	assert.Contains(t, prompt, "SPECIFIC ERROR GUIDANCE")
	assert.Contains(t, prompt, "UNNEST alias count")
	assert.Contains(t, prompt, "SELECT bad")
}

func TestBuildRepairPromptGeneralFallbackAndSnippets(t *testing.T) {
	snippets := []retrieval.Snippet{{Text: "date_trunc reference", SourceRef: "d.md#0"}}

	prompt := buildRepairPrompt("count things", "ddl", "",
		"SELECT bad", "something completely novel", snippets)

	assert.Contains(t, prompt, "GENERAL DEBUGGING GUIDANCE")
	assert.Contains(t, prompt, "date_trunc reference")
	assert.NotContains(t, prompt, "SCHEMA SUMMARY")
}
