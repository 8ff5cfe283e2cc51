// Package retrieval provides similarity search over reference documentation
// snippets. Absence of an index is a valid degraded state; callers fall back
// to no-context prompts.
package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // sqlite driver

	apperrors "github.com/SS8816/rulequery/internal/errors"
)

// Snippet is one retrieved reference-documentation chunk.
type Snippet struct {
	Text      string `json:"text"`
	SourceRef string `json:"source_ref"`
}

// Index defines similarity search over reference snippets.
type Index interface {
	Retrieve(ctx context.Context, query string, k int) ([]Snippet, error)
	Close() error
}

// SQLiteIndex implements Index over a local snippet database. Ranking is
// by number of matched query terms; candidates are gathered with per-term
// substring matches.
type SQLiteIndex struct {
	db *sql.DB
}

const indexSchemaSQL = `
CREATE TABLE IF NOT EXISTS snippets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	source_ref TEXT NOT NULL DEFAULT ''
);
`

// maxQueryTerms bounds how many terms participate in candidate matching so
// pathological queries stay cheap.
const maxQueryTerms = 16

// Open opens an existing snippet index. A missing file is reported as a
// typed retrieval error so callers can degrade instead of failing the run.
func Open(path string) (*SQLiteIndex, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, apperrors.Newf(apperrors.ErrTypeRetrieval, "snippet index not found at %s", path).
			WithSuggestion("run 'rulequery docs load' to build the documentation index")
	}

	return openIndex(path)
}

// Create opens or creates a snippet index at path, initializing the schema.
func Create(path string) (*SQLiteIndex, error) {
	return openIndex(path)
}

func openIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeRetrieval, "failed to open snippet index")
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(indexSchemaSQL); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrTypeRetrieval, "failed to initialize snippet index")
	}

	return &SQLiteIndex{db: db}, nil
}

// Add stores a snippet in the index.
func (i *SQLiteIndex) Add(ctx context.Context, text, sourceRef string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	_, err := i.db.ExecContext(ctx,
		"INSERT INTO snippets (content, source_ref) VALUES (?, ?)", text, sourceRef)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeRetrieval, "failed to store snippet")
	}

	return nil
}

// Load ingests a documentation file, splitting it into paragraph chunks.
// Blank-line separated blocks become individual snippets tagged with the
// source path and block index.
func (i *SQLiteIndex) Load(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrTypeRetrieval, "failed to read docs file")
	}

	count := 0

	for n, block := range strings.Split(string(data), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		if err := i.Add(ctx, block, fmt.Sprintf("%s#%d", path, n)); err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}

// Retrieve returns up to k snippets ranked by the number of query terms they
// contain. An empty query or an empty index yields no snippets.
func (i *SQLiteIndex) Retrieve(ctx context.Context, query string, k int) ([]Snippet, error) {
	if k <= 0 {
		k = 2
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	if len(terms) > maxQueryTerms {
		terms = terms[:maxQueryTerms]
	}

	conditions := make([]string, 0, len(terms))
	args := make([]interface{}, 0, len(terms))

	for _, term := range terms {
		conditions = append(conditions, "LOWER(content) LIKE ?")
		args = append(args, "%"+term+"%")
	}

	rows, err := i.db.QueryContext(ctx,
		"SELECT content, source_ref FROM snippets WHERE "+strings.Join(conditions, " OR "),
		args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeRetrieval, "snippet query failed")
	}
	defer rows.Close()

	type scored struct {
		snippet Snippet
		hits    int
	}

	var candidates []scored

	for rows.Next() {
		var s Snippet

		if err := rows.Scan(&s.Text, &s.SourceRef); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrTypeRetrieval, "failed to scan snippet")
		}

		lower := strings.ToLower(s.Text)
		hits := 0

		for _, term := range terms {
			if strings.Contains(lower, term) {
				hits++
			}
		}

		candidates = append(candidates, scored{snippet: s, hits: hits})
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeRetrieval, "failed to iterate snippets")
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].hits > candidates[b].hits
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	snippets := make([]Snippet, 0, len(candidates))
	for _, c := range candidates {
		snippets = append(snippets, c.snippet)
	}

	return snippets, nil
}

// Close closes the underlying database.
func (i *SQLiteIndex) Close() error {
	return i.db.Close()
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))

	terms := make([]string, 0, len(fields))

	for _, f := range fields {
		f = strings.Trim(f, ".,;:()'\"`")
		if len(f) < 2 {
			continue
		}

		terms = append(terms, f)
	}

	return terms
}
