package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/SS8816/rulequery/internal/errors"
)

func newTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()

	idx, err := Create(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = idx.Close() })

	return idx
}

func TestOpenMissingIndex(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRetrieval))
}

func TestRetrieveRanksByMatchedTerms(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "array_agg collects values into an array", "fn.md#1"))
	require.NoError(t, idx.Add(ctx, "date_trunc truncates a timestamp to a unit", "fn.md#2"))
	require.NoError(t, idx.Add(ctx, "array functions: array_agg, cardinality, array distinct values", "fn.md#3"))

	snippets, err := idx.Retrieve(ctx, "array distinct values", 2)
	require.NoError(t, err)
	require.Len(t, snippets, 2)

	// The snippet matching all three terms ranks first.
	assert.Equal(t, "fn.md#3", snippets[0].SourceRef)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(context.Background(), "some content here", "a.md#0"))

	snippets, err := idx.Retrieve(context.Background(), "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, snippets)
}

func TestRetrieveHonorsK(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Add(ctx, "partition projection enabled table", "p.md#0"))
	}

	snippets, err := idx.Retrieve(ctx, "partition projection", 3)
	require.NoError(t, err)
	assert.Len(t, snippets, 3)
}

func TestLoadSplitsParagraphs(t *testing.T) {
	idx := newTestIndex(t)

	path := filepath.Join(t.TempDir(), "notes.md")
	content := "first block about unnest\n\nsecond block about lateral views\n\n\n\nthird block"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	count, err := idx.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	snippets, err := idx.Retrieve(context.Background(), "unnest", 1)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Contains(t, snippets[0].Text, "unnest")
}

func TestAddSkipsEmpty(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add(context.Background(), "   ", "x.md#0"))

	snippets, err := idx.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, snippets)
}
