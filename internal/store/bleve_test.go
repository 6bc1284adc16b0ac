package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

func newTestBleveIndex(t *testing.T) *BleveLexicalIndex {
	t.Helper()
	idx, err := NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func blevePassage(scope, id, content string) *Passage {
	return &Passage{ID: id, Scope: scope, Content: content}
}

func TestBleveSearchScopeFiltered(t *testing.T) {
	idx := newTestBleveIndex(t)

	require.NoError(t, idx.Index(t.Context(), []*Passage{
		blevePassage("tenant-a", "p1", "the quick brown fox"),
		blevePassage("tenant-b", "p2", "the quick brown fox"),
		blevePassage("tenant-a", "p3", "slow green turtle"),
	}))

	results, err := idx.Search(t.Context(), "tenant-a", "quick fox", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestBleveEmptyQuery(t *testing.T) {
	idx := newTestBleveIndex(t)
	require.NoError(t, idx.Index(t.Context(), []*Passage{
		blevePassage("tenant-a", "p1", "content"),
	}))

	results, err := idx.Search(t.Context(), "tenant-a", "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveDelete(t *testing.T) {
	idx := newTestBleveIndex(t)

	require.NoError(t, idx.Index(t.Context(), []*Passage{
		blevePassage("tenant-a", "p1", "disposable entry"),
		blevePassage("tenant-a", "p2", "permanent entry"),
	}))
	assert.Equal(t, 2, idx.DocCount())

	require.NoError(t, idx.Delete(t.Context(), []string{"p1", "missing"}))
	assert.Equal(t, 1, idx.DocCount())

	results, err := idx.Search(t.Context(), "tenant-a", "disposable", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalFactory(t *testing.T) {
	s := newTestStore(t)

	t.Run("sqlite adapter searches through store", func(t *testing.T) {
		lex, err := NewLexicalIndex("sqlite", s, "")
		require.NoError(t, err)
		defer lex.Close()

		passages := ingestActive(t, s, "tenant-a", "docs/f.md", "fp1", "factory wired search")

		// Maintenance calls are no-ops; the store transactions own the rows.
		require.NoError(t, lex.Index(t.Context(), passages))
		require.NoError(t, lex.Delete(t.Context(), []string{passages[0].ID}))

		results, err := lex.Search(t.Context(), "tenant-a", "factory wired", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, passages[0].ID, results[0].ID)
	})

	t.Run("empty backend defaults to sqlite", func(t *testing.T) {
		lex, err := NewLexicalIndex("", s, "")
		require.NoError(t, err)
		defer lex.Close()
		_, ok := lex.(*sqliteLexical)
		assert.True(t, ok)
	})

	t.Run("bleve backend", func(t *testing.T) {
		lex, err := NewLexicalIndex("bleve", s, "")
		require.NoError(t, err)
		defer lex.Close()
		_, ok := lex.(*BleveLexicalIndex)
		assert.True(t, ok)
	})

	t.Run("unknown backend rejected", func(t *testing.T) {
		_, err := NewLexicalIndex("elasticsearch", s, "")
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	})
}
