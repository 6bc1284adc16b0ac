package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clementine-kb/clementine/internal/store"
)

func lexList(ids ...string) []*store.LexicalResult {
	out := make([]*store.LexicalResult, len(ids))
	for i, id := range ids {
		out[i] = &store.LexicalResult{ID: id, Score: float64(len(ids) - i)}
	}
	return out
}

func vecList(ids ...string) []*store.VectorResult {
	out := make([]*store.VectorResult, len(ids))
	for i, id := range ids {
		out[i] = &store.VectorResult{ID: id, Score: float32(len(ids)-i) / float32(len(ids))}
	}
	return out
}

func TestFuseWorkedExample(t *testing.T) {
	// lex ranks {A:1, B:2}, vec ranks {B:1, C:2}, equal weights, offset 1:
	//   B = 0.5/3 + 0.5/2 = 0.41667
	//   A = 0.5/2         = 0.25
	//   C = 0.5/3         = 0.16667
	results := fuse(lexList("A", "B"), vecList("B", "C"), Weights{Lexical: 0.5, Vector: 0.5}, 1)

	require.Len(t, results, 3)
	assert.Equal(t, "B", results[0].id)
	assert.Equal(t, "A", results[1].id)
	assert.Equal(t, "C", results[2].id)

	assert.InDelta(t, 0.41667, results[0].score, 1e-4)
	assert.InDelta(t, 0.25, results[1].score, 1e-4)
	assert.InDelta(t, 0.16667, results[2].score, 1e-4)

	assert.True(t, results[0].inBothLists)
	assert.False(t, results[1].inBothLists)
	assert.Equal(t, 2, results[0].lexRank)
	assert.Equal(t, 1, results[0].vecRank)
}

func TestFuseAbsentListContributesNothing(t *testing.T) {
	// "only" appears in a single list; its score must be exactly the one
	// term, with no synthetic contribution for the missing list.
	results := fuse(lexList("only"), nil, Weights{Lexical: 0.5, Vector: 0.5}, 1)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.25, results[0].score, 1e-9)
	assert.Zero(t, results[0].vecRank)
}

func TestFuseTieBreaks(t *testing.T) {
	// Same-rank singles tie on score; the passage in both lists must win,
	// then ID ascending for full determinism.
	lex := []*store.LexicalResult{{ID: "z", Score: 3}, {ID: "m", Score: 2}, {ID: "a", Score: 1}}
	vec := []*store.VectorResult{{ID: "m", Score: 0.9}}

	results := fuse(lex, vec, Weights{Lexical: 0.5, Vector: 0.5}, 60)
	require.Len(t, results, 3)
	// m: 0.5/62 + 0.5/61 beats z: 0.5/61.
	assert.Equal(t, "m", results[0].id)
	assert.Equal(t, "z", results[1].id)
	assert.Equal(t, "a", results[2].id)

	// Pure ID tie-break: two singles at the same rank in different lists
	// with equal weights produce identical scores.
	results = fuse(lexList("b"), vecList("a"), Weights{Lexical: 0.5, Vector: 0.5}, 60)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].score, results[1].score)
	assert.Equal(t, "a", results[0].id)
	assert.Equal(t, "b", results[1].id)
}

func TestFuseWeightsShiftOrder(t *testing.T) {
	lex := lexList("lexwin")
	vec := vecList("vecwin")

	results := fuse(lex, vec, Weights{Lexical: 0.9, Vector: 0.1}, 60)
	assert.Equal(t, "lexwin", results[0].id)

	results = fuse(lex, vec, Weights{Lexical: 0.1, Vector: 0.9}, 60)
	assert.Equal(t, "vecwin", results[0].id)
}

func TestFuseEmptyInputs(t *testing.T) {
	results := fuse(nil, nil, DefaultWeights(), 60)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}
