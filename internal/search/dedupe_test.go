package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clementine-kb/clementine/internal/store"
)

func resultWithContent(id, content string) *Result {
	return &Result{Passage: &store.Passage{ID: id, Content: content}}
}

func TestDedupeDropsNearDuplicates(t *testing.T) {
	results := []*Result{
		resultWithContent("p1", "the quick brown fox jumps over the lazy dog"),
		resultWithContent("p2", "the quick brown fox jumps over the lazy dog today"),
		resultWithContent("p3", "an entirely different passage about databases"),
	}

	deduped := dedupeResults(results, 0.9)
	assert.Len(t, deduped, 2)
	assert.Equal(t, "p1", deduped[0].Passage.ID, "higher-ranked duplicate survives")
	assert.Equal(t, "p3", deduped[1].Passage.ID)
}

func TestDedupeKeepsDistinctContent(t *testing.T) {
	results := []*Result{
		resultWithContent("p1", "install clementine with the package manager"),
		resultWithContent("p2", "configure the sync interval in the yaml file"),
	}
	assert.Len(t, dedupeResults(results, 0.9), 2)
}

func TestDedupeDisabled(t *testing.T) {
	results := []*Result{
		resultWithContent("p1", "identical words here"),
		resultWithContent("p2", "identical words here"),
	}
	assert.Len(t, dedupeResults(results, 0), 2)
	assert.Len(t, dedupeResults(results, 1.5), 2)
	assert.Len(t, dedupeResults(results, 1.0), 1)
}

func TestJaccard(t *testing.T) {
	a := wordSet("alpha beta gamma")
	b := wordSet("alpha beta delta")
	assert.InDelta(t, 0.5, jaccard(a, b), 1e-9)

	assert.Equal(t, 1.0, jaccard(a, a))
	assert.Equal(t, 0.0, jaccard(a, wordSet("")))
	assert.Equal(t, 1.0, jaccard(wordSet(""), wordSet("")))
}
