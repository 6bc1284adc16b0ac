package embed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	first, err := e.Embed(t.Context(), "orange trees need well drained soil")
	require.NoError(t, err)
	second, err := e.Embed(t.Context(), "orange trees need well drained soil")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStaticEmbedder_UnitLength(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(t.Context(), "a passage about citrus cultivation")
	require.NoError(t, err)
	require.Len(t, vec, StaticDimensions)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedder_EmptyTextZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(t.Context(), "   \n\t ")
	require.NoError(t, err)
	require.Len(t, vec, StaticDimensions)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	a, err := e.Embed(t.Context(), "citrus orchards in valencia")
	require.NoError(t, err)
	b, err := e.Embed(t.Context(), "sqlite write ahead logging")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestStaticEmbedder_Batch(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	texts := []string{"first passage", "second passage", ""}
	vecs, err := e.EmbedBatch(t.Context(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.Embed(t.Context(), "first passage")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[0])
}

func TestStaticEmbedder_ClosedRejectsCalls(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(t.Context(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(t.Context()))
}
