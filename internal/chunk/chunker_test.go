package chunk

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

func TestChunk_EmptyContent(t *testing.T) {
	c := New(Options{})

	for _, input := range []string{"", "   ", "\n\n\t\n"} {
		_, err := c.Chunk(input)
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeEmptyContent, apperrors.GetCode(err))
	}
}

func TestChunk_SmallDocumentSinglePassage(t *testing.T) {
	c := New(Options{})

	passages, err := c.Chunk("A short note about oranges.")
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "A short note about oranges.", passages[0])
}

func TestChunk_RollsUndersizedFinalSegment(t *testing.T) {
	// Two sections of ~1900 and ~150 chars with a 300 threshold must
	// come out as one passage, not two.
	c := New(Options{TargetSize: 2000, MaxSize: 2300, MinSize: 300})

	big := "# First\n\n" + strings.Repeat("aaaa ", 378)   // ~1899 chars
	small := "# Second\n\n" + strings.Repeat("bb ", 47)   // ~150 chars
	passages, err := c.Chunk(big + "\n" + small)
	require.NoError(t, err)

	require.Len(t, passages, 1)
	assert.Contains(t, passages[0], "# First")
	assert.Contains(t, passages[0], "# Second")
	assert.LessOrEqual(t, utf8.RuneCountInString(passages[0]), 2300)
}

func TestChunk_RollsUndersizedLeadingSegment(t *testing.T) {
	c := New(Options{TargetSize: 2000, MaxSize: 2300, MinSize: 300})

	small := "# Intro\n\ntiny section"
	big := "# Body\n\n" + strings.Repeat("word ", 380)
	passages, err := c.Chunk(small + "\n" + big)
	require.NoError(t, err)

	require.Len(t, passages, 1)
	assert.True(t, strings.HasPrefix(passages[0], "# Intro"))
}

func TestChunk_LargeSectionsStaySeparate(t *testing.T) {
	c := New(Options{TargetSize: 2000, MaxSize: 2300, MinSize: 300})

	a := "# Alpha\n\n" + strings.Repeat("alpha ", 320) // ~1920 chars
	b := "# Beta\n\n" + strings.Repeat("beta ", 380)   // ~1900 chars
	passages, err := c.Chunk(a + "\n" + b)
	require.NoError(t, err)

	require.Len(t, passages, 2)
	assert.Contains(t, passages[0], "# Alpha")
	assert.Contains(t, passages[1], "# Beta")
}

func TestChunk_NeverExceedsHardCap(t *testing.T) {
	c := New(Options{TargetSize: 2000, MaxSize: 2300, MinSize: 300})

	// One giant section with sentence boundaries.
	var b strings.Builder
	b.WriteString("# Huge\n\n")
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&b, "Sentence number %d carries some modest amount of text. ", i)
	}

	passages, err := c.Chunk(b.String())
	require.NoError(t, err)
	require.Greater(t, len(passages), 1)

	for i, p := range passages {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 2300, "passage %d over cap", i)
		assert.NotEmpty(t, strings.TrimSpace(p))
	}
}

func TestChunk_OversizedSegmentWithoutSeparators(t *testing.T) {
	c := New(Options{TargetSize: 100, MaxSize: 120, MinSize: 20})

	passages, err := c.Chunk(strings.Repeat("x", 500))
	require.NoError(t, err)
	require.Greater(t, len(passages), 1)
	for _, p := range passages {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 120)
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c := New(Options{})

	input := "# One\n\nfirst section body\n\n# Two\n\nsecond section body\n"
	first, err := c.Chunk(input)
	require.NoError(t, err)
	second, err := c.Chunk(input)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestChunk_PreservesSourceOrder(t *testing.T) {
	c := New(Options{TargetSize: 200, MaxSize: 250, MinSize: 10})

	var b strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "# Section %d\n\n%s\n\n", i, strings.Repeat("text ", 40))
	}

	passages, err := c.Chunk(b.String())
	require.NoError(t, err)

	joined := strings.Join(passages, "\n\n")
	last := -1
	for i := 0; i < 10; i++ {
		pos := strings.Index(joined, fmt.Sprintf("Section %d", i))
		require.GreaterOrEqual(t, pos, 0)
		assert.Greater(t, pos, last, "sections out of order")
		last = pos
	}
}

func TestChunk_FrontmatterKeptWithDocument(t *testing.T) {
	c := New(Options{})

	input := "---\ntitle: Guide\n---\n\n# Guide\n\nBody text here.\n"
	passages, err := c.Chunk(input)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Contains(t, passages[0], "title: Guide")
	assert.Contains(t, passages[0], "Body text here.")
}

func TestChunk_PlainTextParagraphs(t *testing.T) {
	c := New(Options{TargetSize: 60, MaxSize: 80, MinSize: 10})

	input := "First paragraph with enough words to stand alone mostly fine.\n\n" +
		"Second paragraph also has a fair number of words in it here.\n\n" +
		"Third one."
	passages, err := c.Chunk(input)
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	assert.Contains(t, passages[len(passages)-1], "Third one.")
}
