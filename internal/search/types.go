// Package search implements hybrid passage retrieval: lexical and vector
// lookups run concurrently and are fused with Reciprocal Rank Fusion.
package search

import (
	"github.com/clementine-kb/clementine/internal/store"
)

// Result is a single retrieval hit with its fusion breakdown.
type Result struct {
	// Passage is the full stored passage.
	Passage *store.Passage

	// Score is the fused RRF score.
	Score float64

	// LexScore is the raw lexical score (0 if absent from that list).
	LexScore float64

	// VecScore is the raw vector similarity (0 if absent from that list).
	VecScore float64

	// LexRank and VecRank are 1-indexed positions, 0 if absent.
	LexRank int
	VecRank int

	// InBothLists marks passages surfaced by both signals.
	InBothLists bool
}

// Weights configures the relative contribution of each signal.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights returns the balanced default.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.5, Vector: 0.5}
}

// RankerConfig tunes retrieval behavior. Weights and offset shape the
// ordering but are configuration, not contract.
type RankerConfig struct {
	// Weights for the lexical and vector signals. A zero weight skips that
	// lookup entirely.
	Weights Weights

	// RankOffset is the RRF smoothing constant added to each rank.
	RankOffset int

	// OverfetchFactor scales how many candidates each signal fetches
	// relative to the requested k, so fusion has enough overlap to work on.
	OverfetchFactor int

	// MaxResults is the result count when the caller passes k <= 0.
	MaxResults int

	// DedupeThreshold is the Jaccard similarity above which a lower-ranked
	// passage is dropped as a near duplicate. Values outside (0, 1] disable
	// deduplication.
	DedupeThreshold float64

	// QueryPrefix is prepended to the query text before embedding, for
	// models trained with asymmetric query/document prefixes.
	QueryPrefix string
}

// DefaultRankerConfig returns the standard retrieval tuning.
func DefaultRankerConfig() RankerConfig {
	return RankerConfig{
		Weights:         DefaultWeights(),
		RankOffset:      60,
		OverfetchFactor: 4,
		MaxResults:      5,
		DedupeThreshold: 0.9,
	}
}
