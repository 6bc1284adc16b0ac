package search

import (
	"sort"

	"github.com/clementine-kb/clementine/internal/store"
)

// fusedPassage holds intermediate fusion state for one candidate.
type fusedPassage struct {
	id          string
	score       float64
	lexScore    float64
	vecScore    float64
	lexRank     int
	vecRank     int
	inBothLists bool
}

// fuse combines the two ranked candidate lists with Reciprocal Rank Fusion:
//
//	score(p) = w_lex/(offset+lexRank) + w_vec/(offset+vecRank)
//
// Ranks are 1-indexed. A passage absent from a list gets no contribution
// from it; there is no synthetic rank for missing entries, so a passage in
// both lists always outscores a same-ranked passage in one.
//
// Ties break toward passages in both lists, then by passage ID for a fully
// deterministic order.
func fuse(lex []*store.LexicalResult, vec []*store.VectorResult, w Weights, offset int) []*fusedPassage {
	if len(lex) == 0 && len(vec) == 0 {
		return []*fusedPassage{}
	}
	if offset <= 0 {
		offset = DefaultRankerConfig().RankOffset
	}

	byID := make(map[string]*fusedPassage, len(lex)+len(vec))
	get := func(id string) *fusedPassage {
		if f, ok := byID[id]; ok {
			return f
		}
		f := &fusedPassage{id: id}
		byID[id] = f
		return f
	}

	for i, r := range lex {
		f := get(r.ID)
		f.lexScore = r.Score
		f.lexRank = i + 1
		f.score += w.Lexical / float64(offset+i+1)
	}
	for i, r := range vec {
		f := get(r.ID)
		f.vecScore = float64(r.Score)
		f.vecRank = i + 1
		f.score += w.Vector / float64(offset+i+1)
		if f.lexRank > 0 {
			f.inBothLists = true
		}
	}

	results := make([]*fusedPassage, 0, len(byID))
	for _, f := range byID {
		results = append(results, f)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.inBothLists != b.inBothLists {
			return a.inBothLists
		}
		return a.id < b.id
	})
	return results
}
