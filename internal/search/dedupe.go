package search

import "strings"

// dedupeResults drops results whose content is a near duplicate of a
// higher-ranked one, measured by Jaccard similarity over lowercased word
// sets. Sources that repeat the same boilerplate across pages otherwise
// crowd out distinct answers.
func dedupeResults(results []*Result, threshold float64) []*Result {
	if threshold <= 0 || threshold > 1 || len(results) < 2 {
		return results
	}

	kept := make([]*Result, 0, len(results))
	keptTokens := make([]map[string]struct{}, 0, len(results))

	for _, r := range results {
		tokens := wordSet(r.Passage.Content)
		dup := false
		for _, prev := range keptTokens {
			if jaccard(tokens, prev) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
			keptTokens = append(keptTokens, tokens)
		}
	}
	return kept
}

func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	var overlap int
	for tok := range small {
		if _, ok := large[tok]; ok {
			overlap++
		}
	}
	union := len(a) + len(b) - overlap
	return float64(overlap) / float64(union)
}
