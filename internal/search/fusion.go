package search

import (
	"sort"

	"mnemo/internal/types"
)

// DefaultRRFK is the standard Reciprocal Rank Fusion constant.
const DefaultRRFK = 60

// FuseRRF merges the ranked candidate lists of up to four query variants
// into one list scored by Reciprocal Rank Fusion:
//
//	score(doc) = Σ_v 1/(k + rank_v(doc))
//
// summed only over the variants in which the document appears. Documents
// are keyed by stable id across sources; when the same id appears more
// than once within a variant, the best (smallest) rank wins. Output is
// sorted by fused score descending with the per-source tie-break
// (strength, recency, id) behind it so equal scores order
// deterministically.
func FuseRRF(variants [][]types.Candidate, k int) []types.Candidate {
	if k <= 0 {
		k = DefaultRRFK
	}

	type fused struct {
		cand  types.Candidate
		score float64
	}
	byKey := make(map[string]*fused)
	var order []string

	for _, variant := range variants {
		seen := make(map[string]int, len(variant)) // key -> best rank this variant
		for i, c := range variant {
			rank := i + 1
			key := c.Key()
			if prev, ok := seen[key]; ok && prev <= rank {
				continue
			}
			seen[key] = rank

			f, ok := byKey[key]
			if !ok {
				f = &fused{cand: c}
				byKey[key] = f
				order = append(order, key)
			}
		}
		for key, rank := range seen {
			byKey[key].score += 1.0 / float64(k+rank)
		}
	}

	out := make([]types.Candidate, 0, len(order))
	for _, key := range order {
		f := byKey[key]
		c := f.cand
		c.Score = f.score
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lessCandidate(out[i], out[j])
	})
	return out
}

// sortCandidates orders a list in place by score with the tie-break.
func sortCandidates(cands []types.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return lessCandidate(cands[i], cands[j])
	})
}

// lessCandidate orders candidates for output: fused score descending,
// then higher strength, newer created_at, smaller id, source type.
func lessCandidate(a, b types.Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.MemoryStrength != b.MemoryStrength {
		return a.MemoryStrength > b.MemoryStrength
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.SourceType < b.SourceType
}
