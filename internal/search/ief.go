package search

import (
	"sort"

	"mnemo/internal/types"
)

// feedbackStep is the per-event score adjustment: +0.1 per helpful
// event, -0.1 per not_relevant event. not_now events have no effect.
const feedbackStep = 0.1

// Rescore applies insight-effectiveness feedback to fused scores.
// Feedback is aggregated lazily at query time; the stored
// memory_strength is never modified here. The adjustment is bounded by
// event count times the step, and the final value is clamped to [0,1].
// Ordering is stable across equal re-scored values.
func Rescore(candidates []types.Candidate, counts map[int64]types.FeedbackCounts) []types.Candidate {
	out := make([]types.Candidate, len(candidates))
	copy(out, candidates)

	for i := range out {
		if out[i].SourceType != types.SourceInsight {
			continue
		}
		c, ok := counts[out[i].ID]
		if !ok {
			continue
		}
		adjusted := out[i].Score +
			feedbackStep*float64(c.Helpful) -
			feedbackStep*float64(c.NotRelevant)
		out[i].Score = clampScore(adjusted)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lessCandidate(out[i], out[j])
	})
	return out
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
