package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/types"
)

func TestRescoreBoostArithmetic(t *testing.T) {
	// Fused score 0.50 with two helpful and one not_relevant events
	// re-ranks to 0.50 + 0.2 - 0.1 = 0.60.
	cands := []types.Candidate{cand(1, 0.50)}
	counts := map[int64]types.FeedbackCounts{
		1: {Helpful: 2, NotRelevant: 1},
	}

	out := Rescore(cands, counts)

	require.Len(t, out, 1)
	assert.InDelta(t, 0.60, out[0].Score, 1e-12)
}

func TestRescoreNotNowHasNoEffect(t *testing.T) {
	cands := []types.Candidate{cand(1, 0.42)}
	counts := map[int64]types.FeedbackCounts{1: {NotNow: 7}}

	out := Rescore(cands, counts)
	assert.InDelta(t, 0.42, out[0].Score, 1e-12)
}

func TestRescoreClampsToLegalRange(t *testing.T) {
	cands := []types.Candidate{cand(1, 0.95), cand(2, 0.05)}
	counts := map[int64]types.FeedbackCounts{
		1: {Helpful: 3},
		2: {NotRelevant: 4},
	}

	out := Rescore(cands, counts)

	require.Len(t, out, 2)
	assert.Equal(t, 1.0, out[0].Score)
	assert.Equal(t, 0.0, out[1].Score)
}

func TestRescoreBoundedByEventCount(t *testing.T) {
	before := cand(1, 0.5)
	counts := map[int64]types.FeedbackCounts{1: {Helpful: 2, NotRelevant: 1}}

	out := Rescore([]types.Candidate{before}, counts)

	events := 3
	assert.LessOrEqual(t,
		out[0].Score-before.Score, float64(events)*feedbackStep+1e-12)
}

func TestRescoreIgnoresNonInsightSources(t *testing.T) {
	edge := types.Candidate{ID: 1, SourceType: types.SourceGraph, Score: 0.5}
	counts := map[int64]types.FeedbackCounts{1: {Helpful: 5}}

	out := Rescore([]types.Candidate{edge}, counts)
	assert.InDelta(t, 0.5, out[0].Score, 1e-12)
}

func TestRescoreDoesNotMutateInput(t *testing.T) {
	cands := []types.Candidate{cand(1, 0.5)}
	counts := map[int64]types.FeedbackCounts{1: {Helpful: 1}}

	_ = Rescore(cands, counts)
	assert.InDelta(t, 0.5, cands[0].Score, 1e-12)
}

func TestRescoreReordersByAdjustedScore(t *testing.T) {
	cands := []types.Candidate{cand(1, 0.6), cand(2, 0.55)}
	counts := map[int64]types.FeedbackCounts{2: {Helpful: 1}}

	out := Rescore(cands, counts)

	assert.Equal(t, int64(2), out[0].ID)
	assert.Equal(t, int64(1), out[1].ID)
}
