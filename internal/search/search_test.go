package search

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"mnemo/internal/access"
	"mnemo/internal/config"
	"mnemo/internal/embedding"
	"mnemo/internal/types"
)

// fakeBackend serves canned candidates and records probe calls.
type fakeBackend struct {
	project  string
	insights []types.Candidate
	lexical  []types.Candidate
	episodes []types.Candidate
	raw      []types.Candidate
	graph    []types.Candidate
	counts   map[int64]types.FeedbackCounts

	probes atomic.Int32
}

func (f *fakeBackend) Project() string { return f.project }

func (f *fakeBackend) SearchInsightsVector(_ context.Context, _ []float32, _ types.Filters, _ int) ([]types.Candidate, error) {
	return f.insights, nil
}

func (f *fakeBackend) SearchInsightsLexical(_ context.Context, _ string, _ types.Filters, _ int) ([]types.Candidate, error) {
	return f.lexical, nil
}

func (f *fakeBackend) SearchEpisodesVector(_ context.Context, _ []float32, _ types.Filters, _ int) ([]types.Candidate, error) {
	return f.episodes, nil
}

func (f *fakeBackend) SearchRawVector(_ context.Context, _ []float32, _ types.Filters, _ int) ([]types.Candidate, error) {
	return f.raw, nil
}

func (f *fakeBackend) MatchNodes(_ context.Context, _ []float32, _ int) ([]int64, error) {
	return []int64{1}, nil
}

func (f *fakeBackend) NodeIDsByName(_ context.Context, names []string) ([]int64, error) {
	return make([]int64, len(names)), nil
}

func (f *fakeBackend) ExpandGraph(_ context.Context, _ []int64, _ int, _ string) ([]types.Candidate, error) {
	return f.graph, nil
}

func (f *fakeBackend) FeedbackCounts(_ context.Context, _ []int64) (map[int64]types.FeedbackCounts, error) {
	if f.counts == nil {
		return map[int64]types.FeedbackCounts{}, nil
	}
	return f.counts, nil
}

func (f *fakeBackend) ShadowProbe(_ context.Context, _ string, _ []string, _ string) {
	f.probes.Add(1)
}

// fakeResolver returns a fixed scope.
type fakeResolver struct {
	mode types.RLSPhase
}

func (f *fakeResolver) Resolve(_ context.Context, current string) (*access.Scope, error) {
	return &access.Scope{CurrentProject: current, Mode: f.mode, Allowed: []string{current}}, nil
}

func newTestService(backend *fakeBackend, mode types.RLSPhase, sampleN int) *Service {
	cfg := config.DefaultConfig().Search
	return NewService(backend, embedding.NewDeterministic(16),
		&fakeResolver{mode: mode}, access.NewShadowSampler(sampleN), cfg, zap.NewNop())
}

func TestSearchFusesAcrossSources(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &fakeBackend{
		project:  "sm",
		insights: []types.Candidate{cand(1, 0.9)},
		lexical:  []types.Candidate{cand(2, 0.8)},
		episodes: []types.Candidate{{ID: 3, SourceType: types.SourceEpisode, Score: 0.7}},
		graph:    []types.Candidate{{ID: 4, SourceType: types.SourceGraph, Score: 0.5}},
	}
	svc := newTestService(backend, types.PhaseEnforcing, 0)

	res, err := svc.Search(context.Background(), Request{Query: "what changed"})
	require.NoError(t, err)

	sources := map[types.SourceType]bool{}
	for _, c := range res.Candidates {
		sources[c.SourceType] = true
	}
	assert.True(t, sources[types.SourceInsight])
	assert.True(t, sources[types.SourceEpisode])
	assert.True(t, sources[types.SourceGraph])
	assert.True(t, res.Degraded)
}

func TestSearchEmptyWithoutProject(t *testing.T) {
	svc := newTestService(&fakeBackend{project: ""}, types.PhaseEnforcing, 0)

	res, err := svc.Search(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := newTestService(&fakeBackend{project: "sm"}, types.PhaseEnforcing, 0)

	_, err := svc.Search(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestSearchAppliesFeedback(t *testing.T) {
	backend := &fakeBackend{
		project:  "sm",
		insights: []types.Candidate{cand(1, 0), cand(2, 0)},
		counts:   map[int64]types.FeedbackCounts{2: {Helpful: 3}},
	}
	svc := newTestService(backend, types.PhaseEnforcing, 0)

	res, err := svc.Search(context.Background(), Request{
		Query:   "boosted",
		Filters: FilterOptions{SourceTypes: []string{"insight"}},
	})
	require.NoError(t, err)

	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, int64(2), res.Candidates[0].ID)
}

func TestSearchRespectsTopK(t *testing.T) {
	backend := &fakeBackend{
		project:  "sm",
		insights: []types.Candidate{cand(1, 0.9), cand(2, 0.8), cand(3, 0.7)},
	}
	svc := newTestService(backend, types.PhaseEnforcing, 0)

	res, err := svc.Search(context.Background(), Request{Query: "limit", TopK: 2})
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 2)
}

func TestSearchShadowModeProbesSampledReads(t *testing.T) {
	backend := &fakeBackend{project: "sm"}
	svc := newTestService(backend, types.PhaseShadow, 1) // probe every read

	_, err := svc.Search(context.Background(), Request{Query: "audited"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), backend.probes.Load())
}

func TestSearchEnforcingModeDoesNotProbe(t *testing.T) {
	backend := &fakeBackend{project: "sm"}
	svc := newTestService(backend, types.PhaseEnforcing, 1)

	_, err := svc.Search(context.Background(), Request{Query: "quiet"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), backend.probes.Load())
}

// flagEngine reports a controllable fallback flag per call.
type flagEngine struct {
	*embedding.Deterministic
	degraded bool
}

func (f *flagEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, bool, error) {
	vecs, _, err := f.Deterministic.EmbedBatch(ctx, texts)
	return vecs, f.degraded, err
}

func TestSearchDegradedTracksEmbeddingFallback(t *testing.T) {
	backend := &fakeBackend{project: "sm", insights: []types.Candidate{cand(1, 0.9)}}
	eng := &flagEngine{Deterministic: embedding.NewDeterministic(16)}
	svc := NewService(backend, eng, &fakeResolver{mode: types.PhaseEnforcing},
		access.NewShadowSampler(0), config.DefaultConfig().Search, zap.NewNop())

	res, err := svc.Search(context.Background(), Request{Query: "healthy provider"})
	require.NoError(t, err)
	assert.False(t, res.Degraded)

	eng.degraded = true
	res, err = svc.Search(context.Background(), Request{Query: "provider outage"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestSearchInvalidFiltersRejected(t *testing.T) {
	svc := newTestService(&fakeBackend{project: "sm"}, types.PhaseEnforcing, 0)

	_, err := svc.Search(context.Background(), Request{
		Query:   "bad",
		Filters: FilterOptions{DateFrom: "garbage"},
	})
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}
