package search

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mnemo/internal/access"
	"mnemo/internal/config"
	"mnemo/internal/embedding"
	"mnemo/internal/types"
)

// Backend is the slice of the storage adapter the orchestrator needs:
// per-source candidate generation, feedback aggregation, and the
// shadow-phase audit probe. All methods run under the database's access
// predicate for the session's current project.
type Backend interface {
	Project() string

	SearchInsightsVector(ctx context.Context, embedding []float32, f types.Filters, limit int) ([]types.Candidate, error)
	SearchInsightsLexical(ctx context.Context, query string, f types.Filters, limit int) ([]types.Candidate, error)
	SearchEpisodesVector(ctx context.Context, embedding []float32, f types.Filters, limit int) ([]types.Candidate, error)
	SearchRawVector(ctx context.Context, embedding []float32, f types.Filters, limit int) ([]types.Candidate, error)

	MatchNodes(ctx context.Context, embedding []float32, limit int) ([]int64, error)
	NodeIDsByName(ctx context.Context, names []string) ([]int64, error)
	ExpandGraph(ctx context.Context, seeds []int64, depth int, sector string) ([]types.Candidate, error)

	FeedbackCounts(ctx context.Context, insightIDs []int64) (map[int64]types.FeedbackCounts, error)
	ShadowProbe(ctx context.Context, currentProject string, allowed []string, table string)
}

// Resolver resolves the session's access scope.
type Resolver interface {
	Resolve(ctx context.Context, currentProject string) (*access.Scope, error)
}

// Request is one validated-by-the-handler search invocation.
type Request struct {
	// Query is the primary query text.
	Query string

	// Variants are additional semantic phrasings of the query; together
	// with Query they form the RRF variants, capped by configuration.
	Variants []string

	// TopK bounds the fused result. Zero means the configured default.
	TopK int

	// SeedNodes optionally name graph nodes to expand from in addition
	// to vector-matched seeds.
	SeedNodes []string

	Filters FilterOptions
}

// Result is the fused, re-scored search outcome.
type Result struct {
	Candidates []types.Candidate `json:"candidates"`

	// Degraded is set when ranking quality is compromised (deterministic
	// embedding fallback in use).
	Degraded bool `json:"degraded,omitempty"`
}

// Service runs hybrid search: filter canonicalisation, parallel
// per-source generation per query variant, RRF fusion, IEF re-scoring.
type Service struct {
	backend  Backend
	engine   embedding.Engine
	resolver Resolver
	sampler  *access.ShadowSampler
	cfg      config.SearchConfig
	logger   *zap.Logger
}

// NewService wires the search orchestrator.
func NewService(backend Backend, engine embedding.Engine, resolver Resolver, sampler *access.ShadowSampler, cfg config.SearchConfig, logger *zap.Logger) *Service {
	return &Service{
		backend:  backend,
		engine:   engine,
		resolver: resolver,
		sampler:  sampler,
		cfg:      cfg,
		logger:   logger,
	}
}

// Search executes one query. A session without a current project reads
// empty by contract rather than failing.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	if req.Query == "" {
		return nil, types.NewValidation(types.FieldError{
			Field: "query", Message: "query is required"})
	}

	filters, err := Canonicalize(req.Filters)
	if err != nil {
		return nil, err
	}
	if filters.GraphDepth == 0 {
		filters.GraphDepth = s.cfg.GraphMaxDepth
	}

	scope, err := s.resolver.Resolve(ctx, s.backend.Project())
	if err != nil {
		return nil, err
	}
	if scope.CurrentProject == "" {
		return &Result{Candidates: []types.Candidate{}}, nil
	}
	if scope.Shadowing() && s.sampler.ShouldProbe() {
		s.backend.ShadowProbe(ctx, scope.CurrentProject, scope.Allowed, "insights")
	}

	variants := s.variantTexts(req)
	embeddings, degraded, err := s.engine.EmbedBatch(ctx, variants)
	if err != nil {
		return nil, fmt.Errorf("embedding query variants: %w", err)
	}

	perVariant, err := s.generate(ctx, req, variants, embeddings, filters)
	if err != nil {
		return nil, err
	}

	fused := FuseRRF(perVariant, s.cfg.RRFK)
	rescored, err := s.applyFeedback(ctx, fused)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if len(rescored) > topK {
		rescored = rescored[:topK]
	}

	return &Result{
		Candidates: rescored,
		Degraded:   degraded,
	}, nil
}

// variantTexts returns the query plus extra variants, deduplicated and
// capped by configuration.
func (s *Service) variantTexts(req Request) []string {
	max := s.cfg.MaxVariants
	if max < 1 {
		max = 1
	}

	texts := []string{req.Query}
	seen := map[string]bool{req.Query: true}
	for _, v := range req.Variants {
		if len(texts) >= max {
			break
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		texts = append(texts, v)
	}
	return texts
}

// generate fans the per-source generators out in parallel, one ranked
// list per variant. Graph expansion seeds from the primary variant only
// and contributes to every variant list equally via fusion.
func (s *Service) generate(ctx context.Context, req Request, variants []string, embeddings [][]float32, filters types.Filters) ([][]types.Candidate, error) {
	perVariant := make([][][]types.Candidate, len(variants))
	for i := range perVariant {
		perVariant[i] = make([][]types.Candidate, 0, 4)
	}
	var mu sync.Mutex
	add := func(variant int, cands []types.Candidate) {
		mu.Lock()
		perVariant[variant] = append(perVariant[variant], cands)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.PerSourceK

	for i := range variants {
		i := i
		if filters.WantsSource(types.SourceInsight) {
			g.Go(func() error {
				cands, err := s.backend.SearchInsightsVector(gctx, embeddings[i], filters, limit)
				if err != nil {
					return err
				}
				add(i, cands)
				return nil
			})
			g.Go(func() error {
				cands, err := s.backend.SearchInsightsLexical(gctx, variants[i], filters, limit)
				if err != nil {
					return err
				}
				add(i, cands)
				return nil
			})
		}
		if filters.WantsSource(types.SourceEpisode) {
			g.Go(func() error {
				cands, err := s.backend.SearchEpisodesVector(gctx, embeddings[i], filters, limit)
				if err != nil {
					return err
				}
				add(i, cands)
				return nil
			})
		}
		if filters.WantsSource(types.SourceRaw) {
			g.Go(func() error {
				cands, err := s.backend.SearchRawVector(gctx, embeddings[i], filters, limit)
				if err != nil {
					return err
				}
				add(i, cands)
				return nil
			})
		}
	}

	var graphCands []types.Candidate
	if filters.WantsSource(types.SourceGraph) {
		g.Go(func() error {
			seeds, err := s.backend.MatchNodes(gctx, embeddings[0], s.cfg.GraphSeeds)
			if err != nil {
				return err
			}
			if len(req.SeedNodes) > 0 {
				named, err := s.backend.NodeIDsByName(gctx, req.SeedNodes)
				if err != nil {
					return err
				}
				seeds = append(seeds, named...)
			}
			graphCands, err = s.backend.ExpandGraph(gctx, seeds, filters.GraphDepth, filters.Sector)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]types.Candidate, len(variants))
	for i := range variants {
		merged := mergeRanked(perVariant[i])
		if i == 0 && len(graphCands) > 0 {
			merged = mergeRanked([][]types.Candidate{merged, graphCands})
		}
		out[i] = merged
	}
	return out, nil
}

// mergeRanked concatenates per-source lists into one variant list ranked
// by raw score with the per-source tie-break.
func mergeRanked(lists [][]types.Candidate) []types.Candidate {
	var merged []types.Candidate
	for _, l := range lists {
		merged = append(merged, l...)
	}
	sortCandidates(merged)
	return merged
}

// applyFeedback re-scores fused insight candidates by their recent
// feedback in one grouped query.
func (s *Service) applyFeedback(ctx context.Context, fused []types.Candidate) ([]types.Candidate, error) {
	var insightIDs []int64
	for _, c := range fused {
		if c.SourceType == types.SourceInsight {
			insightIDs = append(insightIDs, c.ID)
		}
	}
	if len(insightIDs) == 0 {
		return fused, nil
	}

	counts, err := s.backend.FeedbackCounts(ctx, insightIDs)
	if err != nil {
		return nil, fmt.Errorf("aggregating feedback: %w", err)
	}
	return Rescore(fused, counts), nil
}
