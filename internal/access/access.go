// Package access decides, per request, which projects a caller may read
// and which rows it may write. The authoritative enforcement lives in the
// database as row-level policies; this package mirrors the same rules so
// the service can fail preconditions before touching the pool, audit
// shadow-phase violations, and keep the semantics unit-testable.
package access

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"mnemo/internal/types"
)

// Directory is the slice of the project registry the resolver needs.
// The storage adapter implements it.
type Directory interface {
	// GetProject returns the project row, or a not-found error.
	GetProject(ctx context.Context, id string) (*types.Project, error)

	// ListProjectIDs returns every registered project id.
	ListProjectIDs(ctx context.Context) ([]string, error)

	// ReadGrantTargets returns the target project ids the reader was granted.
	ReadGrantTargets(ctx context.Context, reader string) ([]string, error)

	// Statuses returns the rollout status rows for the given projects.
	// Projects with no row are simply absent from the result.
	Statuses(ctx context.Context, projectIDs []string) ([]types.RLSStatus, error)
}

// Scope is the resolved access decision for one session project.
type Scope struct {
	// CurrentProject is the session project, possibly "".
	CurrentProject string

	// Level is the current project's access tier.
	Level types.AccessLevel

	// Allowed is the sorted set of readable project ids under enforcing
	// mode. Empty when no session project is set.
	Allowed []string

	// Mode is the strictest effective phase across Allowed.
	Mode types.RLSPhase

	allowed map[string]struct{}
}

// CanRead reports whether rows of the given project are visible.
func (s *Scope) CanRead(projectID string) bool {
	if s.Mode != types.PhaseEnforcing {
		return true
	}
	_, ok := s.allowed[projectID]
	return ok
}

// CanWrite reports whether rows of the given project are writable.
// Writes are strict regardless of tier: only the current project.
func (s *Scope) CanWrite(projectID string) bool {
	return s.CurrentProject != "" && projectID == s.CurrentProject
}

// Enforcing reports whether the read predicate is load-bearing.
func (s *Scope) Enforcing() bool { return s.Mode == types.PhaseEnforcing }

// Shadowing reports whether would-be violations should be audited.
func (s *Scope) Shadowing() bool { return s.Mode == types.PhaseShadow }

// Resolver computes scopes from the project registry.
type Resolver struct {
	dir          Directory
	defaultPhase types.RLSPhase
	logger       *zap.Logger
}

// NewResolver creates a resolver. defaultPhase applies to projects with
// no rollout status row.
func NewResolver(dir Directory, defaultPhase types.RLSPhase, logger *zap.Logger) *Resolver {
	if !defaultPhase.Valid() {
		defaultPhase = types.PhaseEnforcing
	}
	return &Resolver{dir: dir, defaultPhase: defaultPhase, logger: logger}
}

// Resolve computes the scope for the session's current project.
//
// A missing current project resolves to an empty allowed set under
// enforcing mode: reads come back empty and write callers must check
// RequireProject first. An unregistered project is treated as isolated;
// self-access is implicit even before registration.
func (r *Resolver) Resolve(ctx context.Context, currentProject string) (*Scope, error) {
	if currentProject == "" {
		return &Scope{
			Mode:    types.PhaseEnforcing,
			allowed: map[string]struct{}{},
		}, nil
	}

	level := types.AccessIsolated
	proj, err := r.dir.GetProject(ctx, currentProject)
	switch {
	case err == nil:
		level = proj.AccessLevel
	case types.IsKind(err, types.KindNotFound):
		r.logger.Debug("unregistered project, treating as isolated",
			zap.String("project", currentProject))
	default:
		return nil, fmt.Errorf("resolving project %s: %w", currentProject, err)
	}

	allowed, err := r.allowedProjects(ctx, currentProject, level)
	if err != nil {
		return nil, err
	}

	mode, err := r.strictestPhase(ctx, allowed)
	if err != nil {
		// Conservative: unknown phase never weakens isolation.
		r.logger.Warn("phase lookup failed, defaulting to enforcing", zap.Error(err))
		mode = types.PhaseEnforcing
	}

	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}

	return &Scope{
		CurrentProject: currentProject,
		Level:          level,
		Allowed:        allowed,
		Mode:           mode,
		allowed:        set,
	}, nil
}

// allowedProjects computes the readable set for the tier.
func (r *Resolver) allowedProjects(ctx context.Context, current string, level types.AccessLevel) ([]string, error) {
	switch level {
	case types.AccessSuper:
		ids, err := r.dir.ListProjectIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing projects: %w", err)
		}
		ids = appendMissing(ids, current)
		sort.Strings(ids)
		return ids, nil

	case types.AccessShared:
		targets, err := r.dir.ReadGrantTargets(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("listing read grants for %s: %w", current, err)
		}
		ids := appendMissing(targets, current)
		sort.Strings(ids)
		return ids, nil

	default: // isolated
		return []string{current}, nil
	}
}

// strictestPhase returns the strictest effective phase across the
// projects. Disabled status rows count as pending; projects without a
// row take the configured default.
func (r *Resolver) strictestPhase(ctx context.Context, projectIDs []string) (types.RLSPhase, error) {
	if len(projectIDs) == 0 {
		return types.PhaseEnforcing, nil
	}

	statuses, err := r.dir.Statuses(ctx, projectIDs)
	if err != nil {
		return types.PhaseEnforcing, err
	}

	byProject := make(map[string]types.RLSStatus, len(statuses))
	for _, st := range statuses {
		byProject[st.ProjectID] = st
	}

	strictest := types.PhasePending
	for _, id := range projectIDs {
		phase := r.defaultPhase
		if st, ok := byProject[id]; ok {
			phase = st.Phase
			if !st.Enabled {
				phase = types.PhasePending
			}
		}
		if phase.Rank() > strictest.Rank() {
			strictest = phase
		}
	}
	return strictest, nil
}

// RequireProject returns a precondition error when no session project is
// set. Mutating paths call this before any I/O.
func RequireProject(currentProject string) error {
	if currentProject == "" {
		return types.Preconditionf("project_id", "no current project set for this session")
	}
	return nil
}

func appendMissing(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// =============================================================================
// SHADOW SAMPLING
// =============================================================================

// ShadowSampler decides which reads to probe while a scope is in shadow
// phase. Probing every read would double query load, so the sampler
// admits one in every n calls.
type ShadowSampler struct {
	n       uint64
	counter atomic.Uint64
}

// NewShadowSampler creates a sampler admitting 1 in n probes. n <= 0
// disables probing entirely.
func NewShadowSampler(n int) *ShadowSampler {
	if n < 0 {
		n = 0
	}
	return &ShadowSampler{n: uint64(n)}
}

// ShouldProbe reports whether this read should run the violation probe.
func (s *ShadowSampler) ShouldProbe() bool {
	if s.n == 0 {
		return false
	}
	return s.counter.Add(1)%s.n == 0
}
