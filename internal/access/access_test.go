package access

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"mnemo/internal/types"
)

// fakeDirectory is an in-memory Directory for resolver tests.
type fakeDirectory struct {
	projects map[string]*types.Project
	grants   map[string][]string
	statuses map[string]types.RLSStatus

	statusErr error
}

func (f *fakeDirectory) GetProject(_ context.Context, id string) (*types.Project, error) {
	if p, ok := f.projects[id]; ok {
		return p, nil
	}
	return nil, types.NotFoundf("project %s not found", id)
}

func (f *fakeDirectory) ListProjectIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.projects))
	for id := range f.projects {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeDirectory) ReadGrantTargets(_ context.Context, reader string) ([]string, error) {
	return f.grants[reader], nil
}

func (f *fakeDirectory) Statuses(_ context.Context, projectIDs []string) ([]types.RLSStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	var out []types.RLSStatus
	for _, id := range projectIDs {
		if st, ok := f.statuses[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func proj(id string, level types.AccessLevel) *types.Project {
	return &types.Project{ID: id, Name: id, AccessLevel: level}
}

func newTestResolver(dir *fakeDirectory, def types.RLSPhase) *Resolver {
	return NewResolver(dir, def, zap.NewNop())
}

func TestResolveIsolated(t *testing.T) {
	dir := &fakeDirectory{
		projects: map[string]*types.Project{
			"aa": proj("aa", types.AccessIsolated),
			"bb": proj("bb", types.AccessIsolated),
		},
	}
	scope, err := newTestResolver(dir, types.PhaseEnforcing).Resolve(context.Background(), "aa")
	if err != nil {
		t.Fatal(err)
	}

	if len(scope.Allowed) != 1 || scope.Allowed[0] != "aa" {
		t.Errorf("isolated project should see only itself, got %v", scope.Allowed)
	}
	if scope.CanRead("bb") {
		t.Error("isolated project must not read other projects under enforcing")
	}
	if !scope.CanRead("aa") {
		t.Error("isolated project must read itself")
	}
}

func TestResolveShared(t *testing.T) {
	dir := &fakeDirectory{
		projects: map[string]*types.Project{
			"sm": proj("sm", types.AccessShared),
			"aa": proj("aa", types.AccessIsolated),
			"zz": proj("zz", types.AccessIsolated),
		},
		grants: map[string][]string{"sm": {"zz"}},
	}
	scope, err := newTestResolver(dir, types.PhaseEnforcing).Resolve(context.Background(), "sm")
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"sm", "zz"}
	if len(scope.Allowed) != len(want) {
		t.Fatalf("allowed = %v, want %v", scope.Allowed, want)
	}
	for i, id := range want {
		if scope.Allowed[i] != id {
			t.Errorf("allowed[%d] = %s, want %s (sorted)", i, scope.Allowed[i], id)
		}
	}
	if scope.CanRead("aa") {
		t.Error("shared project must not read ungrated projects")
	}
}

func TestResolveSuper(t *testing.T) {
	dir := &fakeDirectory{
		projects: map[string]*types.Project{
			"io": proj("io", types.AccessSuper),
			"aa": proj("aa", types.AccessIsolated),
			"bb": proj("bb", types.AccessIsolated),
		},
	}
	scope, err := newTestResolver(dir, types.PhaseEnforcing).Resolve(context.Background(), "io")
	if err != nil {
		t.Fatal(err)
	}

	if len(scope.Allowed) != 3 {
		t.Errorf("super should see all projects, got %v", scope.Allowed)
	}
	if !scope.CanRead("aa") || !scope.CanRead("bb") {
		t.Error("super must read every project")
	}
	// Writes stay strict even for super.
	if scope.CanWrite("aa") {
		t.Error("super must not write cross-project")
	}
	if !scope.CanWrite("io") {
		t.Error("super must write its own project")
	}
}

func TestResolveMissingSessionProject(t *testing.T) {
	dir := &fakeDirectory{projects: map[string]*types.Project{}}
	scope, err := newTestResolver(dir, types.PhasePending).Resolve(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	if len(scope.Allowed) != 0 {
		t.Errorf("no session project should allow nothing, got %v", scope.Allowed)
	}
	if scope.Mode != types.PhaseEnforcing {
		t.Errorf("no session project should resolve enforcing, got %s", scope.Mode)
	}
	if scope.CanRead("aa") || scope.CanWrite("aa") {
		t.Error("empty scope must neither read nor write")
	}
}

func TestResolveUnregisteredProject(t *testing.T) {
	dir := &fakeDirectory{projects: map[string]*types.Project{}}
	scope, err := newTestResolver(dir, types.PhaseEnforcing).Resolve(context.Background(), "new")
	if err != nil {
		t.Fatal(err)
	}

	if scope.Level != types.AccessIsolated {
		t.Errorf("unregistered project should be isolated, got %s", scope.Level)
	}
	if !scope.CanRead("new") || !scope.CanWrite("new") {
		t.Error("self-access is implicit even before registration")
	}
}

func TestStrictestPhaseWins(t *testing.T) {
	dir := &fakeDirectory{
		projects: map[string]*types.Project{
			"sm": proj("sm", types.AccessShared),
			"zz": proj("zz", types.AccessIsolated),
		},
		grants: map[string][]string{"sm": {"zz"}},
		statuses: map[string]types.RLSStatus{
			"sm": {ProjectID: "sm", Phase: types.PhasePending, Enabled: true},
			"zz": {ProjectID: "zz", Phase: types.PhaseEnforcing, Enabled: true},
		},
	}
	scope, err := newTestResolver(dir, types.PhasePending).Resolve(context.Background(), "sm")
	if err != nil {
		t.Fatal(err)
	}
	if scope.Mode != types.PhaseEnforcing {
		t.Errorf("strictest phase should win, got %s", scope.Mode)
	}
}

func TestDisabledStatusCountsAsPending(t *testing.T) {
	dir := &fakeDirectory{
		projects: map[string]*types.Project{"aa": proj("aa", types.AccessIsolated)},
		statuses: map[string]types.RLSStatus{
			"aa": {ProjectID: "aa", Phase: types.PhaseEnforcing, Enabled: false},
		},
	}
	scope, err := newTestResolver(dir, types.PhasePending).Resolve(context.Background(), "aa")
	if err != nil {
		t.Fatal(err)
	}
	if scope.Mode != types.PhasePending {
		t.Errorf("disabled status should fall back to pending, got %s", scope.Mode)
	}
	if !scope.CanRead("other") {
		t.Error("pending mode leaves reads unrestricted")
	}
}

func TestDefaultPhaseAppliesWithoutStatusRow(t *testing.T) {
	dir := &fakeDirectory{
		projects: map[string]*types.Project{"aa": proj("aa", types.AccessIsolated)},
	}
	scope, err := newTestResolver(dir, types.PhaseShadow).Resolve(context.Background(), "aa")
	if err != nil {
		t.Fatal(err)
	}
	if scope.Mode != types.PhaseShadow {
		t.Errorf("default phase should apply, got %s", scope.Mode)
	}
	if !scope.Shadowing() {
		t.Error("scope should report shadowing")
	}
}

func TestPhaseLookupFailureDefaultsToEnforcing(t *testing.T) {
	dir := &fakeDirectory{
		projects:  map[string]*types.Project{"aa": proj("aa", types.AccessIsolated)},
		statusErr: errors.New("connection refused"),
	}
	scope, err := newTestResolver(dir, types.PhasePending).Resolve(context.Background(), "aa")
	if err != nil {
		t.Fatal(err)
	}
	if scope.Mode != types.PhaseEnforcing {
		t.Errorf("phase lookup failure must not weaken isolation, got %s", scope.Mode)
	}
}

func TestRequireProject(t *testing.T) {
	if err := RequireProject("aa"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := RequireProject("")
	if err == nil {
		t.Fatal("expected precondition error")
	}
	if !types.IsKind(err, types.KindPrecondition) {
		t.Errorf("expected precondition kind, got %s", types.KindOf(err))
	}
	if types.AsError(err).Field() != "project_id" {
		t.Errorf("expected project_id field, got %s", types.AsError(err).Field())
	}
}

func TestShadowSampler(t *testing.T) {
	s := NewShadowSampler(4)
	probes := 0
	for i := 0; i < 16; i++ {
		if s.ShouldProbe() {
			probes++
		}
	}
	if probes != 4 {
		t.Errorf("expected 4 probes in 16 calls at n=4, got %d", probes)
	}

	off := NewShadowSampler(0)
	for i := 0; i < 8; i++ {
		if off.ShouldProbe() {
			t.Fatal("sampler with n=0 must never probe")
		}
	}
}
