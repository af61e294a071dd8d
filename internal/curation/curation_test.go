package curation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mnemo/internal/embedding"
	"mnemo/internal/types"
)

// fakeBackend emulates the storage adapter's curation contract in
// memory, including the status-guarded proposal claim.
type fakeBackend struct {
	project   string
	insights  map[int64]*types.Insight
	proposals map[uuid.UUID]*types.Proposal
	revisions map[int64][]types.InsightRevision

	updateCalls int
	deleteCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		project:   "sm",
		insights:  map[int64]*types.Insight{},
		proposals: map[uuid.UUID]*types.Proposal{},
		revisions: map[int64][]types.InsightRevision{},
	}
}

func (f *fakeBackend) Project() string { return f.project }

func (f *fakeBackend) GetInsight(_ context.Context, id int64) (*types.Insight, error) {
	in, ok := f.insights[id]
	if !ok {
		return nil, types.NotFoundf("insight %d not found", id)
	}
	cp := *in
	return &cp, nil
}

func (f *fakeBackend) UpdateInsight(_ context.Context, upd types.InsightUpdate) (*types.Insight, error) {
	f.updateCalls++
	in, ok := f.insights[upd.InsightID]
	if !ok {
		return nil, types.NotFoundf("insight %d not found", upd.InsightID)
	}
	if in.IsDeleted {
		return nil, types.NotFoundf("insight %d is deleted", upd.InsightID)
	}
	rev := types.InsightRevision{
		InsightID:        upd.InsightID,
		VersionID:        len(f.revisions[upd.InsightID]) + 1,
		Action:           types.RevisionUpdate,
		Actor:            upd.Actor,
		PreviousContent:  in.Content,
		PreviousStrength: in.MemoryStrength,
		Reason:           upd.Reason,
	}
	if upd.NewContent != nil {
		in.Content = *upd.NewContent
		in.Embedding = upd.NewEmbedding
		rev.NewContent = upd.NewContent
	}
	if upd.NewStrength != nil {
		in.MemoryStrength = types.ClampStrength(*upd.NewStrength)
		rev.NewStrength = upd.NewStrength
	}
	f.revisions[upd.InsightID] = append(f.revisions[upd.InsightID], rev)
	cp := *in
	return &cp, nil
}

func (f *fakeBackend) DeleteInsight(_ context.Context, del types.InsightDelete) error {
	f.deleteCalls++
	in, ok := f.insights[del.InsightID]
	if !ok {
		return types.NotFoundf("insight %d not found", del.InsightID)
	}
	if in.IsDeleted {
		return types.Conflictf("insight %d is already deleted", del.InsightID)
	}
	in.IsDeleted = true
	in.DeletedBy = string(del.Actor)
	in.DeletedReason = del.Reason
	f.revisions[del.InsightID] = append(f.revisions[del.InsightID], types.InsightRevision{
		InsightID:        del.InsightID,
		VersionID:        len(f.revisions[del.InsightID]) + 1,
		Action:           types.RevisionDelete,
		Actor:            del.Actor,
		PreviousContent:  in.Content,
		PreviousStrength: in.MemoryStrength,
		Reason:           del.Reason,
	})
	return nil
}

func (f *fakeBackend) InsightHistory(_ context.Context, id int64) ([]types.InsightRevision, error) {
	return f.revisions[id], nil
}

func (f *fakeBackend) CreateProposal(_ context.Context, p *types.Proposal) (*types.Proposal, error) {
	p.ID = uuid.New()
	p.Status = types.ProposalPending
	p.ProjectID = f.project
	f.proposals[p.ID] = p
	cp := *p
	return &cp, nil
}

func (f *fakeBackend) GetProposal(_ context.Context, id uuid.UUID) (*types.Proposal, error) {
	p, ok := f.proposals[id]
	if !ok {
		return nil, types.NotFoundf("proposal %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeBackend) ListProposals(_ context.Context, status types.ProposalStatus) ([]types.Proposal, error) {
	var out []types.Proposal
	for _, p := range f.proposals {
		if p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeBackend) claim(id uuid.UUID, to types.ProposalStatus, reviewer, notes string) (*types.Proposal, error) {
	p, ok := f.proposals[id]
	if !ok {
		return nil, types.NotFoundf("proposal %s not found", id)
	}
	if p.Status != types.ProposalPending {
		return nil, types.Conflictf("proposal %s already %s", id, p.Status)
	}
	p.Status = to
	p.Reviewer = reviewer
	p.ReviewNotes = notes
	cp := *p
	return &cp, nil
}

func (f *fakeBackend) ApproveProposal(ctx context.Context, id uuid.UUID, reviewer, notes string, newEmbedding []float32) (*types.Proposal, error) {
	p, err := f.claim(id, types.ProposalApproved, reviewer, notes)
	if err != nil {
		return nil, err
	}
	switch p.Action {
	case types.ProposeDeleteInsight:
		err = f.DeleteInsight(ctx, types.InsightDelete{
			InsightID: p.Payload.InsightID, Actor: p.ProposedBy, Reason: p.Payload.Reason})
	case types.ProposeUpdateInsight:
		_, err = f.UpdateInsight(ctx, types.InsightUpdate{
			InsightID:    p.Payload.InsightID,
			NewContent:   p.Payload.NewContent,
			NewEmbedding: newEmbedding,
			NewStrength:  p.Payload.NewStrength,
			Actor:        p.ProposedBy,
			Reason:       p.Payload.Reason,
		})
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *fakeBackend) RejectProposal(_ context.Context, id uuid.UUID, reviewer, notes string) (*types.Proposal, error) {
	return f.claim(id, types.ProposalRejected, reviewer, notes)
}

func newTestService(backend *fakeBackend) *Service {
	return NewService(backend, embedding.NewDeterministic(8), zap.NewNop())
}

func seedInsight(backend *fakeBackend, id int64, content string) {
	backend.insights[id] = &types.Insight{
		ID: id, Content: content, MemoryStrength: 0.5, ProjectID: backend.project}
}

func strPtr(s string) *string   { return &s }
func f64Ptr(v float64) *float64 { return &v }

func TestDeletePrivilegedAppliesImmediately(t *testing.T) {
	backend := newFakeBackend()
	seedInsight(backend, 1, "X")
	svc := newTestService(backend)

	out, err := svc.DeleteInsight(context.Background(), DeleteRequest{
		InsightID: 1, Actor: types.ActorIO, Reason: "obsolete"})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.True(t, backend.insights[1].IsDeleted)

	history, err := svc.InsightHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.RevisionDelete, history[0].Action)
	assert.Equal(t, types.ActorIO, history[0].Actor)
	assert.Equal(t, "obsolete", history[0].Reason)
}

func TestDoubleDeleteConflicts(t *testing.T) {
	backend := newFakeBackend()
	seedInsight(backend, 1, "X")
	svc := newTestService(backend)

	_, err := svc.DeleteInsight(context.Background(), DeleteRequest{
		InsightID: 1, Actor: types.ActorIO, Reason: "obsolete"})
	require.NoError(t, err)

	_, err = svc.DeleteInsight(context.Background(), DeleteRequest{
		InsightID: 1, Actor: types.ActorIO, Reason: "again"})
	require.Error(t, err)
	assert.Equal(t, types.KindConflict, types.KindOf(err))
	assert.Equal(t, 409, types.AsError(err).Code())
}

func TestDeleteNonPrivilegedDefersToProposal(t *testing.T) {
	backend := newFakeBackend()
	seedInsight(backend, 1, "X")
	svc := newTestService(backend)

	out, err := svc.DeleteInsight(context.Background(), DeleteRequest{
		InsightID: 1, Actor: types.ActorEthr, Reason: "clean-up"})
	require.NoError(t, err)

	assert.False(t, out.Applied)
	require.NotNil(t, out.Proposal)
	assert.Equal(t, types.ProposalPending, out.Proposal.Status)
	assert.Equal(t, types.ProposeDeleteInsight, out.Proposal.Action)
	assert.False(t, backend.insights[1].IsDeleted, "proposal must not delete")
	assert.Equal(t, 0, backend.deleteCalls)
	require.NotNil(t, out.Proposal.OriginalState)
	assert.Equal(t, "X", out.Proposal.OriginalState.Content)
}

func TestApproveExecutesExactlyOnce(t *testing.T) {
	backend := newFakeBackend()
	seedInsight(backend, 1, "X")
	svc := newTestService(backend)

	out, err := svc.DeleteInsight(context.Background(), DeleteRequest{
		InsightID: 1, Actor: types.ActorEthr, Reason: "clean-up"})
	require.NoError(t, err)

	review := ReviewRequest{
		ProposalID: out.Proposal.ID.String(),
		Decision:   DecisionApprove,
		Reviewer:   types.ActorIO,
	}
	settled, err := svc.ReviewProposal(context.Background(), review)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalApproved, settled.Status)
	assert.True(t, backend.insights[1].IsDeleted)
	assert.Equal(t, 1, backend.deleteCalls)

	// A retry conflicts and must not run the mutation again.
	_, err = svc.ReviewProposal(context.Background(), review)
	require.Error(t, err)
	assert.Equal(t, types.KindConflict, types.KindOf(err))
	assert.Equal(t, 1, backend.deleteCalls)
}

func TestRejectLeavesTargetIntact(t *testing.T) {
	backend := newFakeBackend()
	seedInsight(backend, 1, "X")
	svc := newTestService(backend)

	out, err := svc.DeleteInsight(context.Background(), DeleteRequest{
		InsightID: 1, Actor: types.ActorEthr, Reason: "clean-up"})
	require.NoError(t, err)

	settled, err := svc.ReviewProposal(context.Background(), ReviewRequest{
		ProposalID: out.Proposal.ID.String(),
		Decision:   DecisionReject,
		Reviewer:   types.ActorIO,
		Notes:      "still needed",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ProposalRejected, settled.Status)
	assert.False(t, backend.insights[1].IsDeleted)
	assert.Equal(t, 0, backend.deleteCalls)
}

func TestReviewRequiresPrivilegedReviewer(t *testing.T) {
	backend := newFakeBackend()
	seedInsight(backend, 1, "X")
	svc := newTestService(backend)

	out, err := svc.DeleteInsight(context.Background(), DeleteRequest{
		InsightID: 1, Actor: types.ActorEthr, Reason: "clean-up"})
	require.NoError(t, err)

	_, err = svc.ReviewProposal(context.Background(), ReviewRequest{
		ProposalID: out.Proposal.ID.String(),
		Decision:   DecisionApprove,
		Reviewer:   types.ActorEthr,
	})
	require.Error(t, err)
	assert.Equal(t, types.KindConflict, types.KindOf(err))
}

func TestUpdateValidationCollectsAllIssues(t *testing.T) {
	svc := newTestService(newFakeBackend())

	_, err := svc.UpdateInsight(context.Background(), UpdateRequest{
		InsightID:   0,
		Actor:       "nobody",
		Reason:      "",
		NewStrength: f64Ptr(1.5),
	})
	require.Error(t, err)

	structured := types.AsError(err)
	assert.Equal(t, types.KindValidation, structured.Kind)
	assert.Len(t, structured.Fields, 4)
	assert.Equal(t, 400, structured.Code())
}

func TestUpdateMissingInsightIs404(t *testing.T) {
	svc := newTestService(newFakeBackend())

	_, err := svc.UpdateInsight(context.Background(), UpdateRequest{
		InsightID: 42, Actor: types.ActorIO, Reason: "tune",
		NewStrength: f64Ptr(0.9),
	})
	require.Error(t, err)
	assert.Equal(t, 404, types.AsError(err).Code())
}

func TestUpdatePrivilegedReembedsContent(t *testing.T) {
	backend := newFakeBackend()
	seedInsight(backend, 1, "old text")
	svc := newTestService(backend)

	out, err := svc.UpdateInsight(context.Background(), UpdateRequest{
		InsightID:  1,
		NewContent: strPtr("new text"),
		Actor:      types.ActorIO,
		Reason:     "correction",
	})
	require.NoError(t, err)

	assert.True(t, out.Applied)
	assert.Equal(t, "new text", backend.insights[1].Content)
	assert.NotEmpty(t, backend.insights[1].Embedding)
}

func TestUpdateNonPrivilegedDefersAndChangesNothing(t *testing.T) {
	backend := newFakeBackend()
	seedInsight(backend, 1, "old text")
	svc := newTestService(backend)

	out, err := svc.UpdateInsight(context.Background(), UpdateRequest{
		InsightID:  1,
		NewContent: strPtr("proposed text"),
		Actor:      types.ActorEthr,
		Reason:     "suggestion",
	})
	require.NoError(t, err)

	assert.False(t, out.Applied)
	assert.Equal(t, "old text", backend.insights[1].Content)
	assert.Equal(t, 0, backend.updateCalls)

	// Approving applies the proposed content with a fresh embedding.
	_, err = svc.ReviewProposal(context.Background(), ReviewRequest{
		ProposalID: out.Proposal.ID.String(),
		Decision:   DecisionApprove,
		Reviewer:   types.ActorIO,
	})
	require.NoError(t, err)
	assert.Equal(t, "proposed text", backend.insights[1].Content)
	assert.NotEmpty(t, backend.insights[1].Embedding)
	assert.Equal(t, 1, backend.updateCalls)
}

func TestMutationsRequireCurrentProject(t *testing.T) {
	backend := newFakeBackend()
	backend.project = ""
	seedInsight(backend, 1, "X")
	svc := newTestService(backend)

	_, err := svc.DeleteInsight(context.Background(), DeleteRequest{
		InsightID: 1, Actor: types.ActorIO, Reason: "obsolete"})
	require.Error(t, err)
	assert.Equal(t, types.KindPrecondition, types.KindOf(err))
}

func TestHistoryOfMissingInsightIs404(t *testing.T) {
	svc := newTestService(newFakeBackend())

	_, err := svc.InsightHistory(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, 404, types.AsError(err).Code())
}

func TestListProposalsDefaultsToPending(t *testing.T) {
	backend := newFakeBackend()
	seedInsight(backend, 1, "X")
	svc := newTestService(backend)

	_, err := svc.DeleteInsight(context.Background(), DeleteRequest{
		InsightID: 1, Actor: types.ActorEthr, Reason: "clean-up"})
	require.NoError(t, err)

	pending, err := svc.ListProposals(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = svc.ListProposals(context.Background(), "weird")
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}
