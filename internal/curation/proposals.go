package curation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mnemo/internal/access"
	"mnemo/internal/types"
)

// propose records a pending proposal with a snapshot of the target's
// current state. The precondition checks mirror the immediate path so a
// proposal can only be opened against a mutable target.
func (s *Service) propose(ctx context.Context, action types.ProposedAction, insightID int64, payload types.ProposalPayload, actor types.Actor) (*Outcome, error) {
	original, err := s.backend.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if original.IsDeleted {
		if action == types.ProposeDeleteInsight {
			return nil, types.Conflictf("insight %d is already deleted", insightID)
		}
		return nil, types.NotFoundf("insight %d is deleted", insightID)
	}

	created, err := s.backend.CreateProposal(ctx, &types.Proposal{
		Action:        action,
		Payload:       payload,
		OriginalState: original,
		ProposedBy:    actor,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("proposal recorded, awaiting consent",
		zap.String("proposal_id", created.ID.String()),
		zap.String("action", string(action)),
		zap.Int64("insight_id", insightID))
	return &Outcome{Applied: false, Proposal: created}, nil
}

// ReviewDecision is the reviewer's verdict on a pending proposal.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
)

// ReviewRequest carries one review invocation.
type ReviewRequest struct {
	ProposalID string
	Decision   ReviewDecision
	Reviewer   types.Actor
	Notes      string
}

// ReviewProposal settles a pending proposal. Only a privileged reviewer
// may decide. Approval executes the deferred mutation atomically with
// the status change; the adapter's status-guarded claim makes the
// execution at-most-once under retries. Rejection leaves the target
// intact. Both outcomes are terminal.
func (s *Service) ReviewProposal(ctx context.Context, req ReviewRequest) (*types.Proposal, error) {
	var fields []types.FieldError
	id, err := uuid.Parse(req.ProposalID)
	if err != nil {
		fields = append(fields, types.FieldError{
			Field: "proposal_id", Message: "proposal_id must be a UUID"})
	}
	if req.Decision != DecisionApprove && req.Decision != DecisionReject {
		fields = append(fields, types.FieldError{
			Field: "decision", Message: fmt.Sprintf("decision must be %q or %q", DecisionApprove, DecisionReject)})
	}
	if !req.Reviewer.Valid() {
		fields = append(fields, types.FieldError{
			Field: "reviewer", Message: fmt.Sprintf("reviewer must be %q or %q", types.ActorIO, types.ActorEthr)})
	}
	if len(fields) > 0 {
		return nil, types.NewValidation(fields...)
	}
	if !req.Reviewer.Privileged() {
		return nil, types.Conflictf("only a privileged reviewer may settle proposals")
	}
	if err := access.RequireProject(s.backend.Project()); err != nil {
		return nil, err
	}

	var settled *types.Proposal
	if req.Decision == DecisionApprove {
		// Content updates need a fresh embedding; compute it before any
		// transaction opens so no connection is held across provider
		// I/O. A concurrent claim just wastes this embed.
		var newEmbedding []float32
		pending, getErr := s.backend.GetProposal(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if pending.Action == types.ProposeUpdateInsight && pending.Payload.NewContent != nil {
			newEmbedding, err = s.engine.Embed(ctx, *pending.Payload.NewContent)
			if err != nil {
				return nil, fmt.Errorf("re-embedding proposed content: %w", err)
			}
		}
		settled, err = s.backend.ApproveProposal(ctx, id, string(req.Reviewer), req.Notes, newEmbedding)
	} else {
		settled, err = s.backend.RejectProposal(ctx, id, string(req.Reviewer), req.Notes)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("proposal settled",
		zap.String("proposal_id", settled.ID.String()),
		zap.String("decision", string(req.Decision)))
	return settled, nil
}

// ListProposals returns proposals of the given status, defaulting to
// pending.
func (s *Service) ListProposals(ctx context.Context, status types.ProposalStatus) ([]types.Proposal, error) {
	if status == "" {
		status = types.ProposalPending
	}
	switch status {
	case types.ProposalPending, types.ProposalApproved, types.ProposalRejected:
	default:
		return nil, types.NewValidation(types.FieldError{
			Field: "status", Message: fmt.Sprintf("unknown proposal status %q", status)})
	}
	return s.backend.ListProposals(ctx, status)
}
