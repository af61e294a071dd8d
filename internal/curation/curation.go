// Package curation owns the insight lifecycle after ingestion: updates
// and soft deletes with append-only revision history, and the bilateral
// consent workflow that defers destructive mutations initiated by
// non-privileged actors until a privileged reviewer approves them.
package curation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mnemo/internal/access"
	"mnemo/internal/embedding"
	"mnemo/internal/types"
)

// Backend is the slice of the storage adapter the service needs. The
// adapter guarantees that every mutation commits atomically with its
// revision row, and that proposal approval executes the deferred
// mutation at most once.
type Backend interface {
	Project() string

	GetInsight(ctx context.Context, id int64) (*types.Insight, error)
	UpdateInsight(ctx context.Context, upd types.InsightUpdate) (*types.Insight, error)
	DeleteInsight(ctx context.Context, del types.InsightDelete) error
	InsightHistory(ctx context.Context, insightID int64) ([]types.InsightRevision, error)

	CreateProposal(ctx context.Context, p *types.Proposal) (*types.Proposal, error)
	GetProposal(ctx context.Context, id uuid.UUID) (*types.Proposal, error)
	ListProposals(ctx context.Context, status types.ProposalStatus) ([]types.Proposal, error)
	ApproveProposal(ctx context.Context, id uuid.UUID, reviewer, notes string, newEmbedding []float32) (*types.Proposal, error)
	RejectProposal(ctx context.Context, id uuid.UUID, reviewer, notes string) (*types.Proposal, error)
}

// Service validates curation requests and routes them either to an
// immediate mutation (privileged actor) or into the consent workflow.
type Service struct {
	backend Backend
	engine  embedding.Engine
	logger  *zap.Logger
}

// NewService wires the curation service.
func NewService(backend Backend, engine embedding.Engine, logger *zap.Logger) *Service {
	return &Service{backend: backend, engine: engine, logger: logger}
}

// UpdateRequest is one validated-or-rejected update invocation.
type UpdateRequest struct {
	InsightID   int64
	NewContent  *string
	NewStrength *float64
	Actor       types.Actor
	Reason      string
}

// DeleteRequest is one soft-delete invocation.
type DeleteRequest struct {
	InsightID int64
	Actor     types.Actor
	Reason    string
}

// Outcome reports what a curation call did: either the mutation was
// applied (Insight set for updates) or it was deferred into a pending
// proposal awaiting bilateral consent.
type Outcome struct {
	Applied  bool            `json:"applied"`
	Insight  *types.Insight  `json:"insight,omitempty"`
	Proposal *types.Proposal `json:"proposal,omitempty"`
}

// UpdateInsight updates content and/or memory strength. Privileged
// actors mutate immediately; non-privileged actors record a pending
// proposal and nothing changes until review. Content changes are
// re-embedded before any transaction opens so no connection is held
// across provider I/O.
func (s *Service) UpdateInsight(ctx context.Context, req UpdateRequest) (*Outcome, error) {
	var fields []types.FieldError
	fields = validateCommon(fields, req.InsightID, req.Actor, req.Reason)
	if req.NewContent == nil && req.NewStrength == nil {
		fields = append(fields, types.FieldError{
			Field: "content", Message: "nothing to update: provide content or memory_strength"})
	}
	if req.NewContent != nil && *req.NewContent == "" {
		fields = append(fields, types.FieldError{
			Field: "content", Message: "content must not be empty"})
	}
	if req.NewStrength != nil && (*req.NewStrength < 0 || *req.NewStrength > 1) {
		fields = append(fields, types.FieldError{
			Field: "memory_strength", Message: "memory_strength must be within [0,1]"})
	}
	if len(fields) > 0 {
		return nil, types.NewValidation(fields...)
	}
	if err := access.RequireProject(s.backend.Project()); err != nil {
		return nil, err
	}

	if !req.Actor.Privileged() {
		return s.propose(ctx, types.ProposeUpdateInsight, req.InsightID, types.ProposalPayload{
			InsightID:   req.InsightID,
			NewContent:  req.NewContent,
			NewStrength: req.NewStrength,
			Reason:      req.Reason,
		}, req.Actor)
	}

	upd := types.InsightUpdate{
		InsightID:   req.InsightID,
		NewContent:  req.NewContent,
		NewStrength: req.NewStrength,
		Actor:       req.Actor,
		Reason:      req.Reason,
	}
	if req.NewContent != nil {
		vec, err := s.engine.Embed(ctx, *req.NewContent)
		if err != nil {
			return nil, fmt.Errorf("re-embedding updated content: %w", err)
		}
		upd.NewEmbedding = vec
	}

	updated, err := s.backend.UpdateInsight(ctx, upd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("insight updated",
		zap.Int64("insight_id", req.InsightID),
		zap.String("actor", string(req.Actor)))
	return &Outcome{Applied: true, Insight: updated}, nil
}

// DeleteInsight soft-deletes an insight, preserving its history. A
// second delete is a conflict. Non-privileged actors get a pending
// proposal instead of a deletion.
func (s *Service) DeleteInsight(ctx context.Context, req DeleteRequest) (*Outcome, error) {
	var fields []types.FieldError
	fields = validateCommon(fields, req.InsightID, req.Actor, req.Reason)
	if len(fields) > 0 {
		return nil, types.NewValidation(fields...)
	}
	if err := access.RequireProject(s.backend.Project()); err != nil {
		return nil, err
	}

	if !req.Actor.Privileged() {
		return s.propose(ctx, types.ProposeDeleteInsight, req.InsightID, types.ProposalPayload{
			InsightID: req.InsightID,
			Reason:    req.Reason,
		}, req.Actor)
	}

	err := s.backend.DeleteInsight(ctx, types.InsightDelete{
		InsightID: req.InsightID,
		Actor:     req.Actor,
		Reason:    req.Reason,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("insight deleted",
		zap.Int64("insight_id", req.InsightID),
		zap.String("actor", string(req.Actor)))
	return &Outcome{Applied: true}, nil
}

// InsightHistory returns the revision rows ascending by version.
func (s *Service) InsightHistory(ctx context.Context, insightID int64) ([]types.InsightRevision, error) {
	if insightID <= 0 {
		return nil, types.NewValidation(types.FieldError{
			Field: "insight_id", Message: "insight_id must be a positive integer"})
	}

	// Distinguish "no revisions yet" from "no such insight".
	if _, err := s.backend.GetInsight(ctx, insightID); err != nil {
		return nil, err
	}
	return s.backend.InsightHistory(ctx, insightID)
}

func validateCommon(fields []types.FieldError, id int64, actor types.Actor, reason string) []types.FieldError {
	if id <= 0 {
		fields = append(fields, types.FieldError{
			Field: "insight_id", Message: "insight_id must be a positive integer"})
	}
	if !actor.Valid() {
		fields = append(fields, types.FieldError{
			Field: "actor", Message: fmt.Sprintf("actor must be %q or %q", types.ActorIO, types.ActorEthr)})
	}
	if reason == "" {
		fields = append(fields, types.FieldError{
			Field: "reason", Message: "reason is required"})
	}
	return fields
}
