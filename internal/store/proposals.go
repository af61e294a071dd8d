package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mnemo/internal/types"
)

const proposalColumns = `id, proposed_action, payload, original_state, status,
	proposed_by, coalesce(reviewer, ''), coalesce(review_notes, ''), project_id,
	created_at, reviewed_at`

func scanProposal(row pgx.Row) (*types.Proposal, error) {
	var p types.Proposal
	err := row.Scan(&p.ID, &p.Action, &p.Payload, &p.OriginalState, &p.Status,
		&p.ProposedBy, &p.Reviewer, &p.ReviewNotes, &p.ProjectID,
		&p.CreatedAt, &p.ReviewedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProposal records a pending proposal with a snapshot of the
// target's original state. The deferred mutation does not run.
func (s *Store) CreateProposal(ctx context.Context, p *types.Proposal) (*types.Proposal, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	row := conn.QueryRow(ctx, `
		INSERT INTO proposals (id, proposed_action, payload, original_state,
			status, proposed_by, project_id)
		VALUES ($1, $2, $3, $4, 'pending', $5, current_setting('app.current_project', true))
		RETURNING `+proposalColumns,
		p.ID, p.Action, p.Payload, p.OriginalState, p.ProposedBy)

	stored, err := scanProposal(row)
	if err != nil {
		if isPolicyViolation(err) {
			return nil, types.Preconditionf("project_id", "write rejected by project policy")
		}
		return nil, fmt.Errorf("creating proposal: %w", err)
	}
	return stored, nil
}

// GetProposal returns one proposal by id.
func (s *Store) GetProposal(ctx context.Context, id uuid.UUID) (*types.Proposal, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	p, err := scanProposal(conn.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NotFoundf("proposal %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading proposal %s: %w", id, err)
	}
	return p, nil
}

// ListProposals returns proposals of the given status, oldest first.
func (s *Store) ListProposals(ctx context.Context, status types.ProposalStatus) ([]types.Proposal, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT `+proposalColumns+` FROM proposals
		WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("listing proposals: %w", err)
	}
	defer rows.Close()

	var out []types.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning proposal: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ApproveProposal claims the pending proposal and executes its deferred
// mutation in the same transaction. The status-guarded UPDATE is the
// at-most-once gate: a retry or a concurrent reviewer sees zero rows and
// gets a conflict, so the mutation can never run twice. newEmbedding is
// the re-embedded vector for content updates, computed by the caller
// before the transaction opens; nil otherwise.
func (s *Store) ApproveProposal(ctx context.Context, id uuid.UUID, reviewer, notes string, newEmbedding []float32) (*types.Proposal, error) {
	var approved *types.Proposal
	err := s.Transact(ctx, func(tx pgx.Tx) error {
		p, err := s.claimProposal(ctx, tx, id, types.ProposalApproved, reviewer, notes)
		if err != nil {
			return err
		}

		switch p.Action {
		case types.ProposeDeleteInsight:
			err = s.applyDelete(ctx, tx, types.InsightDelete{
				InsightID: p.Payload.InsightID,
				Actor:     p.ProposedBy,
				Reason:    p.Payload.Reason,
			})
		case types.ProposeUpdateInsight:
			_, err = s.applyUpdate(ctx, tx, types.InsightUpdate{
				InsightID:    p.Payload.InsightID,
				NewContent:   p.Payload.NewContent,
				NewEmbedding: newEmbedding,
				NewStrength:  p.Payload.NewStrength,
				Actor:        p.ProposedBy,
				Reason:       p.Payload.Reason,
			})
		default:
			return types.Fatalf(nil, "proposal %s has unknown action %q", id, p.Action)
		}
		if err != nil {
			return err
		}

		approved = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// RejectProposal flips a pending proposal to rejected. No mutation runs.
func (s *Store) RejectProposal(ctx context.Context, id uuid.UUID, reviewer, notes string) (*types.Proposal, error) {
	var rejected *types.Proposal
	err := s.Transact(ctx, func(tx pgx.Tx) error {
		p, err := s.claimProposal(ctx, tx, id, types.ProposalRejected, reviewer, notes)
		if err != nil {
			return err
		}
		rejected = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

func (s *Store) claimProposal(ctx context.Context, tx pgx.Tx, id uuid.UUID, to types.ProposalStatus, reviewer, notes string) (*types.Proposal, error) {
	row := tx.QueryRow(ctx, `
		UPDATE proposals SET
			status = $2, reviewer = $3, review_notes = $4, reviewed_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+proposalColumns,
		id, to, reviewer, notes)

	p, err := scanProposal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the proposal does not exist or it was already reviewed.
		existing, getErr := s.getProposalTx(ctx, tx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, types.Conflictf("proposal %s already %s by %s at %s",
			id, existing.Status, existing.Reviewer, formatReviewTime(existing.ReviewedAt))
	}
	if err != nil {
		return nil, fmt.Errorf("claiming proposal %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) getProposalTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*types.Proposal, error) {
	p, err := scanProposal(tx.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NotFoundf("proposal %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading proposal %s: %w", id, err)
	}
	return p, nil
}

func formatReviewTime(t *time.Time) string {
	if t == nil {
		return "unknown time"
	}
	return t.Format(time.RFC3339)
}
