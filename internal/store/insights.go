package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"mnemo/internal/types"
)

const insightColumns = `id, content, source_ids, metadata, tags, memory_strength,
	is_deleted, deleted_at, coalesce(deleted_by, ''), coalesce(deleted_reason, ''),
	project_id, created_at, updated_at`

func scanInsight(row pgx.Row) (*types.Insight, error) {
	var in types.Insight
	err := row.Scan(&in.ID, &in.Content, &in.SourceIDs, &in.Metadata, &in.Tags,
		&in.MemoryStrength, &in.IsDeleted, &in.DeletedAt, &in.DeletedBy,
		&in.DeletedReason, &in.ProjectID, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// InsertInsight stores a new insight in the session's current project.
// The caller embeds the content before calling; no connection is held
// across provider I/O.
func (s *Store) InsertInsight(ctx context.Context, in *types.Insight) (*types.Insight, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	in.MemoryStrength = types.ClampStrength(in.MemoryStrength)
	if in.Metadata == nil {
		in.Metadata = map[string]interface{}{}
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	if in.SourceIDs == nil {
		in.SourceIDs = []int64{}
	}

	row := conn.QueryRow(ctx, `
		INSERT INTO insights (content, embedding, source_ids, metadata, tags,
			memory_strength, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, current_setting('app.current_project', true))
		RETURNING `+insightColumns,
		in.Content, pgvector.NewVector(in.Embedding), in.SourceIDs,
		in.Metadata, in.Tags, in.MemoryStrength)

	stored, err := scanInsight(row)
	if err != nil {
		if isPolicyViolation(err) {
			return nil, types.Preconditionf("project_id", "write rejected by project policy")
		}
		return nil, fmt.Errorf("inserting insight: %w", err)
	}
	return stored, nil
}

// GetInsight returns the insight, soft-deleted or not. Callers that must
// exclude deleted rows check IsDeleted themselves; search always does.
func (s *Store) GetInsight(ctx context.Context, id int64) (*types.Insight, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	return s.getInsight(ctx, conn, id, false)
}

func (s *Store) getInsight(ctx context.Context, q Querier, id int64, forUpdate bool) (*types.Insight, error) {
	sql := `SELECT ` + insightColumns + ` FROM insights WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	in, err := scanInsight(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NotFoundf("insight %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading insight %d: %w", id, err)
	}
	return in, nil
}

// UpdateInsight applies a content and/or strength update and appends the
// revision row in the same transaction. The row lock on the insight
// serialises concurrent revisions. Returns the updated row.
func (s *Store) UpdateInsight(ctx context.Context, upd types.InsightUpdate) (*types.Insight, error) {
	var updated *types.Insight
	err := s.Transact(ctx, func(tx pgx.Tx) error {
		var err error
		updated, err = s.applyUpdate(ctx, tx, upd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) applyUpdate(ctx context.Context, tx pgx.Tx, upd types.InsightUpdate) (*types.Insight, error) {
	current, err := s.getInsight(ctx, tx, upd.InsightID, true)
	if err != nil {
		return nil, err
	}
	if current.IsDeleted {
		return nil, types.NotFoundf("insight %d is deleted", upd.InsightID)
	}

	newContent := current.Content
	if upd.NewContent != nil {
		newContent = *upd.NewContent
	}
	newStrength := current.MemoryStrength
	if upd.NewStrength != nil {
		newStrength = types.ClampStrength(*upd.NewStrength)
	}

	var setEmbedding interface{}
	if upd.NewContent != nil && len(upd.NewEmbedding) > 0 {
		setEmbedding = pgvector.NewVector(upd.NewEmbedding)
	}

	row := tx.QueryRow(ctx, `
		UPDATE insights SET
			content = $2,
			embedding = COALESCE($3, embedding),
			memory_strength = $4,
			updated_at = now()
		WHERE id = $1
		RETURNING `+insightColumns,
		upd.InsightID, newContent, setEmbedding, newStrength)
	updated, err := scanInsight(row)
	if err != nil {
		return nil, fmt.Errorf("updating insight %d: %w", upd.InsightID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO insight_revisions (insight_id, version_id, action, actor,
			previous_content, new_content, previous_strength, new_strength,
			reason, project_id)
		VALUES ($1, 0, 'UPDATE', $2, $3, $4, $5, $6, $7, $8)`,
		upd.InsightID, upd.Actor, current.Content, newContent,
		current.MemoryStrength, newStrength, upd.Reason, current.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("writing revision for insight %d: %w", upd.InsightID, err)
	}
	return updated, nil
}

// DeleteInsight soft-deletes an insight, appending the DELETE revision in
// the same transaction. A second delete is a conflict; history survives.
func (s *Store) DeleteInsight(ctx context.Context, del types.InsightDelete) error {
	return s.Transact(ctx, func(tx pgx.Tx) error {
		return s.applyDelete(ctx, tx, del)
	})
}

func (s *Store) applyDelete(ctx context.Context, tx pgx.Tx, del types.InsightDelete) error {
	current, err := s.getInsight(ctx, tx, del.InsightID, true)
	if err != nil {
		return err
	}
	if current.IsDeleted {
		return types.Conflictf("insight %d is already deleted", del.InsightID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE insights SET
			is_deleted = true,
			deleted_at = now(),
			deleted_by = $2,
			deleted_reason = $3,
			updated_at = now()
		WHERE id = $1`,
		del.InsightID, string(del.Actor), del.Reason)
	if err != nil {
		return fmt.Errorf("deleting insight %d: %w", del.InsightID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO insight_revisions (insight_id, version_id, action, actor,
			previous_content, previous_strength, reason, project_id)
		VALUES ($1, 0, 'DELETE', $2, $3, $4, $5, $6)`,
		del.InsightID, del.Actor, current.Content, current.MemoryStrength,
		del.Reason, current.ProjectID)
	if err != nil {
		return fmt.Errorf("writing delete revision for insight %d: %w", del.InsightID, err)
	}
	return nil
}

// InsightHistory returns the revision rows ascending by version.
func (s *Store) InsightHistory(ctx context.Context, insightID int64) ([]types.InsightRevision, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT insight_id, version_id, action, actor, previous_content,
			new_content, previous_strength, new_strength, reason, project_id,
			created_at
		FROM insight_revisions
		WHERE insight_id = $1
		ORDER BY version_id ASC`, insightID)
	if err != nil {
		return nil, fmt.Errorf("reading history for insight %d: %w", insightID, err)
	}
	defer rows.Close()

	var out []types.InsightRevision
	for rows.Next() {
		var r types.InsightRevision
		if err := rows.Scan(&r.InsightID, &r.VersionID, &r.Action, &r.Actor,
			&r.PreviousContent, &r.NewContent, &r.PreviousStrength,
			&r.NewStrength, &r.Reason, &r.ProjectID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning revision: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
