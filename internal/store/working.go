package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mnemo/internal/types"
)

// PutWorking upserts a working-memory slot for the current project and
// evicts least-recently-accessed rows beyond the capacity, in the same
// transaction. Eviction is scoped to the inserting project only.
func (s *Store) PutWorking(ctx context.Context, slot, content string, capacity int) (*types.WorkingEntry, error) {
	var stored types.WorkingEntry
	err := s.Transact(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO working_memories (slot, content, project_id)
			VALUES ($1, $2, current_setting('app.current_project', true))
			ON CONFLICT (project_id, slot) DO UPDATE SET
				content = EXCLUDED.content,
				last_accessed = now()
			RETURNING id, slot, content, project_id, created_at, last_accessed`,
			slot, content).
			Scan(&stored.ID, &stored.Slot, &stored.Content, &stored.ProjectID,
				&stored.CreatedAt, &stored.LastAccessed)
		if err != nil {
			if isPolicyViolation(err) {
				return types.Preconditionf("project_id", "write rejected by project policy")
			}
			return fmt.Errorf("storing working memory slot %q: %w", slot, err)
		}

		if capacity < 1 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			DELETE FROM working_memories
			WHERE project_id = current_setting('app.current_project', true)
			  AND id IN (
				SELECT id FROM working_memories
				WHERE project_id = current_setting('app.current_project', true)
				ORDER BY last_accessed DESC
				OFFSET $1)`, capacity)
		if err != nil {
			return fmt.Errorf("evicting working memory: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetWorking reads a slot and refreshes its access time.
func (s *Store) GetWorking(ctx context.Context, slot string) (*types.WorkingEntry, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var w types.WorkingEntry
	err = conn.QueryRow(ctx, `
		UPDATE working_memories SET last_accessed = now()
		WHERE project_id = current_setting('app.current_project', true) AND slot = $1
		RETURNING id, slot, content, project_id, created_at, last_accessed`, slot).
		Scan(&w.ID, &w.Slot, &w.Content, &w.ProjectID, &w.CreatedAt, &w.LastAccessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NotFoundf("working memory slot %q not found", slot)
	}
	if err != nil {
		return nil, fmt.Errorf("reading working memory slot %q: %w", slot, err)
	}
	return &w, nil
}

// ListWorking returns the current project's slots, most recently
// accessed first.
func (s *Store) ListWorking(ctx context.Context) ([]types.WorkingEntry, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id, slot, content, project_id, created_at, last_accessed
		FROM working_memories
		WHERE project_id = current_setting('app.current_project', true)
		ORDER BY last_accessed DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing working memory: %w", err)
	}
	defer rows.Close()

	var out []types.WorkingEntry
	for rows.Next() {
		var w types.WorkingEntry
		if err := rows.Scan(&w.ID, &w.Slot, &w.Content, &w.ProjectID,
			&w.CreatedAt, &w.LastAccessed); err != nil {
			return nil, fmt.Errorf("scanning working memory: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
