package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mnemo/internal/types"
)

// CreateProject registers a project. Access level defaults to isolated
// when empty; an unknown level is a validation error.
func (s *Store) CreateProject(ctx context.Context, id, name string, level types.AccessLevel) (*types.Project, error) {
	if level == "" {
		level = types.AccessIsolated
	}
	if !level.Valid() {
		return nil, types.NewValidation(types.FieldError{
			Field: "access_level", Message: fmt.Sprintf("unknown access level %q", level)})
	}

	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var p types.Project
	err = conn.QueryRow(ctx, `
		INSERT INTO projects (project_id, name, access_level)
		VALUES ($1, $2, $3)
		RETURNING project_id, name, access_level, created_at, updated_at`,
		id, name, level).
		Scan(&p.ID, &p.Name, &p.AccessLevel, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.Conflictf("project %s already exists", id)
		}
		return nil, fmt.Errorf("creating project %s: %w", id, err)
	}
	return &p, nil
}

// GetProject returns the project row, or a not-found error.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var p types.Project
	err = conn.QueryRow(ctx, `
		SELECT project_id, name, access_level, created_at, updated_at
		FROM projects WHERE project_id = $1`, id).
		Scan(&p.ID, &p.Name, &p.AccessLevel, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NotFoundf("project %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading project %s: %w", id, err)
	}
	return &p, nil
}

// ListProjects returns every registered project ordered by id.
func (s *Store) ListProjects(ctx context.Context) ([]types.Project, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT project_id, name, access_level, created_at, updated_at
		FROM projects ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []types.Project
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.AccessLevel, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListProjectIDs returns every registered project id.
func (s *Store) ListProjectIDs(ctx context.Context) ([]string, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT project_id FROM projects ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("listing project ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GrantRead records a one-directional read grant. Self-grants are
// implicit and rejected here.
func (s *Store) GrantRead(ctx context.Context, reader, target string) error {
	if reader == target {
		return types.NewValidation(types.FieldError{
			Field: "target_project_id", Message: "self-grants are implicit"})
	}

	conn, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
		INSERT INTO project_read_grants (reader_project_id, target_project_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, reader, target)
	if err != nil {
		return fmt.Errorf("granting read %s -> %s: %w", reader, target, err)
	}
	return nil
}

// ReadGrantTargets returns the target project ids the reader was granted.
func (s *Store) ReadGrantTargets(ctx context.Context, reader string) ([]string, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT target_project_id FROM project_read_grants
		WHERE reader_project_id = $1 ORDER BY target_project_id`, reader)
	if err != nil {
		return nil, fmt.Errorf("listing grants for %s: %w", reader, err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// Statuses returns the rollout status rows for the given projects.
// Projects with no row are absent from the result.
func (s *Store) Statuses(ctx context.Context, projectIDs []string) ([]types.RLSStatus, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}

	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT project_id, phase, enabled, updated_at
		FROM rls_status WHERE project_id = ANY ($1)`, projectIDs)
	if err != nil {
		return nil, fmt.Errorf("reading rls status: %w", err)
	}
	defer rows.Close()

	var out []types.RLSStatus
	for rows.Next() {
		var st types.RLSStatus
		if err := rows.Scan(&st.ProjectID, &st.Phase, &st.Enabled, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning rls status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SetPhase moves a project to a rollout phase, creating the status row
// when absent.
func (s *Store) SetPhase(ctx context.Context, projectID string, phase types.RLSPhase) error {
	if !phase.Valid() {
		return types.NewValidation(types.FieldError{
			Field: "phase", Message: fmt.Sprintf("unknown phase %q", phase)})
	}

	conn, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
		INSERT INTO rls_status (project_id, phase, enabled, updated_at)
		VALUES ($1, $2, true, now())
		ON CONFLICT (project_id)
		DO UPDATE SET phase = EXCLUDED.phase, enabled = true, updated_at = now()`,
		projectID, phase)
	if err != nil {
		return fmt.Errorf("setting phase for %s: %w", projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.NotFoundf("project %s not found", projectID)
	}
	return nil
}
