package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// auditRetention caps rls_audit_log growth; the probe path prunes rows
// beyond the newest this many.
const auditRetention = 10000

// ShadowProbe counts the rows of a table that the enforcing predicate
// would hide from the given allowed set and, when any exist, appends an
// audit row. Called on sampled reads while a project is in shadow phase.
func (s *Store) ShadowProbe(ctx context.Context, currentProject string, allowed []string, table string) {
	// Only tables carrying a project_id column are probeable; the list is
	// closed so the identifier interpolation below is safe.
	switch table {
	case "insights", "episode_memories", "working_memories", "l0_raw",
		"graph_nodes", "graph_edges", "insight_feedback", "proposals":
	default:
		return
	}

	conn, err := s.Acquire(ctx)
	if err != nil {
		s.logger.Debug("shadow probe skipped", zap.Error(err))
		return
	}
	defer conn.Release()

	var blocked int64
	err = conn.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE NOT (project_id = ANY ($1))`, table), allowed).
		Scan(&blocked)
	if err != nil {
		s.logger.Debug("shadow probe failed", zap.String("table", table), zap.Error(err))
		return
	}
	if blocked == 0 {
		return
	}

	s.logger.Warn("shadow-mode access would be restricted",
		zap.String("current_project", currentProject),
		zap.String("table", table),
		zap.Int64("blocked_rows", blocked))

	_, err = conn.Exec(ctx, `
		INSERT INTO rls_audit_log (current_project, table_name, blocked_rows, query_kind)
		VALUES ($1, $2, $3, 'read')`, currentProject, table, blocked)
	if err != nil {
		s.logger.Debug("shadow audit insert failed", zap.Error(err))
		return
	}

	_, err = conn.Exec(ctx, `
		DELETE FROM rls_audit_log WHERE id IN (
			SELECT id FROM rls_audit_log ORDER BY id DESC OFFSET $1)`, auditRetention)
	if err != nil {
		s.logger.Debug("shadow audit prune failed", zap.Error(err))
	}
}

// AuditEntry is one shadow-mode would-be violation.
type AuditEntry struct {
	ID             int64  `json:"id"`
	OccurredAt     string `json:"occurred_at"`
	CurrentProject string `json:"current_project"`
	TableName      string `json:"table_name"`
	BlockedRows    int64  `json:"blocked_rows"`
	QueryKind      string `json:"query_kind"`
}

// ListAudit returns the newest shadow-mode audit entries.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id, occurred_at::text, current_project, table_name, blocked_rows, query_kind
		FROM rls_audit_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.CurrentProject,
			&e.TableName, &e.BlockedRows, &e.QueryKind); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
