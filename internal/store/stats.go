package store

import (
	"context"

	"go.uber.org/zap"

	"mnemo/internal/types"
)

// Stats counts every memory class in a single round-trip. Failures are
// surfaced as a generic database error so connection details never
// reach the caller.
func (s *Store) Stats(ctx context.Context) (*types.Stats, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var st types.Stats
	err = conn.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM insights WHERE NOT is_deleted),
			(SELECT count(*) FROM insights WHERE is_deleted),
			(SELECT count(*) FROM episode_memories),
			(SELECT count(*) FROM working_memories),
			(SELECT count(*) FROM l0_raw),
			(SELECT count(*) FROM graph_nodes),
			(SELECT count(*) FROM graph_edges),
			(SELECT count(*) FROM insight_feedback),
			(SELECT count(*) FROM proposals WHERE status = 'pending')`).
		Scan(&st.Insights, &st.DeletedInsights, &st.Episodes, &st.WorkingEntries,
			&st.RawEntries, &st.Nodes, &st.Edges, &st.FeedbackEvents,
			&st.PendingProposals)
	if err != nil {
		s.logger.Error("stats query failed", zap.Error(err))
		return nil, types.Fatalf(err, "database error")
	}
	return &st, nil
}
