package store

import (
	"context"
	"fmt"

	"mnemo/internal/types"
)

// AddFeedback appends one feedback event. Submission never triggers
// score recomputation; the re-scorer aggregates lazily at query time.
func (s *Store) AddFeedback(ctx context.Context, fb *types.Feedback) (*types.Feedback, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var stored types.Feedback
	err = conn.QueryRow(ctx, `
		INSERT INTO insight_feedback (insight_id, feedback_type, context, project_id)
		VALUES ($1, $2, $3, current_setting('app.current_project', true))
		RETURNING id, insight_id, feedback_type, context, project_id, created_at`,
		fb.InsightID, fb.Type, fb.Context).
		Scan(&stored.ID, &stored.InsightID, &stored.Type, &stored.Context,
			&stored.ProjectID, &stored.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, types.NotFoundf("insight %d not found", fb.InsightID)
		}
		if isCheckViolation(err) {
			return nil, types.NewValidation(types.FieldError{
				Field:   "feedback_type",
				Message: fmt.Sprintf("unknown feedback type %q", fb.Type)})
		}
		if isPolicyViolation(err) {
			return nil, types.Preconditionf("project_id", "write rejected by project policy")
		}
		return nil, fmt.Errorf("recording feedback: %w", err)
	}
	return &stored, nil
}

// FeedbackCounts aggregates feedback for the given insights in one
// grouped query. Insights with no feedback are absent from the map.
func (s *Store) FeedbackCounts(ctx context.Context, insightIDs []int64) (map[int64]types.FeedbackCounts, error) {
	if len(insightIDs) == 0 {
		return map[int64]types.FeedbackCounts{}, nil
	}

	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT insight_id,
			count(*) FILTER (WHERE feedback_type = 'helpful'),
			count(*) FILTER (WHERE feedback_type = 'not_relevant'),
			count(*) FILTER (WHERE feedback_type = 'not_now')
		FROM insight_feedback
		WHERE insight_id = ANY ($1)
		GROUP BY insight_id`, insightIDs)
	if err != nil {
		return nil, fmt.Errorf("aggregating feedback: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]types.FeedbackCounts)
	for rows.Next() {
		var id int64
		var c types.FeedbackCounts
		if err := rows.Scan(&id, &c.Helpful, &c.NotRelevant, &c.NotNow); err != nil {
			return nil, fmt.Errorf("scanning feedback counts: %w", err)
		}
		out[id] = c
	}
	return out, rows.Err()
}
