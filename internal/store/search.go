package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"mnemo/internal/types"
)

// insightFilterSQL appends the canonical filter clauses for insights to
// conds, returning the updated args. The project predicate itself lives
// in the row-level policies, not here.
func insightFilterSQL(f types.Filters, conds []string, args []any) ([]string, []any) {
	conds = append(conds, "is_deleted = false")
	if len(f.Tags) > 0 {
		args = append(args, f.Tags)
		conds = append(conds, fmt.Sprintf("tags && $%d", len(args)))
	}
	return dateFilterSQL(f, conds, args)
}

func dateFilterSQL(f types.Filters, conds []string, args []any) ([]string, []any) {
	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	return conds, args
}

// SearchInsightsVector returns the top-N insights by cosine similarity
// against the filtered candidate set. Ties break on higher strength,
// then newer created_at, then smaller id.
func (s *Store) SearchInsightsVector(ctx context.Context, embedding []float32, f types.Filters, limit int) ([]types.Candidate, error) {
	args := []any{pgvector.NewVector(embedding)}
	conds, args := insightFilterSQL(f, nil, args)

	sql := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS score, memory_strength, created_at,
			content, tags
		FROM insights
		WHERE embedding IS NOT NULL AND %s
		ORDER BY score DESC, memory_strength DESC, created_at DESC, id ASC
		LIMIT %d`, strings.Join(conds, " AND "), limit)

	return s.queryInsightCandidates(ctx, sql, args)
}

// SearchInsightsLexical returns the top-N insights by full-text rank over
// content and metadata, same filter and tie-break discipline.
func (s *Store) SearchInsightsLexical(ctx context.Context, query string, f types.Filters, limit int) ([]types.Candidate, error) {
	args := []any{query}
	conds, args := insightFilterSQL(f, nil, args)

	sql := fmt.Sprintf(`
		SELECT id,
			ts_rank(to_tsvector('english', content || ' ' || coalesce(metadata::text, '')),
				websearch_to_tsquery('english', $1)) AS score,
			memory_strength, created_at, content, tags
		FROM insights
		WHERE to_tsvector('english', content || ' ' || coalesce(metadata::text, ''))
			@@ websearch_to_tsquery('english', $1)
			AND %s
		ORDER BY score DESC, memory_strength DESC, created_at DESC, id ASC
		LIMIT %d`, strings.Join(conds, " AND "), limit)

	return s.queryInsightCandidates(ctx, sql, args)
}

func (s *Store) queryInsightCandidates(ctx context.Context, sql string, args []any) ([]types.Candidate, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching insights: %w", err)
	}
	defer rows.Close()

	var out []types.Candidate
	for rows.Next() {
		var c types.Candidate
		var content string
		var tags []string
		if err := rows.Scan(&c.ID, &c.Score, &c.MemoryStrength, &c.CreatedAt,
			&content, &tags); err != nil {
			return nil, fmt.Errorf("scanning insight candidate: %w", err)
		}
		c.SourceType = types.SourceInsight
		c.Payload = map[string]interface{}{"content": content, "tags": tags}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchEpisodesVector returns the top-N episode memories by cosine
// similarity. Episodes carry no tags or strength; the date filter and
// the created_at/id tie-break still apply.
func (s *Store) SearchEpisodesVector(ctx context.Context, embedding []float32, f types.Filters, limit int) ([]types.Candidate, error) {
	return s.searchPlainVector(ctx, "episode_memories", types.SourceEpisode, embedding, f, limit)
}

// SearchRawVector returns the top-N L0 raw entries by cosine similarity.
func (s *Store) SearchRawVector(ctx context.Context, embedding []float32, f types.Filters, limit int) ([]types.Candidate, error) {
	return s.searchPlainVector(ctx, "l0_raw", types.SourceRaw, embedding, f, limit)
}

func (s *Store) searchPlainVector(ctx context.Context, table string, source types.SourceType, embedding []float32, f types.Filters, limit int) ([]types.Candidate, error) {
	args := []any{pgvector.NewVector(embedding)}
	conds := []string{"embedding IS NOT NULL"}
	conds, args = dateFilterSQL(f, conds, args)

	sql := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS score, created_at, content
		FROM %s
		WHERE %s
		ORDER BY score DESC, created_at DESC, id ASC
		LIMIT %d`, table, strings.Join(conds, " AND "), limit)

	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", table, err)
	}
	defer rows.Close()

	var out []types.Candidate
	for rows.Next() {
		var c types.Candidate
		var content string
		if err := rows.Scan(&c.ID, &c.Score, &c.CreatedAt, &content); err != nil {
			return nil, fmt.Errorf("scanning %s candidate: %w", table, err)
		}
		c.SourceType = source
		c.Payload = map[string]interface{}{"content": content}
		out = append(out, c)
	}
	return out, rows.Err()
}
