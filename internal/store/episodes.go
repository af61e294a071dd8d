package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"mnemo/internal/types"
)

// InsertEpisode stores one turn of dialogue memory.
func (s *Store) InsertEpisode(ctx context.Context, ep *types.Episode) (*types.Episode, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if ep.Metadata == nil {
		ep.Metadata = map[string]interface{}{}
	}

	var stored types.Episode
	err = conn.QueryRow(ctx, `
		INSERT INTO episode_memories (content, embedding, role, session_id,
			metadata, project_id)
		VALUES ($1, $2, $3, $4, $5, current_setting('app.current_project', true))
		RETURNING id, content, role, session_id, metadata, project_id, created_at`,
		ep.Content, pgvector.NewVector(ep.Embedding), ep.Role, ep.SessionID, ep.Metadata).
		Scan(&stored.ID, &stored.Content, &stored.Role, &stored.SessionID,
			&stored.Metadata, &stored.ProjectID, &stored.CreatedAt)
	if err != nil {
		if isPolicyViolation(err) {
			return nil, types.Preconditionf("project_id", "write rejected by project policy")
		}
		return nil, fmt.Errorf("inserting episode: %w", err)
	}
	return &stored, nil
}

// InsertRaw stores an unprocessed L0 entry.
func (s *Store) InsertRaw(ctx context.Context, r *types.RawEntry) (*types.RawEntry, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if r.Metadata == nil {
		r.Metadata = map[string]interface{}{}
	}

	var stored types.RawEntry
	err = conn.QueryRow(ctx, `
		INSERT INTO l0_raw (content, embedding, source, metadata, project_id)
		VALUES ($1, $2, $3, $4, current_setting('app.current_project', true))
		RETURNING id, content, source, metadata, project_id, created_at`,
		r.Content, pgvector.NewVector(r.Embedding), r.Source, r.Metadata).
		Scan(&stored.ID, &stored.Content, &stored.Source, &stored.Metadata,
			&stored.ProjectID, &stored.CreatedAt)
	if err != nil {
		if isPolicyViolation(err) {
			return nil, types.Preconditionf("project_id", "write rejected by project policy")
		}
		return nil, fmt.Errorf("inserting raw entry: %w", err)
	}
	return &stored, nil
}
