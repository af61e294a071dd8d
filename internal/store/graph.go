package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"mnemo/internal/types"
)

// AddNode upserts a graph node by (project, name). Re-adding an existing
// name refreshes its type, sector, and properties.
func (s *Store) AddNode(ctx context.Context, n *types.Node) (*types.Node, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if n.Properties == nil {
		n.Properties = map[string]interface{}{}
	}

	var embedding interface{}
	if len(n.Embedding) > 0 {
		embedding = pgvector.NewVector(n.Embedding)
	}

	var stored types.Node
	err = conn.QueryRow(ctx, `
		INSERT INTO graph_nodes (name, node_type, properties, embedding,
			memory_sector, project_id)
		VALUES ($1, $2, $3, $4, $5, current_setting('app.current_project', true))
		ON CONFLICT (project_id, name) DO UPDATE SET
			node_type = EXCLUDED.node_type,
			properties = EXCLUDED.properties,
			embedding = COALESCE(EXCLUDED.embedding, graph_nodes.embedding),
			memory_sector = EXCLUDED.memory_sector,
			updated_at = now()
		RETURNING id, name, node_type, properties, memory_sector, project_id,
			created_at, updated_at`,
		n.Name, n.NodeType, n.Properties, embedding, n.MemorySector).
		Scan(&stored.ID, &stored.Name, &stored.NodeType, &stored.Properties,
			&stored.MemorySector, &stored.ProjectID, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		if isPolicyViolation(err) {
			return nil, types.Preconditionf("project_id", "write rejected by project policy")
		}
		return nil, fmt.Errorf("adding node %s: %w", n.Name, err)
	}
	return &stored, nil
}

// AddEdge connects two named nodes of the current project. Both endpoints
// must already exist; (source, target, relation) is upsert-unique.
func (s *Store) AddEdge(ctx context.Context, sourceName, targetName, relation, sector string, properties map[string]interface{}) (*types.Edge, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if properties == nil {
		properties = map[string]interface{}{}
	}

	var e types.Edge
	err = conn.QueryRow(ctx, `
		INSERT INTO graph_edges (source_id, target_id, relation, properties,
			memory_sector, project_id)
		SELECT src.id, dst.id, $3, $4, $5, current_setting('app.current_project', true)
		FROM graph_nodes src, graph_nodes dst
		WHERE src.name = $1 AND src.project_id = current_setting('app.current_project', true)
		  AND dst.name = $2 AND dst.project_id = current_setting('app.current_project', true)
		ON CONFLICT (source_id, target_id, relation) DO UPDATE SET
			properties = EXCLUDED.properties,
			memory_sector = EXCLUDED.memory_sector
		RETURNING id, source_id, target_id, relation, properties, memory_sector,
			project_id, created_at`,
		sourceName, targetName, relation, properties, sector).
		Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Properties,
			&e.MemorySector, &e.ProjectID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NotFoundf("edge endpoints %q -> %q not found in current project",
			sourceName, targetName)
	}
	if err != nil {
		if isPolicyViolation(err) {
			return nil, types.Preconditionf("project_id", "write rejected by project policy")
		}
		return nil, fmt.Errorf("adding edge %s -[%s]-> %s: %w", sourceName, relation, targetName, err)
	}
	return &e, nil
}

// MatchNodes returns the ids of the nodes nearest to the query embedding,
// used to seed graph expansion.
func (s *Store) MatchNodes(ctx context.Context, embedding []float32, limit int) ([]int64, error) {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id FROM graph_nodes
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("matching seed nodes: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning seed node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NodeIDsByName resolves node names to ids within the readable scope.
// Unknown names are skipped, not errors.
func (s *Store) NodeIDsByName(ctx context.Context, names []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}

	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT id FROM graph_nodes WHERE name = ANY ($1)`, names)
	if err != nil {
		return nil, fmt.Errorf("resolving node names: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpandGraph walks edges outward from the seed nodes, one batched query
// per depth level, honouring the sector filter. Returned candidates are
// edges; the score decays with depth so nearer edges rank first.
func (s *Store) ExpandGraph(ctx context.Context, seeds []int64, depth int, sector string) ([]types.Candidate, error) {
	if len(seeds) == 0 || depth < 1 {
		return nil, nil
	}

	conn, err := s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	visited := make(map[int64]struct{}, len(seeds))
	for _, id := range seeds {
		visited[id] = struct{}{}
	}
	seenEdges := make(map[int64]struct{})
	frontier := seeds

	var out []types.Candidate
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		sql := `
			SELECT e.id, e.source_id, e.target_id, e.relation, e.memory_sector,
				e.created_at, src.name, dst.name
			FROM graph_edges e
			JOIN graph_nodes src ON src.id = e.source_id
			JOIN graph_nodes dst ON dst.id = e.target_id
			WHERE (e.source_id = ANY ($1) OR e.target_id = ANY ($1))`
		args := []any{frontier}
		if sector != "" {
			sql += ` AND e.memory_sector = $2`
			args = append(args, sector)
		}
		sql += ` ORDER BY e.id`

		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return nil, fmt.Errorf("expanding graph at depth %d: %w", d, err)
		}

		var next []int64
		for rows.Next() {
			var (
				c                 types.Candidate
				srcID, dstID      int64
				relation, edgeSec string
				srcName, dstName  string
			)
			if err := rows.Scan(&c.ID, &srcID, &dstID, &relation, &edgeSec,
				&c.CreatedAt, &srcName, &dstName); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning edge: %w", err)
			}
			if _, dup := seenEdges[c.ID]; dup {
				continue
			}
			seenEdges[c.ID] = struct{}{}

			c.SourceType = types.SourceGraph
			c.Score = 1.0 / float64(d+1)
			c.Payload = map[string]interface{}{
				"source":        srcName,
				"target":        dstName,
				"relation":      relation,
				"memory_sector": edgeSec,
				"depth":         d,
			}
			out = append(out, c)

			for _, id := range []int64{srcID, dstID} {
				if _, ok := visited[id]; !ok {
					visited[id] = struct{}{}
					next = append(next, id)
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		frontier = next
	}
	return out, nil
}
