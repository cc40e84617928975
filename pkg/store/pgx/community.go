package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/medgraph/pkg/cluster"
	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

func (s *GraphDBStorage) loadGraph(ctx context.Context) (*cluster.Graph, error) {
	g := cluster.NewGraph()

	rows, err := s.conn.Query(ctx, graphSnapshotEntitiesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	keys, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan entities: %w", err)
	}
	for _, k := range keys {
		g.AddNode(k)
	}

	rows, err = s.conn.Query(ctx, graphSnapshotEdgesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var head, tail string
		if err := rows.Scan(&head, &tail); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		g.AddEdge(head, tail, 1)
	}
	return g, rows.Err()
}

// CreateCommunityIndex runs Louvain over a snapshot of the graph and writes
// the result through a temporary projection table that only lives for the
// duration of the transaction.
func (s *GraphDBStorage) CreateCommunityIndex(ctx context.Context) error {
	s.communityLock.Lock()
	defer s.communityLock.Unlock()

	start := time.Now()
	g, err := s.loadGraph(ctx)
	if err != nil {
		return err
	}
	res := cluster.Louvain(g, s.clusterOpts)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin community tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, dropProjectionSQL); err != nil {
		return fmt.Errorf("failed to drop stale projection: %w", err)
	}
	if _, err := tx.Exec(ctx, createProjectionSQL); err != nil {
		return fmt.Errorf("failed to create projection: %w", err)
	}

	rows := make([][]any, 0, len(res.Communities))
	for key, id := range res.Communities {
		rows = append(rows, []any{key, id})
	}
	if _, err := tx.CopyFrom(ctx, pgxv5.Identifier{store.ProjectionName}, []string{"key", "community_id"}, pgxv5.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to copy projection: %w", err)
	}
	if _, err := tx.Exec(ctx, applyProjectionSQL); err != nil {
		return fmt.Errorf("failed to write community ids: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit communities: %w", err)
	}

	logger.Info(
		"[Store][Communities] Community detection finished",
		"entities", g.Len(),
		"communities", res.Count,
		"modularity", res.Modularity,
		"levels", res.Levels,
		"duration", time.Since(start),
	)
	return nil
}

func (s *GraphDBStorage) GetCommunitySummaries(ctx context.Context, ids []int64, limit int) ([]common.CommunitySummary, error) {
	if ids == nil {
		ids = []int64{}
	}
	rows, err := s.conn.Query(ctx, communitySummariesSQL, ids, max(limit, 0), store.DefaultSummaryEntities)
	if err != nil {
		return nil, fmt.Errorf("failed to load community summaries: %w", err)
	}
	defer rows.Close()

	out := []common.CommunitySummary{}
	for rows.Next() {
		var c common.CommunitySummary
		if err := rows.Scan(&c.CommunityID, &c.Entities); err != nil {
			return nil, fmt.Errorf("failed to scan community summary: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
