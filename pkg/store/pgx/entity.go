package pgx

import (
	"context"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/store"
)

type entityRows struct {
	keys, names, types []string
}

type relationshipRows struct {
	heads, labels, tails, docs, sections []string
}

// tripletRows flattens a batch into column arrays. Entities and edges are
// deduplicated so that the first mention wins for name and type.
func tripletRows(triplets []common.Triplet) (entityRows, relationshipRows) {
	var ents entityRows
	var rels relationshipRows
	seenEntity := map[string]struct{}{}
	seenEdge := map[[3]string]struct{}{}

	addEntity := func(name, typ string) {
		key := common.EntityKey(name)
		if key == "" {
			return
		}
		if _, ok := seenEntity[key]; ok {
			return
		}
		seenEntity[key] = struct{}{}
		ents.keys = append(ents.keys, key)
		ents.names = append(ents.names, common.DisplayName(name))
		ents.types = append(ents.types, typ)
	}

	for _, t := range triplets {
		addEntity(t.Head, t.HeadType)
		addEntity(t.Tail, t.TailType)

		rel := t.Relationship()
		if rel.Head == "" || rel.Tail == "" || rel.Label == "" {
			continue
		}
		k := [3]string{rel.Head, rel.Label, rel.Tail}
		if _, ok := seenEdge[k]; ok {
			continue
		}
		seenEdge[k] = struct{}{}
		rels.heads = append(rels.heads, rel.Head)
		rels.labels = append(rels.labels, rel.Label)
		rels.tails = append(rels.tails, rel.Tail)
		rels.docs = append(rels.docs, rel.SourceDocID)
		rels.sections = append(rels.sections, rel.SourceSection)
	}
	return ents, rels
}

// UpsertTriplets merges all entities and relationships of the batch in one
// transaction. Existing entities keep their name and type.
func (s *GraphDBStorage) UpsertTriplets(ctx context.Context, triplets []common.Triplet) error {
	if len(triplets) == 0 {
		return nil
	}
	ents, rels := tripletRows(triplets)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin triplet tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upsertEntitiesSQL, ents.keys, ents.names, ents.types); err != nil {
		return fmt.Errorf("failed to upsert entities: %w", err)
	}
	if len(rels.heads) > 0 {
		if _, err := tx.Exec(ctx, upsertRelationshipsSQL, rels.heads, rels.labels, rels.tails, rels.docs, rels.sections); err != nil {
			return fmt.Errorf("failed to upsert relationships: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit triplets: %w", err)
	}
	logger.Debug("[Store][UpsertTriplets] Merged triplets", "triplets", len(triplets), "entities", len(ents.keys), "relationships", len(rels.heads))
	return nil
}

func likePatterns(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, "%"+t+"%")
	}
	return out
}

func (s *GraphDBStorage) MatchEntities(ctx context.Context, text string, limit int) ([]common.Entity, error) {
	terms := store.QueryTerms(text)
	rows, err := s.conn.Query(ctx, matchEntitiesSQL, common.EntityKey(text), likePatterns(terms))
	if err != nil {
		return nil, fmt.Errorf("failed to match entities: %w", err)
	}
	defer rows.Close()

	type scored struct {
		entity common.Entity
		score  int
	}
	var matches []scored
	for rows.Next() {
		var e common.Entity
		if err := rows.Scan(&e.Key, &e.Name, &e.Type, &e.CommunityID); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		matches = append(matches, scored{entity: e, score: store.EntityMatchScore(e.Key, text, terms)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].entity.Key < matches[j].entity.Key
	})

	out := []common.Entity{}
	for _, m := range matches {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.entity)
	}
	return out, nil
}

func (s *GraphDBStorage) RankCommunities(ctx context.Context, keys []string, hops int, limit int) ([]store.CommunityRank, error) {
	keys = store.DedupeStrings(keys)
	if len(keys) == 0 {
		return []store.CommunityRank{}, nil
	}
	hops = max(hops, 0)
	limit = max(limit, 0)

	rows, err := s.conn.Query(ctx, rankCommunitiesSQL, keys, hops, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank communities: %w", err)
	}
	defer rows.Close()

	ranks := []store.CommunityRank{}
	for rows.Next() {
		var r store.CommunityRank
		if err := rows.Scan(&r.CommunityID, &r.Size); err != nil {
			return nil, fmt.Errorf("failed to scan community rank: %w", err)
		}
		ranks = append(ranks, r)
	}
	return ranks, rows.Err()
}

func (s *GraphDBStorage) Counts(ctx context.Context) (store.Counts, error) {
	var c store.Counts
	err := s.conn.QueryRow(ctx, countsSQL).Scan(&c.Documents, &c.Sections, &c.Chunks, &c.Entities, &c.Relationships)
	if err != nil {
		return store.Counts{}, fmt.Errorf("failed to count records: %w", err)
	}
	return c, nil
}
