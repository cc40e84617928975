package neo4j

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func (s *GraphStorage) UpsertDocument(ctx context.Context, doc common.Document) error {
	var year any
	if doc.Year != nil {
		year = int64(*doc.Year)
	}
	var doi any
	if doc.DOI != nil {
		doi = *doc.DOI
	}
	authors := make([]any, 0, len(doc.Authors))
	for _, a := range doc.Authors {
		authors = append(authors, a)
	}

	ids := make([]any, 0, len(doc.Sections))
	sections := make([]any, 0, len(doc.Sections))
	links := make([]any, 0)
	for i, sec := range doc.Sections {
		ids = append(ids, sec.ID)
		sections = append(sections, map[string]any{
			"id":       sec.ID,
			"title":    sec.Title,
			"content":  sec.Content,
			"level":    int64(sec.Level),
			"position": int64(i),
		})
		if sec.ParentID != nil {
			links = append(links, map[string]any{"parent": *sec.ParentID, "child": sec.ID})
		}
	}

	_, err := s.run.write(ctx,
		statement{query: upsertDocumentCypher, params: map[string]any{
			"id":          doc.ID,
			"title":       doc.Title,
			"authors":     authors,
			"year":        year,
			"doi":         doi,
			"source_path": doc.SourcePath,
		}},
		statement{query: deleteDocumentChunksCypher, params: map[string]any{"id": doc.ID}},
		statement{query: deleteStaleSectionsCypher, params: map[string]any{"id": doc.ID, "ids": ids}},
		statement{query: upsertSectionsCypher, params: map[string]any{"id": doc.ID, "sections": sections}},
		statement{query: linkSectionsCypher, params: map[string]any{"links": links}},
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	logger.Debug("[Neo4j][UpsertDocument] Stored document", "id", doc.ID, "sections", len(doc.Sections))
	return nil
}

func toFloat64s(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func (s *GraphStorage) UpsertChunks(ctx context.Context, chunks []common.Chunk) error {
	return store.ChunkRange(len(chunks), store.EmbeddingBatchSize, func(start, end int) error {
		rows := make([]any, 0, end-start)
		for _, c := range chunks[start:end] {
			metadata := make(map[string]any, len(c.Metadata))
			for k, v := range c.Metadata {
				metadata[k] = v
			}
			var embedding any
			if c.Embedding != nil {
				embedding = toFloat64s(c.Embedding)
			}
			rows = append(rows, map[string]any{
				"id":         c.ID,
				"section_id": c.SectionID,
				"content":    c.Content,
				"metadata":   metadata,
				"embedding":  embedding,
			})
		}

		records, err := s.run.write(ctx, statement{query: upsertChunksCypher, params: map[string]any{"chunks": rows}})
		if err != nil {
			return fmt.Errorf("failed to upsert chunks: %w", err)
		}
		if len(records) > 0 {
			if n := recordInt64(records[0], "n"); n < int64(end-start) {
				return fmt.Errorf("%d of %d chunks reference unknown sections: %w", int64(end-start)-n, end-start, store.ErrNotFound)
			}
		}
		return nil
	})
}

func (s *GraphStorage) CreateVectorIndex(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid vector dimension %d: %w", dim, store.ErrDimensionMismatch)
	}

	records, err := s.run.read(ctx, statement{query: vectorIndexDimCypher, params: map[string]any{"name": vectorIndexName}})
	if err != nil {
		return fmt.Errorf("failed to inspect vector index: %w", err)
	}
	if len(records) > 0 {
		if current := recordInt64(records[0], "dim"); current > 0 && current != int64(dim) {
			return fmt.Errorf("index has %d dimensions, requested %d: %w", current, dim, store.ErrDimensionMismatch)
		}
	}

	records, err = s.run.read(ctx, statement{query: mismatchedVectorsCypher, params: map[string]any{"dim": int64(dim)}})
	if err != nil {
		return fmt.Errorf("failed to check stored vectors: %w", err)
	}
	if len(records) > 0 {
		if n := recordInt64(records[0], "n"); n > 0 {
			return fmt.Errorf("%d stored vectors differ from %d dimensions: %w", n, dim, store.ErrDimensionMismatch)
		}
	}

	if _, err := s.run.write(ctx, statement{query: fmt.Sprintf(createVectorIndexCypher, dim)}); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	logger.Info("[Neo4j][VectorIndex] Vector index ready", "dimensions", dim)
	return nil
}

func (s *GraphStorage) SearchChunks(ctx context.Context, embedding []float32, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return []store.SearchResult{}, nil
	}
	records, err := s.run.read(ctx, statement{query: searchChunksCypher, params: map[string]any{
		"index":     vectorIndexName,
		"k":         int64(k),
		"embedding": toFloat64s(embedding),
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	results := make([]store.SearchResult, 0, len(records))
	for _, r := range records {
		results = append(results, store.SearchResult{
			ChunkID:       recordString(r, "chunk_id"),
			Content:       recordString(r, "content"),
			SectionID:     recordString(r, "section_id"),
			SectionTitle:  recordString(r, "section_title"),
			DocumentID:    recordString(r, "document_id"),
			DocumentTitle: recordString(r, "document_title"),
			SourcePath:    recordString(r, "source_path"),
			Score:         recordFloat64(r, "score"),
		})
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

type entityRow struct {
	key, name, typ string
}

type edgeRow struct {
	head, label, tail, doc, section string
}

func tripletRows(triplets []common.Triplet) ([]entityRow, []edgeRow) {
	var ents []entityRow
	var edges []edgeRow
	seenEntity := map[string]struct{}{}
	seenEdge := map[edgeRow]struct{}{}

	add := func(name, typ string) {
		key := common.EntityKey(name)
		if key == "" {
			return
		}
		if _, ok := seenEntity[key]; ok {
			return
		}
		seenEntity[key] = struct{}{}
		ents = append(ents, entityRow{key: key, name: common.DisplayName(name), typ: typ})
	}

	for _, t := range triplets {
		add(t.Head, t.HeadType)
		add(t.Tail, t.TailType)

		rel := t.Relationship()
		if rel.Head == "" || rel.Tail == "" || rel.Label == "" {
			continue
		}
		k := edgeRow{head: rel.Head, label: rel.Label, tail: rel.Tail}
		if _, ok := seenEdge[k]; ok {
			continue
		}
		seenEdge[k] = struct{}{}
		edges = append(edges, edgeRow{head: rel.Head, label: rel.Label, tail: rel.Tail, doc: rel.SourceDocID, section: rel.SourceSection})
	}
	return ents, edges
}

// UpsertTriplets merges entities and edges of a batch in one transaction.
// Without APOC, or for labels that are not valid edge types, edges use the
// generic type with the label as a property.
func (s *GraphStorage) UpsertTriplets(ctx context.Context, triplets []common.Triplet) error {
	if len(triplets) == 0 {
		return nil
	}
	ents, edges := tripletRows(triplets)

	entityParams := make([]any, 0, len(ents))
	for _, e := range ents {
		entityParams = append(entityParams, map[string]any{"key": e.key, "name": e.name, "type": e.typ})
	}

	apoc := s.hasAPOC(ctx)
	var typed, generic []any
	for _, e := range edges {
		row := map[string]any{"head": e.head, "label": e.label, "tail": e.tail, "doc": e.doc, "section": e.section}
		if apoc && store.ValidLabel(e.label) {
			typed = append(typed, row)
		} else {
			generic = append(generic, row)
		}
	}

	sts := []statement{{query: upsertEntitiesCypher, params: map[string]any{"entities": entityParams}}}
	if len(typed) > 0 {
		sts = append(sts, statement{query: upsertRelationshipsAPOCCypher, params: map[string]any{"edges": typed}})
	}
	if len(generic) > 0 {
		sts = append(sts, statement{query: upsertRelationshipsGenericCypher, params: map[string]any{"edges": generic}})
	}

	if _, err := s.run.write(ctx, sts...); err != nil {
		return fmt.Errorf("failed to upsert triplets: %w", err)
	}
	logger.Debug("[Neo4j][UpsertTriplets] Merged triplets", "triplets", len(triplets), "entities", len(ents), "typed", len(typed), "generic", len(generic))
	return nil
}

var luceneEscaper = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `!`, `\!`, `(`, `\(`, `)`, `\)`, `:`, `\:`,
	`^`, `\^`, `[`, `\[`, `]`, `\]`, `"`, `\"`, `{`, `\{`, `}`, `\}`, `~`, `\~`,
	`*`, `\*`, `?`, `\?`, `|`, `\|`, `&`, `\&`, `/`, `\/`,
)

// luceneQuery ORs the escaped terms for the fulltext index.
func luceneQuery(terms []string) string {
	escaped := make([]string, 0, len(terms))
	for _, t := range terms {
		escaped = append(escaped, luceneEscaper.Replace(t))
	}
	return strings.Join(escaped, " OR ")
}

func (s *GraphStorage) MatchEntities(ctx context.Context, text string, limit int) ([]common.Entity, error) {
	terms := store.QueryTerms(text)
	st := statement{query: matchEntitiesCypher, params: map[string]any{"text": common.EntityKey(text)}}
	if len(terms) > 0 {
		st = statement{query: matchEntitiesFulltextCypher, params: map[string]any{
			"text":   common.EntityKey(text),
			"index":  fulltextIndexName,
			"lucene": luceneQuery(terms),
		}}
	}

	records, err := s.run.read(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to match entities: %w", err)
	}

	type scored struct {
		entity common.Entity
		score  int
	}
	seen := map[string]struct{}{}
	var matches []scored
	for _, r := range records {
		e := recordEntity(r)
		if _, ok := seen[e.Key]; ok {
			continue
		}
		seen[e.Key] = struct{}{}
		if score := store.EntityMatchScore(e.Key, text, terms); score > 0 {
			matches = append(matches, scored{entity: e, score: score})
		}
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

func (s *GraphStorage) RankCommunities(ctx context.Context, keys []string, hops int, limit int) ([]store.CommunityRank, error) {
	keys = store.DedupeStrings(keys)
	if len(keys) == 0 {
		return []store.CommunityRank{}, nil
	}
	anyKeys := make([]any, 0, len(keys))
	for _, k := range keys {
		anyKeys = append(anyKeys, k)
	}

	records, err := s.run.read(ctx, statement{
		query:  fmt.Sprintf(rankCommunitiesCypher, max(hops, 0)),
		params: map[string]any{"keys": anyKeys},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank communities: %w", err)
	}

	ranks := make([]store.CommunityRank, 0, len(records))
	for _, r := range records {
		ranks = append(ranks, store.CommunityRank{
			CommunityID: recordInt64(r, "community_id"),
			Size:        int(recordInt64(r, "size")),
		})
	}
	store.SortCommunityRanks(ranks)
	if limit > 0 && len(ranks) > limit {
		ranks = ranks[:limit]
	}
	return ranks, nil
}

// CreateCommunityIndex projects the entity graph into GDS, writes Leiden
// communities back and always drops the projection. Missing GDS is
// reported as store.ErrClusteringUnavailable.
func (s *GraphStorage) CreateCommunityIndex(ctx context.Context) error {
	params := map[string]any{"name": store.ProjectionName}

	if _, err := s.run.write(ctx, statement{query: dropProjectionCypher, params: params}); err != nil {
		if procedureMissing(err) {
			return fmt.Errorf("gds not installed: %w", store.ErrClusteringUnavailable)
		}
		return fmt.Errorf("failed to drop stale projection: %w", err)
	}

	if _, err := s.run.write(ctx, statement{query: projectGraphCypher, params: params}); err != nil {
		return fmt.Errorf("failed to project entity graph: %w", err)
	}
	defer func() {
		if _, dropErr := s.run.write(context.WithoutCancel(ctx), statement{query: dropProjectionCypher, params: params}); dropErr != nil {
			logger.Error("[Neo4j][Communities] Failed to drop projection", "name", store.ProjectionName, "err", dropErr)
		}
	}()

	records, err := s.run.write(ctx, statement{query: leidenWriteCypher, params: params})
	if err != nil {
		return fmt.Errorf("failed to run leiden: %w", err)
	}
	if len(records) > 0 {
		logger.Info(
			"[Neo4j][Communities] Community detection finished",
			"communities", recordInt64(records[0], "communityCount"),
			"modularity", recordFloat64(records[0], "modularity"),
		)
	}
	return nil
}

func (s *GraphStorage) GetCommunitySummaries(ctx context.Context, ids []int64, limit int) ([]common.CommunitySummary, error) {
	anyIDs := make([]any, 0, len(ids))
	for _, id := range ids {
		anyIDs = append(anyIDs, id)
	}
	records, err := s.run.read(ctx, statement{query: communitySummariesCypher, params: map[string]any{
		"ids": anyIDs,
		"n":   int64(store.DefaultSummaryEntities),
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to load community summaries: %w", err)
	}

	byID := make(map[int64]common.CommunitySummary, len(records))
	order := make([]int64, 0, len(records))
	for _, r := range records {
		c := common.CommunitySummary{
			CommunityID: recordInt64(r, "community_id"),
			Entities:    recordStrings(r, "entities"),
		}
		byID[c.CommunityID] = c
		order = append(order, c.CommunityID)
	}
	if len(ids) > 0 {
		order = ids
	}

	out := []common.CommunitySummary{}
	for _, id := range order {
		if limit > 0 && len(out) >= limit {
			break
		}
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *GraphStorage) Counts(ctx context.Context) (store.Counts, error) {
	records, err := s.run.read(ctx, statement{query: countsCypher})
	if err != nil {
		return store.Counts{}, fmt.Errorf("failed to count records: %w", err)
	}
	if len(records) == 0 {
		return store.Counts{}, nil
	}
	r := records[0]
	return store.Counts{
		Documents:     recordInt64(r, "documents"),
		Sections:      recordInt64(r, "sections"),
		Chunks:        recordInt64(r, "chunks"),
		Entities:      recordInt64(r, "entities"),
		Relationships: recordInt64(r, "relationships"),
	}, nil
}

func recordEntity(r *neo4jv5.Record) common.Entity {
	e := common.Entity{
		Key:  recordString(r, "key"),
		Name: recordString(r, "name"),
		Type: recordString(r, "type"),
	}
	if v, ok := r.Get("community_id"); ok && v != nil {
		id := recordInt64(r, "community_id")
		e.CommunityID = &id
	}
	return e
}
