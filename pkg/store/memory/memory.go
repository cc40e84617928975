// Package memory is an in-process GraphStorage used for development and
// tests. It keeps everything in maps guarded by one lock.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/medgraph/pkg/cluster"
	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/store"
)

type edgeKey struct {
	head, label, tail string
}

type storedSection struct {
	section common.Section
	docID   string
}

// GraphStorage is an in-memory store.GraphStorage.
type GraphStorage struct {
	mu sync.RWMutex

	documents map[string]common.Document
	sections  map[string]storedSection
	chunks    map[string]common.Chunk
	entities  map[string]common.Entity
	edges     map[edgeKey]common.Relationship

	indexDim int
}

// New returns an empty store.
func New() *GraphStorage {
	return &GraphStorage{
		documents: map[string]common.Document{},
		sections:  map[string]storedSection{},
		chunks:    map[string]common.Chunk{},
		entities:  map[string]common.Entity{},
		edges:     map[edgeKey]common.Relationship{},
	}
}

var _ store.GraphStorage = (*GraphStorage)(nil)

func (s *GraphStorage) UpsertDocument(ctx context.Context, doc common.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := doc
	stored.Sections = nil
	s.documents[doc.ID] = stored

	// Chunks are rewritten by the following UpsertChunks call.
	for cid, c := range s.chunks {
		if sec, ok := s.sections[c.SectionID]; ok && sec.docID == doc.ID {
			delete(s.chunks, cid)
		}
	}
	keep := make(map[string]struct{}, len(doc.Sections))
	for _, sec := range doc.Sections {
		keep[sec.ID] = struct{}{}
	}
	for id, sec := range s.sections {
		if _, ok := keep[id]; !ok && sec.docID == doc.ID {
			delete(s.sections, id)
		}
	}

	for _, sec := range doc.Sections {
		sec.Chunks = nil
		s.sections[sec.ID] = storedSection{section: sec, docID: doc.ID}
	}
	return nil
}

func (s *GraphStorage) UpsertTriplets(ctx context.Context, triplets []common.Triplet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// within a batch the first mention of an edge wins; a later batch
	// overwrites the provenance of an existing edge
	seen := make(map[edgeKey]struct{}, len(triplets))
	for _, t := range triplets {
		s.mergeEntity(t.Head, t.HeadType)
		s.mergeEntity(t.Tail, t.TailType)

		rel := t.Relationship()
		if rel.Head == "" || rel.Tail == "" || rel.Label == "" {
			continue
		}
		key := edgeKey{head: rel.Head, label: rel.Label, tail: rel.Tail}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		s.edges[key] = rel
	}
	return nil
}

func (s *GraphStorage) mergeEntity(name, typ string) {
	key := common.EntityKey(name)
	if key == "" {
		return
	}
	if _, ok := s.entities[key]; ok {
		return
	}
	s.entities[key] = common.Entity{Key: key, Name: common.DisplayName(name), Type: typ}
}

func (s *GraphStorage) UpsertChunks(ctx context.Context, chunks []common.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if _, ok := s.sections[c.SectionID]; !ok {
			return fmt.Errorf("chunk %s references unknown section %s: %w", c.ID, c.SectionID, store.ErrNotFound)
		}
		if s.indexDim > 0 && len(c.Embedding) != s.indexDim {
			return fmt.Errorf("chunk %s has %d dimensions, index expects %d: %w", c.ID, len(c.Embedding), s.indexDim, store.ErrDimensionMismatch)
		}
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *GraphStorage) CreateVectorIndex(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexDim != 0 && s.indexDim != dim {
		return fmt.Errorf("index has %d dimensions, requested %d: %w", s.indexDim, dim, store.ErrDimensionMismatch)
	}
	for id, c := range s.chunks {
		if len(c.Embedding) != dim {
			return fmt.Errorf("chunk %s has %d dimensions, requested %d: %w", id, len(c.Embedding), dim, store.ErrDimensionMismatch)
		}
	}
	s.indexDim = dim
	return nil
}

func (s *GraphStorage) CreateCommunityIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := cluster.NewGraph()
	for key := range s.entities {
		g.AddNode(key)
	}
	for k := range s.edges {
		g.AddEdge(k.head, k.tail, 1)
	}
	res := cluster.Louvain(g, cluster.Options{})

	for key, e := range s.entities {
		id := res.Communities[key]
		e.CommunityID = &id
		s.entities[key] = e
	}
	logger.Debug("[Memory][Communities] Clustered entities", "entities", g.Len(), "communities", res.Count, "modularity", res.Modularity)
	return nil
}

func (s *GraphStorage) communityMembers() map[int64][]common.Entity {
	members := map[int64][]common.Entity{}
	for _, e := range s.entities {
		if e.CommunityID == nil {
			continue
		}
		members[*e.CommunityID] = append(members[*e.CommunityID], e)
	}
	for id := range members {
		sort.Slice(members[id], func(i, j int) bool { return members[id][i].Key < members[id][j].Key })
	}
	return members
}

func (s *GraphStorage) GetCommunitySummaries(ctx context.Context, ids []int64, limit int) ([]common.CommunitySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.communityMembers()
	if len(ids) == 0 {
		ranks := make([]store.CommunityRank, 0, len(members))
		for id, m := range members {
			ranks = append(ranks, store.CommunityRank{CommunityID: id, Size: len(m)})
		}
		store.SortCommunityRanks(ranks)
		for _, r := range ranks {
			ids = append(ids, r.CommunityID)
		}
	}

	out := []common.CommunitySummary{}
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		m, ok := members[id]
		if !ok {
			continue
		}
		names := make([]string, 0, min(len(m), store.DefaultSummaryEntities))
		for _, e := range m[:min(len(m), store.DefaultSummaryEntities)] {
			names = append(names, e.Name)
		}
		out = append(out, common.CommunitySummary{CommunityID: id, Entities: names})
	}
	return out, nil
}

func (s *GraphStorage) SearchChunks(ctx context.Context, embedding []float32, k int) ([]store.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		return []store.SearchResult{}, nil
	}
	if s.indexDim > 0 && len(embedding) != s.indexDim {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d: %w", len(embedding), s.indexDim, store.ErrDimensionMismatch)
	}

	results := make([]store.SearchResult, 0, len(s.chunks))
	for _, c := range s.chunks {
		if len(c.Embedding) != len(embedding) {
			continue
		}
		sec := s.sections[c.SectionID]
		doc := s.documents[sec.docID]
		results = append(results, store.SearchResult{
			ChunkID:       c.ID,
			Content:       c.Content,
			SectionID:     c.SectionID,
			SectionTitle:  sec.section.Title,
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			SourcePath:    doc.SourcePath,
			Score:         cosine(embedding, c.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *GraphStorage) MatchEntities(ctx context.Context, text string, limit int) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := store.QueryTerms(text)
	type scored struct {
		entity common.Entity
		score  int
	}
	var matches []scored
	for key, e := range s.entities {
		if score := store.EntityMatchScore(key, text, terms); score > 0 {
			matches = append(matches, scored{entity: e, score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
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
	s.mu.RLock()
	defer s.mu.RUnlock()

	neighbors := map[string][]string{}
	for k := range s.edges {
		neighbors[k.head] = append(neighbors[k.head], k.tail)
		neighbors[k.tail] = append(neighbors[k.tail], k.head)
	}

	seen := map[string]struct{}{}
	frontier := []string{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if _, ok := s.entities[k]; !ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		frontier = append(frontier, k)
	}
	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		var next []string
		for _, k := range frontier {
			for _, n := range neighbors[k] {
				if _, ok := seen[n]; ok {
					continue
				}
				seen[n] = struct{}{}
				next = append(next, n)
			}
		}
		frontier = next
	}

	members := s.communityMembers()
	reached := map[int64]struct{}{}
	for k := range seen {
		if e := s.entities[k]; e.CommunityID != nil {
			reached[*e.CommunityID] = struct{}{}
		}
	}
	ranks := make([]store.CommunityRank, 0, len(reached))
	for id := range reached {
		ranks = append(ranks, store.CommunityRank{CommunityID: id, Size: len(members[id])})
	}
	store.SortCommunityRanks(ranks)
	if limit > 0 && len(ranks) > limit {
		ranks = ranks[:limit]
	}
	return ranks, nil
}

func (s *GraphStorage) Counts(ctx context.Context) (store.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return store.Counts{
		Documents:     int64(len(s.documents)),
		Sections:      int64(len(s.sections)),
		Chunks:        int64(len(s.chunks)),
		Entities:      int64(len(s.entities)),
		Relationships: int64(len(s.edges)),
	}, nil
}

// Entity returns a stored entity by name, for inspection in tests and tools.
func (s *GraphStorage) Entity(name string) (common.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[common.EntityKey(name)]
	return e, ok
}
