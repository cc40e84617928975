package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/medgraph/pkg/common"
)

var (
	// ErrDimensionMismatch means embeddings and the vector index disagree on
	// the vector size. It is a configuration error and must not be retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrClusteringUnavailable means the backend cannot run community
	// detection. Callers log it and continue without communities.
	ErrClusteringUnavailable = errors.New("graph clustering unavailable")
	// ErrNotFound is returned for lookups of missing records.
	ErrNotFound = errors.New("not found")
)

// GenericRelation is the edge kind used when a backend cannot create an
// edge type from the relation label. The label is stored as a property.
const GenericRelation = "RELATED_TO"

// Defaults shared by all backends.
const (
	DefaultSummaryEntities = 20
	ProjectionName         = "entity_graph"
)

// SearchResult is one chunk returned by a vector search, joined to its
// section and document for citation.
type SearchResult struct {
	ChunkID       string  `json:"chunk_id"`
	Content       string  `json:"content"`
	SectionID     string  `json:"section_id"`
	SectionTitle  string  `json:"section_title"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	SourcePath    string  `json:"source_path"`
	Score         float64 `json:"score"`
}

// CommunityRank is a community reachable from matched entities.
type CommunityRank struct {
	CommunityID int64 `json:"community_id"`
	Size        int   `json:"size"`
}

// Counts reports the number of stored records per kind.
type Counts struct {
	Documents     int64 `json:"documents"`
	Sections      int64 `json:"sections"`
	Chunks        int64 `json:"chunks"`
	Entities      int64 `json:"entities"`
	Relationships int64 `json:"relationships"`
}

// GraphStorage persists the document tree and the knowledge graph and
// answers the retrieval queries. Implementations are safe for concurrent
// use.
type GraphStorage interface {
	// UpsertDocument creates or updates a document and its sections by id.
	UpsertDocument(ctx context.Context, doc common.Document) error
	// UpsertTriplets merges the entities and edges of a batch in one
	// operation. Entity types are only written on creation; an existing
	// edge takes the provenance of the latest batch that mentions it.
	UpsertTriplets(ctx context.Context, triplets []common.Triplet) error
	// UpsertChunks stores chunks together with their embeddings.
	UpsertChunks(ctx context.Context, chunks []common.Chunk) error

	// CreateVectorIndex creates the cosine index over chunk embeddings if
	// it does not exist. It returns ErrDimensionMismatch when an existing
	// index or stored vectors have a different size.
	CreateVectorIndex(ctx context.Context, dim int) error
	// CreateCommunityIndex clusters the entity graph and writes the
	// community ids back to the entities.
	CreateCommunityIndex(ctx context.Context) error
	// GetCommunitySummaries returns at most limit communities with up to
	// DefaultSummaryEntities member names each. With no ids the largest
	// communities are returned.
	GetCommunitySummaries(ctx context.Context, ids []int64, limit int) ([]common.CommunitySummary, error)

	// SearchChunks returns the k chunks most similar to embedding, best first.
	SearchChunks(ctx context.Context, embedding []float32, k int) ([]SearchResult, error)
	// MatchEntities returns entities whose name occurs in text or matches
	// one of its terms, case-insensitively.
	MatchEntities(ctx context.Context, text string, limit int) ([]common.Entity, error)
	// RankCommunities returns communities of entities within hops of the
	// given entity keys, largest first.
	RankCommunities(ctx context.Context, keys []string, hops int, limit int) ([]CommunityRank, error)

	Counts(ctx context.Context) (Counts, error)
}
