package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	"github.com/pgvector/pgvector-go"
)

// UpsertDocument writes the document row and all of its sections in one
// transaction. Every chunk of the document is removed, since chunks are
// rewritten by UpsertChunks, and sections that no longer exist are dropped.
func (s *GraphDBStorage) UpsertDocument(ctx context.Context, doc common.Document) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin document tx: %w", err)
	}
	defer tx.Rollback(ctx)

	authors := doc.Authors
	if authors == nil {
		authors = []string{}
	}
	if _, err := tx.Exec(ctx, upsertDocumentSQL, doc.ID, doc.Title, authors, doc.Year, doc.DOI, doc.SourcePath); err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}

	n := len(doc.Sections)
	ids := make([]string, 0, n)
	parents := make([]string, 0, n)
	positions := make([]int32, 0, n)
	levels := make([]int32, 0, n)
	titles := make([]string, 0, n)
	contents := make([]string, 0, n)
	for i, sec := range doc.Sections {
		parent := ""
		if sec.ParentID != nil {
			parent = *sec.ParentID
		}
		ids = append(ids, sec.ID)
		parents = append(parents, parent)
		positions = append(positions, int32(i))
		levels = append(levels, int32(sec.Level))
		titles = append(titles, sec.Title)
		contents = append(contents, sec.Content)
	}

	if _, err := tx.Exec(ctx, deleteDocumentChunksSQL, doc.ID); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", doc.ID, err)
	}
	if _, err := tx.Exec(ctx, deleteStaleSectionsSQL, doc.ID, ids); err != nil {
		return fmt.Errorf("failed to delete stale sections of %s: %w", doc.ID, err)
	}
	if n > 0 {
		if _, err := tx.Exec(ctx, upsertSectionsSQL, doc.ID, ids, parents, positions, levels, titles, contents); err != nil {
			return fmt.Errorf("failed to upsert sections of %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit document %s: %w", doc.ID, err)
	}
	logger.Debug("[Store][UpsertDocument] Stored document", "id", doc.ID, "sections", n)
	return nil
}

// UpsertChunks stores chunks in batches. Vectors are checked against the
// column dimension once it has been fixed by CreateVectorIndex.
func (s *GraphDBStorage) UpsertChunks(ctx context.Context, chunks []common.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	dim, err := s.embeddingDim(ctx)
	if err != nil {
		return err
	}

	return store.ChunkRange(len(chunks), s.batchSize, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin chunk tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, c := range chunks[start:end] {
			var embedding *pgvector.Vector
			if c.Embedding != nil {
				if dim > 0 && len(c.Embedding) != dim {
					return fmt.Errorf("chunk %s has %d dimensions, index expects %d: %w", c.ID, len(c.Embedding), dim, store.ErrDimensionMismatch)
				}
				v := pgvector.NewVector(c.Embedding)
				embedding = &v
			}
			metadata := c.Metadata
			if metadata == nil {
				metadata = map[string]string{}
			}
			if _, err := tx.Exec(ctx, upsertChunkSQL, c.ID, c.SectionID, c.Content, metadata, embedding); err != nil {
				return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit chunks: %w", err)
		}
		logger.Debug("[Store][UpsertChunks] Stored chunk batch", "start", start, "end", end)
		return nil
	})
}

// embeddingDim returns the fixed dimension of the embedding column, or 0
// while it is still untyped.
func (s *GraphDBStorage) embeddingDim(ctx context.Context) (int, error) {
	var typmod int32
	if err := s.conn.QueryRow(ctx, embeddingDimSQL).Scan(&typmod); err != nil {
		return 0, fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	if typmod <= 0 {
		return 0, nil
	}
	return int(typmod), nil
}

// CreateVectorIndex fixes the embedding column to dim and creates the
// HNSW cosine index. It is idempotent for the same dim.
func (s *GraphDBStorage) CreateVectorIndex(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid vector dimension %d: %w", dim, store.ErrDimensionMismatch)
	}

	current, err := s.embeddingDim(ctx)
	if err != nil {
		return err
	}
	if current > 0 && current != dim {
		return fmt.Errorf("index has %d dimensions, requested %d: %w", current, dim, store.ErrDimensionMismatch)
	}

	if current == 0 {
		var mismatched int64
		if err := s.conn.QueryRow(ctx, mismatchedVectorsSQL, dim).Scan(&mismatched); err != nil {
			return fmt.Errorf("failed to check stored vectors: %w", err)
		}
		if mismatched > 0 {
			return fmt.Errorf("%d stored vectors differ from %d dimensions: %w", mismatched, dim, store.ErrDimensionMismatch)
		}
		if _, err := s.conn.Exec(ctx, fmt.Sprintf(setEmbeddingDimSQL, dim)); err != nil {
			return fmt.Errorf("failed to set embedding dimension: %w", err)
		}
	}

	if _, err := s.conn.Exec(ctx, createVectorIndexSQL); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	logger.Info("[Store][VectorIndex] Vector index ready", "dimensions", dim)
	return nil
}

func (s *GraphDBStorage) SearchChunks(ctx context.Context, embedding []float32, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return []store.SearchResult{}, nil
	}

	dim, err := s.embeddingDim(ctx)
	if err != nil {
		return nil, err
	}
	if dim > 0 && len(embedding) != dim {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d: %w", len(embedding), dim, store.ErrDimensionMismatch)
	}

	rows, err := s.conn.Query(ctx, searchChunksSQL, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	results := make([]store.SearchResult, 0, k)
	for rows.Next() {
		var r store.SearchResult
		if err := rows.Scan(
			&r.ChunkID,
			&r.Content,
			&r.SectionID,
			&r.SectionTitle,
			&r.DocumentID,
			&r.DocumentTitle,
			&r.SourcePath,
			&r.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
