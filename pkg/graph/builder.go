package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/medgraph/pkg/ai"
	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/document"
	"github.com/OFFIS-RIT/medgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/medgraph/pkg/loader"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/store"
)

// Lock keys shared by all workers of one deployment.
const (
	LockIngest      = "medgraph:ingest"
	LockCommunities = "medgraph:communities"
)

// Locker runs fn while holding a named lease. *leaselock.Client implements
// it.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Builder ingests markdown sources into a GraphStorage: document tree,
// extracted triplets, chunk embeddings, the vector index and communities.
type Builder struct {
	store     store.GraphStorage
	aiClient  ai.GraphAIClient
	extractor *Extractor
	parser    document.Parser
	dim       int

	locker   Locker
	lockOpts leaselock.Options
}

// NewBuilderParams configures a Builder.
//
// EmbeddingDim is the size every embedding must have; it also sizes the
// vector index. Locker is optional; without it no cross-process locking
// takes place.
type NewBuilderParams struct {
	Store        store.GraphStorage
	AIClient     ai.GraphAIClient
	Extractor    *Extractor
	Parser       document.Parser
	EmbeddingDim int

	Locker      Locker
	LockOptions leaselock.Options
}

func NewBuilder(params NewBuilderParams) (*Builder, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("graph store is nil")
	}
	if params.AIClient == nil {
		return nil, ai.ErrNoClient
	}
	if params.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", params.EmbeddingDim)
	}
	extractor := params.Extractor
	if extractor == nil {
		extractor = NewExtractor(NewExtractorParams{Client: params.AIClient})
	}
	return &Builder{
		store:     params.Store,
		aiClient:  params.AIClient,
		extractor: extractor,
		parser:    params.Parser,
		dim:       params.EmbeddingDim,
		locker:    params.Locker,
		lockOpts:  params.LockOptions,
	}, nil
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Documents        int           `json:"documents"`
	Failed           []string      `json:"failed"`
	Triplets         int           `json:"triplets"`
	Chunks           int           `json:"chunks"`
	CommunitiesBuilt bool          `json:"communities_built"`
	Counts           store.Counts  `json:"counts"`
	Duration         time.Duration `json:"duration"`
}

func (b *Builder) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if b.locker == nil {
		return fn(ctx)
	}
	return b.locker.WithLease(ctx, key, b.lockOpts, fn)
}

// Ingest processes every markdown file of src one after another. A failing
// document is logged and skipped. An embedding dimension mismatch aborts
// the run. Afterwards the vector index and the communities are (re)built;
// a backend without clustering support only logs a warning.
func (b *Builder) Ingest(ctx context.Context, src loader.Source) (IngestReport, error) {
	var report IngestReport
	err := b.withLock(ctx, LockIngest, func(ctx context.Context) error {
		var err error
		report, err = b.ingest(ctx, src)
		return err
	})
	return report, err
}

func (b *Builder) ingest(ctx context.Context, src loader.Source) (IngestReport, error) {
	start := time.Now()
	report := IngestReport{Failed: []string{}}

	files, err := src.ListFiles(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list sources: %w", err)
	}
	logger.Info("[Builder][Ingest] Starting ingestion", "files", len(files))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		triplets, chunks, err := b.ingestFile(ctx, file)
		if err != nil {
			if errors.Is(err, store.ErrDimensionMismatch) {
				return report, err
			}
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			logger.Error("[Builder][Ingest] Skipping document", "path", file.FilePath, "err", err)
			report.Failed = append(report.Failed, file.FilePath)
			continue
		}
		report.Documents++
		report.Triplets += triplets
		report.Chunks += chunks
	}

	if err := b.store.CreateVectorIndex(ctx, b.dim); err != nil {
		return report, fmt.Errorf("failed to create vector index: %w", err)
	}

	built, err := b.rebuildCommunities(ctx)
	if err != nil {
		return report, err
	}
	report.CommunitiesBuilt = built

	counts, err := b.store.Counts(ctx)
	if err != nil {
		logger.Warn("[Builder][Ingest] Failed to read counts", "err", err)
	}
	report.Counts = counts
	report.Duration = time.Since(start)

	logger.Info("[Builder][Ingest] Ingestion finished",
		"documents", report.Documents,
		"failed", len(report.Failed),
		"triplets", report.Triplets,
		"chunks", report.Chunks,
		"entities", counts.Entities,
		"relationships", counts.Relationships,
		"duration", report.Duration,
	)
	return report, nil
}

func (b *Builder) ingestFile(ctx context.Context, file loader.GraphFile) (int, int, error) {
	text, err := file.GetText(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read %s: %w", file.FilePath, err)
	}

	doc := b.parser.Parse(string(text), file.FilePath)
	logger.Debug("[Builder][Ingest] Parsed document", "path", file.FilePath, "title", doc.Title, "sections", len(doc.Sections))

	if err := b.store.UpsertDocument(ctx, doc); err != nil {
		return 0, 0, fmt.Errorf("failed to store document: %w", err)
	}

	triplets, err := b.extractor.Extract(ctx, doc)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to extract triplets: %w", err)
	}
	if len(triplets) > 0 {
		if err := b.store.UpsertTriplets(ctx, triplets); err != nil {
			return 0, 0, fmt.Errorf("failed to store triplets: %w", err)
		}
	}

	chunks, err := b.embedChunks(ctx, doc)
	if err != nil {
		return 0, 0, err
	}
	if len(chunks) > 0 {
		if err := b.store.UpsertChunks(ctx, chunks); err != nil {
			return 0, 0, fmt.Errorf("failed to store chunks: %w", err)
		}
	}

	return len(triplets), len(chunks), nil
}

func (b *Builder) embedChunks(ctx context.Context, doc common.Document) ([]common.Chunk, error) {
	var chunks []common.Chunk
	for _, sec := range doc.Sections {
		chunks = append(chunks, sec.Chunks...)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	inputs := make([][]byte, len(chunks))
	for i, c := range chunks {
		inputs[i] = []byte(c.Content)
	}
	vectors, err := store.GenerateEmbeddings(ctx, b.aiClient, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if err := store.CheckDimensions(vectors, b.dim); err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	return chunks, nil
}

// RebuildCommunities runs the community detection pass on its own.
// It reports whether communities were written.
func (b *Builder) RebuildCommunities(ctx context.Context) (bool, error) {
	return b.rebuildCommunities(ctx)
}

func (b *Builder) rebuildCommunities(ctx context.Context) (bool, error) {
	built := false
	err := b.withLock(ctx, LockCommunities, func(ctx context.Context) error {
		start := time.Now()
		err := b.store.CreateCommunityIndex(ctx)
		if errors.Is(err, store.ErrClusteringUnavailable) {
			logger.Warn("[Builder][Communities] Clustering unavailable, skipping", "err", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to build communities: %w", err)
		}
		built = true
		logger.Info("[Builder][Communities] Communities rebuilt", "duration", time.Since(start))
		return nil
	})
	return built, err
}
