// Package query implements hybrid retrieval over the document chunks and
// the entity graph: a local vector search and a global community search,
// executed concurrently for every sub-query.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/medgraph/pkg/ai"
	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/OFFIS-RIT/medgraph/pkg/query"

// Retrieval sources, used as the citation tag of a RetrievedDocument.
const (
	SourceVector    = "vector"
	SourceCommunity = "community"
)

// Tool names reported in ExecutionMetadata.
const (
	ToolVectorSearch    = "vector_search"
	ToolCommunitySearch = "community_search"
)

// Defaults for NewRetrieverParams.
const (
	DefaultK              = 5
	DefaultHops           = 2
	DefaultCommunityLimit = 3
	DefaultEntityLimit    = 10
	ConceptsPerCommunity  = 5
)

// RetrievedDocument is one context entry handed to the reasoning loop.
type RetrievedDocument struct {
	Content  string            `json:"content"`
	Source   string            `json:"source"`
	Score    float64           `json:"score,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExecutionMetadata describes one retrieval path execution. It is produced
// on success and on failure; Error is empty on success.
type ExecutionMetadata struct {
	Tool          string  `json:"tool_name"`
	Query         string  `json:"query"`
	QueryForm     string  `json:"query_form"`
	ResultCount   int     `json:"result_count"`
	ExecutionTime float64 `json:"execution_time"`
	Error         string  `json:"error,omitempty"`
}

// Retriever combines vector search over chunks with community search over
// the entity graph. It holds no per-query state and is safe for concurrent
// use.
type Retriever struct {
	store    store.GraphStorage
	aiClient ai.GraphAIClient
	tracer   trace.Tracer

	k              int
	hops           int
	communityLimit int
	entityLimit    int
}

// NewRetrieverParams configures a Retriever. Zero values fall back to the
// package defaults. TracerProvider defaults to the global provider.
type NewRetrieverParams struct {
	Store    store.GraphStorage
	AIClient ai.GraphAIClient

	K              int
	Hops           int
	CommunityLimit int
	EntityLimit    int

	TracerProvider trace.TracerProvider
}

func NewRetriever(params NewRetrieverParams) *Retriever {
	tp := params.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Retriever{
		store:          params.Store,
		aiClient:       params.AIClient,
		tracer:         tp.Tracer(instrumentationName),
		k:              orDefault(params.K, DefaultK),
		hops:           orDefault(params.Hops, DefaultHops),
		communityLimit: orDefault(params.CommunityLimit, DefaultCommunityLimit),
		entityLimit:    orDefault(params.EntityLimit, DefaultEntityLimit),
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Retrieve runs the local and the global path concurrently and returns the
// local results followed by the global ones, together with one metadata
// entry per path in the same order. A failing path contributes no
// documents and reports its error in its metadata only.
func (r *Retriever) Retrieve(ctx context.Context, subquery string) ([]RetrievedDocument, []ExecutionMetadata) {
	ctx, span := r.tracer.Start(ctx, "query.Retrieve", trace.WithAttributes(
		attribute.String("query.text", subquery),
	))
	defer span.End()

	var (
		localDocs, globalDocs []RetrievedDocument
		localMeta, globalMeta ExecutionMetadata
	)

	var g errgroup.Group
	g.Go(func() error {
		localDocs, localMeta = r.LocalSearch(ctx, subquery)
		return nil
	})
	g.Go(func() error {
		globalDocs, globalMeta = r.GlobalSearch(ctx, subquery)
		return nil
	})
	_ = g.Wait()

	docs := make([]RetrievedDocument, 0, len(localDocs)+len(globalDocs))
	docs = append(docs, localDocs...)
	docs = append(docs, globalDocs...)

	span.SetAttributes(
		attribute.Int("query.results.vector", len(localDocs)),
		attribute.Int("query.results.community", len(globalDocs)),
	)
	return docs, []ExecutionMetadata{localMeta, globalMeta}
}

// LocalSearch embeds the query and returns the k most similar chunks.
func (r *Retriever) LocalSearch(ctx context.Context, subquery string) ([]RetrievedDocument, ExecutionMetadata) {
	meta := ExecutionMetadata{
		Tool:      ToolVectorSearch,
		Query:     subquery,
		QueryForm: fmt.Sprintf("SearchChunks(embedding(query), k=%d) JOIN section, document", r.k),
	}
	ctx, span := r.tracer.Start(ctx, "query.LocalSearch", trace.WithAttributes(
		attribute.String("query.tool", meta.Tool),
		attribute.Int("query.k", r.k),
	))
	defer span.End()

	start := time.Now()
	docs, err := r.localSearch(ctx, subquery)
	meta.ExecutionTime = time.Since(start).Seconds()
	finish(span, &meta, docs, err)
	return docs, meta
}

func (r *Retriever) localSearch(ctx context.Context, subquery string) ([]RetrievedDocument, error) {
	if r.aiClient == nil {
		return []RetrievedDocument{}, ai.ErrNoClient
	}
	emb, err := r.aiClient.GenerateEmbedding(ctx, []byte(subquery))
	if err != nil {
		return []RetrievedDocument{}, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := r.store.SearchChunks(ctx, emb, r.k)
	if err != nil {
		return []RetrievedDocument{}, fmt.Errorf("failed to search chunks: %w", err)
	}

	docs := make([]RetrievedDocument, 0, len(results))
	sourceIDs := make([]string, 0, len(results))
	for _, res := range results {
		docs = append(docs, RetrievedDocument{
			Content: res.Content,
			Source:  SourceVector,
			Score:   res.Score,
			Metadata: map[string]string{
				"chunk_id":               res.ChunkID,
				common.MetaDocumentID:    res.DocumentID,
				common.MetaDocumentTitle: res.DocumentTitle,
				common.MetaSectionTitle:  res.SectionTitle,
				common.MetaSourcePath:    res.SourcePath,
			},
		})
		sourceIDs = append(sourceIDs, res.DocumentID)
	}
	RecordConsideredDocumentIDs(TracerFromContext(ctx), sourceIDs...)
	return docs, nil
}

// GlobalSearch matches entities named in the query, ranks the communities
// around them and returns a short description per community.
func (r *Retriever) GlobalSearch(ctx context.Context, subquery string) ([]RetrievedDocument, ExecutionMetadata) {
	meta := ExecutionMetadata{
		Tool:  ToolCommunitySearch,
		Query: subquery,
		QueryForm: fmt.Sprintf(
			"MatchEntities(query, limit=%d) -> RankCommunities(hops=%d, limit=%d) -> GetCommunitySummaries",
			r.entityLimit, r.hops, r.communityLimit,
		),
	}
	ctx, span := r.tracer.Start(ctx, "query.GlobalSearch", trace.WithAttributes(
		attribute.String("query.tool", meta.Tool),
		attribute.Int("query.hops", r.hops),
	))
	defer span.End()

	start := time.Now()
	docs, err := r.globalSearch(ctx, subquery)
	meta.ExecutionTime = time.Since(start).Seconds()
	finish(span, &meta, docs, err)
	return docs, meta
}

func (r *Retriever) globalSearch(ctx context.Context, subquery string) ([]RetrievedDocument, error) {
	tracer := TracerFromContext(ctx)

	entities, err := r.store.MatchEntities(ctx, subquery, r.entityLimit)
	if err != nil {
		return []RetrievedDocument{}, fmt.Errorf("failed to match entities: %w", err)
	}
	if len(entities) == 0 {
		logger.Debug("[Query][Global] No entities matched", "query", subquery)
		return []RetrievedDocument{}, nil
	}
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		keys = append(keys, e.Key)
	}
	RecordMatchedEntityKeys(tracer, keys...)

	ranks, err := r.store.RankCommunities(ctx, keys, r.hops, r.communityLimit)
	if err != nil {
		return []RetrievedDocument{}, fmt.Errorf("failed to rank communities: %w", err)
	}
	if len(ranks) == 0 {
		return []RetrievedDocument{}, nil
	}
	ids := make([]int64, 0, len(ranks))
	for _, rank := range ranks {
		ids = append(ids, rank.CommunityID)
	}
	RecordRankedCommunityIDs(tracer, ids...)

	summaries, err := r.store.GetCommunitySummaries(ctx, ids, r.communityLimit)
	if err != nil {
		return []RetrievedDocument{}, fmt.Errorf("failed to load community summaries: %w", err)
	}

	docs := make([]RetrievedDocument, 0, len(summaries))
	for _, s := range summaries {
		docs = append(docs, RetrievedDocument{
			Content: CommunityText(s),
			Source:  SourceCommunity,
			Metadata: map[string]string{
				"community_id": strconv.FormatInt(s.CommunityID, 10),
			},
		})
	}
	return docs, nil
}

// CommunityText renders a community as
// "Community 4: Contains concepts a, b, c, d, e...".
func CommunityText(s common.CommunitySummary) string {
	names := s.Entities
	if len(names) > ConceptsPerCommunity {
		names = names[:ConceptsPerCommunity]
	}
	return fmt.Sprintf("Community %d: Contains concepts %s...", s.CommunityID, strings.Join(names, ", "))
}

func finish(span trace.Span, meta *ExecutionMetadata, docs []RetrievedDocument, err error) {
	meta.ResultCount = len(docs)
	if err != nil {
		meta.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("[Query][Retrieve] Retrieval path failed", "tool", meta.Tool, "query", meta.Query, "err", err)
	}
	span.SetAttributes(
		attribute.Int("query.result_count", meta.ResultCount),
		attribute.Float64("query.execution_time", meta.ExecutionTime),
	)
}
