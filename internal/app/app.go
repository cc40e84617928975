// Package app wires configuration into the clients shared by the server,
// the worker and the command line tools.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/medgraph/internal/config"
	"github.com/OFFIS-RIT/medgraph/pkg/agent"
	"github.com/OFFIS-RIT/medgraph/pkg/ai"
	oai "github.com/OFFIS-RIT/medgraph/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/medgraph/pkg/ai/openai"
	"github.com/OFFIS-RIT/medgraph/pkg/document"
	"github.com/OFFIS-RIT/medgraph/pkg/graph"
	"github.com/OFFIS-RIT/medgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/logger/console"
	"github.com/OFFIS-RIT/medgraph/pkg/query"
	"github.com/OFFIS-RIT/medgraph/pkg/store"
	"github.com/OFFIS-RIT/medgraph/pkg/store/memory"
	neo "github.com/OFFIS-RIT/medgraph/pkg/store/neo4j"
	pgstore "github.com/OFFIS-RIT/medgraph/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel/trace"
)

// InitLogger installs the console logger for cfg.
func InitLogger(cfg config.Config, prefix string) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Format: cfg.LogFormat,
		Prefix: prefix,
		Output: os.Stderr,
	}))
}

// NewAIClient creates the chat and embedding client selected by
// AI_ADAPTER.
func NewAIClient(cfg config.AI) (ai.GraphAIClient, error) {
	switch cfg.Adapter {
	case config.AdapterOllama:
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ChatModel:       cfg.ChatModel,
			ExtractionModel: cfg.ExtractionModelOrChat(),
			EmbeddingModel:  cfg.EmbedModel,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,

			MaxConcurrentRequests: int64(cfg.ParallelRequests),
			Timeout:               cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ChatModel:           cfg.ChatModel,
			ExtractionModel:     cfg.ExtractionModelOrChat(),
			EmbeddingModel:      cfg.EmbedModel,
			EmbeddingDimensions: cfg.EmbedDim,

			ChatURL:      cfg.ChatURL,
			ChatKey:      cfg.ChatKey,
			EmbeddingURL: cfg.EmbedURL,
			EmbeddingKey: cfg.EmbedKey,

			MaxConcurrentRequests: int64(cfg.ParallelRequests),
			Timeout:               cfg.Timeout,
		}), nil
	}
}

// Deps holds the long lived clients of a process.
type Deps struct {
	Config config.Config
	AI     ai.GraphAIClient
	Store  store.GraphStorage

	// Pool is set whenever DATABASE_URL is configured, also for the neo4j
	// and memory backends, because the lease locks live in Postgres.
	Pool   *pgxpool.Pool
	Leases *leaselock.Client

	closers []func()
}

// New connects to the configured backends. Postgres migrations are applied
// before the pool is opened.
func New(ctx context.Context, cfg config.Config) (*Deps, error) {
	d := &Deps{Config: cfg}

	client, err := NewAIClient(cfg.AI)
	if err != nil {
		return nil, err
	}
	d.AI = client

	if cfg.DatabaseURL != "" {
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pool, err := newPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.Pool = pool
		d.Leases = leaselock.New(pool)
		d.closers = append(d.closers, pool.Close)
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		d.Store = pgstore.NewGraphDBStorageWithConnection(d.Pool)
	case config.BackendNeo4j:
		s, err := neo.NewGraphStorage(ctx, neo.Params{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Store = s
		d.closers = append(d.closers, func() {
			if err := s.Close(context.Background()); err != nil {
				logger.Warn("[App][Close] Failed to close neo4j driver", "err", err)
			}
		})
	default:
		d.Store = memory.New()
	}

	logger.Info("[App][Init] Backends ready",
		"store", cfg.StoreBackend,
		"ai", cfg.AI.Adapter,
		"embed_dim", cfg.AI.EmbedDim,
		"locks", d.Leases != nil,
	)
	return d, nil
}

func newPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Close releases connections in reverse order of creation.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Locker returns the lease lock client or nil without Postgres.
func (d *Deps) Locker() graph.Locker {
	if d.Leases == nil {
		return nil
	}
	return d.Leases
}

func (d *Deps) NewBuilder() (*graph.Builder, error) {
	return graph.NewBuilder(graph.NewBuilderParams{
		Store:    d.Store,
		AIClient: d.AI,
		Extractor: graph.NewExtractor(graph.NewExtractorParams{
			Client:      d.AI,
			Parallelism: d.Config.ExtractionParallelism,
		}),
		Parser:       document.Parser{MaxTokens: d.Config.ChunkMaxTokens},
		EmbeddingDim: d.Config.AI.EmbedDim,

		Locker:      d.Locker(),
		LockOptions: leaselock.Options{TTL: d.Config.LockTTL, Wait: true, TokenPrefix: "medgraph:"},
	})
}

func (d *Deps) NewRetriever(tp trace.TracerProvider) *query.Retriever {
	return query.NewRetriever(query.NewRetrieverParams{
		Store:          d.Store,
		AIClient:       d.AI,
		TracerProvider: tp,
	})
}

func (d *Deps) NewOrchestrator(tp trace.TracerProvider) *agent.Orchestrator {
	return agent.NewOrchestrator(agent.NewOrchestratorParams{
		AIClient:       d.AI,
		Retriever:      d.NewRetriever(tp),
		TracerProvider: tp,
	})
}
