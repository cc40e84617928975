package pgx

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/medgraph/pkg/cluster"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL with pgvector.
// Entities and relationships live in plain tables; community detection
// runs in process on a snapshot of the relationship table.
type GraphDBStorage struct {
	conn          pgxIConn
	clusterOpts   cluster.Options
	batchSize     int
	communityLock sync.Mutex
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithClusterOptions tunes the Louvain run used by CreateCommunityIndex.
func WithClusterOptions(opts cluster.Options) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.clusterOpts = opts
	}
}

// WithBatchSize sets how many rows are written per statement.
func WithBatchSize(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool. The pool must have the pgvector types registered.
func NewGraphDBStorageWithConnection(
	conn pgxIConn,
	opts ...GraphDBStorageOption,
) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:      conn,
		batchSize: 1000,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)
