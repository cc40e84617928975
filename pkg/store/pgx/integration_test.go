package pgx

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDatabaseURL points at a Postgres with the pgvector extension
// available. Tests run in a throwaway schema that is dropped afterwards.
const testDatabaseURLEnv = "MEDGRAPH_TEST_DATABASE_URL"

func newTestStorage(t *testing.T) (*GraphDBStorage, *pgxpool.Pool) {
	t.Helper()
	raw := os.Getenv(testDatabaseURLEnv)
	if raw == "" {
		t.Skipf("%s not set", testDatabaseURLEnv)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		t.Skipf("%s must be a postgres:// url", testDatabaseURLEnv)
	}
	ctx := context.Background()

	id, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz", 10)
	require.NoError(t, err)
	schema := "medgraph_it_" + id

	admin, err := pgxv5.Connect(ctx, raw)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = admin.Close(context.Background())
	})

	q := u.Query()
	q.Set("search_path", schema+",public")
	u.RawQuery = q.Encode()
	scoped := u.String()

	require.NoError(t, Migrate(scoped))

	cfg, err := pgxpool.ParseConfig(scoped)
	require.NoError(t, err)
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewGraphDBStorageWithConnection(pool, WithBatchSize(2)), pool
}

func integrationDocument() common.Document {
	return common.Document{
		ID:         "doc-1",
		Title:      "Metformin in Type 2 Diabetes",
		SourcePath: "papers/metformin.md",
		Sections: []common.Section{
			{ID: "sec-1", Title: "Results", DocumentID: "doc-1", Level: 2, Content: "Metformin lowers hepatic glucose output."},
			{ID: "sec-2", Title: "Discussion", DocumentID: "doc-1", Level: 2, Content: "Aspirin inhibits COX-1."},
		},
	}
}

func TestPostgres_VectorIndexAndReingest(t *testing.T) {
	s, pool := newTestStorage(t)
	ctx := context.Background()
	doc := integrationDocument()

	require.NoError(t, s.UpsertDocument(ctx, doc))
	require.NoError(t, s.UpsertChunks(ctx, []common.Chunk{
		{ID: "c1", SectionID: "sec-1", Content: "Metformin lowers hepatic glucose output.", Embedding: []float32{1, 0}},
		{ID: "c2", SectionID: "sec-1", Content: "An older second chunk.", Embedding: []float32{1, 1}},
		{ID: "c3", SectionID: "sec-2", Content: "Aspirin inhibits COX-1.", Embedding: []float32{0, 1}},
	}))

	require.NoError(t, s.CreateVectorIndex(ctx, 2))
	require.NoError(t, s.CreateVectorIndex(ctx, 2))
	dim, err := s.embeddingDim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dim)

	var indexes int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM pg_indexes WHERE tablename = 'chunks' AND indexname = 'chunks_embedding_idx' AND schemaname = current_schema()`,
	).Scan(&indexes))
	assert.Equal(t, 1, indexes)

	err = s.CreateVectorIndex(ctx, 3)
	assert.True(t, errors.Is(err, store.ErrDimensionMismatch), "got %v", err)

	res, err := s.SearchChunks(ctx, []float32{1, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "c1", res[0].ChunkID)
	assert.Equal(t, "Results", res[0].SectionTitle)
	assert.Equal(t, "Metformin in Type 2 Diabetes", res[0].DocumentTitle)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)

	// sec-1 shrinks to one chunk and sec-2 disappears
	doc.Sections = doc.Sections[:1]
	require.NoError(t, s.UpsertDocument(ctx, doc))
	require.NoError(t, s.UpsertChunks(ctx, []common.Chunk{
		{ID: "c1", SectionID: "sec-1", Content: "Metformin lowers hepatic glucose output.", Embedding: []float32{1, 0}},
	}))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Sections)
	assert.EqualValues(t, 1, counts.Chunks)
}

func TestPostgres_CommunitiesAndRanking(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTriplets(ctx, []common.Triplet{
		{Head: "Aspirin", HeadType: "Drug", Relation: "INHIBITS", Tail: "COX-1", TailType: "Protein", SourceDocID: "d1"},
		{Head: "Aspirin", HeadType: "Drug", Relation: "REDUCES", Tail: "Platelet Aggregation", TailType: "Physiological Process", SourceDocID: "d1"},
		{Head: "COX-1", HeadType: "Protein", Relation: "REGULATES", Tail: "Platelet Aggregation", TailType: "Physiological Process", SourceDocID: "d1"},
		{Head: "Metformin", HeadType: "Drug", Relation: "REDUCES", Tail: "Insulin Resistance", TailType: "Physiological Process", SourceDocID: "d1"},
		{Head: "Metformin", HeadType: "Drug", Relation: "TREATS", Tail: "Type 2 Diabetes", TailType: "Disease", SourceDocID: "d1"},
		{Head: "Insulin Resistance", HeadType: "Physiological Process", Relation: "CAUSES", Tail: "Type 2 Diabetes", TailType: "Disease", SourceDocID: "d1"},
		{Head: "Platelet Aggregation", HeadType: "Physiological Process", Relation: "ASSOCIATED_WITH", Tail: "Metformin", TailType: "Drug", SourceDocID: "d1"},
	}))
	require.NoError(t, s.UpsertTriplets(ctx, []common.Triplet{
		{Head: "Metformin", HeadType: "Drug", Relation: "TREATS", Tail: "Type 2 Diabetes", TailType: "Disease", SourceDocID: "d2", SourceSection: "Methods"},
	}))
	require.NoError(t, s.CreateCommunityIndex(ctx))

	var source string
	require.NoError(t, s.conn.QueryRow(ctx,
		`SELECT source_doc_id FROM relationships WHERE head = 'metformin' AND label = 'TREATS' AND tail = 'type 2 diabetes'`,
	).Scan(&source))
	assert.Equal(t, "d2", source)

	near, err := s.RankCommunities(ctx, []string{"metformin"}, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []store.CommunityRank{{CommunityID: 1, Size: 3}}, near)

	far, err := s.RankCommunities(ctx, []string{"metformin"}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []store.CommunityRank{{CommunityID: 0, Size: 3}, {CommunityID: 1, Size: 3}}, far)

	summaries, err := s.GetCommunitySummaries(ctx, []int64{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.EqualValues(t, 1, summaries[0].CommunityID)
	assert.Equal(t, []string{"Insulin Resistance", "Metformin", "Type 2 Diabetes"}, summaries[0].Entities)
	assert.EqualValues(t, 0, summaries[1].CommunityID)
	assert.True(t, strings.EqualFold(summaries[1].Entities[0], "aspirin"))

	largest, err := s.GetCommunitySummaries(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, largest, 1)
	assert.EqualValues(t, 0, largest[0].CommunityID)
}
