package neo4j

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	reads       []statement
	readCtxErrs []error
	writes      [][]statement

	readFn  func(st statement) ([]*neo4jv5.Record, error)
	writeFn func(sts []statement) ([]*neo4jv5.Record, error)
}

func (f *fakeRunner) read(ctx context.Context, st statement) ([]*neo4jv5.Record, error) {
	f.reads = append(f.reads, st)
	f.readCtxErrs = append(f.readCtxErrs, ctx.Err())
	if f.readFn != nil {
		return f.readFn(st)
	}
	return nil, nil
}

func (f *fakeRunner) write(_ context.Context, sts ...statement) ([]*neo4jv5.Record, error) {
	f.writes = append(f.writes, sts)
	if f.writeFn != nil {
		return f.writeFn(sts)
	}
	return nil, nil
}

func record(kv ...any) *neo4jv5.Record {
	r := &neo4jv5.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Keys = append(r.Keys, kv[i].(string))
		r.Values = append(r.Values, kv[i+1])
	}
	return r
}

func apocRunner(installed bool) *fakeRunner {
	n := int64(0)
	if installed {
		n = 1
	}
	return &fakeRunner{readFn: func(st statement) ([]*neo4jv5.Record, error) {
		if st.query == apocProbeCypher {
			return []*neo4jv5.Record{record("n", n)}, nil
		}
		return nil, nil
	}}
}

var sample = []common.Triplet{
	{Head: "TNF-alpha", HeadType: "Protein", Relation: "ASSOCIATED_WITH", Tail: "Crohn's Disease", TailType: "Disease", SourceDocID: "d1"},
	{Head: "tnf-alpha", HeadType: "Gene", Relation: "bad label;", Tail: "Inflammation", TailType: "Physiological Process", SourceDocID: "d1"},
}

func TestUpsertTriplets_UsesAPOCForValidLabels(t *testing.T) {
	r := apocRunner(true)
	s := newWithRunner(r)

	require.NoError(t, s.UpsertTriplets(context.Background(), sample))
	require.Len(t, r.writes, 1)

	sts := r.writes[0]
	require.Len(t, sts, 3)
	assert.Equal(t, upsertEntitiesCypher, sts[0].query)
	assert.Len(t, sts[0].params["entities"], 3)
	assert.Equal(t, upsertRelationshipsAPOCCypher, sts[1].query)
	assert.Len(t, sts[1].params["edges"], 1)
	assert.Equal(t, upsertRelationshipsGenericCypher, sts[2].query)
	assert.Len(t, sts[2].params["edges"], 1)

	first := sts[0].params["entities"].([]any)[0].(map[string]any)
	assert.Equal(t, "tnf-alpha", first["key"])
	assert.Equal(t, "Protein", first["type"])
}

func TestHasAPOC_RetriesAfterFailedCheck(t *testing.T) {
	probes := 0
	r := &fakeRunner{readFn: func(st statement) ([]*neo4jv5.Record, error) {
		probes++
		if probes == 1 {
			return nil, errors.New("connection reset")
		}
		return []*neo4jv5.Record{record("n", int64(1))}, nil
	}}
	s := newWithRunner(r)
	ctx := context.Background()

	require.NoError(t, s.UpsertTriplets(ctx, sample))
	require.Len(t, r.writes[0], 2)
	assert.Equal(t, upsertRelationshipsGenericCypher, r.writes[0][1].query)

	require.NoError(t, s.UpsertTriplets(ctx, sample))
	require.Len(t, r.writes[1], 3)
	assert.Equal(t, upsertRelationshipsAPOCCypher, r.writes[1][1].query)

	require.NoError(t, s.UpsertTriplets(ctx, sample))
	assert.Equal(t, 2, probes)
}

func TestHasAPOC_IgnoresCallerCancellation(t *testing.T) {
	r := apocRunner(true)
	s := newWithRunner(r)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, s.hasAPOC(ctx))
	require.Len(t, r.readCtxErrs, 1)
	assert.NoError(t, r.readCtxErrs[0])
}

func TestUpsertTriplets_GenericWithoutAPOC(t *testing.T) {
	r := apocRunner(false)
	s := newWithRunner(r)

	require.NoError(t, s.UpsertTriplets(context.Background(), sample))
	sts := r.writes[0]
	require.Len(t, sts, 2)
	assert.Equal(t, upsertRelationshipsGenericCypher, sts[1].query)
	assert.Len(t, sts[1].params["edges"], 2)
	assert.True(t, strings.Contains(sts[1].query, store.GenericRelation))
}

func TestCreateCommunityIndex_GDSMissing(t *testing.T) {
	r := &fakeRunner{writeFn: func(sts []statement) ([]*neo4jv5.Record, error) {
		return nil, &neo4jv5.Neo4jError{Code: "Neo.ClientError.Procedure.ProcedureNotFound", Msg: "There is no procedure with the name `gds.graph.drop`"}
	}}
	s := newWithRunner(r)

	err := s.CreateCommunityIndex(context.Background())
	assert.True(t, errors.Is(err, store.ErrClusteringUnavailable), "got %v", err)
}

func TestCreateCommunityIndex_DropsProjectionOnFailure(t *testing.T) {
	r := &fakeRunner{writeFn: func(sts []statement) ([]*neo4jv5.Record, error) {
		if sts[0].query == leidenWriteCypher {
			return nil, errors.New("leiden failed")
		}
		return nil, nil
	}}
	s := newWithRunner(r)

	require.Error(t, s.CreateCommunityIndex(context.Background()))

	var queries []string
	for _, sts := range r.writes {
		queries = append(queries, sts[0].query)
	}
	assert.Equal(t, []string{dropProjectionCypher, projectGraphCypher, leidenWriteCypher, dropProjectionCypher}, queries)
}

func TestCreateVectorIndex_DimensionMismatch(t *testing.T) {
	r := &fakeRunner{readFn: func(st statement) ([]*neo4jv5.Record, error) {
		if st.query == vectorIndexDimCypher {
			return []*neo4jv5.Record{record("dim", int64(768))}, nil
		}
		return nil, nil
	}}
	s := newWithRunner(r)

	err := s.CreateVectorIndex(context.Background(), 1536)
	assert.True(t, errors.Is(err, store.ErrDimensionMismatch))
	assert.Empty(t, r.writes)
}

func TestUpsertChunks_UnknownSection(t *testing.T) {
	r := &fakeRunner{writeFn: func(sts []statement) ([]*neo4jv5.Record, error) {
		return []*neo4jv5.Record{record("n", int64(1))}, nil
	}}
	s := newWithRunner(r)

	err := s.UpsertChunks(context.Background(), []common.Chunk{
		{ID: "c1", SectionID: "s1", Embedding: []float32{1}},
		{ID: "c2", SectionID: "missing", Embedding: []float32{1}},
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestMatchEntities_ScoresAndDedupes(t *testing.T) {
	r := &fakeRunner{readFn: func(st statement) ([]*neo4jv5.Record, error) {
		return []*neo4jv5.Record{
			record("key", "disease activity", "name", "Disease Activity", "type", "Physiological Process", "community_id", nil),
			record("key", "tnf-alpha", "name", "TNF-alpha", "type", "Protein", "community_id", int64(4)),
			record("key", "tnf-alpha", "name", "TNF-alpha", "type", "Protein", "community_id", int64(4)),
			record("key", "alpha", "name", "Alpha", "type", "Gene", "community_id", nil),
		}, nil
	}}
	s := newWithRunner(r)

	got, err := s.MatchEntities(context.Background(), "What is the role of TNF-alpha in Crohn's disease?", 5)
	require.NoError(t, err)
	require.Len(t, r.reads, 1)
	assert.Equal(t, `tnf\-alpha OR crohn OR disease`, r.reads[0].params["lucene"])

	require.Len(t, got, 3)
	assert.Equal(t, "tnf-alpha", got[0].Key)
	require.NotNil(t, got[0].CommunityID)
	assert.EqualValues(t, 4, *got[0].CommunityID)
	assert.Nil(t, got[1].CommunityID)
}

func TestRankCommunities_SortsAndLimits(t *testing.T) {
	r := &fakeRunner{readFn: func(st statement) ([]*neo4jv5.Record, error) {
		return []*neo4jv5.Record{
			record("community_id", int64(3), "size", int64(2)),
			record("community_id", int64(1), "size", int64(5)),
			record("community_id", int64(0), "size", int64(2)),
		}, nil
	}}
	s := newWithRunner(r)

	ranks, err := s.RankCommunities(context.Background(), []string{"tnf-alpha"}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []store.CommunityRank{{CommunityID: 1, Size: 5}, {CommunityID: 0, Size: 2}}, ranks)
	assert.Contains(t, r.reads[0].query, "[*0..2]")
}

func TestUpsertDocument_ClearsChunksBeforeSections(t *testing.T) {
	r := &fakeRunner{}
	s := newWithRunner(r)

	err := s.UpsertDocument(context.Background(), common.Document{
		ID:       "d1",
		Title:    "TNF-alpha in Crohn's Disease",
		Sections: []common.Section{{ID: "s1", Title: "Results", Level: 2}},
	})
	require.NoError(t, err)
	require.Len(t, r.writes, 1)

	var queries []string
	for _, st := range r.writes[0] {
		queries = append(queries, st.query)
	}
	assert.Equal(t, []string{
		upsertDocumentCypher,
		deleteDocumentChunksCypher,
		deleteStaleSectionsCypher,
		upsertSectionsCypher,
		linkSectionsCypher,
	}, queries)
	assert.Equal(t, "d1", r.writes[0][1].params["id"])
}

func TestRelationshipCypher_OverwritesProvenanceOnMatch(t *testing.T) {
	assert.Contains(t, upsertRelationshipsAPOCCypher, "t, {source_doc_id: row.doc, source_section: row.section})")
	assert.NotContains(t, upsertRelationshipsGenericCypher, "ON CREATE")
}
