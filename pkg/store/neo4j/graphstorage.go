// Package neo4j stores the document tree and knowledge graph in Neo4j.
// Relation labels become edge types through APOC when it is installed;
// communities come from the Graph Data Science Leiden procedure.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	vectorIndexName   = "chunk_embeddings"
	fulltextIndexName = "entity_names"
)

type statement struct {
	query  string
	params map[string]any
}

// runner executes Cypher. write runs all statements in one transaction and
// returns the records of the last one.
type runner interface {
	read(ctx context.Context, st statement) ([]*neo4jv5.Record, error)
	write(ctx context.Context, sts ...statement) ([]*neo4jv5.Record, error)
}

type driverRunner struct {
	driver   neo4jv5.DriverWithContext
	database string
}

func (d *driverRunner) read(ctx context.Context, st statement) ([]*neo4jv5.Record, error) {
	session := d.driver.NewSession(ctx, neo4jv5.SessionConfig{AccessMode: neo4jv5.AccessModeRead, DatabaseName: d.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, st.query, st.params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func (d *driverRunner) write(ctx context.Context, sts ...statement) ([]*neo4jv5.Record, error) {
	session := d.driver.NewSession(ctx, neo4jv5.SessionConfig{AccessMode: neo4jv5.AccessModeWrite, DatabaseName: d.database})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		var records []*neo4jv5.Record
		for _, st := range sts {
			result, err := tx.Run(ctx, st.query, st.params)
			if err != nil {
				return nil, err
			}
			records, err = result.Collect(ctx)
			if err != nil {
				return nil, err
			}
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	records, _ := out.([]*neo4jv5.Record)
	return records, nil
}

// GraphStorage implements store.GraphStorage on Neo4j.
type GraphStorage struct {
	run    runner
	driver neo4jv5.DriverWithContext

	apocMu     sync.Mutex
	apocProbed bool
	apoc       bool
}

type Params struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewGraphStorage connects to Neo4j and creates constraints and the
// fulltext index.
func NewGraphStorage(ctx context.Context, params Params) (*GraphStorage, error) {
	driver, err := neo4jv5.NewDriverWithContext(params.URI, neo4jv5.BasicAuth(params.Username, params.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	s := newWithRunner(&driverRunner{driver: driver, database: params.Database})
	s.driver = driver
	if err := s.EnsureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func newWithRunner(r runner) *GraphStorage {
	return &GraphStorage{run: r}
}

var _ store.GraphStorage = (*GraphStorage)(nil)

func (s *GraphStorage) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// EnsureSchema creates uniqueness constraints and the entity name index.
func (s *GraphStorage) EnsureSchema(ctx context.Context) error {
	for _, q := range schemaStatements {
		if _, err := s.run.write(ctx, statement{query: q}); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	logger.Debug("[Neo4j][Schema] Constraints ready")
	return nil
}

// hasAPOC probes for apoc.merge.relationship. The answer is cached once a
// probe succeeds; a failed probe falls back to generic relationships for
// that call only.
func (s *GraphStorage) hasAPOC(ctx context.Context) bool {
	s.apocMu.Lock()
	defer s.apocMu.Unlock()
	if s.apocProbed {
		return s.apoc
	}

	records, err := s.run.read(context.WithoutCancel(ctx), statement{query: apocProbeCypher})
	if err != nil {
		logger.Warn("[Neo4j][APOC] Probe failed, using generic relationships", "err", err)
		return false
	}
	s.apocProbed = true
	if len(records) > 0 {
		s.apoc = recordInt64(records[0], "n") > 0
	}
	if !s.apoc {
		logger.Warn("[Neo4j][APOC] APOC not installed, relation labels are stored as properties", "type", store.GenericRelation)
	}
	return s.apoc
}

func procedureMissing(err error) bool {
	var neoErr *neo4jv5.Neo4jError
	if errors.As(err, &neoErr) {
		return neoErr.Code == "Neo.ClientError.Procedure.ProcedureNotFound"
	}
	return false
}
