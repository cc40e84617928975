package pgx

const upsertDocumentSQL = `
INSERT INTO documents (id, title, authors, year, doi, source_path)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET title       = EXCLUDED.title,
    authors     = EXCLUDED.authors,
    year        = EXCLUDED.year,
    doi         = EXCLUDED.doi,
    source_path = EXCLUDED.source_path,
    updated_at  = now();
`

const upsertSectionsSQL = `
INSERT INTO sections (id, document_id, parent_id, position, level, title, content)
SELECT s.id, $1, NULLIF(s.parent_id, ''), s.position, s.level, s.title, s.content
FROM unnest($2::text[], $3::text[], $4::int[], $5::int[], $6::text[], $7::text[])
    AS s(id, parent_id, position, level, title, content)
ON CONFLICT (id) DO UPDATE
SET parent_id = EXCLUDED.parent_id,
    position  = EXCLUDED.position,
    level     = EXCLUDED.level,
    title     = EXCLUDED.title,
    content   = EXCLUDED.content;
`

const deleteDocumentChunksSQL = `
DELETE FROM chunks
WHERE section_id IN (SELECT id FROM sections WHERE document_id = $1);
`

const deleteStaleSectionsSQL = `
DELETE FROM sections
WHERE document_id = $1 AND NOT (id = ANY($2::text[]));
`

const upsertChunkSQL = `
INSERT INTO chunks (id, section_id, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET section_id = EXCLUDED.section_id,
    content    = EXCLUDED.content,
    metadata   = EXCLUDED.metadata,
    embedding  = EXCLUDED.embedding;
`

const embeddingDimSQL = `
SELECT atttypmod
FROM pg_attribute
WHERE attrelid = 'chunks'::regclass AND attname = 'embedding';
`

const mismatchedVectorsSQL = `
SELECT count(*)
FROM chunks
WHERE embedding IS NOT NULL AND vector_dims(embedding) <> $1;
`

// The dimension is validated as an int before formatting.
const setEmbeddingDimSQL = `ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(%d);`

const createVectorIndexSQL = `
CREATE INDEX IF NOT EXISTS chunks_embedding_idx
ON chunks USING hnsw (embedding vector_cosine_ops);
`

const searchChunksSQL = `
SELECT c.id, c.content, s.id, s.title, d.id, d.title, d.source_path,
       1 - (c.embedding <=> $1) AS score
FROM chunks c
JOIN sections s ON s.id = c.section_id
JOIN documents d ON d.id = s.document_id
WHERE c.embedding IS NOT NULL
ORDER BY c.embedding <=> $1, c.id
LIMIT $2;
`

const upsertEntitiesSQL = `
INSERT INTO entities (key, name, type)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[])
ON CONFLICT (key) DO NOTHING;
`

const upsertRelationshipsSQL = `
INSERT INTO relationships (head, label, tail, source_doc_id, source_section)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[])
ON CONFLICT (head, label, tail) DO UPDATE
SET source_doc_id  = EXCLUDED.source_doc_id,
    source_section = EXCLUDED.source_section;
`

const matchEntitiesSQL = `
SELECT key, name, type, community_id
FROM entities
WHERE strpos($1, key) > 0
   OR key LIKE ANY($2::text[]);
`

const rankCommunitiesSQL = `
WITH RECURSIVE reach(key, depth) AS (
    SELECT key, 0 FROM entities WHERE key = ANY($1::text[])
    UNION
    SELECT CASE WHEN r.head = reach.key THEN r.tail ELSE r.head END, reach.depth + 1
    FROM reach
    JOIN relationships r ON r.head = reach.key OR r.tail = reach.key
    WHERE reach.depth < $2
),
hit AS (
    SELECT DISTINCT e.community_id
    FROM reach
    JOIN entities e ON e.key = reach.key
    WHERE e.community_id IS NOT NULL
)
SELECT h.community_id, count(e.id)::int AS size
FROM hit h
JOIN entities e ON e.community_id = h.community_id
GROUP BY h.community_id
ORDER BY size DESC, h.community_id ASC
LIMIT NULLIF($3::int, 0);
`

const graphSnapshotEntitiesSQL = `SELECT key FROM entities;`

const graphSnapshotEdgesSQL = `SELECT head, tail FROM relationships;`

const createProjectionSQL = `
CREATE TEMP TABLE entity_graph (
    key          TEXT PRIMARY KEY,
    community_id BIGINT NOT NULL
) ON COMMIT DROP;
`

const dropProjectionSQL = `DROP TABLE IF EXISTS entity_graph;`

const applyProjectionSQL = `
UPDATE entities e
SET community_id = p.community_id
FROM entity_graph p
WHERE p.key = e.key;
`

const communitySummariesSQL = `
WITH picked AS (
    SELECT community_id, count(*) AS size
    FROM entities
    WHERE community_id IS NOT NULL
      AND (cardinality($1::bigint[]) = 0 OR community_id = ANY($1::bigint[]))
    GROUP BY community_id
)
SELECT p.community_id,
       ARRAY(
           SELECT e.name FROM entities e
           WHERE e.community_id = p.community_id
           ORDER BY e.key
           LIMIT $3
       ) AS names
FROM picked p
ORDER BY array_position($1::bigint[], p.community_id) NULLS LAST, p.size DESC, p.community_id
LIMIT NULLIF($2::int, 0);
`

const countsSQL = `
SELECT (SELECT count(*) FROM documents),
       (SELECT count(*) FROM sections),
       (SELECT count(*) FROM chunks),
       (SELECT count(*) FROM entities),
       (SELECT count(*) FROM relationships);
`
