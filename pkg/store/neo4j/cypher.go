package neo4j

var schemaStatements = []string{
	`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
	`CREATE CONSTRAINT section_id IF NOT EXISTS FOR (s:Section) REQUIRE s.id IS UNIQUE`,
	`CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT entity_key IF NOT EXISTS FOR (e:Entity) REQUIRE e.key IS UNIQUE`,
	`CREATE FULLTEXT INDEX entity_names IF NOT EXISTS FOR (e:Entity) ON EACH [e.name]`,
}

const apocProbeCypher = `
SHOW PROCEDURES YIELD name
WHERE name = 'apoc.merge.relationship'
RETURN count(name) AS n
`

const upsertDocumentCypher = `
MERGE (d:Document {id: $id})
SET d.title = $title,
    d.authors = $authors,
    d.year = $year,
    d.doi = $doi,
    d.source_path = $source_path
`

const deleteDocumentChunksCypher = `
MATCH (:Document {id: $id})-[:HAS_SECTION]->(:Section)-[:HAS_CHUNK]->(c:Chunk)
DETACH DELETE c
`

const deleteStaleSectionsCypher = `
MATCH (:Document {id: $id})-[:HAS_SECTION]->(s:Section)
WHERE NOT s.id IN $ids
DETACH DELETE s
`

const upsertSectionsCypher = `
MATCH (d:Document {id: $id})
UNWIND $sections AS row
MERGE (s:Section {id: row.id})
SET s.title = row.title,
    s.content = row.content,
    s.level = row.level,
    s.position = row.position,
    s.document_id = $id
MERGE (d)-[:HAS_SECTION]->(s)
`

const linkSectionsCypher = `
UNWIND $links AS link
MATCH (p:Section {id: link.parent}), (c:Section {id: link.child})
MERGE (p)-[:HAS_SUBSECTION]->(c)
`

const upsertChunksCypher = `
UNWIND $chunks AS row
MATCH (s:Section {id: row.section_id})
MERGE (c:Chunk {id: row.id})
SET c += row.metadata,
    c.content = row.content,
    c.embedding = row.embedding
MERGE (s)-[:HAS_CHUNK]->(c)
RETURN count(c) AS n
`

const vectorIndexDimCypher = `
SHOW INDEXES YIELD name, options
WHERE name = $name
RETURN options.indexConfig['vector.dimensions'] AS dim
`

const mismatchedVectorsCypher = `
MATCH (c:Chunk)
WHERE c.embedding IS NOT NULL AND size(c.embedding) <> $dim
RETURN count(c) AS n
`

// %d is the validated vector dimension; index options do not accept
// parameters.
const createVectorIndexCypher = "CREATE VECTOR INDEX chunk_embeddings IF NOT EXISTS FOR (c:Chunk) ON (c.embedding) " +
	"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}"

const searchChunksCypher = `
CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node, score
MATCH (d:Document)-[:HAS_SECTION]->(s:Section)-[:HAS_CHUNK]->(node)
RETURN node.id AS chunk_id,
       node.content AS content,
       s.id AS section_id,
       s.title AS section_title,
       d.id AS document_id,
       d.title AS document_title,
       d.source_path AS source_path,
       score
ORDER BY score DESC, chunk_id
`

const upsertEntitiesCypher = `
UNWIND $entities AS row
MERGE (e:Entity {key: row.key})
ON CREATE SET e.name = row.name, e.type = row.type
`

const upsertRelationshipsAPOCCypher = `
UNWIND $edges AS row
MATCH (h:Entity {key: row.head}), (t:Entity {key: row.tail})
CALL apoc.merge.relationship(h, row.label, {}, {source_doc_id: row.doc, source_section: row.section, label: row.label}, t, {source_doc_id: row.doc, source_section: row.section})
YIELD rel
RETURN count(rel) AS n
`

const upsertRelationshipsGenericCypher = `
UNWIND $edges AS row
MATCH (h:Entity {key: row.head}), (t:Entity {key: row.tail})
MERGE (h)-[r:RELATED_TO {label: row.label}]->(t)
SET r.source_doc_id = row.doc, r.source_section = row.section
RETURN count(r) AS n
`

const matchEntitiesCypher = `
MATCH (e:Entity)
WHERE $text CONTAINS e.key
RETURN e.key AS key, e.name AS name, e.type AS type, e.community_id AS community_id
`

const matchEntitiesFulltextCypher = `
CALL {
    MATCH (e:Entity)
    WHERE $text CONTAINS e.key
    RETURN e
    UNION
    CALL db.index.fulltext.queryNodes($index, $lucene) YIELD node
    RETURN node AS e
}
RETURN e.key AS key, e.name AS name, e.type AS type, e.community_id AS community_id
`

// %d is the hop count; variable length bounds do not accept parameters.
const rankCommunitiesCypher = `
MATCH (s:Entity)-[*0..%d]-(n:Entity)
WHERE s.key IN $keys
WITH DISTINCT n.community_id AS cid
WHERE cid IS NOT NULL
MATCH (m:Entity {community_id: cid})
RETURN cid AS community_id, count(m) AS size
ORDER BY size DESC, community_id ASC
`

const dropProjectionCypher = `CALL gds.graph.drop($name, false) YIELD graphName RETURN graphName`

const projectGraphCypher = `
CALL gds.graph.project($name, 'Entity', {ALL: {type: '*', orientation: 'UNDIRECTED'}})
YIELD nodeCount, relationshipCount
RETURN nodeCount, relationshipCount
`

const leidenWriteCypher = `
CALL gds.leiden.write($name, {writeProperty: 'community_id'})
YIELD communityCount, modularity
RETURN communityCount, modularity
`

const communitySummariesCypher = `
MATCH (e:Entity)
WHERE e.community_id IS NOT NULL AND (size($ids) = 0 OR e.community_id IN $ids)
WITH e ORDER BY e.key
WITH e.community_id AS cid, collect(e.name) AS names
RETURN cid AS community_id, names[0..$n] AS entities, size(names) AS size
ORDER BY size DESC, community_id ASC
`

const countsCypher = `
CALL { MATCH (d:Document) RETURN count(d) AS documents }
CALL { MATCH (s:Section) RETURN count(s) AS sections }
CALL { MATCH (c:Chunk) RETURN count(c) AS chunks }
CALL { MATCH (e:Entity) RETURN count(e) AS entities }
CALL { MATCH (:Entity)-[r]->(:Entity) RETURN count(r) AS relationships }
RETURN documents, sections, chunks, entities, relationships
`
