package common

import (
	"regexp"
	"strings"
)

// Document is a single ingested source. It is created once per source
// file and treated as immutable afterwards.
//
// A document contains:
//   - Sections: heading-delimited parts of the text, in source order
//   - Authors: names detected heuristically below the title heading
type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Year       *int      `json:"year,omitempty"`
	DOI        *string   `json:"doi,omitempty"`
	SourcePath string    `json:"source_path"`
	Sections   []Section `json:"sections"`
}

// Section is a heading-delimited part of a Document. Level is the heading
// depth (number of '#' markers). A preamble before the first heading has
// level 0.
type Section struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Level      int     `json:"level"`
	DocumentID string  `json:"document_id"`
	ParentID   *string `json:"parent_id,omitempty"`
	Chunks     []Chunk `json:"chunks"`
}

// Chunk is the leaf text unit that gets embedded and searched.
type Chunk struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	SectionID string            `json:"section_id"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// Chunk metadata keys.
const (
	MetaDocumentID    = "document_id"
	MetaDocumentTitle = "document_title"
	MetaSectionTitle  = "section_title"
	MetaSourcePath    = "source_path"
)

// Entity is a node in the knowledge graph. Key is the identity used for
// merging; Name keeps the casing of the first mention. Type is only ever
// written when the entity is created.
type Entity struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	CommunityID *int64 `json:"community_id,omitempty"`
}

// Relationship is a directed, labeled edge between two entities, carrying
// the provenance of the triplet that produced it.
type Relationship struct {
	Head          string `json:"head"`
	Label         string `json:"label"`
	Tail          string `json:"tail"`
	SourceDocID   string `json:"source_doc_id"`
	SourceSection string `json:"source_section"`
}

// Triplet is the transient output of relation extraction. It is never
// persisted as-is; storage turns it into two entities and one relationship.
type Triplet struct {
	Head           string `json:"head"`
	HeadType       string `json:"head_type"`
	Relation       string `json:"relation"`
	Tail           string `json:"tail"`
	TailType       string `json:"tail_type"`
	SourceDocID    string `json:"source_doc_id"`
	SourceDocTitle string `json:"source_doc_title"`
	SourceSection  string `json:"source_section"`
}

// CommunitySummary lists the member entity names of one community.
type CommunitySummary struct {
	CommunityID int64    `json:"community_id"`
	Entities    []string `json:"entities"`
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// EntityKey returns the canonical identity key for an entity name:
// lower-cased, trimmed, with inner whitespace collapsed to single spaces.
// "Type 2  Diabetes" and "type 2 diabetes" share one key.
func EntityKey(name string) string {
	name = strings.TrimSpace(name)
	name = whitespaceRe.ReplaceAllString(name, " ")
	return strings.ToLower(name)
}

// DisplayName trims and collapses whitespace but keeps casing.
func DisplayName(name string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(name), " ")
}

// Relationship returns the edge a triplet describes, keyed by entity keys.
func (t Triplet) Relationship() Relationship {
	return Relationship{
		Head:          EntityKey(t.Head),
		Label:         t.Relation,
		Tail:          EntityKey(t.Tail),
		SourceDocID:   t.SourceDocID,
		SourceSection: t.SourceSection,
	}
}
