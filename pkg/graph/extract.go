package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/medgraph/pkg/ai"
	"github.com/OFFIS-RIT/medgraph/pkg/common"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// EntityTypes is the default biomedical taxonomy. Triplets whose head or
// tail type falls outside the configured taxonomy are dropped.
var EntityTypes = []string{"Disease", "Drug", "Protein", "Gene", "Pathway", "Physiological Process"}

// MinSectionChars is the minimum trimmed section length worth extracting.
const MinSectionChars = 50

var skippedSections = map[string]struct{}{
	"references":       {},
	"acknowledgements": {},
	"acknowledgments":  {},
	"declarations":     {},
}

type extractTriplet struct {
	Head     string `json:"head" jsonschema_description:"Name of the head entity as written in the text"`
	HeadType string `json:"head_type" jsonschema_description:"One of the provided entity types"`
	Relation string `json:"relation" jsonschema_description:"Relation from head to tail in UPPER_SNAKE_CASE"`
	Tail     string `json:"tail" jsonschema_description:"Name of the tail entity as written in the text"`
	TailType string `json:"tail_type" jsonschema_description:"One of the provided entity types"`
}

type extractResponse struct {
	Triplets []extractTriplet `json:"triplets" jsonschema_description:"Relation triplets explicitly stated in the text"`
}

// Extractor turns document sections into relation triplets with a
// structured-output LLM call per section.
type Extractor struct {
	client      ai.GraphAIClient
	parallelism int
	types       map[string]string
	typeList    string
}

// NewExtractorParams configures an Extractor. Parallelism bounds the
// number of concurrent section requests and defaults to 4.
type NewExtractorParams struct {
	Client      ai.GraphAIClient
	Parallelism int
	EntityTypes []string
}

func NewExtractor(params NewExtractorParams) *Extractor {
	parallelism := params.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	types := params.EntityTypes
	if len(types) == 0 {
		types = EntityTypes
	}
	canonical := make(map[string]string, len(types))
	for _, t := range types {
		canonical[strings.ToLower(strings.TrimSpace(t))] = t
	}
	return &Extractor{
		client:      params.Client,
		parallelism: parallelism,
		types:       canonical,
		typeList:    strings.Join(types, ", "),
	}
}

// Eligible reports whether a section is worth sending to extraction.
func Eligible(sec common.Section) bool {
	if len(strings.TrimSpace(sec.Content)) < MinSectionChars {
		return false
	}
	_, skip := skippedSections[strings.ToLower(strings.TrimSpace(sec.Title))]
	return !skip
}

// Extract runs extraction for all eligible sections of doc concurrently.
// The result follows section order. A failing section contributes no
// triplets and is logged; only a cancelled context fails the call.
func (e *Extractor) Extract(ctx context.Context, doc common.Document) ([]common.Triplet, error) {
	var eligible []common.Section
	for _, sec := range doc.Sections {
		if Eligible(sec) {
			eligible = append(eligible, sec)
		}
	}
	if len(eligible) == 0 {
		logger.Debug("[Graph][Extract] No eligible sections", "document", doc.Title)
		return []common.Triplet{}, nil
	}

	results := make([][]common.Triplet, len(eligible))
	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, sec := range eligible {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			triplets, err := e.extractSection(ctx, doc, sec)
			if err != nil {
				logger.Error("[Graph][Extract] Section extraction failed", "document", doc.Title, "section", sec.Title, "err", err)
				results[i] = nil
				return nil
			}
			results[i] = triplets
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []common.Triplet{}
	for _, r := range results {
		out = append(out, r...)
	}
	logger.Info("[Graph][Extract] Extracted triplets", "document", doc.Title, "sections", len(eligible), "triplets", len(out))
	return out, nil
}

func (e *Extractor) extractSection(ctx context.Context, doc common.Document, sec common.Section) ([]common.Triplet, error) {
	prompt := fmt.Sprintf(ai.ExtractTripletsPrompt, e.typeList, doc.Title, sec.Title, strings.TrimSpace(sec.Content))

	var res extractResponse
	err := e.client.GenerateCompletionWithFormat(
		ctx,
		"extract_triplets",
		"Extract relation triplets between biomedical entities from a section of a scientific article.",
		prompt,
		&res,
	)
	if err != nil {
		return nil, err
	}

	out := make([]common.Triplet, 0, len(res.Triplets))
	for _, t := range res.Triplets {
		triplet, ok := e.normalize(t)
		if !ok {
			continue
		}
		triplet.SourceDocID = doc.ID
		triplet.SourceDocTitle = doc.Title
		triplet.SourceSection = sec.Title
		out = append(out, triplet)
	}
	return out, nil
}

func (e *Extractor) normalize(t extractTriplet) (common.Triplet, bool) {
	head := common.DisplayName(t.Head)
	tail := common.DisplayName(t.Tail)
	relation := NormalizeRelation(t.Relation)
	if head == "" || tail == "" || relation == "" {
		return common.Triplet{}, false
	}
	headType, ok := e.types[strings.ToLower(strings.TrimSpace(t.HeadType))]
	if !ok {
		return common.Triplet{}, false
	}
	tailType, ok := e.types[strings.ToLower(strings.TrimSpace(t.TailType))]
	if !ok {
		return common.Triplet{}, false
	}
	return common.Triplet{
		Head:     head,
		HeadType: headType,
		Relation: relation,
		Tail:     tail,
		TailType: tailType,
	}, true
}

var nonLabelRe = regexp.MustCompile(`[^A-Z0-9]+`)

// NormalizeRelation converts a relation phrase to UPPER_SNAKE_CASE with a
// leading letter, e.g. "increases risk of" -> "INCREASES_RISK_OF".
func NormalizeRelation(relation string) string {
	r := nonLabelRe.ReplaceAllString(strings.ToUpper(relation), "_")
	r = strings.Trim(r, "_")
	for r != "" && r[0] >= '0' && r[0] <= '9' {
		r = strings.TrimLeft(r[1:], "_")
	}
	return r
}
