package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/medgraph/pkg/ai"
	"github.com/OFFIS-RIT/medgraph/pkg/common"

	"golang.org/x/sync/errgroup"
)

// EmbeddingBatchSize bounds the number of inputs sent in one embedding request.
const EmbeddingBatchSize = 64

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize elements.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings drops empty and repeated values, keeping first occurrences.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GenerateEmbeddings embeds inputs in order. Clients implementing
// ai.BatchEmbedder get batches of EmbeddingBatchSize; others are called
// once per input, concurrently.
func GenerateEmbeddings(
	ctx context.Context,
	client ai.GraphAIClient,
	inputs [][]byte,
) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	if b, ok := client.(ai.BatchEmbedder); ok {
		err := ChunkRange(len(inputs), EmbeddingBatchSize, func(start, end int) error {
			res, err := b.GenerateEmbeddings(ctx, inputs[start:end])
			if err != nil {
				return err
			}
			if len(res) != end-start {
				return fmt.Errorf("embedding batch size mismatch: got %d want %d", len(res), end-start)
			}
			copy(out[start:end], res)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	eg, ectx := errgroup.WithContext(ctx)
	for i := range inputs {
		idx := i
		in := inputs[i]
		eg.Go(func() error {
			emb, err := client.GenerateEmbedding(ectx, in)
			if err != nil {
				return err
			}
			out[idx] = emb
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// CheckDimensions verifies that every vector has exactly dim entries.
func CheckDimensions(vectors [][]float32, dim int) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has %d dimensions, index expects %d: %w", i, len(v), dim, ErrDimensionMismatch)
		}
	}
	return nil
}

var labelRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ValidLabel reports whether label can be used verbatim as an edge type in
// a query language that does not allow parameters for edge types.
func ValidLabel(label string) bool {
	return len(label) <= 64 && labelRe.MatchString(label)
}

var termSplitRe = regexp.MustCompile(`[^\pL\pN\-]+`)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "what": {}, "which": {},
	"how": {}, "does": {}, "are": {}, "is": {}, "of": {}, "in": {}, "on": {},
	"to": {}, "a": {}, "an": {}, "by": {}, "from": {}, "between": {},
	"about": {}, "their": {}, "its": {}, "role": {}, "effect": {}, "effects": {},
	"find": {}, "search": {}, "step": {}, "task": {}, "information": {},
}

// QueryTerms splits text into lower-cased search terms of at least three
// characters, without stopwords or duplicates.
func QueryTerms(text string) []string {
	var terms []string
	for _, t := range termSplitRe.Split(strings.ToLower(text), -1) {
		t = strings.Trim(t, "-")
		if len(t) < 3 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		terms = append(terms, t)
	}
	return DedupeStrings(terms)
}

// EntityMatchScore scores how well an entity key matches a query. Keys
// that occur verbatim in the query win over keys sharing single terms.
// Zero means no match.
func EntityMatchScore(key string, query string, terms []string) int {
	if key == "" {
		return 0
	}
	q := common.EntityKey(query)
	if strings.Contains(q, key) {
		return 1000 + len(key)
	}
	score := 0
	for _, t := range terms {
		if strings.Contains(key, t) {
			score += len(t)
		}
	}
	return score
}

// SortCommunityRanks orders by size descending, then id ascending.
func SortCommunityRanks(ranks []CommunityRank) {
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].Size != ranks[j].Size {
			return ranks[i].Size > ranks[j].Size
		}
		return ranks[i].CommunityID < ranks[j].CommunityID
	})
}
