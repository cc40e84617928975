package document

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/medgraph/pkg/common"

	"github.com/google/uuid"
)

var tableDelimRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

// chunkSection returns the chunks of one section. Sections whose trimmed
// content is not longer than MinChunkChars get none.
func (p Parser) chunkSection(doc common.Document, s common.Section, index int) []common.Chunk {
	content := strings.TrimSpace(s.Content)
	if len(content) <= MinChunkChars {
		return nil
	}

	texts := []string{content}
	if p.MaxTokens > 0 {
		counter := p.Counter
		if counter == nil {
			counter = DefaultCounter()
		}
		if counter.Count(content) > p.MaxTokens {
			texts = splitByTokens(content, counter, p.MaxTokens)
		}
	}

	sectionNS := uuid.MustParse(s.ID)
	chunks := make([]common.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, common.Chunk{
			ID:        uuid.NewSHA1(sectionNS, []byte(fmt.Sprintf("chunk/%d/%d", index, i))).String(),
			Content:   text,
			SectionID: s.ID,
			Metadata: map[string]string{
				common.MetaDocumentID:    doc.ID,
				common.MetaDocumentTitle: doc.Title,
				common.MetaSectionTitle:  s.Title,
				common.MetaSourcePath:    doc.SourcePath,
			},
		})
	}
	return chunks
}

// splitByTokens groups consecutive sentences into chunks of at most
// maxTokens tokens. A single sentence above the limit becomes its own chunk.
func splitByTokens(text string, counter TokenCounter, maxTokens int) []string {
	sentences := splitIntoSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, " ")))
		current = nil
	}

	for _, sentence := range sentences {
		if len(current) == 0 {
			current = append(current, sentence)
			continue
		}
		candidate := strings.Join(append(current[:len(current):len(current)], sentence), " ")
		if counter.Count(candidate) <= maxTokens {
			current = append(current, sentence)
			continue
		}
		flush()
		current = append(current, sentence)
	}
	flush()

	return chunks
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && strings.Contains(trimmed, "|")
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

// splitIntoSentences splits text into sentences. Markdown tables are kept
// together as one sentence; blank lines always end a sentence.
func splitIntoSentences(text string) []string {
	lines := strings.Split(text, "\n")
	var sentences []string
	var current strings.Builder
	inTable := false

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	addLine := func(trimmed string) {
		for _, sentence := range splitLineIntoSentences(trimmed) {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(sentence)
			if endsSentence(sentence) {
				flush()
			}
		}
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if inTable {
			if isTableRow(line) {
				current.WriteString("\n")
				current.WriteString(line)
				continue
			}
			inTable = false
			flush()
		}

		switch {
		case isTableRow(line) && i+1 < len(lines) && tableDelimRe.MatchString(strings.TrimSpace(lines[i+1])):
			flush()
			inTable = true
			current.WriteString(line)
		case trimmed == "":
			flush()
		default:
			addLine(trimmed)
		}
	}
	flush()

	return sentences
}

func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])

		if line[i] != '.' && line[i] != '!' && line[i] != '?' {
			continue
		}
		// "1. item" style listings and decimals stay in the sentence.
		if i > 0 && unicode.IsDigit(rune(line[i-1])) && i+1 < len(line) && (line[i+1] == ' ' || unicode.IsDigit(rune(line[i+1]))) {
			continue
		}
		if i+1 < len(line) && unicode.IsDigit(rune(line[i+1])) {
			continue
		}

		j := i + 1
		for j < len(line) && (line[j] == '.' || line[j] == '!' || line[j] == '?') {
			current.WriteByte(line[j])
			j++
		}
		for j < len(line) && (line[j] == '"' || line[j] == '\'' || line[j] == ')' || line[j] == ']' || line[j] == '}') {
			current.WriteByte(line[j])
			j++
		}

		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
		i = j - 1
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}
	return sentences
}
