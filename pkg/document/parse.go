package document

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/medgraph/pkg/common"

	"github.com/google/uuid"
)

// UnknownTitle is used when no usable heading is found.
const UnknownTitle = "Unknown Title"

// MinChunkChars is the content length a section must exceed to get chunks.
const MinChunkChars = 50

const (
	titleScanLines  = 50
	authorScanLines = 10
	minTitleChars   = 5
)

var (
	headingRe  = regexp.MustCompile(`^(#+)\s+(.+)$`)
	yearRe     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	citationRe = regexp.MustCompile(`\s*\d+(\s*[·,]\s*\d+)*`)
	authorSep  = regexp.MustCompile(`\s*(?:[·,;]|\band\b)\s*`)
	doiRe      = regexp.MustCompile(`(?i)(?:doi:\s*|doi\.org/)(10\.\d{4,9}/[^\s"<>\])]+)`)

	titleStoplist = map[string]struct{}{
		"abstract":       {},
		"introduction":   {},
		"review":         {},
		"review article": {},
		"open":           {},
		"article":        {},
	}
)

// Parser turns markdown text into a Document tree.
//
// MaxTokens bounds the size of a single chunk. Zero keeps one chunk per
// eligible section. Counter defaults to the tiktoken based counter.
type Parser struct {
	MaxTokens int
	Counter   TokenCounter
}

// ParseMarkdown parses text with default options (one chunk per section).
// It never fails; heuristic misses fall back to defaults.
func ParseMarkdown(text string, sourcePath string) common.Document {
	p := Parser{}
	return p.Parse(text, sourcePath)
}

type heading struct {
	line  int
	level int
	title string
}

// Parse splits text on heading lines. Section content is the verbatim
// text between two heading lines, so concatenating all section contents
// yields the source with every heading line removed exactly once. CRLF
// line endings are kept in section content.
func (p Parser) Parse(text string, sourcePath string) common.Document {
	raw := strings.Split(text, "\n")
	lines := make([]string, len(raw))
	for i, line := range raw {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	docID := documentID(sourcePath, text)
	title, titleLine := detectTitle(lines)
	doc := common.Document{
		ID:         docID,
		Title:      title,
		Authors:    []string{},
		SourcePath: sourcePath,
		Sections:   []common.Section{},
	}
	if titleLine >= 0 {
		doc.Authors = detectAuthors(lines, titleLine)
	}
	doc.Year = detectYear(lines)
	doc.DOI = detectDOI(lines)

	// starts[i] is the byte offset of line i; starts[len(lines)] is the end.
	starts := make([]int, len(lines)+1)
	for i, line := range raw {
		starts[i+1] = min(starts[i]+len(line)+1, len(text))
	}

	var headings []heading
	for i, line := range lines {
		if h, ok := parseHeading(line); ok {
			h.line = i
			headings = append(headings, h)
		}
	}

	// Preamble: anything before the first heading.
	firstHeading := len(lines)
	if len(headings) > 0 {
		firstHeading = headings[0].line
	}
	if starts[firstHeading] > 0 {
		doc.Sections = append(doc.Sections, common.Section{
			Title:   "",
			Content: text[:starts[firstHeading]],
			Level:   0,
		})
	}

	for i, h := range headings {
		end := len(lines)
		if i+1 < len(headings) {
			end = headings[i+1].line
		}
		doc.Sections = append(doc.Sections, common.Section{
			Title:   h.title,
			Content: text[starts[h.line+1]:starts[end]],
			Level:   h.level,
		})
	}

	assignSectionIDs(&doc)
	for i := range doc.Sections {
		doc.Sections[i].Chunks = p.chunkSection(doc, doc.Sections[i], i)
	}

	return doc
}

func parseHeading(line string) (heading, bool) {
	m := headingRe.FindStringSubmatch(strings.TrimRight(line, " \t\r"))
	if m == nil {
		return heading{}, false
	}
	title := strings.TrimSpace(strings.TrimRight(m[2], "#"))
	if title == "" {
		return heading{}, false
	}
	return heading{level: len(m[1]), title: title}, true
}

// assignSectionIDs gives every section a deterministic id and links it to
// the nearest preceding section with a smaller level.
func assignSectionIDs(doc *common.Document) {
	type open struct {
		level int
		id    string
	}
	var stack []open
	docNS := uuid.MustParse(doc.ID)

	for i := range doc.Sections {
		s := &doc.Sections[i]
		s.ID = uuid.NewSHA1(docNS, []byte(fmt.Sprintf("section/%d", i))).String()
		s.DocumentID = doc.ID

		for len(stack) > 0 && stack[len(stack)-1].level >= s.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1].id
			s.ParentID = &parent
		}
		stack = append(stack, open{level: s.Level, id: s.ID})
	}
}

func documentID(sourcePath string, text string) string {
	name := sourcePath
	if name == "" {
		name = "content:" + text
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func detectTitle(lines []string) (string, int) {
	limit := min(len(lines), titleScanLines)
	for i := 0; i < limit; i++ {
		h, ok := parseHeading(lines[i])
		if !ok {
			continue
		}
		if _, stop := titleStoplist[strings.ToLower(h.title)]; stop {
			continue
		}
		if len(h.title) < minTitleChars {
			continue
		}
		return h.title, i
	}
	return UnknownTitle, -1
}

func detectAuthors(lines []string, titleLine int) []string {
	authors := []string{}
	end := min(len(lines), titleLine+1+authorScanLines)
	for i := titleLine + 1; i < end; i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if _, ok := parseHeading(line); ok {
			break
		}
		if strings.HasPrefix(line, "Received") || strings.HasPrefix(line, "Accepted") {
			break
		}
		if strings.Contains(line, ":") || yearRe.MatchString(line) {
			continue
		}

		line = citationRe.ReplaceAllString(line, "")
		for _, part := range authorSep.Split(line, -1) {
			part = strings.Trim(part, " \t*†‡§")
			if len(part) > 2 {
				authors = append(authors, part)
			}
		}
	}
	return authors
}

func detectYear(lines []string) *int {
	limit := min(len(lines), titleScanLines)
	for i := 0; i < limit; i++ {
		if _, ok := parseHeading(lines[i]); ok {
			continue
		}
		m := yearRe.FindString(lines[i])
		if m == "" {
			continue
		}
		year, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		return &year
	}
	return nil
}

func detectDOI(lines []string) *string {
	limit := min(len(lines), titleScanLines)
	for i := 0; i < limit; i++ {
		m := doiRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		doi := strings.TrimRight(m[1], ".,;")
		return &doi
	}
	return nil
}
