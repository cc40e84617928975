package agent

import (
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/medgraph/pkg/query"
)

// MaxPlanSteps bounds the number of search tasks taken from a plan, and
// with it the number of TOOL iterations of a session.
const MaxPlanSteps = 3

var stepMarkerRe = regexp.MustCompile(`(?i)^\s*(?:[-*]\s*)?(?:\*\*)?(?:(?:step|task)\s*\d*\s*[:.)\-]|\d+\s*[.):\-])(?:\*\*)?\s*(.*)$`)

// ParsePlan extracts up to MaxPlanSteps search tasks from an LLM plan.
// Lines starting with "Step n:", "Task n:" or a list number are preferred;
// otherwise the first non-empty lines are used. An empty result falls back
// to the query.
func ParsePlan(raw string, q string) []string {
	var marked, plain []string
	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		plain = append(plain, line)
		if m := stepMarkerRe.FindStringSubmatch(line); m != nil {
			if task := cleanTask(m[1]); task != "" {
				marked = append(marked, task)
			}
		}
	}

	switch {
	case len(marked) > 0:
		return marked[:min(len(marked), MaxPlanSteps)]
	case len(plain) > 0:
		return plain[:min(len(plain), MaxPlanSteps)]
	default:
		return []string{q}
	}
}

func cleanTask(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*")
	return strings.TrimSpace(s)
}

// RenderContext formats retrieved documents for the reflection and
// synthesis prompts, one "[SOURCE] content" entry per line.
func RenderContext(docs []query.RetrievedDocument) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteByte('\n')
		}
		source := strings.ToUpper(d.Source)
		if source == "" {
			source = "UNKNOWN"
		}
		b.WriteString("[")
		b.WriteString(source)
		b.WriteString("] ")
		b.WriteString(d.Content)
	}
	return b.String()
}
