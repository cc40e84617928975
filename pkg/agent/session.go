package agent

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/medgraph/pkg/query"
)

// State is a node of the reasoning loop.
type State int

const (
	StatePlan State = iota
	StateTool
	StateReflect
	StateSynthesis
	StateEnd
)

func (s State) String() string {
	switch s {
	case StatePlan:
		return "PLAN"
	case StateTool:
		return "TOOL"
	case StateReflect:
		return "REFLECT"
	case StateSynthesis:
		return "SYNTHESIS"
	case StateEnd:
		return "END"
	}
	return "UNKNOWN"
}

type EventType string

const (
	EventPlanCreated EventType = "plan_created"
	EventToolCall    EventType = "tool_call"
	EventReflection  EventType = "reflection"
	EventFinalAnswer EventType = "final_answer"
)

// Event is one entry of the execution trace of a session. Only the fields
// of its type are set.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// plan_created
	Plan    []string `json:"plan,omitempty"`
	RawPlan string   `json:"raw_plan,omitempty"`

	// tool_call
	ToolName      string  `json:"tool_name,omitempty"`
	Query         string  `json:"query,omitempty"`
	QueryForm     string  `json:"query_form,omitempty"`
	ResultCount   int     `json:"result_count"`
	ExecutionTime float64 `json:"execution_time,omitempty"`
	Error         string  `json:"error,omitempty"`

	// reflection
	Decision     string `json:"decision,omitempty"`
	ContextCount int    `json:"context_count,omitempty"`

	// final_answer
	AnswerLength int `json:"answer_length,omitempty"`
}

// Session is the state threaded through the transition functions. It is a
// value: transitions return a new Session and never modify the slices of
// the one they received.
type Session struct {
	ID          string
	Query       string
	Plan        []string
	CurrentStep int
	Context     []query.RetrievedDocument
	Answer      string
	Reflection  string
	Events      []Event
}

func (s Session) withEvents(events ...Event) Session {
	s.Events = append(slices.Clip(s.Events), events...)
	return s
}

func (s Session) withContext(docs ...query.RetrievedDocument) Session {
	s.Context = append(slices.Clip(s.Context), docs...)
	return s
}

// Sufficient reports whether the last reflection contains "YES".
func (s Session) Sufficient() bool {
	return strings.Contains(s.Reflection, "YES")
}

// Next returns the state after REFLECT: SYNTHESIS once the reflection is
// sufficient or the plan is exhausted, TOOL otherwise.
func Next(s Session) State {
	if s.Sufficient() || s.CurrentStep >= len(s.Plan) {
		return StateSynthesis
	}
	return StateTool
}

// Summary aggregates the tool_call events of a session.
type Summary struct {
	ToolsCalled          int     `json:"tools_called"`
	ResultsRetrieved     int     `json:"results_retrieved"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
}

func Summarize(events []Event) Summary {
	var s Summary
	for _, e := range events {
		if e.Type != EventToolCall {
			continue
		}
		s.ToolsCalled++
		s.ResultsRetrieved += e.ResultCount
		s.ExecutionTimeSeconds += e.ExecutionTime
	}
	s.ExecutionTimeSeconds = math.Round(s.ExecutionTimeSeconds*100) / 100
	return s
}

// Result is what Run returns for a completed session.
type Result struct {
	SessionID string                    `json:"session_id"`
	Query     string                    `json:"query"`
	Plan      []string                  `json:"plan"`
	Answer    string                    `json:"answer"`
	Context   []query.RetrievedDocument `json:"context"`
	Events    []Event                   `json:"execution_events"`
	Summary   Summary                   `json:"execution_summary"`
	Trace     query.QueryTraceSnapshot  `json:"trace"`
}
