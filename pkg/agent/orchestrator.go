// Package agent implements the reasoning loop that answers a question by
// planning search tasks, retrieving context for each task, reflecting on
// whether the context suffices and synthesizing a grounded answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/medgraph/pkg/ai"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/pkg/query"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/OFFIS-RIT/medgraph/pkg/agent"

var ErrEmptyQuery = errors.New("query is empty")

// Retriever is the retrieval capability used in the TOOL state.
// *query.Retriever implements it.
type Retriever interface {
	Retrieve(ctx context.Context, subquery string) ([]query.RetrievedDocument, []query.ExecutionMetadata)
}

// Orchestrator drives sessions through PLAN, TOOL, REFLECT and SYNTHESIS.
// It keeps no per-session state and can run many sessions concurrently.
type Orchestrator struct {
	client    ai.GraphAIClient
	retriever Retriever
	tracer    trace.Tracer
	now       func() time.Time
	opts      []ai.GenerateOption
}

// NewOrchestratorParams configures an Orchestrator. GenerateOptions are
// passed to every LLM call.
type NewOrchestratorParams struct {
	AIClient        ai.GraphAIClient
	Retriever       Retriever
	TracerProvider  trace.TracerProvider
	GenerateOptions []ai.GenerateOption
}

func NewOrchestrator(params NewOrchestratorParams) *Orchestrator {
	tp := params.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Orchestrator{
		client:    params.AIClient,
		retriever: params.Retriever,
		tracer:    tp.Tracer(instrumentationName),
		now:       time.Now,
		opts:      params.GenerateOptions,
	}
}

// Run answers q. Any error in PLAN, REFLECT or SYNTHESIS ends the session
// without an answer.
func (o *Orchestrator) Run(ctx context.Context, q string) (Result, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return Result{}, ErrEmptyQuery
	}
	if o.client == nil {
		return Result{}, ai.ErrNoClient
	}

	id, err := gonanoid.New()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create session id: %w", err)
	}

	ctx, span := o.tracer.Start(ctx, "agent.Run", trace.WithAttributes(
		attribute.String("agent.session_id", id),
		attribute.String("agent.query", q),
	))
	defer span.End()

	qt := query.NewQueryTrace()
	ctx = query.WithTracer(ctx, query.MultiTracer{query.TracerFromContext(ctx), qt})

	start := o.now()
	sess := Session{ID: id, Query: q}
	state := StatePlan
	for state != StateEnd {
		state, sess, err = o.Step(ctx, state, sess)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("[Agent][Run] Session failed", "session", id, "err", err)
			return Result{}, err
		}
	}

	summary := Summarize(sess.Events)
	span.SetAttributes(
		attribute.Int("agent.plan_steps", len(sess.Plan)),
		attribute.Int("agent.tools_called", summary.ToolsCalled),
		attribute.Int("agent.results_retrieved", summary.ResultsRetrieved),
	)
	logger.Info("[Agent][Run] Session finished",
		"session", id,
		"steps", sess.CurrentStep,
		"tools_called", summary.ToolsCalled,
		"results", summary.ResultsRetrieved,
		"duration", o.now().Sub(start),
	)

	return Result{
		SessionID: sess.ID,
		Query:     sess.Query,
		Plan:      sess.Plan,
		Answer:    sess.Answer,
		Context:   sess.Context,
		Events:    sess.Events,
		Summary:   summary,
		Trace:     qt.Snapshot(),
	}, nil
}

// Step executes a single state and returns the following state together
// with the updated session.
func (o *Orchestrator) Step(ctx context.Context, state State, sess Session) (State, Session, error) {
	ctx, span := o.tracer.Start(ctx, "agent."+state.String(), trace.WithAttributes(
		attribute.String("agent.session_id", sess.ID),
		attribute.Int("agent.current_step", sess.CurrentStep),
	))
	defer span.End()

	var (
		next State
		out  Session
		err  error
	)
	switch state {
	case StatePlan:
		next, out, err = o.plan(ctx, sess)
	case StateTool:
		next, out, err = o.tool(ctx, sess)
	case StateReflect:
		next, out, err = o.reflect(ctx, sess)
	case StateSynthesis:
		next, out, err = o.synthesize(ctx, sess)
	default:
		err = fmt.Errorf("invalid state %s", state)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, sess, err
	}
	span.SetAttributes(attribute.String("agent.next_state", next.String()))
	return next, out, nil
}

func (o *Orchestrator) plan(ctx context.Context, sess Session) (State, Session, error) {
	raw, err := o.client.GenerateCompletion(ctx, fmt.Sprintf(ai.PlanPrompt, sess.Query), o.opts...)
	if err != nil {
		return StatePlan, sess, fmt.Errorf("failed to create plan: %w", err)
	}

	sess.Plan = ParsePlan(raw, sess.Query)
	sess.CurrentStep = 0
	sess = sess.withEvents(Event{
		Type:      EventPlanCreated,
		Timestamp: o.now(),
		Plan:      sess.Plan,
		RawPlan:   raw,
	})
	logger.Debug("[Agent][Plan] Plan created", "session", sess.ID, "steps", len(sess.Plan))
	return StateTool, sess, nil
}

func (o *Orchestrator) tool(ctx context.Context, sess Session) (State, Session, error) {
	if sess.CurrentStep >= len(sess.Plan) {
		return StateSynthesis, sess, nil
	}
	task := sess.Plan[sess.CurrentStep]
	docs, metas := o.retriever.Retrieve(ctx, task)

	events := make([]Event, 0, len(metas))
	for _, m := range metas {
		events = append(events, Event{
			Type:          EventToolCall,
			Timestamp:     o.now(),
			ToolName:      m.Tool,
			Query:         m.Query,
			QueryForm:     m.QueryForm,
			ResultCount:   m.ResultCount,
			ExecutionTime: m.ExecutionTime,
			Error:         m.Error,
		})
	}
	sess = sess.withContext(docs...).withEvents(events...)
	logger.Debug("[Agent][Tool] Retrieved context", "session", sess.ID, "task", task, "results", len(docs))
	return StateReflect, sess, nil
}

func (o *Orchestrator) reflect(ctx context.Context, sess Session) (State, Session, error) {
	prompt := fmt.Sprintf(ai.ReflectPrompt, sess.Query, RenderContext(sess.Context))
	res, err := o.client.GenerateCompletion(ctx, prompt, o.opts...)
	if err != nil {
		return StateReflect, sess, fmt.Errorf("failed to reflect: %w", err)
	}

	sess.Reflection = strings.ToUpper(strings.TrimSpace(res))
	sess.CurrentStep++
	sess = sess.withEvents(Event{
		Type:         EventReflection,
		Timestamp:    o.now(),
		Decision:     sess.Reflection,
		ContextCount: len(sess.Context),
	})
	next := Next(sess)
	logger.Debug("[Agent][Reflect] Reflection", "session", sess.ID, "decision", sess.Reflection, "next", next.String())
	return next, sess, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, sess Session) (State, Session, error) {
	prompt := fmt.Sprintf(ai.SynthesisPrompt, RenderContext(sess.Context), sess.Query)
	answer, err := o.client.GenerateCompletion(ctx, prompt, o.opts...)
	if err != nil {
		return StateSynthesis, sess, fmt.Errorf("failed to synthesize answer: %w", err)
	}

	sess.Answer = strings.TrimSpace(answer)
	sess = sess.withEvents(Event{
		Type:         EventFinalAnswer,
		Timestamp:    o.now(),
		AnswerLength: len(sess.Answer),
	})
	return StateEnd, sess, nil
}
