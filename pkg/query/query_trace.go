package query

import (
	"context"
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventConsideredDocumentIDs TraceEventKind = "considered_document_ids"
	TraceEventMatchedEntityKeys     TraceEventKind = "matched_entity_keys"
	TraceEventRankedCommunityIDs    TraceEventKind = "ranked_community_ids"
)

// TraceEvent is an extensible event envelope for retrieval tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	DocumentIDs  []string
	EntityKeys   []string
	CommunityIDs []int64
}

// Tracer is a sink for retrieval tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

type tracerKey struct{}

// WithTracer attaches t to ctx. Retrieval calls made with the returned
// context report to t.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// TracerFromContext returns the tracer attached with WithTracer or nil.
func TracerFromContext(ctx context.Context) Tracer {
	t, _ := ctx.Value(tracerKey{}).(Tracer)
	return t
}

func RecordConsideredDocumentIDs(t Tracer, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredDocumentIDs, DocumentIDs: ids})
}

func RecordMatchedEntityKeys(t Tracer, keys ...string) {
	if t == nil || len(keys) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventMatchedEntityKeys, EntityKeys: keys})
}

func RecordRankedCommunityIDs(t Tracer, ids ...int64) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventRankedCommunityIDs, CommunityIDs: ids})
}

// QueryTrace collects which documents, entities and communities a query
// run touched. It is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	documentIDs  map[string]struct{}
	entityKeys   map[string]struct{}
	communityIDs map[int64]struct{}
}

type QueryTraceSnapshot struct {
	DocumentIDs  []string `json:"document_ids"`
	EntityKeys   []string `json:"entity_keys"`
	CommunityIDs []int64  `json:"community_ids"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		documentIDs:  make(map[string]struct{}),
		entityKeys:   make(map[string]struct{}),
		communityIDs: make(map[int64]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventConsideredDocumentIDs:
		for _, id := range event.DocumentIDs {
			if id != "" {
				t.documentIDs[id] = struct{}{}
			}
		}
	case TraceEventMatchedEntityKeys:
		for _, k := range event.EntityKeys {
			if k != "" {
				t.entityKeys[k] = struct{}{}
			}
		}
	case TraceEventRankedCommunityIDs:
		for _, id := range event.CommunityIDs {
			t.communityIDs[id] = struct{}{}
		}
	}
}

// Snapshot returns the collected values, each list sorted.
func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		DocumentIDs:  make([]string, 0, len(t.documentIDs)),
		EntityKeys:   make([]string, 0, len(t.entityKeys)),
		CommunityIDs: make([]int64, 0, len(t.communityIDs)),
	}
	for id := range t.documentIDs {
		s.DocumentIDs = append(s.DocumentIDs, id)
	}
	for k := range t.entityKeys {
		s.EntityKeys = append(s.EntityKeys, k)
	}
	for id := range t.communityIDs {
		s.CommunityIDs = append(s.CommunityIDs, id)
	}
	slices.Sort(s.DocumentIDs)
	slices.Sort(s.EntityKeys)
	slices.Sort(s.CommunityIDs)
	return s
}
