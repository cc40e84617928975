package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/medgraph/pkg/graph"
	"github.com/OFFIS-RIT/medgraph/pkg/loader"
	loaderio "github.com/OFFIS-RIT/medgraph/pkg/loader/io"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	report     graph.IngestReport
	err        error
	ingested   int
	rebuilt    int
	rebuildErr error
}

func (f *fakeIngester) Ingest(context.Context, loader.Source) (graph.IngestReport, error) {
	f.ingested++
	return f.report, f.err
}

func (f *fakeIngester) RebuildCommunities(context.Context) (bool, error) {
	f.rebuilt++
	return f.rebuildErr == nil, f.rebuildErr
}

type recordingChannel struct {
	published []string
	bodies    [][]byte
	headers   []amqp091.Table
	err       error
	declared  []string
}

func (r *recordingChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, key)
	r.bodies = append(r.bodies, msg.Body)
	r.headers = append(r.headers, msg.Headers)
	return nil
}

func (r *recordingChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	r.declared = append(r.declared, name)
	return amqp091.Queue{Name: name}, nil
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}
func (f *fakeAck) Reject(uint64, bool) error { return nil }

func sourceFromDir(dir string) SourceFunc {
	return func(context.Context, IngestJobMsg) (loader.Source, error) {
		return loaderio.NewIOGraphFileLoader(dir), nil
	}
}

func TestProcess(t *testing.T) {
	tests := []struct {
		name     string
		queue    string
		body     string
		ingester *fakeIngester
		wantErr  string
	}{
		{
			name:     "ingest ok",
			queue:    IngestQueue,
			body:     `{"job_id":"j1","bucket":"corpus","prefix":"uploads/j1/"}`,
			ingester: &fakeIngester{report: graph.IngestReport{Documents: 2}},
		},
		{
			name:     "ingest all failed",
			queue:    IngestQueue,
			body:     `{"job_id":"j2","bucket":"corpus","keys":["a.md"]}`,
			ingester: &fakeIngester{report: graph.IngestReport{Failed: []string{"a.md"}}},
			wantErr:  "all 1 documents failed",
		},
		{
			name:     "ingest missing bucket",
			queue:    IngestQueue,
			body:     `{"job_id":"j3","prefix":"x/"}`,
			ingester: &fakeIngester{},
			wantErr:  "no bucket",
		},
		{
			name:     "ingest malformed",
			queue:    IngestQueue,
			body:     `{`,
			ingester: &fakeIngester{},
			wantErr:  "failed to decode ingest job",
		},
		{
			name:     "builder error",
			queue:    IngestQueue,
			body:     `{"job_id":"j4","bucket":"corpus","prefix":"p/"}`,
			ingester: &fakeIngester{err: errors.New("dimension mismatch")},
			wantErr:  "dimension mismatch",
		},
		{
			name:     "communities",
			queue:    CommunityQueue,
			body:     `{"job_id":"c1"}`,
			ingester: &fakeIngester{},
		},
		{
			name:     "communities failure",
			queue:    CommunityQueue,
			body:     `{"job_id":"c2"}`,
			ingester: &fakeIngester{rebuildErr: errors.New("store down")},
			wantErr:  "store down",
		},
		{
			name:     "unknown queue",
			queue:    "other_queue",
			body:     `{}`,
			ingester: &fakeIngester{},
			wantErr:  "unknown queue",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(tt.ingester, sourceFromDir(t.TempDir()))
			err := p.Process(context.Background(), tt.queue, []byte(tt.body))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProcess_SourceErrorSkipsIngest(t *testing.T) {
	ing := &fakeIngester{}
	p := NewProcessor(ing, func(context.Context, IngestJobMsg) (loader.Source, error) {
		return nil, errors.New("no credentials")
	})
	err := p.Process(context.Background(), IngestQueue, []byte(`{"job_id":"j","bucket":"b","prefix":"p/"}`))
	require.Error(t, err)
	assert.Equal(t, 0, ing.ingested)
}

func TestHandleProcessingError(t *testing.T) {
	ch := &recordingChannel{}
	ack := &fakeAck{}
	msg := amqp091.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{"job_id":"j"}`), Headers: amqp091.Table{"trace": "t1"}}

	HandleProcessingError(context.Background(), ch, msg, IngestQueue, errors.New("boom"))

	require.Equal(t, []string{"ingest_queue_dlq"}, ch.published)
	assert.Equal(t, msg.Body, ch.bodies[0])
	assert.Equal(t, "boom", ch.headers[0]["x-error"])
	assert.Equal(t, "t1", ch.headers[0]["trace"])
	assert.True(t, ack.acked)
	assert.NotContains(t, msg.Headers, "x-error")
}

func TestHandleProcessingError_RequeuesWhenDLQFails(t *testing.T) {
	ch := &recordingChannel{err: errors.New("channel closed")}
	ack := &fakeAck{}
	msg := amqp091.Delivery{Acknowledger: ack, DeliveryTag: 1}

	HandleProcessingError(context.Background(), ch, msg, CommunityQueue, errors.New("boom"))

	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
}

func TestSetupQueuesAndPublish(t *testing.T) {
	ch := &recordingChannel{}
	require.NoError(t, SetupQueues(ch, Queues))
	assert.Equal(t, []string{"ingest_queue", "ingest_queue_dlq", "community_queue", "community_queue_dlq"}, ch.declared)

	require.NoError(t, PublishFIFO(context.Background(), ch, CommunityQueue, []byte(`{}`)))
	assert.Equal(t, []string{CommunityQueue}, ch.published)
}
