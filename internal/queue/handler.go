package queue

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/medgraph/pkg/graph"
	"github.com/OFFIS-RIT/medgraph/pkg/loader"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// Ingester is the part of *graph.Builder the worker drives.
type Ingester interface {
	Ingest(ctx context.Context, src loader.Source) (graph.IngestReport, error)
	RebuildCommunities(ctx context.Context) (bool, error)
}

// SourceFunc opens the object source of an ingest job.
type SourceFunc func(ctx context.Context, job IngestJobMsg) (loader.Source, error)

// Processor handles the messages of all work queues.
type Processor struct {
	builder Ingester
	source  SourceFunc
}

func NewProcessor(builder Ingester, source SourceFunc) *Processor {
	return &Processor{builder: builder, source: source}
}

// Process runs the job in body. A returned error means the message should
// be dead-lettered.
func (p *Processor) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		return p.processIngest(ctx, body)
	case CommunityQueue:
		return p.processCommunities(ctx, body)
	default:
		return fmt.Errorf("unknown queue %s", queueName)
	}
}

func (p *Processor) processIngest(ctx context.Context, body []byte) error {
	job, err := DecodeIngestJob(body)
	if err != nil {
		return err
	}
	src, err := p.source(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to open source for job %s: %w", job.JobID, err)
	}

	report, err := p.builder.Ingest(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to ingest job %s: %w", job.JobID, err)
	}
	logger.Info("[Queue][Ingest] Job finished",
		"job", job.JobID,
		"documents", report.Documents,
		"failed", len(report.Failed),
		"triplets", report.Triplets,
		"chunks", report.Chunks,
		"communities", report.CommunitiesBuilt,
		"duration", report.Duration,
	)
	if report.Documents == 0 && len(report.Failed) > 0 {
		return fmt.Errorf("job %s: all %d documents failed", job.JobID, len(report.Failed))
	}
	return nil
}

func (p *Processor) processCommunities(ctx context.Context, body []byte) error {
	job, err := DecodeCommunityJob(body)
	if err != nil {
		return err
	}
	built, err := p.builder.RebuildCommunities(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild communities for job %s: %w", job.JobID, err)
	}
	logger.Info("[Queue][Communities] Job finished", "job", job.JobID, "built", built)
	return nil
}

// HandleProcessingError moves a failed message to the dead letter queue
// of queueName and acks it. If publishing fails the message is requeued.
func HandleProcessingError(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, cause error) {
	dlqName := DLQ(queueName)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-error"] = cause.Error()

	logger.Warn("[Queue] Sending message to DLQ", "dlq", dlqName, "err", cause)
	pubErr := ch.PublishWithContext(ctx, "", dlqName, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
