package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue    = "ingest_queue"
	CommunityQueue = "community_queue"
)

// Queues lists the work queues consumed by the worker.
var Queues = []string{IngestQueue, CommunityQueue}

// DLQ returns the dead letter queue of queueName.
func DLQ(queueName string) string {
	return queueName + "_dlq"
}

// Publisher is the publishing side of *amqp091.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Declarer is the declaring side of *amqp091.Channel.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

func Init(url string) (*amqp091.Connection, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq is not configured")
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares every queue together with its dead letter queue.
func SetupQueues(ch Declarer, queueNames []string) error {
	for _, name := range queueNames {
		for _, q := range []string{name, DLQ(name)} {
			_, err := ch.QueueDeclare(
				q,
				true,  // durable
				false, // autoDelete
				false, // exclusive
				false, // noWait
				nil,   // args
			)
			if err != nil {
				return fmt.Errorf("failed to declare queue %s: %w", q, err)
			}
		}
		logger.Debug("[Queue][Setup] Queue declared", "queue", name)
	}
	return nil
}

func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	if err := ch.PublishWithContext(ctx, "", queueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queueName, err)
	}
	return nil
}
