package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/medgraph/internal/app"
	"github.com/OFFIS-RIT/medgraph/internal/config"
	"github.com/OFFIS-RIT/medgraph/internal/queue"
	"github.com/OFFIS-RIT/medgraph/internal/storage"
	"github.com/OFFIS-RIT/medgraph/pkg/loader"
	s3loader "github.com/OFFIS-RIT/medgraph/pkg/loader/s3"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	app.InitLogger(cfg, "worker")
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, shutdownTracing := app.InitTracing()
	defer shutdownTracing()

	deps, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialise backends", "err", err)
	}
	defer deps.Close()

	builder, err := deps.NewBuilder()
	if err != nil {
		logger.Fatal("Failed to create graph builder", "err", err)
	}

	if !cfg.S3.Enabled() {
		logger.Fatal("AWS_BUCKET is required for the worker")
	}
	s3Client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	processor := queue.NewProcessor(builder, func(_ context.Context, job queue.IngestJobMsg) (loader.Source, error) {
		return s3loader.NewS3GraphFileLoaderWithClient(job.Bucket, job.Prefix, job.Keys, s3Client), nil
	})

	// Init rabbitmq
	conn, err := queue.Init(cfg.RabbitMQ.URL())
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// A single consumer channel with prefetch=1 delivers one message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName)
	}

	logger.Info("Listening for messages", "queues", queue.Queues)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				processingErr := processor.Process(ctx, qm.queueName, qm.msg.Body)
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(context.WithoutCancel(ctx), ch, qm.msg, qm.queueName, processingErr)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				metrics := deps.AI.GetMetrics()
				logger.Info(
					"AI Metrics",
					"requests", metrics.Requests,
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
					"duration", clock(time.Duration(metrics.DurationMs)*time.Millisecond),
				)
				logger.Info("Processing time", "duration", clock(time.Since(startTime)))
				logger.Info("Waiting for next message")
				deps.AI.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
