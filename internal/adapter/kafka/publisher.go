// Package kafka publishes discovery events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/clicko-app/agent-discovery/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces DiscoveryEvents keyed by scope, so events from one
// screen stay in order on a single partition.
// It implements discovery.EventSink.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates an asynchronous producer for topic. Delivery failures
// are logged from the writer's completion callback.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				logger.Warn("discovery event delivery failed",
					"error", err,
					"topic", topic,
					"messages", len(messages),
				)
			}
		},
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish enqueues event for delivery.
func (p *Publisher) Publish(ctx context.Context, event domain.DiscoveryEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish discovery event %d: %w", event.RequestID, err)
	}
	p.logger.Debug("discovery event queued", "request_id", event.RequestID, "scope", event.Scope)
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a DiscoveryEvent into a Kafka message.
func serializeToMessage(event domain.DiscoveryEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize discovery event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Scope),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(event.Status)},
			{Key: "mode", Value: []byte(event.Mode)},
			{Key: "occurred_at", Value: []byte(event.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
