// Package events publishes domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

const TypeRiskScored = "risk.scored"

// RiskScored is emitted after a feature snapshot has been persisted.
type RiskScored struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	TenantID    string    `json:"tenant_id"`
	Domain      string    `json:"domain"`
	ParentID    string    `json:"parent_id"`
	Prediction  int       `json:"prediction"`
	Probability float64   `json:"probability"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewRiskScored stamps a fresh event id and timestamp.
func NewRiskScored(tenantID, domain, parentID string, prediction int, probability float64, source string) RiskScored {
	return RiskScored{
		ID:          uuid.New().String(),
		Type:        TypeRiskScored,
		TenantID:    tenantID,
		Domain:      domain,
		ParentID:    parentID,
		Prediction:  prediction,
		Probability: probability,
		Source:      source,
		Timestamp:   time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt RiskScored) error
	Close() error
}

// NoopPublisher drops every event. Used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, RiskScored) error { return nil }
func (NoopPublisher) Close() error                              { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// DeliveryReporter records the broker's verdict for each delivered event.
type DeliveryReporter interface {
	ObserveEventPublish(err error)
}

// KafkaPublisher writes events as JSON keyed by parent id, so every score for
// one record lands on the same partition in order.
//
// The writer is asynchronous: Publish only enqueues, and the broker's
// acknowledgement arrives later through delivered. The scoring request never
// waits on Kafka.
type KafkaPublisher struct {
	writer   messageWriter
	topic    string
	logger   zerolog.Logger
	reporter DeliveryReporter
}

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger, reporter DeliveryReporter) *KafkaPublisher {
	p := &KafkaPublisher{
		topic:    topic,
		logger:   logger.With().Str("component", "events").Str("topic", topic).Logger(),
		reporter: reporter,
	}
	p.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireAll,
		Async:        true,
		Completion:   p.delivered,
	}
	return p
}

// delivered is the writer's completion callback, run once per batch.
func (p *KafkaPublisher) delivered(msgs []kafkago.Message, err error) {
	if p.reporter != nil {
		for range msgs {
			p.reporter.ObserveEventPublish(err)
		}
	}
	if err != nil {
		p.logger.Warn().Err(err).Int("events", len(msgs)).Msg("risk.scored delivery failed")
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt RiskScored) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}

	msg := kafkago.Message{
		Key:   []byte(evt.ParentID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "tenant_id", Value: []byte(evt.TenantID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes batches still queued in the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
