// Package events publishes risk decisions to Kafka for downstream consumers
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DecisionEvent is the message published for every evaluation
type DecisionEvent struct {
	AttemptID       string    `json:"attempt_id"`
	UserID          string    `json:"user_id"`
	IPAddress       string    `json:"ip_address"`
	Decision        string    `json:"decision"`
	Reason          string    `json:"reason"`
	Regime          string    `json:"regime"`
	RiskScore       float64   `json:"risk_score"`
	AnomalyError    float64   `json:"autoencoder_error"`
	RuleBasedRisk   float64   `json:"rule_based_risk"`
	GeoVelocity     float64   `json:"geo_velocity"`
	Changes         []string  `json:"changes"`
	HistoryRecorded bool      `json:"history_recorded"`
	Timestamp       time.Time `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes decision events keyed by user id, so one identity's
// decisions stay ordered within a partition
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	if logger != nil {
		logger.Info("kafka decision publisher enabled", "brokers", brokers, "topic", topic)
	}

	return newKafkaPublisher(writer, topic, logger), nil
}

func newKafkaPublisher(writer messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Publish writes one decision event
func (p *KafkaPublisher) Publish(ctx context.Context, event DecisionEvent) error {
	if event.Changes == nil {
		event.Changes = []string{}
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode decision event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "decision", Value: []byte(event.Decision)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish decision event to %s: %w", p.topic, err)
	}

	return nil
}

// Close flushes pending messages and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
