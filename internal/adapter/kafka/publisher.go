// Package kafka publishes persisted alerts for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/advisory-alert-etl/internal/config"
	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces one message per persisted alert.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured alert topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaAlertTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger}
}

// AlertEvent is the message value: the alert row and its resolved areas.
type AlertEvent struct {
	Alert domain.Alert          `json:"alert"`
	Areas []domain.ResolvedArea `json:"areas"`
}

// Publish writes the alert keyed by document ID so every revision of a
// document lands on the same partition.
func (p *Publisher) Publish(ctx context.Context, alert domain.Alert, areas []domain.ResolvedArea) error {
	msg, err := serializeToMessage(AlertEvent{Alert: alert, Areas: areas})
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.DocumentID, err)
	}
	p.logger.Debug("alert published", "document_id", alert.DocumentID, "areas", len(areas))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func serializeToMessage(event AlertEvent) (kafkago.Message, error) {
	if event.Areas == nil {
		event.Areas = []domain.ResolvedArea{}
	}
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Alert.DocumentID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "category", Value: []byte(event.Alert.Category)},
			{Key: "processed_at", Value: []byte(event.Alert.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
