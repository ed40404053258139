// Package kafka publishes scored beaches to a Kafka topic so downstream
// consumers can follow snapshots without polling the file.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/beach-score-etl/internal/config"
	"github.com/couchcryptid/beach-score-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces one message per scored beach.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes the snapshot and writes it in a single WriteMessages call.
// Beaches are keyed by catalog ID (or name) so each one stays on a partition.
func (w *Writer) Publish(ctx context.Context, beaches []domain.ScoredBeach, runAt time.Time) error {
	if len(beaches) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(beaches))
	for i := range beaches {
		msg, err := serializeToMessage(beaches[i], runAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	w.logger.Debug("snapshot published", "topic", w.writer.Topic, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ScoredBeach into a Kafka message.
func serializeToMessage(beach domain.ScoredBeach, runAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(beach)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize scored beach: %w", err)
	}
	key := beach.ID
	if key == "" {
		key = beach.Name
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "flag", Value: []byte(beach.Flag)},
			{Key: "run_at", Value: []byte(runAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
