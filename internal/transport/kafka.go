package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderDataset = "dataset_id"
	HeaderTable   = "table_id"
	HeaderBatch   = "batch_id"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per batch, keyed by sensor name so a
// sensor's batches stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, cfg.Topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger.With("component", "kafka"),
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, b Batch) error {
	value, err := json.Marshal(b.Records)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(b.Sensor),
		Value: value,
		Time:  b.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderDataset, Value: []byte(b.Dataset)},
			{Key: HeaderTable, Value: []byte(b.Table)},
			{Key: HeaderBatch, Value: []byte(b.ID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	k.logger.Debug("published batch", "topic", k.topic, "batch_id", b.ID, "records", len(b.Records))
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
