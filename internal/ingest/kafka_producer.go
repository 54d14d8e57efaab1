package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/parking-prices/internal/models"
)

const DefaultTopic = "scraped-carparks"

// KafkaProducer publishes scraped records keyed by their source URL so every
// version of one carpark lands on the same partition.
type KafkaProducer struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if topic == "" {
		topic = DefaultTopic
	}
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaProducer{writer: w, timeout: 5 * time.Second}
}

func (k *KafkaProducer) Emit(ctx context.Context, rec models.ScrapedRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.SourceURL, err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(rec.SourceURL), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// NewKafkaReader builds a consumer-group reader for the scraped record topic.
// Offsets are committed explicitly after a record is handled.
func NewKafkaReader(brokers []string, topic, group string) *kafka.Reader {
	if topic == "" {
		topic = DefaultTopic
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        group,
		CommitInterval: 0,
		MinBytes:       10e3,
		MaxBytes:       10e6,
	})
}

// DecodeRecord parses one message value and checks it is usable.
func DecodeRecord(value []byte) (models.ScrapedRecord, error) {
	var rec models.ScrapedRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := Validate(rec); err != nil {
		return rec, err
	}
	return rec, nil
}
