// Package kafka streams audit entries to a Kafka topic for SIEM ingestion.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	audit "trustkit/pkg/platform/audit"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the subset of *kgo.Client the sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Operation string    `json:"operation"`
	Subject   string    `json:"subject"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Sink produces one record per entry, keyed by subject so a subject's history
// stays ordered within a partition.
type Sink struct {
	producer Producer
	topic    string
}

// New connects to brokers and returns a sink for topic.
func New(brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Sink{producer: client, topic: topic}, nil
}

// NewWithProducer builds a sink around an existing producer.
func NewWithProducer(p Producer, topic string) *Sink {
	return &Sink{producer: p, topic: topic}
}

func (s *Sink) Publish(ctx context.Context, entry audit.Entry) error {
	value, err := json.Marshal(message{
		ID:        entry.ID,
		Timestamp: entry.Timestamp.UTC(),
		Category:  string(entry.Category()),
		Operation: string(entry.Operation),
		Subject:   entry.Subject,
		Outcome:   string(entry.Outcome),
		Reason:    entry.Reason,
		RequestID: entry.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit message: %w", err)
	}

	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(entry.Subject),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(entry.Category())},
		},
	}
	if err := s.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce audit message: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.producer.Close()
	return nil
}
