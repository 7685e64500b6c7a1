// Package kafka streams journal events to a Kafka topic. Records are keyed by
// product id so each product's events stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"provenance/internal/audit"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type topicLister interface {
	ListTopics(ctx context.Context, topics ...string) (kadm.TopicDetails, error)
}

// Sink implements audit.Sink.
type Sink struct {
	client producer
	admin  topicLister
	topic  string
}

// New connects a producer to brokers. Topics are provisioned outside the service.
func New(brokers []string, topic string, opts ...kgo.Opt) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Sink{client: client, admin: kadm.NewClient(client), topic: topic}, nil
}

type message struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	NewOwner  string `json:"new_owner,omitempty"`
	TxHash    string `json:"tx_hash"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(message{
		ID:        event.ID,
		ProductID: string(event.ProductID),
		Action:    string(event.Action),
		Actor:     string(event.Actor),
		NewOwner:  string(event.NewOwner),
		TxHash:    event.TxHash,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal journal event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.ProductID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce journal event: %w", err)
	}
	return nil
}

// Health reports whether the configured topic exists and is readable.
func (s *Sink) Health(ctx context.Context) error {
	if s.admin == nil {
		return nil
	}
	topics, err := s.admin.ListTopics(ctx, s.topic)
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	detail, ok := topics[s.topic]
	if !ok {
		return fmt.Errorf("kafka topic %q does not exist", s.topic)
	}
	if detail.Err != nil {
		return fmt.Errorf("kafka topic %q: %w", s.topic, detail.Err)
	}
	return nil
}

func (s *Sink) Close() {
	s.client.Close()
}
