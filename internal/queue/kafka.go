package queue

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig holds the Kafka backend settings.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	Group     string
	BatchSize int
	Retry     RetryPolicy
}

type kafkaProducerClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type kafkaConsumerClient interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Close()
}

// KafkaProducer enqueues records to a Kafka topic.
type KafkaProducer struct {
	client kafkaProducerClient
	topic  string
}

// NewKafkaProducer connects a producer for cfg.Topic.
func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: kafka producer: %w", err)
	}
	return &KafkaProducer{client: cl, topic: cfg.Topic}, nil
}

// Send produces body and waits for the broker acknowledgement.
func (p *KafkaProducer) Send(ctx context.Context, body []byte) error {
	rec := &kgo.Record{Topic: p.topic, Value: body}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("queue: produce to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the client.
func (p *KafkaProducer) Close() error {
	p.client.Close()
	return nil
}

// KafkaSource consumes a topic as a member of a consumer group. Offsets are
// committed only after the handler accepted the batch.
type KafkaSource struct {
	client    kafkaConsumerClient
	topic     string
	batchSize int
	retry     RetryPolicy
}

// NewKafkaSource joins cfg.Group and subscribes to cfg.Topic.
func NewKafkaSource(cfg KafkaConfig) (*KafkaSource, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: kafka consumer: %w", err)
	}
	return newKafkaSource(cl, cfg), nil
}

func newKafkaSource(cl kafkaConsumerClient, cfg KafkaConfig) *KafkaSource {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &KafkaSource{
		client:    cl,
		topic:     cfg.Topic,
		batchSize: batchSize,
		retry:     cfg.Retry,
	}
}

// Run polls up to batchSize records at a time and delivers them to h until
// ctx is cancelled. A failed batch is redelivered in-process, since the
// uncommitted offsets are not fetched again by this client.
func (s *KafkaSource) Run(ctx context.Context, h Handler) error {
	for {
		fetches := s.client.PollRecords(ctx, s.batchSize)
		if err := ctx.Err(); err != nil {
			return err
		}
		if fetches.IsClientClosed() {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				continue
			}
			// Fetch errors are retried inside the client; polls surface the
			// ones that need attention.
			log.Printf("queue: kafka fetch %s[%d]: %v", fe.Topic, fe.Partition, fe.Err)
		}

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}

		batch := Batch{
			ID:       batchID(records),
			Messages: make([]Message, len(records)),
		}
		for i, r := range records {
			batch.Messages[i] = Message{Body: r.Value}
		}

		if err := Deliver(ctx, h, batch, s.retry); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("queue: giving up on batch %s, committing past it: %v", batch.ID, err)
		}

		if err := s.client.CommitRecords(ctx, records...); err != nil {
			// Uncommitted records are redelivered after a rebalance or restart.
			log.Printf("queue: kafka commit for batch %s failed: %v", batch.ID, err)
		}
	}
}

// Close leaves the group and closes the client.
func (s *KafkaSource) Close() error {
	s.client.Close()
	return nil
}

func batchID(records []*kgo.Record) string {
	first := records[0]
	return fmt.Sprintf("%s-%d@%d+%d", first.Topic, first.Partition, first.Offset, len(records))
}
