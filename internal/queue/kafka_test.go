package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeConsumerClient struct {
	mu        sync.Mutex
	polls     []kgo.Fetches
	committed []*kgo.Record
	commitErr error
	closed    bool
}

func (f *fakeConsumerClient) PollRecords(ctx context.Context, max int) kgo.Fetches {
	f.mu.Lock()
	if len(f.polls) > 0 {
		next := f.polls[0]
		f.polls = f.polls[1:]
		f.mu.Unlock()
		return next
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakeConsumerClient) CommitRecords(ctx context.Context, rs ...*kgo.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, rs...)
	return nil
}

func (f *fakeConsumerClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConsumerClient) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

func fetchOf(topic string, offset int64, values ...string) kgo.Fetches {
	recs := make([]*kgo.Record, len(values))
	for i, v := range values {
		recs[i] = &kgo.Record{Topic: topic, Partition: 0, Offset: offset + int64(i), Value: []byte(v)}
	}
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      topic,
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: recs}},
	}}}}
}

func runSource(t *testing.T, src *KafkaSource, h Handler, until func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, h) }()

	require.Eventually(t, until, 2*time.Second, 5*time.Millisecond)
	cancel()
	return <-done
}

func TestKafkaSource_CommitsAfterSuccess(t *testing.T) {
	client := &fakeConsumerClient{polls: []kgo.Fetches{
		fetchOf("uuids", 0, `{"ts":1,"id_type":1,"id":"a"}`, `{"ts":2,"id_type":1,"id":"b"}`),
		fetchOf("uuids", 2, `{"ts":3,"id_type":1,"id":"c"}`),
	}}
	src := newKafkaSource(client, KafkaConfig{Topic: "uuids", BatchSize: 10, Retry: fastPolicy(0)})

	var mu sync.Mutex
	var batches []Batch
	h := HandlerFunc(func(ctx context.Context, b Batch) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, b)
		return nil
	})

	err := runSource(t, src, h, func() bool { return client.committedCount() == 3 })
	assert.ErrorIs(t, err, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Equal(t, "uuids-0@0+2", batches[0].ID)
	assert.Len(t, batches[0].Messages, 2)
	assert.Equal(t, `{"ts":3,"id_type":1,"id":"c"}`, string(batches[1].Messages[0].Body))
}

func TestKafkaSource_RedeliversBeforeCommit(t *testing.T) {
	client := &fakeConsumerClient{polls: []kgo.Fetches{
		fetchOf("uuids", 7, `{"ts":1,"id_type":1,"id":"a"}`),
	}}
	src := newKafkaSource(client, KafkaConfig{Topic: "uuids", Retry: fastPolicy(0)})

	var mu sync.Mutex
	attempts := 0
	h := HandlerFunc(func(ctx context.Context, b Batch) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			assert.Equal(t, 0, client.committedCount(), "commit must wait for success")
			return errors.New("write failed")
		}
		return nil
	})

	runSource(t, src, h, func() bool { return client.committedCount() == 1 })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestKafkaSource_Close(t *testing.T) {
	client := &fakeConsumerClient{}
	src := newKafkaSource(client, KafkaConfig{Topic: "uuids"})

	require.NoError(t, src.Close())
	assert.True(t, client.closed)
	assert.Equal(t, 100, src.batchSize)
}

type fakeProducerClient struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducerClient) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeProducerClient) Close() {}

func TestKafkaProducer_Send(t *testing.T) {
	client := &fakeProducerClient{}
	p := &KafkaProducer{client: client, topic: "uuids"}

	require.NoError(t, p.Send(context.Background(), []byte(`{"ts":1,"id_type":1,"id":"a"}`)))
	require.Len(t, client.records, 1)
	assert.Equal(t, "uuids", client.records[0].Topic)

	client.err = errors.New("broker down")
	err := p.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, client.err)
}
