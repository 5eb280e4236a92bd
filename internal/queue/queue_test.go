package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(max int) RetryPolicy {
	return RetryPolicy{MaxRedeliveries: max, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDeliver_SucceedsFirstTime(t *testing.T) {
	calls := 0
	h := HandlerFunc(func(ctx context.Context, b Batch) error {
		calls++
		return nil
	})

	require.NoError(t, Deliver(context.Background(), h, Batch{ID: "b1"}, fastPolicy(0)))
	assert.Equal(t, 1, calls)
}

func TestDeliver_RedeliversSameBatchUntilSuccess(t *testing.T) {
	var seen []Batch
	h := HandlerFunc(func(ctx context.Context, b Batch) error {
		seen = append(seen, b)
		if len(seen) < 3 {
			return errors.New("storage unavailable")
		}
		return nil
	})

	batch := Batch{ID: "b1", Messages: []Message{{Body: []byte(`{"ts":1,"id_type":1,"id":"a"}`)}}}
	require.NoError(t, Deliver(context.Background(), h, batch, fastPolicy(0)))

	require.Len(t, seen, 3)
	for _, b := range seen {
		assert.Equal(t, batch, b)
	}
}

func TestDeliver_GivesUpAfterMaxRedeliveries(t *testing.T) {
	calls := 0
	cause := errors.New("boom")
	h := HandlerFunc(func(ctx context.Context, b Batch) error {
		calls++
		return cause
	})

	err := Deliver(context.Background(), h, Batch{ID: "b1"}, fastPolicy(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRedeliveriesExhausted))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, 3, calls, "first attempt plus two redeliveries")
}

func TestDeliver_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := HandlerFunc(func(ctx context.Context, b Batch) error {
		cancel()
		return errors.New("fail")
	})

	err := Deliver(ctx, h, Batch{ID: "b1"}, RetryPolicy{InitialBackoff: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.backoff(1))
	assert.Equal(t, 800*time.Millisecond, p.backoff(3))
	assert.Equal(t, time.Second, p.backoff(4))
	assert.Equal(t, time.Second, p.backoff(50))
}
