package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-api/pkg/circuitbreaker"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

func TestNewRedisBroker_InvalidURL(t *testing.T) {
	logger := zerolog.Nop()
	_, err := NewRedisBroker(context.Background(), Config{URL: "://nope"}, &logger, nil)
	assert.Error(t, err)
}

func TestPublish_OpensCircuitWhenUnreachable(t *testing.T) {
	logger := zerolog.Nop()
	m := metrics.New("test")
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	b := newBroker(client, &logger, m)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := b.Publish(ctx, "consultations", map[string]string{"k": "v"})
		require.Error(t, err)
		assert.False(t, errors.Is(err, circuitbreaker.ErrOpen))
	}

	err := b.Publish(ctx, "consultations", []byte(`{}`))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 6.0, testutil.ToFloat64(m.RedisOperations.WithLabelValues("publish", "error")))
}

func TestPublish_MarshalError(t *testing.T) {
	logger := zerolog.Nop()
	b := newBroker(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), &logger, nil)
	t.Cleanup(func() { _ = b.Close() })

	err := b.Publish(context.Background(), "c", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal")
}

func TestSubscribe_Unreachable(t *testing.T) {
	logger := zerolog.Nop()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	b := newBroker(client, &logger, nil)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := b.Subscribe(ctx, "consultations")
	require.Error(t, err)
	assert.Nil(t, msgs)
	assert.Contains(t, err.Error(), "failed to subscribe to consultations")
}
