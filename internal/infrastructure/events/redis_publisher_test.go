package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"audiorelay/internal/core/domain"
	"audiorelay/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockRedis is a testify mock of the publishing half of a redis client.
type MockRedis struct {
	mock.Mock
}

func (m *MockRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(ctx, channel, message)
	return redis.NewIntResult(1, args.Error(0))
}

func (m *MockRedis) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestRedisPublisher_Publish(t *testing.T) {
	client := new(MockRedis)
	p := newRedisPublisher(client, "audiorelay:events", "relay-1", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	var published []byte
	client.On("Publish", mock.Anything, "audiorelay:events", mock.Anything).
		Run(func(args mock.Arguments) {
			published = args.Get(2).([]byte)
		}).
		Return(nil).Once()

	event := &domain.SessionEvent{
		Type:       domain.EventConsumerCreated,
		ProducerID: "p1",
		ConsumerID: "c1",
	}
	require.NoError(t, p.Publish(context.Background(), event))
	client.AssertExpectations(t)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(published, &decoded))
	assert.Equal(t, "consumer.created", decoded["type"])
	assert.Equal(t, "p1", decoded["producer_id"])
	assert.Equal(t, "c1", decoded["consumer_id"])
	assert.Equal(t, "relay-1", decoded["instance_id"])
	assert.NotEmpty(t, decoded["timestamp"])
	assert.False(t, event.Timestamp.IsZero())
}

func TestRedisPublisher_OmitsEmptyConsumer(t *testing.T) {
	client := new(MockRedis)
	p := newRedisPublisher(client, "events", "relay-1", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	var published []byte
	client.On("Publish", mock.Anything, "events", mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(2).([]byte) }).
		Return(nil)

	require.NoError(t, p.Publish(context.Background(), &domain.SessionEvent{
		Type:       domain.EventProducerCreated,
		ProducerID: "p1",
		Timestamp:  time.Unix(0, 0).UTC(),
	}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(published, &decoded))
	assert.NotContains(t, decoded, "consumer_id")
	assert.NotContains(t, decoded, "reason")
	assert.Equal(t, "1970-01-01T00:00:00Z", decoded["timestamp"])
}

func TestRedisPublisher_BreakerOpensOnFailures(t *testing.T) {
	client := new(MockRedis)
	cfg := circuitbreaker.Config{FailureThreshold: 2, Cooldown: time.Hour}
	p := newRedisPublisher(client, "events", "relay-1", cfg, zaptest.NewLogger(t).Sugar())

	redisDown := errors.New("connection refused")
	client.On("Publish", mock.Anything, "events", mock.Anything).Return(redisDown).Twice()

	event := &domain.SessionEvent{Type: domain.EventProducerDestroyed, ProducerID: "p1"}
	assert.ErrorIs(t, p.Publish(context.Background(), event), redisDown)
	assert.ErrorIs(t, p.Publish(context.Background(), event), redisDown)

	err := p.Publish(context.Background(), event)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	client.AssertNumberOfCalls(t, "Publish", 2)
}

func TestRedisPublisher_Close(t *testing.T) {
	client := new(MockRedis)
	client.On("Close").Return(nil).Once()

	p := newRedisPublisher(client, "events", "relay-1", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, p.Close())
	client.AssertExpectations(t)
}

func TestNoopPublisher(t *testing.T) {
	p := NewNoopPublisher(zaptest.NewLogger(t).Sugar())

	assert.NoError(t, p.Publish(context.Background(), &domain.SessionEvent{Type: domain.EventProducerCreated}))
	assert.NoError(t, p.Close())
}
