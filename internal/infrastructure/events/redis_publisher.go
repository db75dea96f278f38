package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"audiorelay/internal/core/domain"
	"audiorelay/internal/core/ports"
	"audiorelay/pkg/circuitbreaker"
	"audiorelay/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message is the JSON document published for every session event.
type Message struct {
	*domain.SessionEvent
	InstanceID string `json:"instance_id"`
}

// publisher is the subset of *redis.Client used for publishing.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes session events on a Redis pub/sub channel. A
// circuit breaker keeps a dead Redis from slowing down every lifecycle
// change.
type RedisPublisher struct {
	client     publisher
	channel    string
	instanceID string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger
}

func NewRedisPublisher(
	client *redis.Client,
	channel string,
	instanceID string,
	logger *zap.SugaredLogger,
) ports.EventPublisher {
	return newRedisPublisher(client, channel, instanceID, circuitbreaker.DefaultConfig(), logger)
}

func newRedisPublisher(
	client publisher,
	channel string,
	instanceID string,
	breakerConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *RedisPublisher {
	breaker := circuitbreaker.New(breakerConfig)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event bus circuit changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return &RedisPublisher{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		breaker:    breaker,
		logger:     logger,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *domain.SessionEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(&Message{SessionEvent: event, InstanceID: p.instanceID})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.breaker.Execute(func() error {
		return p.client.Publish(ctx, p.channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debugw("published event",
		"type", event.Type,
		"producer_id", event.ProducerID,
		"consumer_id", event.ConsumerID,
	)
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// RedisConfig holds connection settings for the event bus.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient connects to Redis, retrying the initial ping with backoff.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("connected to Redis",
		"address", cfg.Address,
		"db", cfg.DB,
		"pool_size", cfg.PoolSize,
	)
	return client, nil
}
