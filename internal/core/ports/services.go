package ports

import (
	"context"
	"time"

	"audiorelay/internal/core/domain"
)

type NegotiationService interface {
	CreateProducer(ctx context.Context, offer string) (*domain.SessionAnswer, error)
	CreateConsumer(ctx context.Context, producerID domain.ProducerID, offer string) (*domain.SessionAnswer, error)
	RemoveConsumer(ctx context.Context, producerID domain.ProducerID, consumerID domain.ConsumerID) error
	DestroyProducer(ctx context.Context, producerID domain.ProducerID) error
	GetProducer(ctx context.Context, producerID domain.ProducerID) (*domain.ProducerInfo, error)
	Shutdown(ctx context.Context) error
}

// EndpointFactory allocates a fresh network endpoint per producer.
type EndpointFactory interface {
	CreateEndpoint() (domain.Endpoint, error)
}

// MetricsRecorder receives session lifecycle measurements.
type MetricsRecorder interface {
	ProducerCreated()
	ProducerDestroyed()
	ConsumerCreated()
	ConsumerRemoved()
	NegotiationFailed(path, reason string)
	ObserveNegotiation(path string, duration time.Duration)
}

// EventPublisher announces session lifecycle events to outside observers.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.SessionEvent) error
	Close() error
}
