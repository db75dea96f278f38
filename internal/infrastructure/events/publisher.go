package events

import (
	"context"

	"audiorelay/internal/core/domain"
	"audiorelay/internal/core/ports"

	"go.uber.org/zap"
)

// NoopPublisher drops events. It is used when no event bus is configured.
type NoopPublisher struct {
	logger *zap.SugaredLogger
}

func NewNoopPublisher(logger *zap.SugaredLogger) ports.EventPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(ctx context.Context, event *domain.SessionEvent) error {
	if p.logger != nil {
		p.logger.Debugw("session event",
			"type", event.Type,
			"producer_id", event.ProducerID,
			"consumer_id", event.ConsumerID,
		)
	}
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}
