package ports

import (
	"audiorelay/internal/core/domain"
)

// SessionRegistry is the authoritative store of producers and, per
// producer, their consumers. All mutations are atomic with respect to each
// other.
type SessionRegistry interface {
	RegisterProducer(producer *domain.Producer) (domain.ProducerID, error)
	LookupProducer(id domain.ProducerID) (*domain.Producer, error)
	RemoveProducer(id domain.ProducerID) (*domain.Producer, []*domain.Consumer, bool)
	RegisterConsumer(producerID domain.ProducerID, consumer *domain.Consumer) (domain.ConsumerID, error)
	// RemoveConsumer is idempotent; it reports whether a consumer was removed.
	RemoveConsumer(producerID domain.ProducerID, consumerID domain.ConsumerID) (*domain.Consumer, bool)
	Consumers(producerID domain.ProducerID) ([]*domain.Consumer, error)
	ProducerIDs() []domain.ProducerID
	Stats() domain.RegistryStats
}
