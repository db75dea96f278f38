package memory

import (
	"fmt"
	"sort"
	"sync"

	"audiorelay/internal/core/domain"
	"audiorelay/internal/core/ports"
)

type producerEntry struct {
	producer  *domain.Producer
	consumers map[domain.ConsumerID]*domain.Consumer
}

// MemorySessionRegistry keeps every producer and its consumers behind a
// single lock. Producers are only visible once fully constructed.
type MemorySessionRegistry struct {
	producers map[domain.ProducerID]*producerEntry
	// consumer ids are unique across producers
	consumerOwners map[domain.ConsumerID]domain.ProducerID
	mu             sync.RWMutex
}

func NewMemorySessionRegistry() ports.SessionRegistry {
	return &MemorySessionRegistry{
		producers:      make(map[domain.ProducerID]*producerEntry),
		consumerOwners: make(map[domain.ConsumerID]domain.ProducerID),
	}
}

func (r *MemorySessionRegistry) RegisterProducer(producer *domain.Producer) (domain.ProducerID, error) {
	if producer == nil || producer.ID == "" {
		return "", fmt.Errorf("producer must have an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.producers[producer.ID]; exists {
		return "", fmt.Errorf("%w: producer %s", domain.ErrIDCollision, producer.ID)
	}
	if _, taken := r.consumerOwners[domain.ConsumerID(producer.ID)]; taken {
		return "", fmt.Errorf("%w: producer %s", domain.ErrIDCollision, producer.ID)
	}

	r.producers[producer.ID] = &producerEntry{
		producer:  producer,
		consumers: make(map[domain.ConsumerID]*domain.Consumer),
	}
	return producer.ID, nil
}

func (r *MemorySessionRegistry) LookupProducer(id domain.ProducerID) (*domain.Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.producers[id]
	if !exists {
		return nil, domain.ErrProducerNotFound
	}
	return entry.producer, nil
}

func (r *MemorySessionRegistry) RemoveProducer(id domain.ProducerID) (*domain.Producer, []*domain.Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.producers[id]
	if !exists {
		return nil, nil, false
	}

	consumers := make([]*domain.Consumer, 0, len(entry.consumers))
	for consumerID, consumer := range entry.consumers {
		consumers = append(consumers, consumer)
		delete(r.consumerOwners, consumerID)
	}
	delete(r.producers, id)

	return entry.producer, consumers, true
}

func (r *MemorySessionRegistry) RegisterConsumer(producerID domain.ProducerID, consumer *domain.Consumer) (domain.ConsumerID, error) {
	if consumer == nil || consumer.ID == "" {
		return "", fmt.Errorf("consumer must have an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.producers[producerID]
	if !exists {
		return "", domain.ErrProducerNotFound
	}
	if _, taken := r.consumerOwners[consumer.ID]; taken {
		return "", fmt.Errorf("%w: consumer %s", domain.ErrIDCollision, consumer.ID)
	}
	if _, taken := r.producers[domain.ProducerID(consumer.ID)]; taken {
		return "", fmt.Errorf("%w: consumer %s", domain.ErrIDCollision, consumer.ID)
	}

	consumer.ProducerID = producerID
	entry.consumers[consumer.ID] = consumer
	r.consumerOwners[consumer.ID] = producerID
	return consumer.ID, nil
}

func (r *MemorySessionRegistry) RemoveConsumer(producerID domain.ProducerID, consumerID domain.ConsumerID) (*domain.Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.producers[producerID]
	if !exists {
		return nil, false
	}
	consumer, exists := entry.consumers[consumerID]
	if !exists {
		return nil, false
	}

	delete(entry.consumers, consumerID)
	delete(r.consumerOwners, consumerID)
	return consumer, true
}

func (r *MemorySessionRegistry) Consumers(producerID domain.ProducerID) ([]*domain.Consumer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.producers[producerID]
	if !exists {
		return nil, domain.ErrProducerNotFound
	}

	consumers := make([]*domain.Consumer, 0, len(entry.consumers))
	for _, consumer := range entry.consumers {
		consumers = append(consumers, consumer)
	}
	sort.Slice(consumers, func(i, j int) bool {
		if consumers[i].CreatedAt.Equal(consumers[j].CreatedAt) {
			return consumers[i].ID < consumers[j].ID
		}
		return consumers[i].CreatedAt.Before(consumers[j].CreatedAt)
	})
	return consumers, nil
}

func (r *MemorySessionRegistry) ProducerIDs() []domain.ProducerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ProducerID, 0, len(r.producers))
	for id := range r.producers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *MemorySessionRegistry) Stats() domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return domain.RegistryStats{
		Producers: len(r.producers),
		Consumers: len(r.consumerOwners),
	}
}
