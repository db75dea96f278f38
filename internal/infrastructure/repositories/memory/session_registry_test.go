package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"audiorelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProducer(id string) *domain.Producer {
	return &domain.Producer{ID: domain.ProducerID(id), CreatedAt: time.Now()}
}

func newConsumer(id string) *domain.Consumer {
	return &domain.Consumer{ID: domain.ConsumerID(id), CreatedAt: time.Now()}
}

func TestRegisterProducer(t *testing.T) {
	registry := NewMemorySessionRegistry()

	id, err := registry.RegisterProducer(newProducer("p1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ProducerID("p1"), id)

	producer, err := registry.LookupProducer("p1")
	require.NoError(t, err)
	assert.Equal(t, id, producer.ID)

	_, err = registry.RegisterProducer(newProducer("p1"))
	assert.ErrorIs(t, err, domain.ErrIDCollision)

	_, err = registry.RegisterProducer(&domain.Producer{})
	assert.Error(t, err)
	_, err = registry.RegisterProducer(nil)
	assert.Error(t, err)
}

func TestRegisterProducer_ConsumerIDTaken(t *testing.T) {
	registry := NewMemorySessionRegistry()
	_, err := registry.RegisterProducer(newProducer("p1"))
	require.NoError(t, err)
	_, err = registry.RegisterConsumer("p1", newConsumer("c1"))
	require.NoError(t, err)

	_, err = registry.RegisterProducer(newProducer("c1"))
	assert.ErrorIs(t, err, domain.ErrIDCollision)

	_, err = registry.LookupProducer("c1")
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)
	assert.Equal(t, domain.RegistryStats{Producers: 1, Consumers: 1}, registry.Stats())
}

func TestLookupProducer_NotFound(t *testing.T) {
	registry := NewMemorySessionRegistry()
	_, err := registry.LookupProducer("missing")
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)
}

func TestRegisterConsumer(t *testing.T) {
	registry := NewMemorySessionRegistry()
	_, err := registry.RegisterProducer(newProducer("p1"))
	require.NoError(t, err)

	consumer := newConsumer("c1")
	id, err := registry.RegisterConsumer("p1", consumer)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsumerID("c1"), id)
	assert.Equal(t, domain.ProducerID("p1"), consumer.ProducerID)

	_, err = registry.RegisterConsumer("p1", newConsumer("c1"))
	assert.ErrorIs(t, err, domain.ErrIDCollision)

	_, err = registry.RegisterConsumer("p1", newConsumer("p1"))
	assert.ErrorIs(t, err, domain.ErrIDCollision)

	_, err = registry.RegisterConsumer("missing", newConsumer("c2"))
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)

	assert.Equal(t, domain.RegistryStats{Producers: 1, Consumers: 1}, registry.Stats())
}

func TestRemoveConsumer_IsIdempotent(t *testing.T) {
	registry := NewMemorySessionRegistry()
	_, err := registry.RegisterProducer(newProducer("p1"))
	require.NoError(t, err)
	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := registry.RegisterConsumer("p1", newConsumer(id))
		require.NoError(t, err)
	}

	removed, ok := registry.RemoveConsumer("p1", "c2")
	require.True(t, ok)
	assert.Equal(t, domain.ConsumerID("c2"), removed.ID)
	afterFirst, err := registry.Consumers("p1")
	require.NoError(t, err)

	removed, ok = registry.RemoveConsumer("p1", "c2")
	assert.False(t, ok)
	assert.Nil(t, removed)
	afterSecond, err := registry.Consumers("p1")
	require.NoError(t, err)

	assert.Equal(t, afterFirst, afterSecond)
	assert.Len(t, afterSecond, 2)

	_, ok = registry.RemoveConsumer("missing", "c1")
	assert.False(t, ok)
	_, err = registry.LookupProducer("p1")
	assert.NoError(t, err)
}

func TestRemoveProducer_ReturnsConsumers(t *testing.T) {
	registry := NewMemorySessionRegistry()
	_, err := registry.RegisterProducer(newProducer("p1"))
	require.NoError(t, err)
	_, err = registry.RegisterProducer(newProducer("p2"))
	require.NoError(t, err)
	_, err = registry.RegisterConsumer("p1", newConsumer("c1"))
	require.NoError(t, err)
	_, err = registry.RegisterConsumer("p2", newConsumer("c2"))
	require.NoError(t, err)

	producer, consumers, ok := registry.RemoveProducer("p1")
	require.True(t, ok)
	assert.Equal(t, domain.ProducerID("p1"), producer.ID)
	require.Len(t, consumers, 1)
	assert.Equal(t, domain.ConsumerID("c1"), consumers[0].ID)

	_, _, ok = registry.RemoveProducer("p1")
	assert.False(t, ok)

	_, err = registry.Consumers("p1")
	assert.ErrorIs(t, err, domain.ErrProducerNotFound)
	assert.Equal(t, []domain.ProducerID{"p2"}, registry.ProducerIDs())
	assert.Equal(t, domain.RegistryStats{Producers: 1, Consumers: 1}, registry.Stats())

	// the freed consumer id can be reused
	_, err = registry.RegisterConsumer("p2", newConsumer("c1"))
	assert.NoError(t, err)
}

func TestConsumers_OrderedByCreation(t *testing.T) {
	registry := NewMemorySessionRegistry()
	_, err := registry.RegisterProducer(newProducer("p1"))
	require.NoError(t, err)

	base := time.Now()
	for i, id := range []string{"z", "a", "m"} {
		c := newConsumer(id)
		c.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := registry.RegisterConsumer("p1", c)
		require.NoError(t, err)
	}

	consumers, err := registry.Consumers("p1")
	require.NoError(t, err)
	require.Len(t, consumers, 3)
	assert.Equal(t, domain.ConsumerID("z"), consumers[0].ID)
	assert.Equal(t, domain.ConsumerID("m"), consumers[2].ID)
}

func TestConcurrentRegistrationAndRemoval(t *testing.T) {
	registry := NewMemorySessionRegistry()
	_, err := registry.RegisterProducer(newProducer("p1"))
	require.NoError(t, err)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_, err := registry.RegisterConsumer("p1", newConsumer(id))
			assert.NoError(t, err)
			if i%2 == 0 {
				// racing removals of the same consumer
				go registry.RemoveConsumer("p1", domain.ConsumerID(id))
				registry.RemoveConsumer("p1", domain.ConsumerID(id))
			}
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		consumers, err := registry.Consumers("p1")
		return err == nil && len(consumers) == n/2
	}, time.Second, 10*time.Millisecond)

	consumers, err := registry.Consumers("p1")
	require.NoError(t, err)
	for _, c := range consumers {
		assert.Equal(t, domain.ProducerID("p1"), c.ProducerID)
	}
}
