package services

import (
	"sync"
	"time"

	"audiorelay/internal/core/domain"
	"audiorelay/internal/core/ports"
)

// MetricsService keeps in-process session counters and forwards every
// measurement to an optional sink, typically the Prometheus collector.
type MetricsService struct {
	mu sync.RWMutex

	activeProducers int
	activeConsumers int

	producersCreated int64
	consumersCreated int64
	consumersRemoved int64

	negotiationFailures map[string]int64
	negotiationTime     map[string]time.Duration

	sink ports.MetricsRecorder
}

func NewMetricsService(sink ports.MetricsRecorder) *MetricsService {
	return &MetricsService{
		negotiationFailures: make(map[string]int64),
		negotiationTime:     make(map[string]time.Duration),
		sink:                sink,
	}
}

func (m *MetricsService) ProducerCreated() {
	m.mu.Lock()
	m.activeProducers++
	m.producersCreated++
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.ProducerCreated()
	}
}

func (m *MetricsService) ProducerDestroyed() {
	m.mu.Lock()
	if m.activeProducers > 0 {
		m.activeProducers--
	}
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.ProducerDestroyed()
	}
}

func (m *MetricsService) ConsumerCreated() {
	m.mu.Lock()
	m.activeConsumers++
	m.consumersCreated++
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.ConsumerCreated()
	}
}

func (m *MetricsService) ConsumerRemoved() {
	m.mu.Lock()
	if m.activeConsumers > 0 {
		m.activeConsumers--
	}
	m.consumersRemoved++
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.ConsumerRemoved()
	}
}

func (m *MetricsService) NegotiationFailed(path, reason string) {
	m.mu.Lock()
	m.negotiationFailures[path+"/"+reason]++
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.NegotiationFailed(path, reason)
	}
}

func (m *MetricsService) ObserveNegotiation(path string, duration time.Duration) {
	m.mu.Lock()
	m.negotiationTime[path] = duration
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.ObserveNegotiation(path, duration)
	}
}

// LastNegotiation returns the duration of the latest successful negotiation on path.
func (m *MetricsService) LastNegotiation(path string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.negotiationTime[path]
}

func (m *MetricsService) Snapshot() *domain.SessionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failures := make(map[string]int64, len(m.negotiationFailures))
	for k, v := range m.negotiationFailures {
		failures[k] = v
	}

	return &domain.SessionMetrics{
		ActiveProducers:     m.activeProducers,
		ActiveConsumers:     m.activeConsumers,
		ProducersCreated:    m.producersCreated,
		ConsumersCreated:    m.consumersCreated,
		ConsumersRemoved:    m.consumersRemoved,
		NegotiationFailures: failures,
		Timestamp:           time.Now(),
	}
}
