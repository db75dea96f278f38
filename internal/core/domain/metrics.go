package domain

import "time"

// SessionMetrics is a snapshot of relay activity since start.
type SessionMetrics struct {
	ActiveProducers     int
	ActiveConsumers     int
	ProducersCreated    int64
	ConsumersCreated    int64
	ConsumersRemoved    int64
	NegotiationFailures map[string]int64
	Timestamp           time.Time
}
