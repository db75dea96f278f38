package domain

import "time"

type EventType string

const (
	EventProducerCreated   EventType = "producer.created"
	EventProducerDestroyed EventType = "producer.destroyed"
	EventConsumerCreated   EventType = "consumer.created"
	EventConsumerRemoved   EventType = "consumer.removed"
)

// SessionEvent describes a change in the session registry.
type SessionEvent struct {
	Type       EventType  `json:"type"`
	ProducerID ProducerID `json:"producer_id"`
	ConsumerID ConsumerID `json:"consumer_id,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
