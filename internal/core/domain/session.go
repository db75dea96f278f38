package domain

import (
	"time"

	"audiorelay/pkg/sdpinfo"
)

type ProducerID string
type ConsumerID string

// Producer publishes one inbound audio stream. It owns its endpoint, its
// transport and the incoming stream every consumer reads from.
type Producer struct {
	ID             ProducerID
	Endpoint       Endpoint
	Transport      Transport
	IncomingStream IncomingStream
	Media          *sdpinfo.Media
	CreatedAt      time.Time
}

// Consumer receives a producer's stream over its own transport, created on
// the producer's endpoint.
type Consumer struct {
	ID             ConsumerID
	ProducerID     ProducerID
	Transport      Transport
	OutgoingStream OutgoingStream
	CreatedAt      time.Time
}

// SessionAnswer is returned to the signaling client after a negotiation.
type SessionAnswer struct {
	ID  string
	SDP string
}

// ProducerInfo is a read-only view of a registered producer.
type ProducerInfo struct {
	ID        ProducerID
	Codec     string
	Consumers []ConsumerID
	CreatedAt time.Time
}

// RegistryStats counts live sessions.
type RegistryStats struct {
	Producers int
	Consumers int
}
