package domain

import "audiorelay/pkg/sdpinfo"

// ConnectivityState is the lifecycle state of a transport.
type ConnectivityState string

const (
	StateNew          ConnectivityState = "new"
	StateConnecting   ConnectivityState = "connecting"
	StateConnected    ConnectivityState = "connected"
	StateDisconnected ConnectivityState = "disconnected"
	StateClosed       ConnectivityState = "closed"
)

// StateHandler observes connectivity transitions of a transport.
type StateHandler func(state ConnectivityState)

// Endpoint is a network resource hosting one or more transports.
type Endpoint interface {
	CreateTransport(remote *sdpinfo.Description) (Transport, error)
	LocalCandidates() []sdpinfo.Candidate
	Close() error
}

// Transport is the negotiated connectivity context of one peer.
type Transport interface {
	ID() string
	SetRemoteProperties(media *sdpinfo.Media) error
	SetLocalProperties(media *sdpinfo.Media) error
	LocalICE() sdpinfo.ICEInfo
	LocalDTLS() sdpinfo.DTLSInfo
	CreateIncomingStream(stream *sdpinfo.StreamInfo) (IncomingStream, error)
	CreateOutgoingStream(kinds ...string) (OutgoingStream, error)
	// OnStateChange registers an observer and returns a function removing it.
	OnStateChange(handler StateHandler) func()
	State() ConnectivityState
	Close() error
}

// IncomingStream is media received from a remote peer.
type IncomingStream interface {
	ID() string
	Info() *sdpinfo.StreamInfo
	Stop()
}

// OutgoingStream is media sent to a remote peer. Once attached it reads
// from an incoming stream without owning it.
type OutgoingStream interface {
	ID() string
	Info() *sdpinfo.StreamInfo
	AttachTo(source IncomingStream) error
	Detach()
	Stop()
}
