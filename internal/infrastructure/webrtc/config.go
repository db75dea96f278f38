package webrtc

import (
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
)

// EndpointConfig WebRTC endpoint configuration
type EndpointConfig struct {
	// BindIP is the local address endpoints listen on.
	BindIP string
	// PublicIP, when set, replaces BindIP in advertised candidates.
	PublicIP   string
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// ICE consent timeouts; zero selects the defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration

	LoggerFactory logging.LoggerFactory
	Stats         StatsSink
}

const (
	defaultDisconnectedTimeout = 5 * time.Second
	defaultFailedTimeout       = 5 * time.Second
	keepaliveInterval          = 2 * time.Second
)

// StatsSink receives media plane measurements.
type StatsSink interface {
	PacketForwarded(bytes int)
	ReceiverReport(fractionLost float64, jitter uint32)
	TransportState(state string)
}

type noopStats struct{}

func (noopStats) PacketForwarded(int)             {}
func (noopStats) ReceiverReport(float64, uint32) {}
func (noopStats) TransportState(string)          {}

func (c EndpointConfig) stats() StatsSink {
	if c.Stats == nil {
		return noopStats{}
	}
	return c.Stats
}

func (c EndpointConfig) advertisedIP() string {
	if c.PublicIP != "" {
		return c.PublicIP
	}
	return c.BindIP
}
