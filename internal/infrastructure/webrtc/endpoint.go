package webrtc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"

	"audiorelay/internal/core/domain"
	"audiorelay/internal/core/ports"
	"audiorelay/pkg/sdpinfo"

	"github.com/pion/ice/v2"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var (
	ErrEndpointClosed  = domain.ErrEndpointClosed
	ErrNoPortAvailable = errors.New("no udp port available in range")
)

// EndpointFactory allocates one UDP socket per endpoint from the configured
// port range.
type EndpointFactory struct {
	config EndpointConfig
	logger *zap.SugaredLogger

	mu       sync.Mutex
	nextPort uint16
}

func NewEndpointFactory(config EndpointConfig, logger *zap.SugaredLogger) *EndpointFactory {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.BindIP == "" {
		config.BindIP = "0.0.0.0"
	}
	if config.DisconnectedTimeout <= 0 {
		config.DisconnectedTimeout = defaultDisconnectedTimeout
	}
	if config.FailedTimeout <= 0 {
		config.FailedTimeout = defaultFailedTimeout
	}
	return &EndpointFactory{
		config:   config,
		logger:   logger,
		nextPort: config.PortRange.Min,
	}
}

var _ ports.EndpointFactory = (*EndpointFactory)(nil)

func (f *EndpointFactory) CreateEndpoint() (domain.Endpoint, error) {
	conn, err := f.listen()
	if err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to generate dtls key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to generate dtls certificate: %w", err)
	}

	port := conn.LocalAddr().(*net.UDPAddr).Port
	candidate, err := ice.NewCandidateHost(&ice.CandidateHostConfig{
		Network:   "udp",
		Address:   f.advertisedIP(conn),
		Port:      port,
		Component: 1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to build host candidate: %w", err)
	}

	mux := webrtc.NewICEUDPMux(f.config.LoggerFactory.NewLogger("udpmux"), conn)

	settings := webrtc.SettingEngine{LoggerFactory: f.config.LoggerFactory}
	settings.SetLite(true)
	settings.SetICEUDPMux(mux)
	settings.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	// pion's ORTC DTLS transport does not surface a peer's close_notify, so
	// departed peers are detected by ICE consent expiry.
	settings.SetICETimeouts(f.config.DisconnectedTimeout, f.config.FailedTimeout, keepaliveInterval)
	if f.config.PublicIP != "" {
		settings.SetNAT1To1IPs([]string{f.config.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	ep := &Endpoint{
		config:      f.config,
		settings:    settings,
		certificate: *cert,
		conn:        conn,
		mux:         mux,
		candidates:  []sdpinfo.Candidate{sdpinfo.Candidate(candidate.Marshal())},
		transports:  make(map[string]*Transport),
		logger:      f.logger.With("port", port),
	}

	ep.logger.Infow("endpoint created", "candidate", candidate.Marshal())
	return ep, nil
}

// listen binds the next free port in the range, or an ephemeral port when
// no range is configured.
func (f *EndpointFactory) listen() (*net.UDPConn, error) {
	ip := net.ParseIP(f.config.BindIP)
	if ip == nil {
		return nil, fmt.Errorf("invalid bind ip %q", f.config.BindIP)
	}

	if f.config.PortRange.Min == 0 {
		return net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	span := int(f.config.PortRange.Max) - int(f.config.PortRange.Min) + 1
	for i := 0; i < span; i++ {
		port := f.nextPort
		if f.nextPort >= f.config.PortRange.Max {
			f.nextPort = f.config.PortRange.Min
		} else {
			f.nextPort++
		}

		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: int(port)})
		if err == nil {
			return conn, nil
		}
	}
	return nil, ErrNoPortAvailable
}

func (f *EndpointFactory) advertisedIP(conn *net.UDPConn) string {
	ip := f.config.advertisedIP()
	if ip != "" && ip != "0.0.0.0" {
		return ip
	}
	if local := conn.LocalAddr().(*net.UDPAddr).IP; !local.IsUnspecified() {
		return local.String()
	}
	return firstInterfaceIP()
}

// firstInterfaceIP picks the first non-loopback IPv4 address of the host.
func firstInterfaceIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "127.0.0.1"
}

// Endpoint is a UDP socket shared by every transport of one producer. ICE
// traffic is demultiplexed by username fragment.
type Endpoint struct {
	config      EndpointConfig
	settings    webrtc.SettingEngine
	certificate webrtc.Certificate
	conn        *net.UDPConn
	mux         ice.UDPMux
	candidates  []sdpinfo.Candidate

	mu         sync.Mutex
	transports map[string]*Transport
	closed     bool
	nextID     int

	logger *zap.SugaredLogger
}

var _ domain.Endpoint = (*Endpoint)(nil)

func (e *Endpoint) CreateTransport(remote *sdpinfo.Description) (domain.Transport, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote description is required")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEndpointClosed
	}
	e.nextID++
	id := fmt.Sprintf("%d-%d", e.conn.LocalAddr().(*net.UDPAddr).Port, e.nextID)
	e.mu.Unlock()

	t, err := newTransport(id, e, remote)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		t.Close()
		return nil, ErrEndpointClosed
	}
	e.transports[id] = t
	e.mu.Unlock()

	return t, nil
}

func (e *Endpoint) LocalCandidates() []sdpinfo.Candidate {
	return append([]sdpinfo.Candidate(nil), e.candidates...)
}

// TransportCount returns the number of open transports.
func (e *Endpoint) TransportCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.transports)
}

func (e *Endpoint) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.transports, id)
}

// Close stops all remaining transports and releases the socket.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	transports := make([]*Transport, 0, len(e.transports))
	for _, t := range e.transports {
		transports = append(transports, t)
	}
	e.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}

	err := e.mux.Close()
	if cerr := e.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}

	e.logger.Infow("endpoint closed", "transports", len(transports))
	return err
}
