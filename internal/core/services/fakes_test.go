package services

import (
	"context"
	"fmt"
	"sync"

	"audiorelay/internal/core/domain"
	"audiorelay/pkg/sdpinfo"

	"github.com/stretchr/testify/mock"
)

const producerOffer = `v=0
o=- 4611731400430051336 2 IN IP4 127.0.0.1
s=-
t=0 0
a=group:BUNDLE 0
a=msid-semantic: WMS mic
m=audio 9 UDP/TLS/RTP/SAVPF 111 0
c=IN IP4 0.0.0.0
a=ice-ufrag:EsAw
a=ice-pwd:P2uYro0UCOQ4zxjKXaWCBui1
a=fingerprint:sha-256 D2:FA:0E:C3:22:59:5E:14:95:69:92:3D:13:B4:84:24:2C:C2:A2:C0:3E:FD:34:8E:5E:EA:6F:AF:52:CE:E6:0F
a=setup:actpass
a=mid:0
a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level
a=extmap:4 urn:ietf:params:rtp-hdrext:sdes:mid
a=sendonly
a=msid:mic track0
a=rtcp-mux
a=rtpmap:111 opus/48000/2
a=fmtp:111 minptime=10;useinbandfec=1
a=rtpmap:0 PCMU/8000
a=ssrc:5005 cname:producer
a=ssrc:5005 msid:mic track0
`

const consumerOffer = `v=0
o=- 7021846125583612937 2 IN IP4 127.0.0.1
s=-
t=0 0
a=group:BUNDLE 0
m=audio 9 UDP/TLS/RTP/SAVPF 111 0
c=IN IP4 0.0.0.0
a=ice-ufrag:q8Zr
a=ice-pwd:Yb1xqGQ4Zz1nYbN0qS1xvQ8c
a=fingerprint:sha-256 0F:E6:CE:52:AF:6F:EA:5E:8E:34:FD:3E:C0:A2:C2:2C:24:84:B4:13:3D:92:69:95:14:5E:59:22:C3:0E:FA:D2
a=setup:actpass
a=mid:0
a=recvonly
a=rtcp-mux
a=rtpmap:111 opus/48000/2
a=fmtp:111 minptime=10;useinbandfec=1
a=rtpmap:0 PCMU/8000
`

const videoOffer = `v=0
o=- 1 2 IN IP4 127.0.0.1
s=-
t=0 0
m=video 9 UDP/TLS/RTP/SAVPF 96
c=IN IP4 0.0.0.0
a=ice-ufrag:abcd
a=ice-pwd:efghijklmnopqrstuvwxyz12
a=mid:0
a=sendonly
a=msid:cam track0
a=rtpmap:96 VP8/90000
a=ssrc:7 cname:cam
`

const pcmuOnlyOffer = `v=0
o=- 1 2 IN IP4 127.0.0.1
s=-
t=0 0
m=audio 9 UDP/TLS/RTP/SAVPF 0
c=IN IP4 0.0.0.0
a=ice-ufrag:abcd
a=ice-pwd:efghijklmnopqrstuvwxyz12
a=mid:0
a=sendonly
a=msid:mic track0
a=rtpmap:0 PCMU/8000
a=ssrc:7 cname:mic
`

// closeLog records teardown order across fakes.
type closeLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *closeLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *closeLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeEndpointFactory struct {
	mu        sync.Mutex
	endpoints []*fakeEndpoint
	err       error
	log       *closeLog
}

func newFakeEndpointFactory() *fakeEndpointFactory {
	return &fakeEndpointFactory{log: &closeLog{}}
}

func (f *fakeEndpointFactory) CreateEndpoint() (domain.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ep := &fakeEndpoint{name: fmt.Sprintf("endpoint-%d", len(f.endpoints)+1), log: f.log}
	f.endpoints = append(f.endpoints, ep)
	return ep, nil
}

func (f *fakeEndpointFactory) last() *fakeEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.endpoints) == 0 {
		return nil
	}
	return f.endpoints[len(f.endpoints)-1]
}

type fakeEndpoint struct {
	name string
	log  *closeLog

	mu         sync.Mutex
	transports []*fakeTransport
	closed     bool
}

func (e *fakeEndpoint) CreateTransport(remote *sdpinfo.Description) (domain.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, domain.ErrEndpointClosed
	}
	t := &fakeTransport{
		id:       fmt.Sprintf("%s/transport-%d", e.name, len(e.transports)+1),
		state:    domain.StateNew,
		handlers: make(map[int]domain.StateHandler),
		log:      e.log,
	}
	e.transports = append(e.transports, t)
	return t, nil
}

func (e *fakeEndpoint) LocalCandidates() []sdpinfo.Candidate {
	return []sdpinfo.Candidate{"1 1 udp 2130706431 127.0.0.1 40000 typ host"}
}

func (e *fakeEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.log.add(e.name)
	}
	return nil
}

func (e *fakeEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEndpoint) transportCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.transports)
}

type fakeTransport struct {
	id  string
	log *closeLog

	mu          sync.Mutex
	state       domain.ConnectivityState
	handlers    map[int]domain.StateHandler
	nextHandler int
	closeCalls  int
	remote      *sdpinfo.Media
	local       *sdpinfo.Media
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) SetRemoteProperties(media *sdpinfo.Media) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = media
	return nil
}

func (t *fakeTransport) SetLocalProperties(media *sdpinfo.Media) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local = media
	return nil
}

func (t *fakeTransport) LocalICE() sdpinfo.ICEInfo {
	return sdpinfo.ICEInfo{Ufrag: "relay", Pwd: "relaypasswordrelaypassword", Lite: true}
}

func (t *fakeTransport) LocalDTLS() sdpinfo.DTLSInfo {
	return sdpinfo.DTLSInfo{Setup: sdpinfo.SetupActive, Hash: "sha-256", Fingerprint: "AA:BB:CC"}
}

func (t *fakeTransport) CreateIncomingStream(stream *sdpinfo.StreamInfo) (domain.IncomingStream, error) {
	return &fakeIncomingStream{id: stream.ID, info: stream}, nil
}

func (t *fakeTransport) CreateOutgoingStream(kinds ...string) (domain.OutgoingStream, error) {
	t.mu.Lock()
	mid := "0"
	if t.local != nil {
		mid = t.local.ID
	}
	t.mu.Unlock()

	info := &sdpinfo.StreamInfo{ID: "relay-" + t.id}
	for _, kind := range kinds {
		info.Tracks = append(info.Tracks, &sdpinfo.TrackInfo{
			ID:      "track-" + t.id,
			Kind:    kind,
			MediaID: mid,
			SSRCs:   []uint32{42},
			CName:   "relay",
		})
	}
	return &fakeOutgoingStream{id: info.ID, info: info}, nil
}

func (t *fakeTransport) OnStateChange(handler domain.StateHandler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextHandler
	t.nextHandler++
	t.handlers[id] = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
	}
}

func (t *fakeTransport) State() domain.ConnectivityState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setState simulates a connectivity transition reported by the engine.
func (t *fakeTransport) setState(state domain.ConnectivityState) {
	t.mu.Lock()
	if t.state == domain.StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = state
	handlers := make([]domain.StateHandler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closeCalls++
	alreadyClosed := t.state == domain.StateClosed
	t.mu.Unlock()

	if !alreadyClosed {
		t.log.add(t.id)
		t.setState(domain.StateClosed)
	}
	return nil
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

type fakeIncomingStream struct {
	id   string
	info *sdpinfo.StreamInfo

	mu      sync.Mutex
	stopped bool
}

func (s *fakeIncomingStream) ID() string                { return s.id }
func (s *fakeIncomingStream) Info() *sdpinfo.StreamInfo { return s.info }

func (s *fakeIncomingStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

type fakeOutgoingStream struct {
	id   string
	info *sdpinfo.StreamInfo

	mu       sync.Mutex
	source   domain.IncomingStream
	stopped  bool
	detached bool
}

func (s *fakeOutgoingStream) ID() string                { return s.id }
func (s *fakeOutgoingStream) Info() *sdpinfo.StreamInfo { return s.info }

func (s *fakeOutgoingStream) AttachTo(source domain.IncomingStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	return nil
}

func (s *fakeOutgoingStream) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
	s.source = nil
}

func (s *fakeOutgoingStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeOutgoingStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// MockEventPublisher is a testify mock of ports.EventPublisher.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event *domain.SessionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// idSequence hands out ids in order, then falls back to numbered ones.
func idSequence(ids ...string) func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		if next <= len(ids) {
			return ids[next-1]
		}
		return fmt.Sprintf("session-%d", next)
	}
}
