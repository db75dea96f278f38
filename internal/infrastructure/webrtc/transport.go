package webrtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"audiorelay/internal/core/domain"
	"audiorelay/pkg/sdpinfo"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is one peer's ICE and DTLS context, built from pion's ORTC
// objects so that every transport of an endpoint shares its socket and
// certificate. Each transport keeps its own media engine because payload
// types are chosen by the remote peer.
type Transport struct {
	id       string
	endpoint *Endpoint

	mediaEngine *webrtc.MediaEngine
	api         *webrtc.API
	gatherer    *webrtc.ICEGatherer
	ice         *webrtc.ICETransport
	dtls        *webrtc.DTLSTransport

	localICE   sdpinfo.ICEInfo
	localDTLS  sdpinfo.DTLSInfo
	remoteICE  webrtc.ICEParameters
	remoteDTLS webrtc.DTLSParameters

	state *connectivityState
	stats StatsSink

	mu            sync.Mutex
	codecs        map[webrtc.PayloadType]struct{}
	remote        *sdpinfo.Media
	local         *sdpinfo.Media
	started       bool
	dtlsConnected bool
	pending       []func()
	incoming      []*IncomingStream
	outgoing      []*OutgoingStream

	releaseOnce sync.Once

	logger *zap.SugaredLogger
}

var _ domain.Transport = (*Transport)(nil)

func newTransport(id string, e *Endpoint, remote *sdpinfo.Description) (*Transport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(e.settings),
	)

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: e.config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create ice gatherer: %w", err)
	}
	iceTransport := api.NewICETransport(gatherer)

	dtlsTransport, err := api.NewDTLSTransport(iceTransport, []webrtc.Certificate{e.certificate})
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to create dtls transport: %w", err)
	}

	if err := gatherer.Gather(); err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to gather candidates: %w", err)
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to read ice parameters: %w", err)
	}
	dtlsParams, err := dtlsTransport.GetLocalParameters()
	if err != nil {
		gatherer.Close()
		return nil, fmt.Errorf("failed to read dtls parameters: %w", err)
	}
	fingerprint, err := pickFingerprint(dtlsParams.Fingerprints)
	if err != nil {
		gatherer.Close()
		return nil, err
	}

	t := &Transport{
		id:          id,
		endpoint:    e,
		mediaEngine: mediaEngine,
		api:         api,
		gatherer:    gatherer,
		ice:         iceTransport,
		dtls:        dtlsTransport,
		localICE: sdpinfo.ICEInfo{
			Ufrag: iceParams.UsernameFragment,
			Pwd:   iceParams.Password,
			Lite:  true,
		},
		localDTLS: sdpinfo.DTLSInfo{
			Setup:       answerSetup(remote.DTLS.Setup),
			Hash:        fingerprint.Algorithm,
			Fingerprint: strings.ToUpper(fingerprint.Value),
		},
		remoteICE: webrtc.ICEParameters{
			UsernameFragment: remote.ICE.Ufrag,
			Password:         remote.ICE.Pwd,
			ICELite:          remote.ICE.Lite,
		},
		remoteDTLS: webrtc.DTLSParameters{
			Role: remoteRole(remote.DTLS.Setup),
			Fingerprints: []webrtc.DTLSFingerprint{{
				Algorithm: remote.DTLS.Hash,
				Value:     remote.DTLS.Fingerprint,
			}},
		},
		state:  newConnectivityState(),
		stats:  e.config.stats(),
		codecs: make(map[webrtc.PayloadType]struct{}),
		logger: e.logger.With("transport_id", id),
	}

	t.state.subscribe(func(state domain.ConnectivityState) {
		t.stats.TransportState(string(state))
	})

	iceTransport.OnConnectionStateChange(t.onICEStateChange)
	dtlsTransport.OnStateChange(t.onDTLSStateChange)

	return t, nil
}

// pickFingerprint prefers sha-256, which every browser supports.
func pickFingerprint(fingerprints []webrtc.DTLSFingerprint) (webrtc.DTLSFingerprint, error) {
	for _, fp := range fingerprints {
		if strings.EqualFold(fp.Algorithm, "sha-256") {
			return fp, nil
		}
	}
	if len(fingerprints) > 0 {
		return fingerprints[0], nil
	}
	return webrtc.DTLSFingerprint{}, fmt.Errorf("certificate has no fingerprint")
}

// answerSetup is the setup attribute matching the DTLS role pion takes for
// a controlled agent: server only when the remote insists on being client.
func answerSetup(remote sdpinfo.Setup) sdpinfo.Setup {
	if remote == sdpinfo.SetupActive {
		return sdpinfo.SetupPassive
	}
	return sdpinfo.SetupActive
}

func remoteRole(setup sdpinfo.Setup) webrtc.DTLSRole {
	switch setup {
	case sdpinfo.SetupActive:
		return webrtc.DTLSRoleClient
	case sdpinfo.SetupPassive:
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

func (t *Transport) ID() string {
	return t.id
}

func (t *Transport) SetRemoteProperties(media *sdpinfo.Media) error {
	if media == nil {
		return fmt.Errorf("remote media is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.registerCodecs(media); err != nil {
		return err
	}
	t.remote = media
	return nil
}

// SetLocalProperties fixes the answered media and starts connectivity.
func (t *Transport) SetLocalProperties(media *sdpinfo.Media) error {
	if media == nil {
		return fmt.Errorf("local media is required")
	}

	t.mu.Lock()
	if err := t.registerCodecs(media); err != nil {
		t.mu.Unlock()
		return err
	}
	t.local = media
	start := !t.started
	t.started = true
	t.mu.Unlock()

	if start {
		go t.connect()
	}
	return nil
}

// registerCodecs must be called with mu held.
func (t *Transport) registerCodecs(media *sdpinfo.Media) error {
	if media.Kind != sdpinfo.KindAudio {
		return nil
	}

	for _, c := range media.Codecs {
		pt := webrtc.PayloadType(c.PayloadType)
		if _, ok := t.codecs[pt]; ok {
			continue
		}

		feedback := make([]webrtc.RTCPFeedback, 0, len(c.Feedback))
		for _, fb := range c.Feedback {
			kind, param, _ := strings.Cut(fb, " ")
			feedback = append(feedback, webrtc.RTCPFeedback{Type: kind, Parameter: param})
		}

		err := t.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     "audio/" + c.Name,
				ClockRate:    c.ClockRate,
				Channels:     c.Channels,
				SDPFmtpLine:  c.Fmtp,
				RTCPFeedback: feedback,
			},
			PayloadType: pt,
		}, webrtc.RTPCodecTypeAudio)
		if err != nil {
			return fmt.Errorf("failed to register codec %s: %w", c.Name, err)
		}
		t.codecs[pt] = struct{}{}
	}
	return nil
}

func (t *Transport) LocalICE() sdpinfo.ICEInfo {
	return t.localICE
}

func (t *Transport) LocalDTLS() sdpinfo.DTLSInfo {
	return t.localDTLS
}

func (t *Transport) OnStateChange(handler domain.StateHandler) func() {
	return t.state.subscribe(handler)
}

func (t *Transport) State() domain.ConnectivityState {
	return t.state.current()
}

// connect runs ICE then DTLS. Both calls block until the peer shows up or
// the transport is closed.
func (t *Transport) connect() {
	if !t.state.fire(eventConnect) {
		return
	}

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, t.remoteICE, &role); err != nil {
		t.closeAsync("ice start failed", err)
		return
	}
	if err := t.dtls.Start(t.remoteDTLS); err != nil {
		t.closeAsync("dtls handshake failed", err)
		return
	}

	t.mu.Lock()
	if t.State() == domain.StateClosed {
		t.mu.Unlock()
		return
	}
	t.dtlsConnected = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, run := range pending {
		run()
	}

	if t.state.fire(eventEstablish) {
		t.logger.Infow("transport connected")
	}
}

// whenConnected runs fn once DTLS is up; SRTP sessions only exist from
// that point on.
func (t *Transport) whenConnected(fn func()) {
	t.mu.Lock()
	if !t.dtlsConnected {
		t.pending = append(t.pending, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn()
}

func (t *Transport) onICEStateChange(state webrtc.ICETransportState) {
	t.logger.Debugw("ice state changed", "state", state.String())

	switch state {
	case webrtc.ICETransportStateConnected, webrtc.ICETransportStateCompleted:
		t.mu.Lock()
		connected := t.dtlsConnected
		t.mu.Unlock()
		if connected && t.state.fire(eventEstablish) {
			t.logger.Infow("transport reconnected")
		}
	case webrtc.ICETransportStateDisconnected:
		if t.state.fire(eventInterrupt) {
			t.logger.Infow("transport disconnected")
		}
	case webrtc.ICETransportStateFailed:
		t.closeAsync("ice failed", nil)
	}
}

func (t *Transport) onDTLSStateChange(state webrtc.DTLSTransportState) {
	t.logger.Debugw("dtls state changed", "state", state.String())

	if state == webrtc.DTLSTransportStateFailed || state == webrtc.DTLSTransportStateClosed {
		t.closeAsync("dtls "+state.String(), nil)
	}
}

// closeAsync is used from pion callbacks, which must not wait on pion locks.
func (t *Transport) closeAsync(reason string, err error) {
	if t.state.fire(eventClose) {
		if err != nil {
			t.logger.Warnw("transport closed", "reason", reason, "error", err)
		} else {
			t.logger.Infow("transport closed", "reason", reason)
		}
	}
	go t.release()
}

// Close stops the transport and all of its streams. It is idempotent.
func (t *Transport) Close() error {
	if t.state.fire(eventClose) {
		t.logger.Infow("transport closed", "reason", "local")
	}
	t.release()
	return nil
}

func (t *Transport) release() {
	t.releaseOnce.Do(func() {
		t.mu.Lock()
		incoming := t.incoming
		outgoing := t.outgoing
		t.incoming = nil
		t.outgoing = nil
		t.pending = nil
		t.mu.Unlock()

		for _, s := range outgoing {
			s.Stop()
		}
		for _, s := range incoming {
			s.Stop()
		}

		if err := t.dtls.Stop(); err != nil {
			t.logger.Debugw("dtls stop", "error", err)
		}
		if err := t.ice.Stop(); err != nil {
			t.logger.Debugw("ice stop", "error", err)
		}
		if err := t.gatherer.Close(); err != nil {
			t.logger.Debugw("gatherer close", "error", err)
		}

		t.endpoint.forget(t.id)
	})
}

func (t *Transport) remoteCodec(name string) (sdpinfo.Codec, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return sdpinfo.Codec{}, false
	}
	return t.remote.Codec(name)
}

func (t *Transport) localMedia() *sdpinfo.Media {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *Transport) track(in *IncomingStream, out *OutgoingStream) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.current() == domain.StateClosed {
		return ErrTransportClosed
	}
	if in != nil {
		t.incoming = append(t.incoming, in)
	}
	if out != nil {
		t.outgoing = append(t.outgoing, out)
	}
	return nil
}
