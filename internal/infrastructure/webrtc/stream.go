package webrtc

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"audiorelay/internal/core/domain"
	"audiorelay/pkg/optimize"
	"audiorelay/pkg/sdpinfo"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const receiveMTU = 1500

// packetBuffers backs every RTP and RTCP read loop.
var packetBuffers = optimize.NewBytePool(receiveMTU)

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

// IncomingStream receives a producer's audio and republishes every packet
// on a local relay track. Outgoing streams bind to the relay track, so one
// read loop serves all consumers.
type IncomingStream struct {
	transport *Transport
	info      *sdpinfo.StreamInfo
	receiver  *webrtc.RTPReceiver
	relay     *webrtc.TrackLocalStaticRTP
	stats     StatsSink

	stopOnce sync.Once
	logger   *zap.SugaredLogger
}

var _ domain.IncomingStream = (*IncomingStream)(nil)

func (t *Transport) CreateIncomingStream(stream *sdpinfo.StreamInfo) (domain.IncomingStream, error) {
	if stream == nil {
		return nil, fmt.Errorf("stream info is required")
	}
	track := stream.Track(sdpinfo.KindAudio)
	if track == nil {
		return nil, fmt.Errorf("stream %s has no audio track", stream.ID)
	}
	if len(track.SSRCs) == 0 {
		return nil, fmt.Errorf("audio track %s has no ssrc", track.ID)
	}
	codec, ok := t.remoteCodec("opus")
	if !ok {
		return nil, fmt.Errorf("remote media has no opus codec")
	}

	receiver, err := t.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create rtp receiver: %w", err)
	}
	relay, err := webrtc.NewTrackLocalStaticRTP(opusCapability, track.ID, stream.ID)
	if err != nil {
		receiver.Stop()
		return nil, fmt.Errorf("failed to create relay track: %w", err)
	}

	s := &IncomingStream{
		transport: t,
		info:      stream,
		receiver:  receiver,
		relay:     relay,
		stats:     t.stats,
		logger:    t.logger.With("stream_id", stream.ID, "ssrc", track.SSRCs[0]),
	}
	if err := t.track(s, nil); err != nil {
		receiver.Stop()
		return nil, err
	}

	params := webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(track.SSRCs[0]),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	}
	t.whenConnected(func() {
		if err := receiver.Receive(params); err != nil {
			s.logger.Warnw("failed to start receiver", "error", err)
			return
		}
		go s.forward()
		go s.readRTCP()
	})

	return s, nil
}

func (s *IncomingStream) ID() string {
	return s.info.ID
}

func (s *IncomingStream) Info() *sdpinfo.StreamInfo {
	return s.info
}

func (s *IncomingStream) forward() {
	track := s.receiver.Track()
	buf := packetBuffers.Get()
	defer packetBuffers.Put(buf)

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debugw("incoming stream ended", "error", err)
			}
			return
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			s.logger.Debugw("dropping malformed RTP packet", "error", err)
			continue
		}
		stripExtensions(packet)
		if err := s.relay.WriteRTP(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Warnw("error forwarding packet", "error", err)
			continue
		}
		s.stats.PacketForwarded(len(packet.Payload))
	}
}

// stripExtensions drops header extensions, which were negotiated with the
// producer only.
func stripExtensions(packet *rtp.Packet) {
	packet.Header.Extension = false
	packet.Header.ExtensionProfile = 0
	packet.Header.Extensions = nil
}

func (s *IncomingStream) readRTCP() {
	readRTCP(func(b []byte) (int, error) {
		n, _, err := s.receiver.Read(b)
		return n, err
	}, s.stats, s.logger, func() {
		s.transport.closeAsync("rtcp bye", nil)
	})
}

func (s *IncomingStream) Stop() {
	s.stopOnce.Do(func() {
		if err := s.receiver.Stop(); err != nil {
			s.logger.Debugw("receiver stop", "error", err)
		}
	})
}

// OutgoingStream sends a relay track to one consumer.
type OutgoingStream struct {
	transport *Transport
	info      *sdpinfo.StreamInfo
	ssrc      webrtc.SSRC

	mu      sync.Mutex
	sender  *webrtc.RTPSender
	stopped bool

	logger *zap.SugaredLogger
}

var _ domain.OutgoingStream = (*OutgoingStream)(nil)

func (t *Transport) CreateOutgoingStream(kinds ...string) (domain.OutgoingStream, error) {
	local := t.localMedia()
	if local == nil {
		return nil, fmt.Errorf("local properties must be set before creating outgoing streams")
	}

	streamID := uuid.NewString()
	info := &sdpinfo.StreamInfo{ID: streamID}
	ssrc := webrtc.SSRC(rand.Uint32())
	for _, kind := range kinds {
		if kind != sdpinfo.KindAudio {
			return nil, fmt.Errorf("unsupported outgoing track kind %q", kind)
		}
		info.Tracks = append(info.Tracks, &sdpinfo.TrackInfo{
			ID:      uuid.NewString(),
			Kind:    kind,
			MediaID: local.ID,
			SSRCs:   []uint32{uint32(ssrc)},
			CName:   streamID,
		})
	}
	if len(info.Tracks) == 0 {
		return nil, fmt.Errorf("at least one track kind is required")
	}

	s := &OutgoingStream{
		transport: t,
		info:      info,
		ssrc:      ssrc,
		logger:    t.logger.With("stream_id", streamID, "ssrc", uint32(ssrc)),
	}
	if err := t.track(nil, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *OutgoingStream) ID() string {
	return s.info.ID
}

func (s *OutgoingStream) Info() *sdpinfo.StreamInfo {
	return s.info
}

// AttachTo starts sending source's relay track. Packets are dropped until
// the consumer transport is connected.
func (s *OutgoingStream) AttachTo(source domain.IncomingStream) error {
	src, ok := source.(*IncomingStream)
	if !ok {
		return fmt.Errorf("cannot attach to %T", source)
	}
	local := s.transport.localMedia()
	codec, ok := local.Codec("opus")
	if !ok {
		return fmt.Errorf("local media has no opus codec")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("outgoing stream %s is stopped", s.info.ID)
	}
	s.detachLocked()

	sender, err := s.transport.api.NewRTPSender(src.relay, s.transport.dtls)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create rtp sender: %w", err)
	}
	s.sender = sender
	s.mu.Unlock()

	params := webrtc.RTPSendParameters{
		Encodings: []webrtc.RTPEncodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        s.ssrc,
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	}
	s.transport.whenConnected(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Detached or re-attached while waiting.
		if s.sender != sender {
			return
		}
		if err := sender.Send(params); err != nil {
			s.logger.Warnw("failed to start sender", "error", err)
			return
		}
		go s.readRTCP(sender)
	})

	s.logger.Debugw("outgoing stream attached", "source", src.ID())
	return nil
}

func (s *OutgoingStream) readRTCP(sender *webrtc.RTPSender) {
	readRTCP(func(b []byte) (int, error) {
		n, _, err := sender.Read(b)
		return n, err
	}, s.transport.stats, s.logger, func() {
		s.transport.closeAsync("rtcp bye", nil)
	})
}

func (s *OutgoingStream) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

func (s *OutgoingStream) detachLocked() {
	if s.sender == nil {
		return
	}
	if err := s.sender.Stop(); err != nil {
		s.logger.Debugw("sender stop", "error", err)
	}
	s.sender = nil
}

func (s *OutgoingStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
	s.stopped = true
}
