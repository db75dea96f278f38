package sdpinfo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const publisherOffer = `v=0
o=- 4611731400430051336 2 IN IP4 127.0.0.1
s=-
t=0 0
a=group:BUNDLE 0
a=extmap-allow-mixed
a=msid-semantic: WMS stream1
m=audio 9 UDP/TLS/RTP/SAVPF 111 63 9 0 8 126
c=IN IP4 0.0.0.0
a=rtcp:9 IN IP4 0.0.0.0
a=candidate:1 1 udp 2122260223 192.168.1.10 54400 typ host generation 0
a=ice-ufrag:EsAw
a=ice-pwd:P2uYro0UCOQ4zxjKXaWCBui1
a=ice-options:trickle
a=fingerprint:sha-256 D2:FA:0E:C3:22:59:5E:14:95:69:92:3D:13:B4:84:24:2C:C2:A2:C0:3E:FD:34:8E:5E:EA:6F:AF:52:CE:E6:0F
a=setup:actpass
a=mid:0
a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level
a=extmap:2 http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time
a=extmap:3 http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01
a=extmap:4 urn:ietf:params:rtp-hdrext:sdes:mid
a=sendonly
a=msid:stream1 track1
a=rtcp-mux
a=rtpmap:111 opus/48000/2
a=rtcp-fb:111 transport-cc
a=fmtp:111 minptime=10;useinbandfec=1
a=rtpmap:63 red/48000/2
a=fmtp:63 111/111
a=rtpmap:9 G722/8000
a=rtpmap:0 PCMU/8000
a=rtpmap:8 PCMA/8000
a=rtpmap:126 telephone-event/8000
a=ssrc:1001 cname:abcdcname
a=ssrc:1001 msid:stream1 track1
`

const subscriberOffer = `v=0
o=- 7021846125583612937 2 IN IP4 127.0.0.1
s=-
t=0 0
a=group:BUNDLE 0
a=msid-semantic: WMS
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

const videoOnlyOffer = `v=0
o=- 1 2 IN IP4 127.0.0.1
s=-
t=0 0
m=video 9 UDP/TLS/RTP/SAVPF 96
c=IN IP4 0.0.0.0
a=ice-ufrag:abcd
a=ice-pwd:efghijklmnopqrstuvwxyz12
a=mid:0
a=sendonly
a=rtpmap:96 VP8/90000
`

var relayCapabilities = Capabilities{
	KindAudio: {
		Codecs: []string{"opus"},
		Extensions: []string{
			"urn:ietf:params:rtp-hdrext:ssrc-audio-level",
			"http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
		},
	},
}

func TestParse_PublisherOffer(t *testing.T) {
	desc, err := Parse(publisherOffer)
	require.NoError(t, err)

	assert.Equal(t, "EsAw", desc.ICE.Ufrag)
	assert.Equal(t, "P2uYro0UCOQ4zxjKXaWCBui1", desc.ICE.Pwd)
	assert.False(t, desc.ICE.Lite)
	assert.Equal(t, "sha-256", desc.DTLS.Hash)
	assert.Equal(t, SetupActpass, desc.DTLS.Setup)
	assert.True(t, strings.HasPrefix(desc.DTLS.Fingerprint, "D2:FA"))
	assert.Len(t, desc.Candidates, 1)

	audio := desc.Media(KindAudio)
	require.NotNil(t, audio)
	assert.Equal(t, "0", audio.ID)
	assert.Equal(t, DirectionSendOnly, audio.Direction)
	assert.Len(t, audio.Codecs, 6)
	assert.Len(t, audio.Extensions, 4)

	opus, ok := audio.Codec("OPUS")
	require.True(t, ok)
	assert.Equal(t, uint8(111), opus.PayloadType)
	assert.Equal(t, uint32(48000), opus.ClockRate)
	assert.Equal(t, uint16(2), opus.Channels)
	assert.Equal(t, "minptime=10;useinbandfec=1", opus.Fmtp)
	assert.Equal(t, []string{"transport-cc"}, opus.Feedback)

	stream := desc.FirstStream()
	require.NotNil(t, stream)
	assert.Equal(t, "stream1", stream.ID)
	track := stream.Track(KindAudio)
	require.NotNil(t, track)
	assert.Equal(t, "track1", track.ID)
	assert.Equal(t, "0", track.MediaID)
	assert.Equal(t, []uint32{1001}, track.SSRCs)
	assert.Equal(t, "abcdcname", track.CName)
}

func TestParse_RecvOnlyOfferHasNoStreams(t *testing.T) {
	desc, err := Parse(subscriberOffer)
	require.NoError(t, err)

	audio := desc.Media(KindAudio)
	require.NotNil(t, audio)
	assert.Equal(t, DirectionRecvOnly, audio.Direction)
	assert.Nil(t, desc.FirstStream())
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("   ")
	assert.ErrorIs(t, err, ErrEmptyDescription)

	malformed := []string{
		"this is not sdp",
		"not an sdp",
		"hello\nworld",
		"garbage",
		"v=0\r\n",
		"v=0\r\ns=-\r\nt=0 0\r\n",
		"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\nt=0 0\r\n",
	}
	for _, text := range malformed {
		desc, err := Parse(text)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", text)
		assert.Nil(t, desc, "input %q", text)
	}
}

func TestParse_MinimalSessionWithoutMedia(t *testing.T) {
	desc, err := Parse("v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n")
	require.NoError(t, err)
	assert.Empty(t, desc.Medias)
	assert.Nil(t, desc.Media(KindAudio))
}

func TestParse_VideoOnlyOfferHasNoAudio(t *testing.T) {
	desc, err := Parse(videoOnlyOffer)
	require.NoError(t, err)
	assert.Nil(t, desc.Media(KindAudio))
	assert.NotNil(t, desc.Media(KindVideo))
}

func TestAnswer_FiltersToCapabilities(t *testing.T) {
	offer, err := Parse(publisherOffer)
	require.NoError(t, err)

	answer := offer.Answer(AnswerOptions{
		ICE:          ICEInfo{Ufrag: "local", Pwd: "localpasswordlocalpassword", Lite: true},
		DTLS:         DTLSInfo{Setup: SetupActive, Hash: "sha-256", Fingerprint: "AA:BB"},
		Candidates:   []Candidate{"1 1 udp 2130706431 127.0.0.1 40000 typ host"},
		Capabilities: relayCapabilities,
	})

	audio := answer.Media(KindAudio)
	require.NotNil(t, audio)
	assert.Equal(t, DirectionRecvOnly, audio.Direction)
	require.Len(t, audio.Codecs, 1)
	assert.Equal(t, "opus", audio.Codecs[0].Name)
	assert.Len(t, audio.Extensions, 2)
	_, hasMid := audio.Extension("urn:ietf:params:rtp-hdrext:sdes:mid")
	assert.False(t, hasMid)

	text, err := answer.Marshal()
	require.NoError(t, err)

	reparsed, err := Parse(text)
	require.NoError(t, err)
	assert.True(t, reparsed.ICE.Lite)
	assert.Equal(t, "local", reparsed.ICE.Ufrag)
	assert.Equal(t, SetupActive, reparsed.DTLS.Setup)
	assert.Len(t, reparsed.Candidates, 1)
	require.NotNil(t, reparsed.Media(KindAudio))
	assert.Equal(t, DirectionRecvOnly, reparsed.Media(KindAudio).Direction)
}

func TestAnswer_RejectsUnsupportedKinds(t *testing.T) {
	offer, err := Parse(videoOnlyOffer)
	require.NoError(t, err)

	answer := offer.Answer(AnswerOptions{Capabilities: relayCapabilities})
	require.Len(t, answer.Medias, 1)
	assert.True(t, answer.Medias[0].Rejected)
	assert.Nil(t, answer.Media(KindVideo))

	text, err := answer.Marshal()
	require.NoError(t, err)
	assert.Contains(t, text, "m=video 0 ")
}

func TestDescription_SendOnlyAnswerFromScratch(t *testing.T) {
	offer, err := Parse(subscriberOffer)
	require.NoError(t, err)
	offered := offer.Media(KindAudio)
	opus, ok := offered.Codec("opus")
	require.True(t, ok)

	answer := NewDescription()
	answer.SetICE(ICEInfo{Ufrag: "u", Pwd: "p", Lite: true})
	answer.SetDTLS(DTLSInfo{Setup: SetupActive, Hash: "sha-256", Fingerprint: "AA:BB"})
	answer.AddCandidate("1 1 udp 2130706431 127.0.0.1 40000 typ host")

	audio := NewMedia(offered.ID, KindAudio)
	audio.AddCodec(opus)
	audio.SetDirection(DirectionSendOnly)
	answer.AddMedia(audio)
	answer.AddStream(&StreamInfo{
		ID: "relay-stream",
		Tracks: []*TrackInfo{{
			ID:      "relay-track",
			Kind:    KindAudio,
			MediaID: audio.ID,
			SSRCs:   []uint32{42},
			CName:   "relay",
		}},
	})

	text := answer.String()
	require.NotEmpty(t, text)
	assert.Contains(t, text, "a=sendonly")
	assert.Contains(t, text, "a=msid:relay-stream relay-track")
	assert.Contains(t, text, "a=ssrc:42 cname:relay")

	reparsed, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, DirectionSendOnly, reparsed.Media(KindAudio).Direction)
	require.NotNil(t, reparsed.FirstStream())
	assert.Equal(t, "relay-stream", reparsed.FirstStream().ID)
}

func TestDirection_Reverse(t *testing.T) {
	assert.Equal(t, DirectionRecvOnly, DirectionSendOnly.Reverse())
	assert.Equal(t, DirectionSendOnly, DirectionRecvOnly.Reverse())
	assert.Equal(t, DirectionSendRecv, DirectionSendRecv.Reverse())
	assert.Equal(t, DirectionInactive, DirectionInactive.Reverse())
}
