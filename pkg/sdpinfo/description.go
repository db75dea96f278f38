// Package sdpinfo gives a structured view of WebRTC session descriptions.
//
// It sits on top of github.com/pion/sdp/v3 and exposes the pieces a media
// relay negotiates with: per-media codec lists and directions, ICE and DTLS
// parameters, candidates and the stream identities announced by the peer.
package sdpinfo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Media kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

var (
	ErrEmptyDescription = errors.New("empty session description")
	ErrMalformed        = errors.New("malformed session description")
)

// Direction is the media direction attribute of a media section.
type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionInactive Direction = "inactive"
)

// Reverse returns the direction the answering side should use.
func (d Direction) Reverse() Direction {
	switch d {
	case DirectionSendOnly:
		return DirectionRecvOnly
	case DirectionRecvOnly:
		return DirectionSendOnly
	case DirectionInactive:
		return DirectionInactive
	default:
		return DirectionSendRecv
	}
}

// Sends reports whether the owner of the description sends media.
func (d Direction) Sends() bool {
	return d == DirectionSendRecv || d == DirectionSendOnly
}

// Setup is the DTLS setup role announced in a description.
type Setup string

const (
	SetupActpass Setup = "actpass"
	SetupActive  Setup = "active"
	SetupPassive Setup = "passive"
)

// ICEInfo holds ICE credentials.
type ICEInfo struct {
	Ufrag string
	Pwd   string
	Lite  bool
}

// DTLSInfo holds the DTLS role and certificate fingerprint.
type DTLSInfo struct {
	Setup       Setup
	Hash        string
	Fingerprint string
}

// Candidate is the value of an a=candidate attribute, without the key.
type Candidate string

// Codec is one rtpmap entry of a media section.
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Channels    uint16
	Fmtp        string
	Feedback    []string
}

// Extension is one a=extmap entry.
type Extension struct {
	ID  int
	URI string
}

// Media is a single m= section.
type Media struct {
	ID         string
	Kind       string
	Direction  Direction
	Codecs     []Codec
	Extensions []Extension
	Rejected   bool
}

// NewMedia creates an empty, sendrecv media section.
func NewMedia(id, kind string) *Media {
	return &Media{ID: id, Kind: kind, Direction: DirectionSendRecv}
}

// Codec returns the first codec with the given encoding name.
func (m *Media) Codec(name string) (Codec, bool) {
	for _, c := range m.Codecs {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Codec{}, false
}

// AddCodec appends a codec to the media section.
func (m *Media) AddCodec(c Codec) {
	m.Codecs = append(m.Codecs, c)
}

// SetDirection changes the media direction.
func (m *Media) SetDirection(d Direction) {
	m.Direction = d
}

// Extension returns the extension with the given URI.
func (m *Media) Extension(uri string) (Extension, bool) {
	for _, e := range m.Extensions {
		if e.URI == uri {
			return e, true
		}
	}
	return Extension{}, false
}

// TrackInfo identifies one media track inside a stream.
type TrackInfo struct {
	ID      string
	Kind    string
	MediaID string
	SSRCs   []uint32
	CName   string
}

// StreamInfo groups tracks that share a media stream id (msid).
type StreamInfo struct {
	ID     string
	Tracks []*TrackInfo
}

// Track returns the first track of the given kind.
func (s *StreamInfo) Track(kind string) *TrackInfo {
	for _, t := range s.Tracks {
		if t.Kind == kind {
			return t
		}
	}
	return nil
}

// Description is a parsed session description.
type Description struct {
	ICE        ICEInfo
	DTLS       DTLSInfo
	Candidates []Candidate
	Medias     []*Media
	Streams    []*StreamInfo
}

// NewDescription returns an empty description to be filled by an answerer.
func NewDescription() *Description {
	return &Description{}
}

// Parse parses a raw session description.
func Parse(text string) (*Description, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDescription
	}

	normalized := normalizeLineEndings(text)
	if !strings.HasPrefix(normalized, "v=") {
		return nil, fmt.Errorf("%w: missing version line", ErrMalformed)
	}

	raw := &sdp.SessionDescription{}
	if err := raw.Unmarshal([]byte(normalized)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// The decoder tolerates missing mandatory lines; o= and s= must be present.
	if raw.Origin.NetworkType == "" || raw.SessionName == "" {
		return nil, fmt.Errorf("%w: missing origin or session name", ErrMalformed)
	}

	desc := &Description{}
	parseTransportAttributes(raw.Attributes, &desc.ICE, &desc.DTLS)
	for _, attr := range raw.Attributes {
		if attr.Key == sdp.AttrKeyCandidate {
			desc.Candidates = append(desc.Candidates, Candidate(attr.Value))
		}
	}

	for i, md := range raw.MediaDescriptions {
		media, err := parseMedia(md, i)
		if err != nil {
			return nil, err
		}
		desc.Medias = append(desc.Medias, media)

		// Browsers put credentials and fingerprints at media level when bundling.
		parseTransportAttributes(md.Attributes, &desc.ICE, &desc.DTLS)
		for _, attr := range md.Attributes {
			if attr.Key == sdp.AttrKeyCandidate {
				desc.Candidates = append(desc.Candidates, Candidate(attr.Value))
			}
		}

		if media.Direction.Sends() && !media.Rejected {
			desc.collectStreams(md, media)
		}
	}

	return desc, nil
}

// Media returns the first non-rejected media section of the given kind.
func (d *Description) Media(kind string) *Media {
	for _, m := range d.Medias {
		if m.Kind == kind && !m.Rejected {
			return m
		}
	}
	return nil
}

// FirstStream returns the first stream announced in the description.
func (d *Description) FirstStream() *StreamInfo {
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[0]
}

// SetICE sets the ICE credentials.
func (d *Description) SetICE(ice ICEInfo) {
	d.ICE = ice
}

// SetDTLS sets the DTLS parameters.
func (d *Description) SetDTLS(dtls DTLSInfo) {
	d.DTLS = dtls
}

// AddCandidate appends a local candidate.
func (d *Description) AddCandidate(c Candidate) {
	d.Candidates = append(d.Candidates, c)
}

// AddMedia appends a media section.
func (d *Description) AddMedia(m *Media) {
	d.Medias = append(d.Medias, m)
}

// AddStream appends a stream.
func (d *Description) AddStream(s *StreamInfo) {
	if s != nil {
		d.Streams = append(d.Streams, s)
	}
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	return strings.ReplaceAll(text, "\n", "\r\n") + "\r\n"
}

func parseTransportAttributes(attrs []sdp.Attribute, ice *ICEInfo, dtls *DTLSInfo) {
	for _, attr := range attrs {
		switch attr.Key {
		case "ice-ufrag":
			if ice.Ufrag == "" {
				ice.Ufrag = attr.Value
			}
		case "ice-pwd":
			if ice.Pwd == "" {
				ice.Pwd = attr.Value
			}
		case "ice-lite":
			ice.Lite = true
		case "fingerprint":
			if dtls.Fingerprint == "" {
				parts := strings.Fields(attr.Value)
				if len(parts) == 2 {
					dtls.Hash = strings.ToLower(parts[0])
					dtls.Fingerprint = parts[1]
				}
			}
		case "setup":
			if dtls.Setup == "" {
				dtls.Setup = Setup(attr.Value)
			}
		}
	}
}

func parseMedia(md *sdp.MediaDescription, index int) (*Media, error) {
	media := &Media{
		Kind:      md.MediaName.Media,
		Direction: DirectionSendRecv,
		Rejected:  md.MediaName.Port.Value == 0,
	}

	codecs := make(map[uint8]*Codec)
	var order []uint8
	for _, format := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(format, 10, 8)
		if err != nil {
			// application m-lines carry non-numeric formats
			continue
		}
		codecs[uint8(pt)] = &Codec{PayloadType: uint8(pt)}
		order = append(order, uint8(pt))
	}

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "mid":
			media.ID = attr.Value
		case "sendrecv", "sendonly", "recvonly", "inactive":
			media.Direction = Direction(attr.Key)
		case "rtpmap":
			pt, rest, ok := splitPayloadType(attr.Value)
			if !ok {
				return nil, fmt.Errorf("%w: bad rtpmap %q", ErrMalformed, attr.Value)
			}
			c, exists := codecs[pt]
			if !exists {
				continue
			}
			parts := strings.Split(rest, "/")
			c.Name = parts[0]
			if len(parts) > 1 {
				rate, err := strconv.ParseUint(parts[1], 10, 32)
				if err != nil {
					return nil, fmt.Errorf("%w: bad clock rate in %q", ErrMalformed, attr.Value)
				}
				c.ClockRate = uint32(rate)
			}
			if len(parts) > 2 {
				channels, err := strconv.ParseUint(parts[2], 10, 16)
				if err == nil {
					c.Channels = uint16(channels)
				}
			}
		case "fmtp":
			if pt, rest, ok := splitPayloadType(attr.Value); ok {
				if c, exists := codecs[pt]; exists {
					c.Fmtp = rest
				}
			}
		case "rtcp-fb":
			if pt, rest, ok := splitPayloadType(attr.Value); ok {
				if c, exists := codecs[pt]; exists {
					c.Feedback = append(c.Feedback, rest)
				}
			}
		case "extmap":
			if ext, ok := parseExtmap(attr.Value); ok {
				media.Extensions = append(media.Extensions, ext)
			}
		}
	}

	if media.ID == "" {
		media.ID = strconv.Itoa(index)
	}

	for _, pt := range order {
		c := codecs[pt]
		if c.Name == "" {
			c.Name = staticPayloadName(pt)
		}
		if c.Name == "" {
			continue
		}
		media.Codecs = append(media.Codecs, *c)
	}

	return media, nil
}

// collectStreams reads msid/ssrc attributes of a sending media section.
func (d *Description) collectStreams(md *sdp.MediaDescription, media *Media) {
	var streamID, trackID string
	track := &TrackInfo{Kind: media.Kind, MediaID: media.ID}
	seen := make(map[uint32]bool)

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "msid":
			fields := strings.Fields(attr.Value)
			if len(fields) > 0 && streamID == "" {
				streamID = fields[0]
			}
			if len(fields) > 1 && trackID == "" {
				trackID = fields[1]
			}
		case "ssrc":
			fields := strings.SplitN(attr.Value, " ", 2)
			ssrc, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				continue
			}
			if !seen[uint32(ssrc)] {
				seen[uint32(ssrc)] = true
				track.SSRCs = append(track.SSRCs, uint32(ssrc))
			}
			if len(fields) < 2 {
				continue
			}
			key, value, _ := strings.Cut(fields[1], ":")
			switch key {
			case "cname":
				if track.CName == "" {
					track.CName = value
				}
			case "msid":
				parts := strings.Fields(value)
				if len(parts) > 0 && streamID == "" {
					streamID = parts[0]
				}
				if len(parts) > 1 && trackID == "" {
					trackID = parts[1]
				}
			}
		}
	}

	if streamID == "" && len(track.SSRCs) == 0 {
		return
	}
	if streamID == "" {
		streamID = "-"
	}
	if trackID == "" {
		trackID = media.ID
	}
	track.ID = trackID

	for _, s := range d.Streams {
		if s.ID == streamID {
			s.Tracks = append(s.Tracks, track)
			return
		}
	}
	d.Streams = append(d.Streams, &StreamInfo{ID: streamID, Tracks: []*TrackInfo{track}})
}

func splitPayloadType(value string) (uint8, string, bool) {
	head, rest, ok := strings.Cut(value, " ")
	if !ok {
		return 0, "", false
	}
	pt, err := strconv.ParseUint(head, 10, 8)
	if err != nil {
		return 0, "", false
	}
	return uint8(pt), strings.TrimSpace(rest), true
}

func parseExtmap(value string) (Extension, bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return Extension{}, false
	}
	idPart, _, _ := strings.Cut(fields[0], "/")
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return Extension{}, false
	}
	return Extension{ID: id, URI: fields[1]}, true
}

func staticPayloadName(pt uint8) string {
	switch pt {
	case 0:
		return "PCMU"
	case 8:
		return "PCMA"
	case 9:
		return "G722"
	}
	return ""
}
