package sdpinfo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// String serialises the description. It never fails for descriptions built
// through this package; Marshal reports the underlying error instead.
func (d *Description) String() string {
	out, err := d.Marshal()
	if err != nil {
		return ""
	}
	return out
}

// Marshal serialises the description into SDP text.
func (d *Description) Marshal() (string, error) {
	session, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return "", fmt.Errorf("create session description: %w", err)
	}
	session.Origin.UnicastAddress = "127.0.0.1"

	if d.ICE.Lite {
		session.WithPropertyAttribute(sdp.AttrKeyICELite)
	}

	var mids []string
	for _, m := range d.Medias {
		if !m.Rejected {
			mids = append(mids, m.ID)
		}
	}
	if len(mids) > 0 {
		session.WithValueAttribute(sdp.AttrKeyGroup, "BUNDLE "+strings.Join(mids, " "))
	}
	session.WithValueAttribute(sdp.AttrKeyMsidSemantic, " WMS *")

	for _, m := range d.Medias {
		session.WithMedia(d.marshalMedia(m))
	}

	out, err := session.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal session description: %w", err)
	}
	return string(out), nil
}

func (d *Description) marshalMedia(m *Media) *sdp.MediaDescription {
	formats := make([]string, 0, len(m.Codecs))
	for _, c := range m.Codecs {
		formats = append(formats, strconv.Itoa(int(c.PayloadType)))
	}
	if len(formats) == 0 {
		// an m-line needs at least one format even when rejected
		formats = append(formats, "0")
	}

	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   m.Kind,
			Port:    sdp.RangedPort{Value: 9},
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: formats,
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
	}

	if m.Rejected {
		md.MediaName.Port = sdp.RangedPort{Value: 0}
		md.WithValueAttribute(sdp.AttrKeyMID, m.ID)
		md.WithPropertyAttribute(string(DirectionInactive))
		return md
	}

	if d.ICE.Ufrag != "" {
		md.WithICECredentials(d.ICE.Ufrag, d.ICE.Pwd)
	}
	if d.DTLS.Fingerprint != "" {
		md.WithFingerprint(d.DTLS.Hash, d.DTLS.Fingerprint)
	}
	if d.DTLS.Setup != "" {
		md.WithValueAttribute(sdp.AttrKeyConnectionSetup, string(d.DTLS.Setup))
	}
	md.WithValueAttribute(sdp.AttrKeyMID, m.ID)

	for _, ext := range m.Extensions {
		md.WithValueAttribute(sdp.AttrKeyExtMap, fmt.Sprintf("%d %s", ext.ID, ext.URI))
	}

	md.WithPropertyAttribute(string(m.Direction))
	md.WithPropertyAttribute(sdp.AttrKeyRTCPMux)

	for _, c := range m.Codecs {
		rtpmap := fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
		if c.Channels > 1 {
			rtpmap += "/" + strconv.Itoa(int(c.Channels))
		}
		md.WithValueAttribute("rtpmap", rtpmap)
		for _, fb := range c.Feedback {
			md.WithValueAttribute("rtcp-fb", fmt.Sprintf("%d %s", c.PayloadType, fb))
		}
		if c.Fmtp != "" {
			md.WithValueAttribute("fmtp", fmt.Sprintf("%d %s", c.PayloadType, c.Fmtp))
		}
	}

	for _, s := range d.Streams {
		for _, t := range s.Tracks {
			if t.MediaID != m.ID {
				continue
			}
			md.WithValueAttribute(sdp.AttrKeyMsid, s.ID+" "+t.ID)
			for _, ssrc := range t.SSRCs {
				md.WithMediaSource(ssrc, t.CName, s.ID, t.ID)
			}
		}
	}

	for _, c := range d.Candidates {
		md.WithCandidate(string(c))
	}
	if len(d.Candidates) > 0 {
		md.WithPropertyAttribute(sdp.AttrKeyEndOfCandidates)
	}

	return md
}
