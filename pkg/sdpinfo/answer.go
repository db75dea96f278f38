package sdpinfo

import "strings"

// MediaCapability restricts what an answer accepts for one media kind.
type MediaCapability struct {
	Codecs     []string
	Extensions []string
}

// Capabilities maps a media kind to the codecs and header extensions
// the answerer supports. Kinds missing from the map are rejected.
type Capabilities map[string]MediaCapability

// AnswerOptions carries the local parameters of an answer.
type AnswerOptions struct {
	ICE          ICEInfo
	DTLS         DTLSInfo
	Candidates   []Candidate
	Capabilities Capabilities
}

// Answer derives an answer from an offer. Every offered media section is
// answered in order; sections whose kind is not supported, or that share no
// codec with the capabilities, are rejected.
func (d *Description) Answer(opts AnswerOptions) *Description {
	answer := &Description{
		ICE:        opts.ICE,
		DTLS:       opts.DTLS,
		Candidates: append([]Candidate(nil), opts.Candidates...),
	}

	for _, offered := range d.Medias {
		media := &Media{
			ID:        offered.ID,
			Kind:      offered.Kind,
			Direction: offered.Direction.Reverse(),
		}

		capability, supported := opts.Capabilities[offered.Kind]
		if !supported || offered.Rejected {
			media.Rejected = true
			answer.Medias = append(answer.Medias, media)
			continue
		}

		for _, c := range offered.Codecs {
			if containsFold(capability.Codecs, c.Name) {
				media.Codecs = append(media.Codecs, c)
			}
		}
		for _, e := range offered.Extensions {
			if containsFold(capability.Extensions, e.URI) {
				media.Extensions = append(media.Extensions, e)
			}
		}

		if len(media.Codecs) == 0 {
			media.Rejected = true
		}
		answer.Medias = append(answer.Medias, media)
	}

	return answer
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
