package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxOfferSize bounds an SDP offer accepted over HTTP.
const MaxOfferSize = 64 * 1024

// ValidateOffer checks an SDP offer before it is handed to the negotiator.
// Only the envelope is checked here; semantic problems are negotiation
// failures.
func ValidateOffer(sdp string) error {
	if err := ValidateNonEmptyString(sdp, "sdp"); err != nil {
		return err
	}
	if len(sdp) > MaxOfferSize {
		return fmt.Errorf("sdp is too long (max %d bytes)", MaxOfferSize)
	}
	if !utf8.ValidString(sdp) {
		return fmt.Errorf("sdp contains invalid characters")
	}
	return nil
}

// ValidateSessionID checks a producer or consumer id taken from a request.
// Ids are opaque: any non-blank value is looked up, and unknown ones are
// reported as not found rather than rejected here.
func ValidateSessionID(id, fieldName string) error {
	return ValidateNonEmptyString(id, fieldName)
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
