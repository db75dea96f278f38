package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProducerNotFound      = errors.New("producer not found")
	ErrMissingAudioOffer     = errors.New("offer has no usable audio section")
	ErrProducerStreamMissing = errors.New("producer has no incoming stream")
	ErrNegotiationCodec      = errors.New("offer could not be parsed")
	ErrIDCollision           = errors.New("session id already registered")
	ErrEndpointClosed        = errors.New("endpoint closed")
)

// NegotiationError reports which element of an offer made negotiation fail.
type NegotiationError struct {
	Element string
	Err     error
}

func NewNegotiationError(element string, err error) *NegotiationError {
	return &NegotiationError{Element: element, Err: err}
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed on %s: %v", e.Element, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
