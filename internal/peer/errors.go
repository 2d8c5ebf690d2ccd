package peer

import (
	"errors"
	"fmt"
)

var (
	ErrNegotiation      = errors.New("negotiation failed")
	ErrTransportFailed  = errors.New("ice transport failed")
	ErrClosed           = errors.New("peer link closed")
	ErrUnexpectedAnswer = errors.New("answer without an outstanding offer")
)

// NegotiationError is a malformed or unexpected description exchange. It is
// contained to the link it happened on.
type NegotiationError struct {
	PeerID string
	Op     string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiate with %s: %s: %v", e.PeerID, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() []error {
	return []error{ErrNegotiation, e.Err}
}

// TransportFailure reports a network-level failure of a link.
type TransportFailure struct {
	PeerID string
	Err    error
}

func (e *TransportFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("link to %s: %v", e.PeerID, ErrTransportFailed)
	}
	return fmt.Sprintf("link to %s: %v: %v", e.PeerID, ErrTransportFailed, e.Err)
}

func (e *TransportFailure) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransportFailed}
	}
	return []error{ErrTransportFailed, e.Err}
}
