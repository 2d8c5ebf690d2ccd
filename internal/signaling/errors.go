package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrClosed      = errors.New("signaling channel closed")
	ErrUnavailable = errors.New("relay unreachable")
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

// TransportError reports that the relay could not be reached, after Attempts
// dials. Room state held by the mesh survives it.
type TransportError struct {
	Op       string
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s %s: %v (after %d attempts)", e.Op, e.URL, e.Err, e.Attempts)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
