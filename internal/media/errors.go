package media

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrClosed           = errors.New("media source closed")
	ErrNotSharing       = errors.New("not screen sharing")
	ErrCaptureEnded     = errors.New("capture ended")
)

// Attempt records one failed acquisition step.
type Attempt struct {
	Constraints Constraints
	Err         error
}

// AcquisitionError is returned when every constraint set failed.
type AcquisitionError struct {
	Op       string
	Attempts []Attempt
}

func (e *AcquisitionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Constraints, a.Err))
	}
	return fmt.Sprintf("%s: no usable media (%s)", e.Op, strings.Join(parts, "; "))
}

func (e *AcquisitionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
