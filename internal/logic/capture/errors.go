package capture

import (
	"errors"
	"fmt"
)

// Capture error taxonomy. Failures are reported, never retried.
var (
	ErrDeviceUnavailable    = errors.New("capture: device unavailable")
	ErrOutputRejected       = errors.New("capture: output rejected")
	ErrCaptureFailed        = errors.New("capture: capture failed")
	ErrRecordingStartFailed = errors.New("capture: recording start failed")
	ErrDeviceSwitchFailed   = errors.New("capture: device switch failed")

	// ErrInvalidState rejects an operation not valid in the current state.
	// The state is unchanged.
	ErrInvalidState = errors.New("capture: operation not valid in current state")
	// ErrBusy rejects capture operations while a stopped recording is
	// still being finalized. It wraps ErrInvalidState.
	ErrBusy = fmt.Errorf("%w: recording still finalizing", ErrInvalidState)

	ErrNotAuthorized = errors.New("capture: camera or microphone not authorized")
	ErrClosed        = errors.New("capture: controller closed")
)

func wrap(kind error, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
