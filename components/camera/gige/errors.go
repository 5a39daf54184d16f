package gige

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDeviceNotFound is returned when enumeration yields no matching camera.
	ErrDeviceNotFound = errors.New("camera not found")
	// ErrDeviceOpenFailed is returned when a matching camera could not be opened.
	ErrDeviceOpenFailed = errors.New("camera could not be opened")
	// ErrNotOpen is returned by operations that need an initialized engine.
	ErrNotOpen = errors.New("camera is not open")

	// ErrParameterNotFound means the camera model has no such parameter.
	ErrParameterNotFound = errors.New("parameter does not exist")
	// ErrParameterNotWritable means the parameter exists but is read only or locked.
	ErrParameterNotWritable = errors.New("parameter is not writable")
	// ErrParameterBusy means the parameter is temporarily locked, typically because the camera is
	// still finishing an acquisition. Writes may be retried.
	ErrParameterBusy = errors.New("parameter is busy")

	// ErrGrabTimeout means no frame arrived within the grab timeout.
	ErrGrabTimeout = errors.New("grab timed out")
	// ErrGrabFailed means the transport reported a failed or incomplete frame.
	ErrGrabFailed = errors.New("grab failed")
)

// GrabError is returned when a capture gives up. It carries the last error reported by the
// device and unwraps to ErrGrabTimeout or ErrGrabFailed.
type GrabError struct {
	Camera      string
	Code        uint32
	Description string
	Attempts    int
	Err         error
}

func (e *GrabError) Error() string {
	msg := fmt.Sprintf("camera %q: capture failed after %d attempt(s)", e.Camera, e.Attempts)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (error 0x%X: %s)", e.Code, e.Description)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GrabError) Unwrap() error {
	return e.Err
}

// asGrabFailure makes sure err matches ErrGrabTimeout or ErrGrabFailed.
func asGrabFailure(err error) error {
	if errors.Is(err, ErrGrabTimeout) || errors.Is(err, ErrGrabFailed) {
		return err
	}
	return errors.Wrap(ErrGrabFailed, err.Error())
}
