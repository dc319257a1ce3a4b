// Package camera defines the capture device framework a session is built
// on (devices, inputs, outputs, asynchronous completions) and a simulated
// framework that runs it headless.
package camera

import (
	"errors"
	"fmt"
)

// Errors reported by a capture device framework.
var (
	ErrNoDevice       = errors.New("camera: no device at position")
	ErrInputRejected  = errors.New("camera: session rejected input")
	ErrOutputRejected = errors.New("camera: session rejected output")
	ErrNoConnection   = errors.New("camera: no active output connection")
	ErrDeviceLocked   = errors.New("camera: device could not be locked for configuration")
)

// Position is the physical side of the device a camera faces.
type Position int

const (
	Back Position = iota
	Front
)

func (p Position) String() string {
	switch p {
	case Back:
		return "back"
	case Front:
		return "front"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}

// Opposite returns the other camera position.
func (p Position) Opposite() Position {
	if p == Front {
		return Back
	}
	return Front
}

// ParsePosition parses "back" or "front".
func ParsePosition(s string) (Position, error) {
	switch s {
	case "back":
		return Back, nil
	case "front":
		return Front, nil
	default:
		return Back, fmt.Errorf("unknown camera position %q", s)
	}
}

type FocusMode int

const (
	FocusLocked FocusMode = iota
	FocusAuto
	FocusContinuousAuto
)

type ExposureMode int

const (
	ExposureLocked ExposureMode = iota
	ExposureAuto
	ExposureContinuousAuto
)

type WhiteBalanceMode int

const (
	WhiteBalanceLocked WhiteBalanceMode = iota
	WhiteBalanceAuto
	WhiteBalanceContinuousAuto
)

// Point is a device point of interest, normalized to [0,1]².
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VideoOrientation is the orientation written into a movie file.
type VideoOrientation int

const (
	VideoPortrait VideoOrientation = iota
	VideoPortraitUpsideDown
	VideoLandscapeRight
	VideoLandscapeLeft
)

func (o VideoOrientation) String() string {
	switch o {
	case VideoPortrait:
		return "portrait"
	case VideoPortraitUpsideDown:
		return "portraitUpsideDown"
	case VideoLandscapeRight:
		return "landscapeRight"
	case VideoLandscapeLeft:
		return "landscapeLeft"
	default:
		return "unknown"
	}
}

// Device is one physical capture device. Setters other than the lock pair
// must only be called between LockForConfiguration and UnlockForConfiguration.
type Device interface {
	ID() string
	Position() Position
	MaxZoomFactor() float64

	LockForConfiguration() error
	UnlockForConfiguration()

	ZoomFactor() float64
	SetZoomFactor(f float64)

	FocusModeSupported(m FocusMode) bool
	SetFocusMode(m FocusMode)
	FocusPointOfInterestSupported() bool
	SetFocusPointOfInterest(p Point)

	ExposureModeSupported(m ExposureMode) bool
	SetExposureMode(m ExposureMode)
	ExposurePointOfInterestSupported() bool
	SetExposurePointOfInterest(p Point)

	WhiteBalanceModeSupported(m WhiteBalanceMode) bool
	SetWhiteBalanceMode(m WhiteBalanceMode)
}

// Still is the raw result of a still-image capture.
type Still struct {
	JPEG []byte
}

// PhotoDone receives a still-image completion on the framework's delivery goroutine.
type PhotoDone func(still Still, err error)

// RecordingDone receives a movie-file completion on the framework's delivery goroutine.
type RecordingDone func(path string, err error)

// Session is the capture device framework: one session wiring a video
// input, an optional audio input, a photo output, a movie output and a
// preview sink. Topology changes belong inside a
// BeginConfiguration/CommitConfiguration bracket.
type Session interface {
	// DeviceAt returns the video device facing pos, or ErrNoDevice.
	DeviceAt(pos Position) (Device, error)

	BeginConfiguration()
	CommitConfiguration()

	AddInput(d Device) error
	RemoveInput(d Device)
	AddAudioInput() error
	AddPhotoOutput() error
	AddMovieOutput() error
	AttachPreview() error

	// SetMovieMirrored mirrors the movie output connection.
	SetMovieMirrored(mirrored bool) error

	StartRunning()
	StopRunning()
	Running() bool

	// CapturePhoto requests one still; done fires asynchronously.
	CapturePhoto(done PhotoDone) error
	// StartRecording writes a movie file at path; done fires once the
	// file is finalized after StopRecording or a framework error.
	StartRecording(path string, orientation VideoOrientation, done RecordingDone) error
	StopRecording()
	Recording() bool
}
