// Package orientation classifies accelerometer samples into a coarse device
// orientation and keeps the latest classification.
package orientation

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/CapGo/internal/debug"
	"github.com/cjeanneret/CapGo/internal/hw/camera"
	"github.com/cjeanneret/CapGo/internal/hw/motion"
)

// DefaultInterval is the accelerometer sampling interval.
const DefaultInterval = 450 * time.Millisecond

// Orientation is a discrete device orientation.
type Orientation int32

const (
	Portrait Orientation = iota
	PortraitUpsideDown
	LandscapeLeft
	LandscapeRight
)

func (o Orientation) String() string {
	switch o {
	case Portrait:
		return "portrait"
	case PortraitUpsideDown:
		return "portraitUpsideDown"
	case LandscapeLeft:
		return "landscapeLeft"
	case LandscapeRight:
		return "landscapeRight"
	default:
		return "unknown"
	}
}

// Angle returns the up-vector angle of s, normalized to (-π, π].
// Zero means upright portrait.
func Angle(s motion.Sample) float64 {
	a := math.Pi/2 - math.Atan2(-s.Y, s.X)
	if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// ClassifyAngle maps an angle to an orientation. Comparisons are strict, so
// the exact thresholds ±π/4 and ±3π/4 (and NaN) fall through to Portrait.
func ClassifyAngle(a float64) Orientation {
	switch {
	case a > -math.Pi/4 && a < math.Pi/4:
		return Portrait
	case a > -3*math.Pi/4 && a < -math.Pi/4:
		return LandscapeLeft
	case a > math.Pi/4 && a < 3*math.Pi/4:
		return LandscapeRight
	case a > 3*math.Pi/4 || a < -3*math.Pi/4:
		return PortraitUpsideDown
	default:
		return Portrait
	}
}

// Classify maps a sample to an orientation.
func Classify(s motion.Sample) Orientation {
	return ClassifyAngle(Angle(s))
}

// VideoOrientation returns the movie orientation recorded for o. Landscape
// sides swap because the device and the camera sensor face opposite ways.
func VideoOrientation(o Orientation) camera.VideoOrientation {
	switch o {
	case LandscapeLeft:
		return camera.VideoLandscapeRight
	case LandscapeRight:
		return camera.VideoLandscapeLeft
	default:
		return camera.VideoPortrait
	}
}

// Options configures a Tracker.
type Options struct {
	Interval time.Duration       // default DefaultInterval
	OnChange func(o Orientation) // called from Run/Update when the value changes
	Logger   *zerolog.Logger     // default debug.Component("orientation")
}

// Tracker holds the latest orientation. Readers get a snapshot that is at
// most one sampling interval old.
type Tracker struct {
	src      motion.Accelerometer
	interval time.Duration
	onChange func(Orientation)
	log      zerolog.Logger

	current atomic.Int32
}

// NewTracker creates a tracker polling src. It starts at Portrait.
func NewTracker(src motion.Accelerometer, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	t := &Tracker{src: src, interval: opts.Interval, onChange: opts.OnChange}
	if opts.Logger != nil {
		t.log = *opts.Logger
	} else {
		t.log = debug.Component("orientation")
	}
	return t
}

// Current returns the latest classification.
func (t *Tracker) Current() Orientation {
	return Orientation(t.current.Load())
}

// Update classifies s and stores the result.
func (t *Tracker) Update(s motion.Sample) Orientation {
	o := Classify(s)
	prev := Orientation(t.current.Swap(int32(o)))
	if prev != o {
		t.log.Debug().Stringer("from", prev).Stringer("to", o).Float64("angle", Angle(s)).Msg("orientation changed")
		if t.onChange != nil {
			t.onChange(o)
		}
	}
	return o
}

// Run samples the accelerometer until ctx is done. Read errors skip the sample.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	t.poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tracker) poll() {
	s, err := t.src.Read()
	if err != nil {
		t.log.Trace().Err(err).Msg("accelerometer read failed")
		return
	}
	t.Update(s)
}
