// Package motion provides accelerometer sources for orientation tracking.
package motion

import (
	"errors"
	"sync"
)

// ErrNoSample is returned by a source that has nothing to report yet.
var ErrNoSample = errors.New("motion: no sample available")

// Sample is one accelerometer reading in g, device axes: x right, y up, z out of the screen.
type Sample struct {
	X, Y, Z float64
}

// Accelerometer is polled by the orientation tracker.
type Accelerometer interface {
	Read() (Sample, error)
}

// Static always reports the last value passed to Set.
type Static struct {
	mu  sync.Mutex
	s   Sample
	set bool
}

// NewStatic returns a source reporting s.
func NewStatic(s Sample) *Static {
	return &Static{s: s, set: true}
}

// Upright is the reading of a device held in portrait, screen facing the user.
var Upright = Sample{X: 0, Y: -1, Z: 0}

func (a *Static) Set(s Sample) {
	a.mu.Lock()
	a.s, a.set = s, true
	a.mu.Unlock()
}

func (a *Static) Read() (Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.set {
		return Sample{}, ErrNoSample
	}
	return a.s, nil
}

// Script replays a fixed list of samples, repeating the last one forever.
type Script struct {
	mu      sync.Mutex
	samples []Sample
	next    int
}

func NewScript(samples ...Sample) *Script {
	return &Script{samples: samples}
}

func (a *Script) Read() (Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.samples) == 0 {
		return Sample{}, ErrNoSample
	}
	s := a.samples[a.next]
	if a.next < len(a.samples)-1 {
		a.next++
	}
	return s, nil
}
