// Package zoom maps pinch gestures to a clamped device zoom factor.
package zoom

import (
	"math"
	"sync"
)

// DefaultCeiling is the zoom factor ceiling used when none is configured.
const DefaultCeiling = 10.0

// MaxAllowed returns the highest usable factor: the device capability
// bounded by the ceiling, never below 1.
func MaxAllowed(deviceMax, ceiling float64) float64 {
	m := ceiling
	if deviceMax < m {
		m = deviceMax
	}
	if math.IsNaN(m) || m < 1 {
		return 1
	}
	return m
}

// Compute returns lastCommitted*scale clamped to [1, MaxAllowed].
// A NaN product falls back to the clamped lastCommitted.
func Compute(scale, lastCommitted, deviceMax, ceiling float64) float64 {
	hi := MaxAllowed(deviceMax, ceiling)
	f := lastCommitted * scale
	if math.IsNaN(f) {
		f = lastCommitted
	}
	if math.IsNaN(f) || f < 1 {
		return 1
	}
	return math.Min(f, hi)
}

// Touch is a gesture touch point in preview coordinates (points).
type Touch struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is the visible preview rectangle anchored at the origin.
type Bounds struct {
	Width, Height float64
}

// Contains reports whether t lies inside b.
func (b Bounds) Contains(t Touch) bool {
	return t.X >= 0 && t.Y >= 0 && t.X <= b.Width && t.Y <= b.Height
}

// State is a snapshot of the controller.
type State struct {
	LastCommitted float64 `json:"last_committed"`
	Live          float64 `json:"live"`
	MaxAllowed    float64 `json:"max_allowed"`
}

// Controller tracks one pinch gesture at a time.
type Controller struct {
	mu        sync.Mutex
	bounds    Bounds
	deviceMax float64
	ceiling   float64
	committed float64
	live      float64
	active    bool
}

// NewController creates a controller at factor 1. A ceiling <= 0 means DefaultCeiling.
func NewController(bounds Bounds, deviceMax, ceiling float64) *Controller {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Controller{bounds: bounds, deviceMax: deviceMax, ceiling: ceiling, committed: 1, live: 1}
}

// Update applies a gesture scale relative to the gesture start. It returns
// the new live factor and false when the update is rejected: a touch outside
// the preview, no touches, or a negative or NaN scale.
func (c *Controller) Update(scale float64, touches []Touch) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if math.IsNaN(scale) || scale < 0 || len(touches) == 0 {
		return c.live, false
	}
	for _, t := range touches {
		if !c.bounds.Contains(t) {
			return c.live, false
		}
	}
	if !c.active {
		c.active = true
		c.committed = c.live
	}
	c.live = Compute(scale, c.committed, c.deviceMax, c.ceiling)
	return c.live, true
}

// End closes the gesture, committing the live factor.
func (c *Controller) End() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = c.live
	c.active = false
	return c.committed
}

// Reset returns to factor 1 for a new device with the given capability.
func (c *Controller) Reset(deviceMax float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceMax = deviceMax
	c.committed, c.live, c.active = 1, 1, false
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{LastCommitted: c.committed, Live: c.live, MaxAllowed: MaxAllowed(c.deviceMax, c.ceiling)}
}
