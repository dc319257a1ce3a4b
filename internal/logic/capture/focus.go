package capture

import (
	"fmt"

	"github.com/cjeanneret/CapGo/internal/hw/camera"
	"github.com/cjeanneret/CapGo/internal/metrics"
)

// Tier is the fallback level a focus, exposure or white balance request
// ended up applying.
type Tier int

const (
	TierUnchanged Tier = iota
	TierAuto
	TierContinuous
)

func (t Tier) String() string {
	switch t {
	case TierContinuous:
		return "continuous"
	case TierAuto:
		return "auto"
	default:
		return "unchanged"
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "continuous":
		*t = TierContinuous
	case "auto":
		*t = TierAuto
	case "unchanged", "":
		*t = TierUnchanged
	default:
		return fmt.Errorf("capture: unknown tier %q", b)
	}
	return nil
}

// FocusResult reports the tiers applied by SetFocusAndExposure.
type FocusResult struct {
	Focus        Tier         `json:"focus"`
	Exposure     Tier         `json:"exposure"`
	WhiteBalance Tier         `json:"white_balance,omitempty"`
	Point        camera.Point `json:"point"`
	FocusPOI     bool         `json:"focus_poi"`
	ExposurePOI  bool         `json:"exposure_poi"`
}

// DevicePoint converts a preview point (points) into the device's
// normalized point of interest. The sensor is landscape, so axes swap.
func DevicePoint(x, y, width, height float64) camera.Point {
	if width <= 0 || height <= 0 {
		return camera.Point{X: 0.5, Y: 0.5}
	}
	return camera.Point{X: clamp01(y / height), Y: clamp01(1 - x/width)}
}

func clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0.5
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// applyFocus sets continuous modes where supported, else single-shot auto,
// else leaves the mode alone. Points of interest are set only when a mode
// was applied and the device supports them. The device must be locked.
func applyFocus(d camera.Device, p camera.Point) FocusResult {
	res := FocusResult{Point: p}

	switch {
	case d.FocusModeSupported(camera.FocusContinuousAuto):
		d.SetFocusMode(camera.FocusContinuousAuto)
		res.Focus = TierContinuous
	case d.FocusModeSupported(camera.FocusAuto):
		d.SetFocusMode(camera.FocusAuto)
		res.Focus = TierAuto
	}
	if res.Focus != TierUnchanged && d.FocusPointOfInterestSupported() {
		d.SetFocusPointOfInterest(p)
		res.FocusPOI = true
	}

	switch {
	case d.ExposureModeSupported(camera.ExposureContinuousAuto):
		d.SetExposureMode(camera.ExposureContinuousAuto)
		res.Exposure = TierContinuous
	case d.ExposureModeSupported(camera.ExposureAuto):
		d.SetExposureMode(camera.ExposureAuto)
		res.Exposure = TierAuto
	}
	if res.Exposure != TierUnchanged && d.ExposurePointOfInterestSupported() {
		d.SetExposurePointOfInterest(p)
		res.ExposurePOI = true
	}

	metrics.ObserveFocusTier("focus", res.Focus.String())
	metrics.ObserveFocusTier("exposure", res.Exposure.String())
	return res
}

// applyWhiteBalance uses the same tiers for white balance.
func applyWhiteBalance(d camera.Device) Tier {
	t := TierUnchanged
	switch {
	case d.WhiteBalanceModeSupported(camera.WhiteBalanceContinuousAuto):
		d.SetWhiteBalanceMode(camera.WhiteBalanceContinuousAuto)
		t = TierContinuous
	case d.WhiteBalanceModeSupported(camera.WhiteBalanceAuto):
		d.SetWhiteBalanceMode(camera.WhiteBalanceAuto)
		t = TierAuto
	}
	metrics.ObserveFocusTier("white_balance", t.String())
	return t
}
