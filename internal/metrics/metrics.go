// Package metrics provides Prometheus metrics for the capture service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No per-capture identifiers in labels: file names and UUIDs stay out.

var (
	// TransitionsTotal counts capture state machine events.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgo_state_transitions_total",
		Help: "Total number of capture state transitions, by event.",
	}, []string{"event"})

	// RejectedTotal counts operations rejected by the state gate.
	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgo_rejected_operations_total",
		Help: "Total number of capture operations rejected, by operation and reason.",
	}, []string{"op", "reason"})

	// CapturesTotal counts finished captures by mode and outcome.
	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgo_captures_total",
		Help: "Total number of finished captures, by mode (photo/video) and outcome (ok/error).",
	}, []string{"mode", "outcome"})

	// ResultsTotal counts what happened to pending results.
	ResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgo_results_total",
		Help: "Total number of pending results resolved, by mode and action (commit/discard/implicit_discard).",
	}, []string{"mode", "action"})

	// LibrarySavesTotal counts photo-library saves.
	LibrarySavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgo_library_saves_total",
		Help: "Total number of library saves, by mode and outcome.",
	}, []string{"mode", "outcome"})

	// FocusTierTotal counts which fallback tier a focus/exposure request applied.
	FocusTierTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgo_focus_tier_total",
		Help: "Total number of focus, exposure and white balance adjustments, by kind and applied tier.",
	}, []string{"kind", "tier"})

	// RecordingActive is 1 while a recording is in progress.
	RecordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capgo_recording_active",
		Help: "1 while a recording is in progress.",
	})

	// ZoomFactor is the zoom factor applied to the active device.
	ZoomFactor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capgo_zoom_factor",
		Help: "Zoom factor applied to the active capture device.",
	})

	// RecordingDuration observes the wall time of finished recordings.
	RecordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "capgo_recording_duration_seconds",
		Help:    "Wall time of finished recordings.",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 60},
	})

	// HTTPRateLimitedTotal counts web requests refused by the rate limiter.
	HTTPRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capgo_http_rate_limited_total",
		Help: "Total number of HTTP requests rejected with 429.",
	})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveTransition records a state machine event.
func ObserveTransition(event string) {
	TransitionsTotal.WithLabelValues(event).Inc()
}

// ObserveRejected records an operation refused by the controller.
func ObserveRejected(op, reason string) {
	RejectedTotal.WithLabelValues(op, reason).Inc()
}

// ObserveCapture records a finished capture.
func ObserveCapture(mode string, err error) {
	CapturesTotal.WithLabelValues(mode, outcome(err)).Inc()
}

// ObserveResult records a commit or discard.
func ObserveResult(mode, action string) {
	ResultsTotal.WithLabelValues(mode, action).Inc()
}

// ObserveLibrarySave records a library save outcome.
func ObserveLibrarySave(mode string, err error) {
	LibrarySavesTotal.WithLabelValues(mode, outcome(err)).Inc()
}

// ObserveFocusTier records the tier applied for kind (focus, exposure, white_balance).
func ObserveFocusTier(kind, tier string) {
	FocusTierTotal.WithLabelValues(kind, tier).Inc()
}

// SetRecording flips the recording gauge.
func SetRecording(active bool) {
	if active {
		RecordingActive.Set(1)
	} else {
		RecordingActive.Set(0)
	}
}

// ObserveRecordingDuration records a finished recording's length.
func ObserveRecordingDuration(d time.Duration) {
	RecordingDuration.Observe(d.Seconds())
}
