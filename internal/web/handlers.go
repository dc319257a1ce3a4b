package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cjeanneret/CapGo/internal/debug"
	"github.com/cjeanneret/CapGo/internal/hw/camera"
	"github.com/cjeanneret/CapGo/internal/logic/capture"
	"github.com/cjeanneret/CapGo/internal/logic/result"
	"github.com/cjeanneret/CapGo/internal/logic/zoom"
	"github.com/cjeanneret/CapGo/internal/metrics"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// MaxRecordSeconds bounds max_seconds on POST /recording/start.
const MaxRecordSeconds = 3600

// Controller is the capture surface exposed over HTTP.
type Controller interface {
	Status() capture.Status
	CapturePhoto() (<-chan result.CaptureResult, error)
	StartRecording(maxSeconds int) (<-chan result.CaptureResult, error)
	StopRecording() (<-chan result.CaptureResult, error)
	SwitchDevice() (camera.Position, error)
	AdjustZoom(scale float64, touches []zoom.Touch) (float64, bool, error)
	EndZoom() float64
	SetFocusAndExposure(x, y float64) (capture.FocusResult, error)
	Pending() (result.CaptureResult, bool)
	Use() (result.CaptureResult, error)
	Discard() bool
}

// UIConfig holds the values the page needs to draw the preview and form.
type UIConfig struct {
	PreviewWidth     float64 `json:"preview_width"`
	PreviewHeight    float64 `json:"preview_height"`
	MaxRecordSeconds int     `json:"max_record_seconds"`
	ZoomCeiling      float64 `json:"zoom_ceiling"`
	Position         string  `json:"position"`
}

// RecordingRequest is the body of POST /recording/start. Zero uses the
// configured limit.
type RecordingRequest struct {
	MaxSeconds int `json:"max_seconds"`
}

// ZoomRequest is the body of POST /zoom.
type ZoomRequest struct {
	Scale   float64      `json:"scale"`
	Touches []zoom.Touch `json:"touches"`
	End     bool         `json:"end"`
}

// FocusRequest is the body of POST /focus, a point in preview coordinates.
type FocusRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ResultResponse describes a capture result without its payload.
type ResultResponse struct {
	Mode      string    `json:"mode"`
	Bytes     int       `json:"bytes,omitempty"`
	VideoPath string    `json:"video_path,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func newResultResponse(r result.CaptureResult) ResultResponse {
	resp := ResultResponse{Mode: r.Mode.String(), Bytes: len(r.Photo), VideoPath: r.VideoPath, At: r.At}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidateRecording checks a recording request.
func ValidateRecording(req RecordingRequest) error {
	if req.MaxSeconds < 0 || req.MaxSeconds > MaxRecordSeconds {
		return fmt.Errorf("max_seconds must be between 0 and %d", MaxRecordSeconds)
	}
	return nil
}

// ValidateZoom checks a zoom request. Touches outside the preview are not
// an input error; the controller ignores that update.
func ValidateZoom(req ZoomRequest) error {
	if req.End {
		return nil
	}
	if !finite(req.Scale) || req.Scale < 0 {
		return errors.New("scale must be a finite number >= 0")
	}
	if len(req.Touches) == 0 {
		return errors.New("touches must not be empty")
	}
	for _, t := range req.Touches {
		if !finite(t.X) || !finite(t.Y) {
			return errors.New("touch coordinates must be finite")
		}
	}
	return nil
}

// ValidateFocus checks a focus request against the preview bounds.
func ValidateFocus(req FocusRequest, ui UIConfig) error {
	if !finite(req.X) || !finite(req.Y) {
		return errors.New("x and y must be finite")
	}
	if req.X < 0 || req.Y < 0 || (ui.PreviewWidth > 0 && req.X > ui.PreviewWidth) || (ui.PreviewHeight > 0 && req.Y > ui.PreviewHeight) {
		return fmt.Errorf("point (%g, %g) is outside the %gx%g preview", req.X, req.Y, ui.PreviewWidth, ui.PreviewHeight)
	}
	return nil
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, result.ErrNoPendingResult):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrInvalidState), errors.Is(err, capture.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceUnavailable),
		errors.Is(err, capture.ErrOutputRejected),
		errors.Is(err, capture.ErrCaptureFailed),
		errors.Is(err, capture.ErrRecordingStartFailed),
		errors.Is(err, capture.ErrDeviceSwitchFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Controller  Controller
	UI          UIConfig
	limiter     *rate.Limiter
	staticFS    fs.FS
	log         zerolog.Logger
}

// NewHandlers creates handlers with the given dependencies. A nil limiter
// disables rate limiting. If ctrl is nil, capture endpoints return 503.
func NewHandlers(broadcaster *StatusBroadcaster, ctrl Controller, ui UIConfig, limiter *rate.Limiter, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Controller:  ctrl,
		UI:          ui,
		limiter:     limiter,
		staticFS:    staticFS,
		log:         debug.Component("web"),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("op", op).Int("status", code).Msg("request failed")
	} else {
		h.log.Debug().Err(err).Str("op", op).Int("status", code).Msg("request rejected")
	}
	http.Error(w, err.Error(), code)
}

// decode reads a capped JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusBadRequest)
			return false
		}
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handlers) ready(w http.ResponseWriter) bool {
	if h.Controller == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// RateLimit answers 429 when the limiter has no token for the request.
func (h *Handlers) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			metrics.HTTPRateLimitedTotal.Inc()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleConfig returns the UI defaults (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.UI)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

// HandleStatus returns a snapshot of the capture session.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Controller.Status())
}

// HandlePhoto takes a photo and waits for it, so the response describes
// the held result.
func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ch, err := h.Controller.CapturePhoto()
	if err != nil {
		h.fail(w, "photo", err)
		return
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			h.fail(w, "photo", res.Err)
			return
		}
		writeJSON(w, http.StatusOK, newResultResponse(res))
	case <-r.Context().Done():
		// The result is still held for use or discard.
	}
}

// HandleRecordingStart starts a recording and returns immediately. The
// finished video is announced on the status stream.
func (h *Handlers) HandleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req RecordingRequest
	if !decode(w, r, &req, true) {
		return
	}
	if err := ValidateRecording(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := h.Controller.StartRecording(req.MaxSeconds); err != nil {
		h.fail(w, "recording_start", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recording"})
}

// HandleRecordingStop stops the recording and waits for the finalized file.
func (h *Handlers) HandleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ch, err := h.Controller.StopRecording()
	if err != nil {
		h.fail(w, "recording_stop", err)
		return
	}
	select {
	case res, ok := <-ch:
		if !ok {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "finalizing"})
			return
		}
		if res.Err != nil {
			h.fail(w, "recording_stop", res.Err)
			return
		}
		writeJSON(w, http.StatusOK, newResultResponse(res))
	case <-r.Context().Done():
	}
}

// HandleSwitch toggles the active camera.
func (h *Handlers) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	pos, err := h.Controller.SwitchDevice()
	if err != nil {
		h.fail(w, "switch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"position": pos.String()})
}

// HandleZoom applies one pinch update, or commits the gesture when end is set.
func (h *Handlers) HandleZoom(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req ZoomRequest
	if !decode(w, r, &req, false) {
		return
	}
	if err := ValidateZoom(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.End {
		f := h.Controller.EndZoom()
		writeJSON(w, http.StatusOK, map[string]any{"factor": f, "applied": true})
		return
	}
	f, applied, err := h.Controller.AdjustZoom(req.Scale, req.Touches)
	if err != nil {
		h.fail(w, "zoom", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"factor": f, "applied": applied})
}

// HandleFocus focuses and meters at a preview point.
func (h *Handlers) HandleFocus(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req FocusRequest
	if !decode(w, r, &req, false) {
		return
	}
	if err := ValidateFocus(req, h.UI); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.Controller.SetFocusAndExposure(req.X, req.Y)
	if err != nil {
		h.fail(w, "focus", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleResult describes the pending result.
func (h *Handlers) HandleResult(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	res, ok := h.Controller.Pending()
	if !ok {
		h.fail(w, "result", result.ErrNoPendingResult)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

// HandleResultPhoto serves the pending photo as JPEG.
func (h *Handlers) HandleResultPhoto(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	res, ok := h.Controller.Pending()
	if !ok || res.Mode != result.Photo || len(res.Photo) == 0 {
		h.fail(w, "result_photo", result.ErrNoPendingResult)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(res.Photo)
}

// HandleUse commits the pending result.
func (h *Handlers) HandleUse(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	res, err := h.Controller.Use()
	if err != nil {
		h.fail(w, "use", err)
		return
	}
	h.Broadcaster.Broadcast("info", res.Mode.String()+" committed")
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

// HandleDiscard drops the pending result.
func (h *Handlers) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"discarded": h.Controller.Discard()})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
