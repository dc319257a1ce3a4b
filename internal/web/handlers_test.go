package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/CapGo/internal/hw/camera"
	"github.com/cjeanneret/CapGo/internal/library"
	"github.com/cjeanneret/CapGo/internal/logic/capture"
	"github.com/cjeanneret/CapGo/internal/logic/result"
	"github.com/cjeanneret/CapGo/internal/logic/zoom"
)

// ---------- Validation ----------

func TestValidateRecording(t *testing.T) {
	cases := []struct {
		name    string
		req     RecordingRequest
		wantErr bool
	}{
		{"default", RecordingRequest{0}, false},
		{"one_second", RecordingRequest{1}, false},
		{"max", RecordingRequest{MaxRecordSeconds}, false},
		{"negative", RecordingRequest{-1}, true},
		{"too_long", RecordingRequest{MaxRecordSeconds + 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRecording(tc.req)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateRecording(%+v) err = %v, wantErr %v", tc.req, err, tc.wantErr)
			}
		})
	}
}

func TestValidateZoom(t *testing.T) {
	touch := []zoom.Touch{{X: 1, Y: 2}}
	cases := []struct {
		name    string
		req     ZoomRequest
		wantErr bool
	}{
		{"valid", ZoomRequest{Scale: 1.5, Touches: touch}, false},
		{"zero_scale", ZoomRequest{Scale: 0, Touches: touch}, false},
		{"end_ignores_fields", ZoomRequest{End: true}, false},
		{"negative_scale", ZoomRequest{Scale: -1, Touches: touch}, true},
		{"NaN_scale", ZoomRequest{Scale: math.NaN(), Touches: touch}, true},
		{"Inf_scale", ZoomRequest{Scale: math.Inf(1), Touches: touch}, true},
		{"no_touches", ZoomRequest{Scale: 2}, true},
		{"NaN_touch", ZoomRequest{Scale: 2, Touches: []zoom.Touch{{X: math.NaN()}}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateZoom(tc.req)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateZoom err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateFocus(t *testing.T) {
	ui := UIConfig{PreviewWidth: 375, PreviewHeight: 667}
	cases := []struct {
		name    string
		req     FocusRequest
		wantErr bool
	}{
		{"center", FocusRequest{187.5, 333.5}, false},
		{"origin", FocusRequest{0, 0}, false},
		{"corner", FocusRequest{375, 667}, false},
		{"negative", FocusRequest{-1, 10}, true},
		{"outside_width", FocusRequest{376, 10}, true},
		{"outside_height", FocusRequest{10, 668}, true},
		{"NaN", FocusRequest{math.NaN(), 10}, true},
		{"-Inf", FocusRequest{10, math.Inf(-1)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateFocus(tc.req, ui)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateFocus(%+v) err = %v, wantErr %v", tc.req, err, tc.wantErr)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{result.ErrNoPendingResult, http.StatusNotFound},
		{capture.ErrNotAuthorized, http.StatusForbidden},
		{capture.ErrInvalidState, http.StatusConflict},
		{capture.ErrBusy, http.StatusConflict},
		{capture.ErrClosed, http.StatusConflict},
		{fmt.Errorf("%w: %w", capture.ErrDeviceSwitchFailed, capture.ErrDeviceUnavailable), http.StatusServiceUnavailable},
		{capture.ErrOutputRejected, http.StatusServiceUnavailable},
		{capture.ErrCaptureFailed, http.StatusServiceUnavailable},
		{capture.ErrRecordingStartFailed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// ---------- Handler helpers ----------

type fakeController struct {
	mu         sync.Mutex
	err        error
	photo      result.CaptureResult
	pending    *result.CaptureResult
	maxSeconds int
	zoomEnded  bool
	focus      []float64
}

func (f *fakeController) Status() capture.Status {
	return capture.Status{State: capture.StateReady, Position: "back"}
}

func (f *fakeController) CapturePhoto() (<-chan result.CaptureResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan result.CaptureResult, 1)
	ch <- f.photo
	close(ch)
	return ch, nil
}

func (f *fakeController) StartRecording(maxSeconds int) (<-chan result.CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxSeconds = maxSeconds
	return make(chan result.CaptureResult, 1), f.err
}

func (f *fakeController) StopRecording() (<-chan result.CaptureResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan result.CaptureResult, 1)
	ch <- result.NewVideo("/tmp/A.mov", nil)
	return ch, nil
}

func (f *fakeController) SwitchDevice() (camera.Position, error) {
	return camera.Front, f.err
}

func (f *fakeController) AdjustZoom(scale float64, _ []zoom.Touch) (float64, bool, error) {
	return scale, true, f.err
}

func (f *fakeController) EndZoom() float64 {
	f.zoomEnded = true
	return 2
}

func (f *fakeController) SetFocusAndExposure(x, y float64) (capture.FocusResult, error) {
	f.focus = []float64{x, y}
	return capture.FocusResult{Focus: capture.TierContinuous}, f.err
}

func (f *fakeController) Pending() (result.CaptureResult, bool) {
	if f.pending == nil {
		return result.CaptureResult{}, false
	}
	return *f.pending, true
}

func (f *fakeController) Use() (result.CaptureResult, error) {
	if f.pending == nil {
		return result.CaptureResult{}, result.ErrNoPendingResult
	}
	r := *f.pending
	f.pending = nil
	return r, nil
}

func (f *fakeController) Discard() bool {
	had := f.pending != nil
	f.pending = nil
	return had
}

func newTestHandlers(ctrl Controller, limiter *rate.Limiter) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		ctrl,
		UIConfig{PreviewWidth: 375, PreviewHeight: 667, MaxRecordSeconds: 15, ZoomCeiling: 10, Position: "back"},
		limiter,
		staticFS,
	)
}

func newTestRouter(t *testing.T, ctrl Controller, limiter *rate.Limiter) http.Handler {
	t.Helper()
	srv, err := NewServer(":0", newTestHandlers(ctrl, limiter))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// ---------- Handlers ----------

func TestHandlePhoto(t *testing.T) {
	ctrl := &fakeController{photo: result.NewPhoto([]byte{0xff, 0xd8, 0xff}, nil)}
	w := do(t, newTestRouter(t, ctrl, nil), http.MethodPost, "/photo", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	var resp ResultResponse
	decodeBody(t, w, &resp)
	if resp.Mode != "photo" || resp.Bytes != 3 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandlePhoto_Errors(t *testing.T) {
	cases := []struct {
		name string
		ctrl *fakeController
		want int
	}{
		{"invalid_state", &fakeController{err: capture.ErrInvalidState}, http.StatusConflict},
		{"busy", &fakeController{err: capture.ErrBusy}, http.StatusConflict},
		{"not_authorized", &fakeController{err: capture.ErrNotAuthorized}, http.StatusForbidden},
		{"capture_failed", &fakeController{photo: result.NewPhoto(nil, capture.ErrCaptureFailed)}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, newTestRouter(t, tc.ctrl, nil), http.MethodPost, "/photo", "")
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestHandleRecordingStart(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantCode int
		wantMax  int
	}{
		{"empty_body_uses_default", "", http.StatusAccepted, 0},
		{"explicit_limit", `{"max_seconds":5}`, http.StatusAccepted, 5},
		{"invalid_json", "not json", http.StatusBadRequest, -1},
		{"unknown_field", `{"seconds":5}`, http.StatusBadRequest, -1},
		{"negative", `{"max_seconds":-3}`, http.StatusBadRequest, -1},
		{"too_long", `{"max_seconds":100000}`, http.StatusBadRequest, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{maxSeconds: -1}
			w := do(t, newTestRouter(t, ctrl, nil), http.MethodPost, "/recording/start", tc.body)
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.wantCode, w.Body.String())
			}
			if ctrl.maxSeconds != tc.wantMax {
				t.Errorf("maxSeconds = %d, want %d", ctrl.maxSeconds, tc.wantMax)
			}
		})
	}
}

func TestHandleRecordingStart_BodyTooLarge(t *testing.T) {
	ctrl := &fakeController{}
	body := `{"max_seconds":` + strings.Repeat(" ", MaxBodyBytes) + `5}`
	w := do(t, newTestRouter(t, ctrl, nil), http.MethodPost, "/recording/start", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleRecordingStop(t *testing.T) {
	w := do(t, newTestRouter(t, &fakeController{}, nil), http.MethodPost, "/recording/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp ResultResponse
	decodeBody(t, w, &resp)
	if resp.Mode != "video" || resp.VideoPath != "/tmp/A.mov" {
		t.Errorf("resp = %+v", resp)
	}

	w = do(t, newTestRouter(t, &fakeController{err: capture.ErrInvalidState}, nil), http.MethodPost, "/recording/stop", "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestHandleSwitch(t *testing.T) {
	w := do(t, newTestRouter(t, &fakeController{}, nil), http.MethodPost, "/switch", "")
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["position"] != "front" {
		t.Errorf("position = %q, want front", resp["position"])
	}

	err := fmt.Errorf("%w: %w", capture.ErrDeviceSwitchFailed, capture.ErrDeviceUnavailable)
	w = do(t, newTestRouter(t, &fakeController{err: err}, nil), http.MethodPost, "/switch", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHandleZoom(t *testing.T) {
	ctrl := &fakeController{}
	router := newTestRouter(t, ctrl, nil)

	w := do(t, router, http.MethodPost, "/zoom", `{"scale":1.5,"touches":[{"x":10,"y":10}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Factor  float64 `json:"factor"`
		Applied bool    `json:"applied"`
	}
	decodeBody(t, w, &resp)
	if resp.Factor != 1.5 || !resp.Applied {
		t.Errorf("resp = %+v", resp)
	}

	w = do(t, router, http.MethodPost, "/zoom", `{"end":true}`)
	if w.Code != http.StatusOK || !ctrl.zoomEnded {
		t.Errorf("end: status = %d, ended = %v", w.Code, ctrl.zoomEnded)
	}

	w = do(t, router, http.MethodPost, "/zoom", `{"scale":-2,"touches":[{"x":1,"y":1}]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative scale: status = %d, want 400", w.Code)
	}
}

func TestHandleFocus(t *testing.T) {
	ctrl := &fakeController{}
	router := newTestRouter(t, ctrl, nil)

	w := do(t, router, http.MethodPost, "/focus", `{"x":100,"y":200}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(ctrl.focus) != 2 || ctrl.focus[0] != 100 || ctrl.focus[1] != 200 {
		t.Errorf("focus = %v", ctrl.focus)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["focus"] != "continuous" {
		t.Errorf("focus tier = %v, want continuous", resp["focus"])
	}

	w = do(t, router, http.MethodPost, "/focus", `{"x":1000,"y":200}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("outside: status = %d, want 400", w.Code)
	}
}

func TestHandleResult(t *testing.T) {
	ctrl := &fakeController{}
	router := newTestRouter(t, ctrl, nil)

	for _, path := range []string{"/result", "/result/photo"} {
		if w := do(t, router, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
			t.Errorf("GET %s with nothing pending: status = %d, want 404", path, w.Code)
		}
	}
	if w := do(t, router, http.MethodPost, "/result/use", ""); w.Code != http.StatusNotFound {
		t.Errorf("use with nothing pending: status = %d, want 404", w.Code)
	}

	photo := result.NewPhoto([]byte{0xff, 0xd8}, nil)
	ctrl.pending = &photo
	w := do(t, router, http.MethodGet, "/result/photo", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("photo: status = %d, type = %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.Equal(w.Body.Bytes(), photo.Photo) {
		t.Errorf("photo body = %v", w.Body.Bytes())
	}

	w = do(t, router, http.MethodPost, "/result/use", "")
	if w.Code != http.StatusOK {
		t.Errorf("use: status = %d, want 200", w.Code)
	}

	w = do(t, router, http.MethodPost, "/result/discard", "")
	var resp map[string]bool
	decodeBody(t, w, &resp)
	if resp["discarded"] {
		t.Error("discard after use should report nothing discarded")
	}
}

func TestHandlers_NilController(t *testing.T) {
	router := newTestRouter(t, nil, nil)
	for _, path := range []string{"/photo", "/recording/start", "/switch"} {
		if w := do(t, router, http.MethodPost, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("POST %s: status = %d, want 503", path, w.Code)
		}
	}
}

func TestRateLimit(t *testing.T) {
	router := newTestRouter(t, &fakeController{}, rate.NewLimiter(0, 1))

	if w := do(t, router, http.MethodPost, "/switch", ""); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", w.Code)
	}
	w := do(t, router, http.MethodPost, "/switch", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", w.Code)
	}
	// status and zoom are not limited
	if w := do(t, router, http.MethodGet, "/status", ""); w.Code != http.StatusOK {
		t.Errorf("GET /status: status = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/zoom", `{"end":true}`); w.Code != http.StatusOK {
		t.Errorf("POST /zoom: status = %d, want 200", w.Code)
	}
}

func TestRouter_StaticRoutes(t *testing.T) {
	router := newTestRouter(t, &fakeController{}, nil)

	w := do(t, router, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "test") {
		t.Errorf("GET /: status = %d body = %q", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/config", "")
	var ui UIConfig
	decodeBody(t, w, &ui)
	if ui.PreviewWidth != 375 || ui.MaxRecordSeconds != 15 {
		t.Errorf("config = %+v", ui)
	}

	w = do(t, router, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "capgo_") {
		t.Errorf("GET /metrics: status = %d", w.Code)
	}

	w = do(t, router, http.MethodGet, "/status", "")
	var st capture.Status
	decodeBody(t, w, &st)
	if st.State != capture.StateReady {
		t.Errorf("status state = %q", st.State)
	}
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), nil, UIConfig{}, nil, fstest.MapFS{})
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleStatusStream(t *testing.T) {
	h := newTestHandlers(&fakeController{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/status/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.HandleStatusStream(w, req)
		close(done)
	}()

	// wait for the subscription before publishing
	deadline := time.Now().Add(time.Second)
	for {
		h.Broadcaster.mu.RLock()
		n := len(h.Broadcaster.clients)
		h.Broadcaster.mu.RUnlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	h.Broadcaster.Broadcast("info", "streamed")
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.HasPrefix(body, ": connected\n\n") {
		t.Errorf("stream should start with a comment, got %q", body)
	}
	if !strings.Contains(body, `"msg":"streamed"`) {
		t.Errorf("stream missing event: %q", body)
	}
}

// ---------- End to end with the simulated camera ----------

func TestRouter_CaptureFlow(t *testing.T) {
	sim := camera.NewSimulated(camera.SimulatedOptions{
		StillWidth:    60,
		StillHeight:   80,
		PhotoLatency:  time.Millisecond,
		FrameInterval: time.Millisecond,
	})
	temp, err := library.NewTempFiles(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	lib, err := library.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	coord := result.NewCoordinator(result.Options{Library: lib, Remover: temp})
	ctrl, err := capture.New(capture.Options{
		Session: sim,
		Results: coord,
		Paths:   temp,
		Preview: capture.Preview{Width: 30, Height: 40, Scale: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	if err := ctrl.Configure(context.Background(), camera.Back); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	router := newTestRouter(t, ctrl, nil)

	if w := do(t, router, http.MethodPost, "/photo", ""); w.Code != http.StatusOK {
		t.Fatalf("POST /photo: status = %d (%s)", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/result/photo", ""); w.Code != http.StatusOK {
		t.Fatalf("GET /result/photo: status = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/result/use", ""); w.Code != http.StatusOK {
		t.Fatalf("POST /result/use: status = %d", w.Code)
	}

	if w := do(t, router, http.MethodPost, "/recording/start", `{"max_seconds":5}`); w.Code != http.StatusAccepted {
		t.Fatalf("POST /recording/start: status = %d (%s)", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodPost, "/photo", ""); w.Code != http.StatusConflict {
		t.Errorf("POST /photo while recording: status = %d, want 409", w.Code)
	}
	w := do(t, router, http.MethodPost, "/recording/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("POST /recording/stop: status = %d (%s)", w.Code, w.Body.String())
	}
	var video ResultResponse
	decodeBody(t, w, &video)
	if !strings.HasSuffix(video.VideoPath, ".mov") {
		t.Errorf("video path = %q", video.VideoPath)
	}
	if w := do(t, router, http.MethodPost, "/result/use", ""); w.Code != http.StatusOK {
		t.Fatalf("POST /result/use (video): status = %d", w.Code)
	}

	lib.Wait()
	files, err := lib.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("library files = %v, want one photo and one video", files)
	}
}
