// Package capture implements the capture session controller: device
// selection, output wiring, photo capture, time-limited recording and
// camera switching, sequenced by a small state machine.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/CapGo/internal/debug"
	"github.com/cjeanneret/CapGo/internal/hw/camera"
	"github.com/cjeanneret/CapGo/internal/logic/orientation"
	"github.com/cjeanneret/CapGo/internal/logic/progress"
	"github.com/cjeanneret/CapGo/internal/logic/result"
	"github.com/cjeanneret/CapGo/internal/logic/zoom"
	"github.com/cjeanneret/CapGo/internal/metrics"
	"github.com/cjeanneret/CapGo/internal/permission"
)

// State of a Controller.
type State string

const (
	StateIdle            State = "idle"
	StateConfiguring     State = "configuring"
	StateReady           State = "ready"
	StatePhotoCapturing  State = "photo_capturing"
	StateRecording       State = "recording"
	StateSwitchingDevice State = "switching_device"
	StateClosed          State = "closed"
)

const (
	evConfigure       = "configure"
	evConfigured      = "configured"
	evConfigureFailed = "configure_failed"
	evCapturePhoto    = "capture_photo"
	evPhotoDone       = "photo_done"
	evStartRecording  = "start_recording"
	evStopRecording   = "stop_recording"
	evSwitchDevice    = "switch_device"
	evSwitched        = "switched"
	evClose           = "close"
)

// DefaultMaxRecordSeconds limits recordings when no limit is configured.
const DefaultMaxRecordSeconds = 15

func newStateMachine() *fsm.FSM {
	s := func(states ...State) []string {
		out := make([]string, len(states))
		for i, st := range states {
			out[i] = string(st)
		}
		return out
	}
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evConfigure, Src: s(StateIdle, StateReady), Dst: string(StateConfiguring)},
			{Name: evConfigured, Src: s(StateConfiguring), Dst: string(StateReady)},
			{Name: evConfigureFailed, Src: s(StateConfiguring), Dst: string(StateIdle)},
			{Name: evCapturePhoto, Src: s(StateReady), Dst: string(StatePhotoCapturing)},
			{Name: evPhotoDone, Src: s(StatePhotoCapturing), Dst: string(StateReady)},
			{Name: evStartRecording, Src: s(StateReady), Dst: string(StateRecording)},
			{Name: evStopRecording, Src: s(StateRecording), Dst: string(StateReady)},
			{Name: evSwitchDevice, Src: s(StateReady), Dst: string(StateSwitchingDevice)},
			{Name: evSwitched, Src: s(StateSwitchingDevice), Dst: string(StateReady)},
			{Name: evClose, Src: s(StateIdle, StateConfiguring, StateReady, StatePhotoCapturing, StateRecording, StateSwitchingDevice), Dst: string(StateClosed)},
		},
		fsm.Callbacks{},
	)
}

// OrientationSource provides the orientation snapshot taken when a photo
// is requested or a recording starts.
type OrientationSource interface {
	Current() orientation.Orientation
}

type fixedOrientation orientation.Orientation

func (f fixedOrientation) Current() orientation.Orientation { return orientation.Orientation(f) }

// PathAllocator names in-progress recording files.
type PathAllocator interface {
	NewRecordingPath() string
}

// Preview is the live preview geometry: bounds in points and the pixel
// scale used to size still crops.
type Preview struct {
	Width, Height float64
	Scale         float64
}

// Options wires a Controller.
type Options struct {
	Session     camera.Session      // required
	Results     *result.Coordinator // required
	Paths       PathAllocator       // required
	Permissions permission.Service  // default: everything authorized
	Orientation OrientationSource   // default: always portrait
	Preview     Preview
	Logger      *zerolog.Logger // default debug.Component("capture")

	MaxRecordSeconds int     // used when StartRecording gets <= 0 (default 15)
	ZoomCeiling      float64 // default zoom.DefaultCeiling
	ProgressRate     int     // default progress.DefaultRate
}

// Hooks observe the controller. They run outside the controller lock, on
// whichever goroutine caused the event.
type Hooks struct {
	OnState    func(from, to State)
	OnProgress func(elapsedFraction float64, remaining int)
	OnResult   func(r result.CaptureResult)
	// OnDegraded reports that initial configuration failed and capture
	// is disabled.
	OnDegraded func(err error)
}

// Controller owns one capture session. All mutation happens on its
// methods, serialized by mu; framework callbacks take mu before touching
// state and are matched to their operation by a generation counter.
type Controller struct {
	opts    Options
	log     zerolog.Logger
	machine *fsm.FSM
	zoom    *zoom.Controller

	hooksMu sync.RWMutex
	hooks   []Hooks

	mu          sync.Mutex
	outbox      []func()
	device      camera.Device
	position    camera.Position
	wired       bool
	gen         uint64
	timer       *progress.Timer
	recordStart time.Time
	recordLimit int
	video       chan result.CaptureResult
	finalizing  bool
	focus       FocusResult
}

// New creates an idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Session == nil {
		return nil, errors.New("capture: session is required")
	}
	if opts.Results == nil {
		return nil, errors.New("capture: result coordinator is required")
	}
	if opts.Paths == nil {
		return nil, errors.New("capture: recording path allocator is required")
	}
	if opts.Permissions == nil {
		opts.Permissions = permission.NewStatic(map[permission.Media]permission.Status{
			permission.Camera:       permission.Authorized,
			permission.Microphone:   permission.Authorized,
			permission.PhotoLibrary: permission.Authorized,
		})
	}
	if opts.Orientation == nil {
		opts.Orientation = fixedOrientation(orientation.Portrait)
	}
	if opts.MaxRecordSeconds <= 0 {
		opts.MaxRecordSeconds = DefaultMaxRecordSeconds
	}
	if opts.ZoomCeiling <= 0 {
		opts.ZoomCeiling = zoom.DefaultCeiling
	}
	if opts.Preview.Scale <= 0 {
		opts.Preview.Scale = 1
	}
	c := &Controller{
		opts:    opts,
		machine: newStateMachine(),
		zoom:    zoom.NewController(zoom.Bounds{Width: opts.Preview.Width, Height: opts.Preview.Height}, 1, opts.ZoomCeiling),
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	} else {
		c.log = debug.Component("capture")
	}
	return c, nil
}

// AddHooks registers observers.
func (c *Controller) AddHooks(h Hooks) {
	c.hooksMu.Lock()
	c.hooks = append(c.hooks[:len(c.hooks):len(c.hooks)], h)
	c.hooksMu.Unlock()
}

func (c *Controller) eachHook(fn func(h Hooks)) {
	c.hooksMu.RLock()
	hs := c.hooks
	c.hooksMu.RUnlock()
	for _, h := range hs {
		fn(h)
	}
}

// notify queues fn for every hook until the lock is released. Callers hold mu.
func (c *Controller) notify(fn func(h Hooks)) {
	c.outbox = append(c.outbox, func() { c.eachHook(fn) })
}

// unlock releases mu and then runs queued notifications.
func (c *Controller) unlock() {
	out := c.takeOutbox()
	c.mu.Unlock()
	c.run(out)
}

func (c *Controller) takeOutbox() []func() {
	out := c.outbox
	c.outbox = nil
	return out
}

func (c *Controller) run(out []func()) {
	for _, fn := range out {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().Interface("panic", r).Msg("hook panicked")
				}
			}()
			fn()
		}()
	}
}

func (c *Controller) state() State {
	return State(c.machine.Current())
}

// fire runs a state machine event. Callers hold mu.
func (c *Controller) fire(event string) error {
	from := c.state()
	if err := c.machine.Event(context.Background(), event); err != nil {
		var inv fsm.InvalidEventError
		if errors.As(err, &inv) {
			return fmt.Errorf("%w: %s in %s", ErrInvalidState, event, from)
		}
		return err
	}
	to := c.state()
	metrics.ObserveTransition(event)
	debug.Transition(event, string(from), string(to))
	c.notify(func(h Hooks) {
		if h.OnState != nil {
			h.OnState(from, to)
		}
	})
	return nil
}

// gate rejects op unless event is valid now. Callers hold mu.
func (c *Controller) gate(op, event string, exclusive bool) error {
	if c.state() == StateClosed {
		metrics.ObserveRejected(op, "closed")
		return ErrClosed
	}
	if exclusive && c.finalizing {
		metrics.ObserveRejected(op, "busy")
		return ErrBusy
	}
	if !c.machine.Can(event) {
		metrics.ObserveRejected(op, "invalid_state")
		return fmt.Errorf("%w: %s in %s", ErrInvalidState, op, c.state())
	}
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

// Position returns the active device position.
func (c *Controller) Position() camera.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Configure selects the device at pos and wires the photo and movie
// outputs and the preview. From Ready it is a no-op for the same position
// and a device change otherwise. A failed initial configuration leaves the
// controller Idle and reports OnDegraded.
func (c *Controller) Configure(ctx context.Context, pos camera.Position) error {
	c.mu.Lock()
	defer c.unlock()

	if c.state() == StateReady && pos == c.position {
		return nil
	}
	if err := c.gate("configure", evConfigure, true); err != nil {
		return err
	}
	from := c.state()

	if err := c.authorize(ctx); err != nil {
		if from == StateIdle {
			c.degraded(err)
		}
		return err
	}
	if err := c.fire(evConfigure); err != nil {
		return err
	}

	if from == StateReady {
		err := c.swapInput(pos)
		if ferr := c.fire(evConfigured); ferr != nil {
			return ferr
		}
		return err
	}

	if err := c.wire(pos); err != nil {
		_ = c.fire(evConfigureFailed)
		c.degraded(err)
		return err
	}
	return c.fire(evConfigured)
}

func (c *Controller) degraded(err error) {
	c.log.Warn().Err(err).Msg("capture disabled")
	c.notify(func(h Hooks) {
		if h.OnDegraded != nil {
			h.OnDegraded(err)
		}
	})
}

// authorize requires camera and microphone access, requesting each once
// if undetermined.
func (c *Controller) authorize(ctx context.Context) error {
	cam, err := permission.Ensure(ctx, c.opts.Permissions, permission.Camera)
	if err != nil {
		return err
	}
	mic, err := permission.Ensure(ctx, c.opts.Permissions, permission.Microphone)
	if err != nil {
		return err
	}
	if cam != permission.Authorized || mic != permission.Authorized {
		return fmt.Errorf("%w: camera=%s microphone=%s", ErrNotAuthorized, cam, mic)
	}
	return nil
}

// wire builds the session topology around the device at pos.
func (c *Controller) wire(pos camera.Position) error {
	s := c.opts.Session
	dev, err := s.DeviceAt(pos)
	if err != nil {
		return wrap(ErrDeviceUnavailable, err)
	}

	s.BeginConfiguration()
	if err := s.AddInput(dev); err != nil {
		s.CommitConfiguration()
		return wrap(ErrDeviceUnavailable, err)
	}
	if !c.wired {
		if err := s.AddAudioInput(); err != nil {
			c.log.Warn().Err(err).Msg("audio input not attached, recording without sound")
		}
		for _, add := range []func() error{s.AddPhotoOutput, s.AddMovieOutput, s.AttachPreview} {
			if err := add(); err != nil {
				s.RemoveInput(dev)
				s.CommitConfiguration()
				return wrap(ErrOutputRejected, err)
			}
		}
		c.wired = true
	}
	s.CommitConfiguration()
	s.StartRunning()

	c.device, c.position = dev, pos
	c.deviceChanged()
	c.log.Info().Str("device", dev.ID()).Stringer("position", pos).Msg("session configured")
	return nil
}

// swapInput replaces the video input with the device at target. On
// failure the previous input is attached again.
func (c *Controller) swapInput(target camera.Position) error {
	s := c.opts.Session
	next, err := s.DeviceAt(target)
	if err != nil {
		return wrap(ErrDeviceUnavailable, err)
	}
	prev := c.device

	s.BeginConfiguration()
	s.RemoveInput(prev)
	if err := s.AddInput(next); err != nil {
		if rerr := s.AddInput(prev); rerr != nil {
			c.log.Error().Err(rerr).Str("device", prev.ID()).Msg("re-attaching previous input failed")
		}
		s.CommitConfiguration()
		return wrap(ErrDeviceUnavailable, err)
	}
	s.CommitConfiguration()

	c.device, c.position = next, target
	c.deviceChanged()
	c.log.Info().Str("device", next.ID()).Stringer("position", target).Msg("device switched")
	return nil
}

// deviceChanged applies per-device defaults: movie mirroring, zoom 1 and
// auto focus/exposure/white balance centred on the preview.
func (c *Controller) deviceChanged() {
	if err := c.opts.Session.SetMovieMirrored(c.position == camera.Front); err != nil {
		c.log.Debug().Err(err).Msg("movie mirroring not applied")
	}
	c.zoom.Reset(c.device.MaxZoomFactor())
	metrics.ZoomFactor.Set(1)

	w, h := c.opts.Preview.Width, c.opts.Preview.Height
	center := DevicePoint(w/2, h/2, w, h)
	err := c.withDevice(func(d camera.Device) {
		d.SetZoomFactor(1)
		c.focus = applyFocus(d, center)
		c.focus.WhiteBalance = applyWhiteBalance(d)
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("initial focus not applied")
	}
}

// withDevice runs fn inside a configuration bracket with the active
// device locked. The session keeps running.
func (c *Controller) withDevice(fn func(d camera.Device)) error {
	s := c.opts.Session
	s.BeginConfiguration()
	defer s.CommitConfiguration()
	if err := c.device.LockForConfiguration(); err != nil {
		return err
	}
	defer c.device.UnlockForConfiguration()
	fn(c.device)
	return nil
}

// SwitchDevice toggles between the back and front camera. On failure the
// previous device stays attached and ErrDeviceSwitchFailed is returned.
func (c *Controller) SwitchDevice() (camera.Position, error) {
	c.mu.Lock()
	defer c.unlock()
	if err := c.gate("switch_device", evSwitchDevice, true); err != nil {
		return c.position, err
	}
	if err := c.fire(evSwitchDevice); err != nil {
		return c.position, err
	}
	err := c.swapInput(c.position.Opposite())
	if ferr := c.fire(evSwitched); ferr != nil {
		return c.position, ferr
	}
	if err != nil {
		return c.position, wrap(ErrDeviceSwitchFailed, err)
	}
	return c.position, nil
}

// AdjustZoom applies a pinch update. applied is false when the gesture
// was rejected; the zoom factor is then unchanged.
func (c *Controller) AdjustZoom(scale float64, touches []zoom.Touch) (factor float64, applied bool, err error) {
	c.mu.Lock()
	defer c.unlock()
	switch c.state() {
	case StateReady, StateRecording:
	case StateClosed:
		return 0, false, ErrClosed
	default:
		metrics.ObserveRejected("adjust_zoom", "invalid_state")
		return c.zoom.Snapshot().Live, false, fmt.Errorf("%w: adjust_zoom in %s", ErrInvalidState, c.state())
	}
	f, ok := c.zoom.Update(scale, touches)
	if !ok {
		return f, false, nil
	}
	if err := c.withDevice(func(d camera.Device) { d.SetZoomFactor(f) }); err != nil {
		return f, false, wrap(ErrDeviceUnavailable, err)
	}
	metrics.ZoomFactor.Set(f)
	debug.Verbose("zoom factor %.2f", f)
	return f, true, nil
}

// EndZoom commits the live zoom factor for the next gesture.
func (c *Controller) EndZoom() float64 {
	c.mu.Lock()
	defer c.unlock()
	return c.zoom.End()
}

// SetFocusAndExposure focuses and meters at a preview point using the
// best supported tier. Unsupported capabilities are reported, not errors.
func (c *Controller) SetFocusAndExposure(x, y float64) (FocusResult, error) {
	c.mu.Lock()
	defer c.unlock()
	switch c.state() {
	case StateReady:
	case StateClosed:
		return FocusResult{}, ErrClosed
	default:
		metrics.ObserveRejected("set_focus", "invalid_state")
		return FocusResult{}, fmt.Errorf("%w: set_focus in %s", ErrInvalidState, c.state())
	}
	p := DevicePoint(x, y, c.opts.Preview.Width, c.opts.Preview.Height)
	var res FocusResult
	if err := c.withDevice(func(d camera.Device) { res = applyFocus(d, p) }); err != nil {
		return FocusResult{}, wrap(ErrDeviceUnavailable, err)
	}
	res.WhiteBalance = c.focus.WhiteBalance
	c.focus = res
	debug.Verbose("focus %s exposure %s at (%.3f, %.3f)", res.Focus, res.Exposure, p.X, p.Y)
	return res, nil
}

// implicitDiscard drops an uncommitted result before a new capture.
func (c *Controller) implicitDiscard() {
	p, ok := c.opts.Results.Pending()
	if ok && c.opts.Results.Discard() {
		metrics.ObserveResult(p.Mode.String(), "implicit_discard")
		c.log.Debug().Stringer("mode", p.Mode).Msg("pending result discarded by new capture")
	}
}

// CapturePhoto requests a still. The returned channel receives the
// adjusted photo once; the result is also held for Use or Discard.
func (c *Controller) CapturePhoto() (<-chan result.CaptureResult, error) {
	c.mu.Lock()
	defer c.unlock()
	if err := c.gate("capture_photo", evCapturePhoto, true); err != nil {
		return nil, err
	}
	c.implicitDiscard()

	sw := int(c.opts.Preview.Width * c.opts.Preview.Scale)
	sh := int(c.opts.Preview.Height * c.opts.Preview.Scale)
	adj := PhotoAdjust{
		Width:       sw,
		Height:      sh,
		Mirror:      c.position == camera.Front,
		Orientation: c.opts.Orientation.Current(),
	}
	if err := c.fire(evCapturePhoto); err != nil {
		return nil, err
	}
	c.gen++
	gen := c.gen
	ch := make(chan result.CaptureResult, 1)
	err := c.opts.Session.CapturePhoto(func(still camera.Still, err error) {
		c.photoDelivered(gen, still, err, adj, ch)
	})
	if err != nil {
		_ = c.fire(evPhotoDone)
		metrics.ObserveCapture("photo", err)
		return nil, wrap(ErrCaptureFailed, err)
	}
	debug.Live("photo requested (%s, %s)", c.position, adj.Orientation)
	return ch, nil
}

func (c *Controller) photoDelivered(gen uint64, still camera.Still, cerr error, adj PhotoAdjust, ch chan<- result.CaptureResult) {
	var r result.CaptureResult
	if cerr != nil {
		r = result.NewPhoto(nil, wrap(ErrCaptureFailed, cerr))
	} else if data, err := AdjustPhoto(still.JPEG, adj); err != nil {
		r = result.NewPhoto(nil, wrap(ErrCaptureFailed, err))
	} else {
		r = result.NewPhoto(data, nil)
	}

	c.mu.Lock()
	if gen != c.gen || c.state() != StatePhotoCapturing {
		out := c.takeOutbox()
		c.mu.Unlock()
		c.run(out)
		ch <- result.NewPhoto(nil, ErrClosed)
		close(ch)
		return
	}
	_ = c.fire(evPhotoDone)
	metrics.ObserveCapture("photo", r.Err)
	c.opts.Results.Hold(r)
	c.notify(func(h Hooks) {
		if h.OnResult != nil {
			h.OnResult(r)
		}
	})
	out := c.takeOutbox()
	c.mu.Unlock()

	ch <- r
	close(ch)
	c.run(out)
}

// StartRecording starts a movie limited to maxSeconds (the configured
// default when <= 0). The returned channel receives the video once the
// file is finalized after a manual or timer-forced stop.
func (c *Controller) StartRecording(maxSeconds int) (<-chan result.CaptureResult, error) {
	c.mu.Lock()
	defer c.unlock()
	if err := c.gate("start_recording", evStartRecording, true); err != nil {
		return nil, err
	}
	if maxSeconds <= 0 {
		maxSeconds = c.opts.MaxRecordSeconds
	}
	c.implicitDiscard()

	path := c.opts.Paths.NewRecordingPath()
	o := c.opts.Orientation.Current()
	c.gen++
	gen := c.gen
	ch := make(chan result.CaptureResult, 1)
	err := c.opts.Session.StartRecording(path, orientation.VideoOrientation(o), func(p string, err error) {
		c.recordingFinished(gen, p, err, ch)
	})
	if err != nil {
		metrics.ObserveCapture("video", err)
		return nil, wrap(ErrRecordingStartFailed, err)
	}
	if err := c.fire(evStartRecording); err != nil {
		c.opts.Session.StopRecording()
		return nil, err
	}

	timer, err := progress.Start(maxSeconds, progress.Options{
		Rate: c.opts.ProgressRate,
		OnTick: func(frac float64, remaining int) {
			c.eachHook(func(h Hooks) {
				if h.OnProgress != nil {
					h.OnProgress(frac, remaining)
				}
			})
		},
		OnFinish: func() { c.timerExpired(gen) },
	})
	if err != nil {
		return nil, err
	}
	c.timer = timer
	c.recordStart = time.Now()
	c.recordLimit = maxSeconds
	c.video = ch
	metrics.SetRecording(true)
	debug.Live("recording started (%ds max, %s)", maxSeconds, orientation.VideoOrientation(o))
	return ch, nil
}

func (c *Controller) timerExpired(gen uint64) {
	c.mu.Lock()
	defer c.unlock()
	if gen != c.gen || c.state() != StateRecording {
		return
	}
	c.log.Info().Int("seconds", c.recordLimit).Msg("recording reached its limit")
	c.stopLocked()
}

// StopRecording stops the recording. The returned channel is the one
// StartRecording returned.
func (c *Controller) StopRecording() (<-chan result.CaptureResult, error) {
	c.mu.Lock()
	defer c.unlock()
	if err := c.gate("stop_recording", evStopRecording, false); err != nil {
		return nil, err
	}
	return c.stopLocked(), nil
}

func (c *Controller) stopLocked() <-chan result.CaptureResult {
	if c.timer != nil {
		c.timer.Cancel()
		c.timer = nil
	}
	c.opts.Session.StopRecording()
	_ = c.fire(evStopRecording)
	c.finalizing = true
	metrics.SetRecording(false)
	return c.video
}

func (c *Controller) recordingFinished(gen uint64, path string, ferr error, ch chan<- result.CaptureResult) {
	r := result.NewVideo(path, nil)
	if ferr != nil {
		r.Err = wrap(ErrCaptureFailed, ferr)
	}

	c.mu.Lock()
	if gen != c.gen || c.state() == StateClosed {
		out := c.takeOutbox()
		c.mu.Unlock()
		c.run(out)
		c.opts.Results.Drop(r)
		ch <- result.NewVideo("", ErrClosed)
		close(ch)
		return
	}
	if c.state() == StateRecording {
		// The framework ended the recording on its own.
		if c.timer != nil {
			c.timer.Cancel()
			c.timer = nil
		}
		_ = c.fire(evStopRecording)
		metrics.SetRecording(false)
	}
	c.finalizing = false
	c.video = nil
	metrics.ObserveRecordingDuration(time.Since(c.recordStart))
	metrics.ObserveCapture("video", r.Err)
	c.opts.Results.Hold(r)
	c.notify(func(h Hooks) {
		if h.OnResult != nil {
			h.OnResult(r)
		}
	})
	out := c.takeOutbox()
	c.mu.Unlock()

	ch <- r
	close(ch)
	c.run(out)
}

// Use commits the pending result to the delegate and the library.
func (c *Controller) Use() (result.CaptureResult, error) {
	if c.State() == StateClosed {
		return result.CaptureResult{}, ErrClosed
	}
	r, err := c.opts.Results.Commit()
	if err != nil {
		return r, err
	}
	metrics.ObserveResult(r.Mode.String(), "commit")
	debug.Shot(r.Mode.String(), "committed", time.Since(r.At))
	return r, nil
}

// Pending returns the result awaiting Use or Discard.
func (c *Controller) Pending() (result.CaptureResult, bool) {
	return c.opts.Results.Pending()
}

// Discard drops the pending result. It reports whether anything was pending.
func (c *Controller) Discard() bool {
	p, ok := c.opts.Results.Pending()
	if !ok || !c.opts.Results.Discard() {
		return false
	}
	metrics.ObserveResult(p.Mode.String(), "discard")
	debug.Shot(p.Mode.String(), "discarded", time.Since(p.At))
	return true
}

// Close stops any recording, discards the pending result and stops the
// session. Futures still outstanding receive ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.unlock()
	if c.state() == StateClosed {
		return nil
	}
	if c.timer != nil {
		c.timer.Cancel()
		c.timer = nil
	}
	if c.state() == StateRecording {
		c.opts.Session.StopRecording()
		metrics.SetRecording(false)
	}
	c.gen++
	c.finalizing = false
	c.opts.Results.Discard()
	c.opts.Session.StopRunning()
	return c.fire(evClose)
}

// RecordingStatus describes a recording in progress.
type RecordingStatus struct {
	ElapsedFraction  float64 `json:"elapsed_fraction"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	LimitSeconds     int     `json:"limit_seconds"`
}

// Status is a snapshot of the capture session.
type Status struct {
	State       State            `json:"state"`
	Position    string           `json:"position,omitempty"`
	Device      string           `json:"device,omitempty"`
	Zoom        zoom.State       `json:"zoom"`
	Orientation string           `json:"orientation"`
	Focus       FocusResult      `json:"focus"`
	Recording   *RecordingStatus `json:"recording,omitempty"`
	Finalizing  bool             `json:"finalizing"`
	Pending     string           `json:"pending,omitempty"`
}

// Status returns a snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:       c.state(),
		Zoom:        c.zoom.Snapshot(),
		Orientation: c.opts.Orientation.Current().String(),
		Focus:       c.focus,
		Finalizing:  c.finalizing,
	}
	if c.device != nil {
		st.Position = c.position.String()
		st.Device = c.device.ID()
	}
	if c.timer != nil {
		st.Recording = &RecordingStatus{
			ElapsedFraction:  c.timer.Elapsed(),
			RemainingSeconds: c.timer.RemainingDuration().Seconds(),
			LimitSeconds:     c.recordLimit,
		}
	}
	if p, ok := c.opts.Results.Pending(); ok {
		st.Pending = p.Mode.String()
	}
	return st
}
