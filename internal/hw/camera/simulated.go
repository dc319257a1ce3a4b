package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/cjeanneret/CapGo/internal/debug"
)

// Fault names a simulated framework operation that can be made to fail.
type Fault string

const (
	FaultAudioInput   Fault = "audio_input"
	FaultPhotoOutput  Fault = "photo_output"
	FaultMovieOutput  Fault = "movie_output"
	FaultPreview      Fault = "preview"
	FaultCapture      Fault = "capture"
	FaultRecordStart  Fault = "record_start"
	FaultRecordFinish Fault = "record_finish"
	FaultLock         Fault = "lock"
)

// Capabilities lists what a simulated device supports.
type Capabilities struct {
	Focus        []FocusMode
	FocusPOI     bool
	Exposure     []ExposureMode
	ExposurePOI  bool
	WhiteBalance []WhiteBalanceMode
}

// SimulatedOptions configures a Simulated framework.
type SimulatedOptions struct {
	Positions     []Position                // devices present (default back and front)
	MaxZoomFactor float64                   // per-device capability (default 16)
	StillWidth    int                       // still size in pixels (default 1080x1920)
	StillHeight   int                       // still size in pixels
	PhotoLatency  time.Duration             // delay before a still is delivered (default 30ms)
	FrameInterval time.Duration             // movie frame period (default 40ms)
	Capabilities  map[Position]Capabilities // default: back full, front without focus
}

// Simulated is an in-process capture device framework. It renders test
// pattern stills and writes placeholder movie files, so the whole capture
// flow runs headless.
type Simulated struct {
	opts    SimulatedOptions
	devices map[Position]*SimDevice

	mu          sync.Mutex
	faults      map[Fault]error
	inputFaults map[Position]error
	configDepth int
	commits     int
	video       *SimDevice
	audio       bool
	photoOut    bool
	movieOut    bool
	preview     bool
	mirrored    bool
	running     bool
	rec         *simRecording
}

type simRecording struct {
	stop chan struct{}
	once sync.Once
}

// NewSimulated creates a simulated framework.
func NewSimulated(opts SimulatedOptions) *Simulated {
	if len(opts.Positions) == 0 {
		opts.Positions = []Position{Back, Front}
	}
	if opts.MaxZoomFactor <= 0 {
		opts.MaxZoomFactor = 16
	}
	if opts.StillWidth <= 0 || opts.StillHeight <= 0 {
		opts.StillWidth, opts.StillHeight = 1080, 1920
	}
	if opts.PhotoLatency <= 0 {
		opts.PhotoLatency = 30 * time.Millisecond
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 40 * time.Millisecond
	}
	if opts.Capabilities == nil {
		opts.Capabilities = map[Position]Capabilities{
			Back: {
				Focus:        []FocusMode{FocusLocked, FocusAuto, FocusContinuousAuto},
				FocusPOI:     true,
				Exposure:     []ExposureMode{ExposureLocked, ExposureAuto, ExposureContinuousAuto},
				ExposurePOI:  true,
				WhiteBalance: []WhiteBalanceMode{WhiteBalanceLocked, WhiteBalanceAuto, WhiteBalanceContinuousAuto},
			},
			Front: {
				Focus:        []FocusMode{FocusLocked},
				Exposure:     []ExposureMode{ExposureLocked, ExposureContinuousAuto},
				ExposurePOI:  true,
				WhiteBalance: []WhiteBalanceMode{WhiteBalanceLocked, WhiteBalanceContinuousAuto},
			},
		}
	}
	s := &Simulated{
		opts:        opts,
		devices:     make(map[Position]*SimDevice),
		faults:      make(map[Fault]error),
		inputFaults: make(map[Position]error),
	}
	for _, p := range opts.Positions {
		s.devices[p] = &SimDevice{
			id:   "sim-" + p.String(),
			pos:  p,
			max:  opts.MaxZoomFactor,
			caps: opts.Capabilities[p],
			zoom: 1,
			sim:  s,
		}
	}
	return s
}

// Fail makes op fail with err until cleared with a nil err.
func (s *Simulated) Fail(op Fault, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// FailInput makes AddInput fail for the device at pos.
func (s *Simulated) FailInput(pos Position, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.inputFaults, pos)
		return
	}
	s.inputFaults[pos] = err
}

func (s *Simulated) fault(op Fault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults[op]
}

// DeviceAt implements Session.
func (s *Simulated) DeviceAt(pos Position) (Device, error) {
	d, ok := s.devices[pos]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, pos)
	}
	return d, nil
}

// SimDeviceAt returns the concrete simulated device at pos, or nil.
func (s *Simulated) SimDeviceAt(pos Position) *SimDevice {
	return s.devices[pos]
}

func (s *Simulated) BeginConfiguration() {
	s.mu.Lock()
	s.configDepth++
	s.mu.Unlock()
	debug.Trace("sim: begin configuration")
}

func (s *Simulated) CommitConfiguration() {
	s.mu.Lock()
	if s.configDepth > 0 {
		s.configDepth--
	}
	s.commits++
	s.mu.Unlock()
	debug.Trace("sim: commit configuration")
}

// Commits returns how many configuration brackets were committed.
func (s *Simulated) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Simulated) AddInput(d Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sd, ok := d.(*SimDevice)
	if !ok || sd.sim != s {
		return fmt.Errorf("%w: foreign device", ErrInputRejected)
	}
	if err := s.inputFaults[sd.pos]; err != nil {
		return fmt.Errorf("%w: %v", ErrInputRejected, err)
	}
	if s.video != nil {
		return fmt.Errorf("%w: video input already attached", ErrInputRejected)
	}
	s.video = sd
	debug.Trace("sim: input %s attached", sd.id)
	return nil
}

func (s *Simulated) RemoveInput(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video != nil && Device(s.video) == d {
		s.video = nil
	}
}

// VideoInput returns the attached video device, or nil.
func (s *Simulated) VideoInput() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *Simulated) AddAudioInput() error {
	if err := s.fault(FaultAudioInput); err != nil {
		return fmt.Errorf("%w: %v", ErrInputRejected, err)
	}
	s.mu.Lock()
	s.audio = true
	s.mu.Unlock()
	return nil
}

// AudioAttached reports whether a microphone input is wired.
func (s *Simulated) AudioAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *Simulated) addOutput(f Fault, flag *bool) error {
	if err := s.fault(f); err != nil {
		return fmt.Errorf("%w: %v", ErrOutputRejected, err)
	}
	s.mu.Lock()
	*flag = true
	s.mu.Unlock()
	return nil
}

func (s *Simulated) AddPhotoOutput() error { return s.addOutput(FaultPhotoOutput, &s.photoOut) }
func (s *Simulated) AddMovieOutput() error { return s.addOutput(FaultMovieOutput, &s.movieOut) }
func (s *Simulated) AttachPreview() error  { return s.addOutput(FaultPreview, &s.preview) }

func (s *Simulated) SetMovieMirrored(mirrored bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.movieOut || s.video == nil {
		return ErrNoConnection
	}
	s.mirrored = mirrored
	return nil
}

// MovieMirrored reports the movie connection mirroring.
func (s *Simulated) MovieMirrored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirrored
}

func (s *Simulated) StartRunning() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

func (s *Simulated) StopRunning() {
	s.StopRecording()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Simulated) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Simulated) CapturePhoto(done PhotoDone) error {
	s.mu.Lock()
	ok := s.running && s.photoOut && s.video != nil
	var pos Position
	if s.video != nil {
		pos = s.video.pos
	}
	s.mu.Unlock()
	if !ok {
		return ErrNoConnection
	}
	failure := s.fault(FaultCapture)

	go func() {
		time.Sleep(s.opts.PhotoLatency)
		if failure != nil {
			done(Still{}, failure)
			return
		}
		data, err := s.render(pos)
		done(Still{JPEG: data}, err)
	}()
	return nil
}

// render draws a test pattern: a red marker in the top-left quadrant over a
// position-dependent background.
func (s *Simulated) render(pos Position) ([]byte, error) {
	w, h := s.opts.StillWidth, s.opts.StillHeight
	bg := color.NRGBA{R: 20, G: 40, B: 200, A: 255}
	if pos == Front {
		bg = color.NRGBA{R: 20, G: 160, B: 60, A: 255}
	}
	img := imaging.New(w, h, bg)
	marker := image.Rect(0, 0, w/2, h/2)
	for y := marker.Min.Y; y < marker.Max.Y; y++ {
		for x := marker.Min.X; x < marker.Max.X; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 230, G: 20, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Simulated) StartRecording(path string, orientation VideoOrientation, done RecordingDone) error {
	if err := s.fault(FaultRecordStart); err != nil {
		return fmt.Errorf("%w: %v", ErrNoConnection, err)
	}
	s.mu.Lock()
	if !s.running || !s.movieOut || s.video == nil {
		s.mu.Unlock()
		return ErrNoConnection
	}
	if s.rec != nil {
		s.mu.Unlock()
		return fmt.Errorf("camera: movie output already recording")
	}
	f, err := os.Create(path)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("camera: create movie file: %w", err)
	}
	rec := &simRecording{stop: make(chan struct{})}
	s.rec = rec
	mirrored := s.mirrored
	s.mu.Unlock()

	fmt.Fprintf(f, "CAPGO-SIM-MOV orientation=%s mirrored=%t\n", orientation, mirrored)

	go func() {
		ticker := time.NewTicker(s.opts.FrameInterval)
		defer ticker.Stop()
		frames := 0
		var werr error
	loop:
		for {
			select {
			case <-rec.stop:
				break loop
			case <-ticker.C:
				frames++
				if _, err := fmt.Fprintf(f, "frame %d\n", frames); err != nil && werr == nil {
					werr = err
				}
			}
		}
		if err := f.Close(); err != nil && werr == nil {
			werr = err
		}
		if ferr := s.fault(FaultRecordFinish); ferr != nil && werr == nil {
			werr = ferr
		}
		debug.Trace("sim: recording %s finished after %d frames", path, frames)
		done(path, werr)
	}()
	return nil
}

func (s *Simulated) StopRecording() {
	s.mu.Lock()
	rec := s.rec
	s.rec = nil
	s.mu.Unlock()
	if rec != nil {
		rec.once.Do(func() { close(rec.stop) })
	}
}

func (s *Simulated) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec != nil
}

// SimDevice is a simulated video device.
type SimDevice struct {
	id   string
	pos  Position
	max  float64
	caps Capabilities
	sim  *Simulated

	mu       sync.Mutex
	locked   bool
	zoom     float64
	focus    FocusMode
	focusPt  *Point
	exposure ExposureMode
	expPt    *Point
	wb       WhiteBalanceMode
}

func (d *SimDevice) ID() string             { return d.id }
func (d *SimDevice) Position() Position     { return d.pos }
func (d *SimDevice) MaxZoomFactor() float64 { return d.max }

func (d *SimDevice) LockForConfiguration() error {
	if err := d.sim.fault(FaultLock); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceLocked, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		return fmt.Errorf("%w: already locked", ErrDeviceLocked)
	}
	d.locked = true
	return nil
}

func (d *SimDevice) UnlockForConfiguration() {
	d.mu.Lock()
	d.locked = false
	d.mu.Unlock()
}

// Locked reports whether the device is inside a configuration lock.
func (d *SimDevice) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

func (d *SimDevice) ZoomFactor() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoom
}

func (d *SimDevice) SetZoomFactor(f float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f < 1 {
		f = 1
	}
	if f > d.max {
		f = d.max
	}
	d.zoom = f
}

func (d *SimDevice) FocusModeSupported(m FocusMode) bool {
	for _, s := range d.caps.Focus {
		if s == m {
			return true
		}
	}
	return false
}

func (d *SimDevice) SetFocusMode(m FocusMode) {
	d.mu.Lock()
	d.focus = m
	d.mu.Unlock()
}

func (d *SimDevice) FocusPointOfInterestSupported() bool { return d.caps.FocusPOI }

func (d *SimDevice) SetFocusPointOfInterest(p Point) {
	d.mu.Lock()
	d.focusPt = &p
	d.mu.Unlock()
}

func (d *SimDevice) ExposureModeSupported(m ExposureMode) bool {
	for _, s := range d.caps.Exposure {
		if s == m {
			return true
		}
	}
	return false
}

func (d *SimDevice) SetExposureMode(m ExposureMode) {
	d.mu.Lock()
	d.exposure = m
	d.mu.Unlock()
}

func (d *SimDevice) ExposurePointOfInterestSupported() bool { return d.caps.ExposurePOI }

func (d *SimDevice) SetExposurePointOfInterest(p Point) {
	d.mu.Lock()
	d.expPt = &p
	d.mu.Unlock()
}

func (d *SimDevice) WhiteBalanceModeSupported(m WhiteBalanceMode) bool {
	for _, s := range d.caps.WhiteBalance {
		if s == m {
			return true
		}
	}
	return false
}

func (d *SimDevice) SetWhiteBalanceMode(m WhiteBalanceMode) {
	d.mu.Lock()
	d.wb = m
	d.mu.Unlock()
}

// Focus returns the current focus mode and point of interest (nil if unset).
func (d *SimDevice) Focus() (FocusMode, *Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focus, d.focusPt
}

// Exposure returns the current exposure mode and point of interest (nil if unset).
func (d *SimDevice) Exposure() (ExposureMode, *Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exposure, d.expPt
}

// WhiteBalance returns the current white balance mode.
func (d *SimDevice) WhiteBalance() WhiteBalanceMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wb
}
