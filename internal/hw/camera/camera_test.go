package camera

import (
	"bytes"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "image/jpeg"
)

func fastSim() *Simulated {
	return NewSimulated(SimulatedOptions{
		StillWidth:    80,
		StillHeight:   120,
		PhotoLatency:  time.Millisecond,
		FrameInterval: time.Millisecond,
	})
}

// wire attaches the device at pos plus both outputs and starts the session.
func wire(t *testing.T, s *Simulated, pos Position) Device {
	t.Helper()
	d, err := s.DeviceAt(pos)
	if err != nil {
		t.Fatalf("DeviceAt(%s): %v", pos, err)
	}
	s.BeginConfiguration()
	if err := s.AddInput(d); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := s.AddPhotoOutput(); err != nil {
		t.Fatalf("AddPhotoOutput: %v", err)
	}
	if err := s.AddMovieOutput(); err != nil {
		t.Fatalf("AddMovieOutput: %v", err)
	}
	s.CommitConfiguration()
	s.StartRunning()
	return d
}

func TestPosition_ParseAndOpposite(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Position
	}{{"back", Back}, {"front", Front}} {
		got, err := ParsePosition(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParsePosition(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if got.String() != tc.in {
			t.Errorf("String() = %q, want %q", got.String(), tc.in)
		}
	}
	if _, err := ParsePosition("side"); err == nil {
		t.Error("expected error for unknown position")
	}
	if Back.Opposite() != Front || Front.Opposite() != Back {
		t.Error("Opposite() should toggle back/front")
	}
}

func TestSimulated_DeviceAtMissing(t *testing.T) {
	s := NewSimulated(SimulatedOptions{Positions: []Position{Back}})
	if _, err := s.DeviceAt(Front); !errors.Is(err, ErrNoDevice) {
		t.Errorf("DeviceAt(Front) err = %v, want ErrNoDevice", err)
	}
}

func TestSimulated_SingleVideoInput(t *testing.T) {
	s := fastSim()
	wire(t, s, Back)
	front, _ := s.DeviceAt(Front)
	if err := s.AddInput(front); !errors.Is(err, ErrInputRejected) {
		t.Errorf("second AddInput err = %v, want ErrInputRejected", err)
	}
}

func TestSimulated_FailInput(t *testing.T) {
	s := fastSim()
	s.FailInput(Front, errors.New("busy"))
	front, _ := s.DeviceAt(Front)
	if err := s.AddInput(front); !errors.Is(err, ErrInputRejected) {
		t.Errorf("AddInput err = %v, want ErrInputRejected", err)
	}
	s.FailInput(Front, nil)
	if err := s.AddInput(front); err != nil {
		t.Errorf("AddInput after clearing fault: %v", err)
	}
}

func TestSimulated_OutputFault(t *testing.T) {
	s := fastSim()
	s.Fail(FaultMovieOutput, errors.New("conflict"))
	if err := s.AddMovieOutput(); !errors.Is(err, ErrOutputRejected) {
		t.Errorf("AddMovieOutput err = %v, want ErrOutputRejected", err)
	}
}

func TestSimulated_CapturePhotoDeliversJPEG(t *testing.T) {
	s := fastSim()
	wire(t, s, Back)

	done := make(chan Still, 1)
	if err := s.CapturePhoto(func(st Still, err error) {
		if err != nil {
			t.Errorf("capture error: %v", err)
		}
		done <- st
	}); err != nil {
		t.Fatalf("CapturePhoto: %v", err)
	}

	select {
	case st := <-done:
		cfg, format, err := image.DecodeConfig(bytes.NewReader(st.JPEG))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if format != "jpeg" || cfg.Width != 80 || cfg.Height != 120 {
			t.Errorf("still = %s %dx%d, want jpeg 80x120", format, cfg.Width, cfg.Height)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for still")
	}
}

func TestSimulated_CapturePhotoWithoutConnection(t *testing.T) {
	s := fastSim()
	if err := s.CapturePhoto(func(Still, error) {}); !errors.Is(err, ErrNoConnection) {
		t.Errorf("err = %v, want ErrNoConnection", err)
	}
}

func TestSimulated_RecordingWritesFile(t *testing.T) {
	s := fastSim()
	wire(t, s, Back)
	if err := s.SetMovieMirrored(true); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "clip.mov")

	done := make(chan error, 1)
	if err := s.StartRecording(path, VideoLandscapeLeft, func(p string, err error) {
		if p != path {
			t.Errorf("done path = %q, want %q", p, path)
		}
		done <- err
	}); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !s.Recording() {
		t.Error("Recording() = false after start")
	}
	time.Sleep(5 * time.Millisecond)
	s.StopRecording()
	s.StopRecording() // idempotent

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("recording finished with error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for recording completion")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "CAPGO-SIM-MOV orientation=landscapeLeft mirrored=true") {
		t.Errorf("unexpected header: %q", strings.SplitN(string(data), "\n", 2)[0])
	}
}

func TestSimulated_RecordFinishFault(t *testing.T) {
	s := fastSim()
	wire(t, s, Back)
	s.Fail(FaultRecordFinish, errors.New("disk full"))
	done := make(chan error, 1)
	if err := s.StartRecording(filepath.Join(t.TempDir(), "x.mov"), VideoPortrait, func(_ string, err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	s.StopRecording()
	if err := <-done; err == nil {
		t.Error("expected finish error")
	}
}

func TestSimDevice_ZoomClampedAndLock(t *testing.T) {
	s := NewSimulated(SimulatedOptions{MaxZoomFactor: 4})
	d := s.SimDeviceAt(Back)
	if err := d.LockForConfiguration(); err != nil {
		t.Fatal(err)
	}
	if err := d.LockForConfiguration(); !errors.Is(err, ErrDeviceLocked) {
		t.Errorf("double lock err = %v, want ErrDeviceLocked", err)
	}
	d.SetZoomFactor(9)
	if d.ZoomFactor() != 4 {
		t.Errorf("zoom = %v, want clamped 4", d.ZoomFactor())
	}
	d.SetZoomFactor(0.2)
	if d.ZoomFactor() != 1 {
		t.Errorf("zoom = %v, want clamped 1", d.ZoomFactor())
	}
	d.UnlockForConfiguration()
	if d.Locked() {
		t.Error("device still locked")
	}
}

func TestSimDevice_DefaultCapabilities(t *testing.T) {
	s := fastSim()
	back, front := s.SimDeviceAt(Back), s.SimDeviceAt(Front)
	if !back.FocusModeSupported(FocusContinuousAuto) || !back.FocusPointOfInterestSupported() {
		t.Error("back camera should support continuous focus with point of interest")
	}
	if front.FocusModeSupported(FocusAuto) || front.FocusModeSupported(FocusContinuousAuto) {
		t.Error("front camera should be fixed focus")
	}
	if !front.ExposureModeSupported(ExposureContinuousAuto) || front.ExposureModeSupported(ExposureAuto) {
		t.Error("front camera exposure capabilities mismatch")
	}
}
