// Package panel drives the physical capture controls: a shutter button, a
// record button (start/stop toggle) and a tally LED lit while recording.
//
// Wiring (Raspberry Pi, BCM numbering):
//   - buttons: pin to GND, internal pull-up enabled, active LOW
//   - tally:   pin -> resistor -> LED -> GND, active HIGH
package panel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/CapGo/internal/debug"
	"github.com/cjeanneret/CapGo/internal/hw/gpio"
	"github.com/cjeanneret/CapGo/internal/logic/capture"
	"github.com/cjeanneret/CapGo/internal/logic/result"
)

const (
	DefaultPollInterval = 20 * time.Millisecond
	DefaultDebounce     = 3 // consecutive identical samples
)

// Controls is the part of the capture controller the panel drives.
type Controls interface {
	State() capture.State
	CapturePhoto() (<-chan result.CaptureResult, error)
	StartRecording(maxSeconds int) (<-chan result.CaptureResult, error)
	StopRecording() (<-chan result.CaptureResult, error)
}

// Config selects pins. A pin of 0 disables that control.
type Config struct {
	ShutterPin   int
	RecordPin    int
	TallyPin     int
	PollInterval time.Duration
	Debounce     int
	Logger       *zerolog.Logger
}

type button struct {
	name    string
	pin     int
	stable  gpio.Level
	streak  int
	onPress func()
}

// Panel polls the buttons and mirrors the recording state on the tally.
type Panel struct {
	gpio     gpio.Driver
	controls Controls
	cfg      Config
	log      zerolog.Logger
	buttons  []*button

	tallyMu sync.Mutex
	tally   bool
}

// New configures the pins on g. Buttons start released.
func New(g gpio.Driver, controls Controls, cfg Config) (*Panel, error) {
	if g == nil || controls == nil {
		return nil, errors.New("panel: gpio driver and controls are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	p := &Panel{gpio: g, controls: controls, cfg: cfg}
	if cfg.Logger != nil {
		p.log = *cfg.Logger
	} else {
		p.log = debug.Component("panel")
	}

	if cfg.ShutterPin > 0 {
		p.buttons = append(p.buttons, &button{name: "shutter", pin: cfg.ShutterPin, stable: gpio.High, onPress: p.shutter})
	}
	if cfg.RecordPin > 0 {
		p.buttons = append(p.buttons, &button{name: "record", pin: cfg.RecordPin, stable: gpio.High, onPress: p.toggleRecording})
	}
	for _, b := range p.buttons {
		if err := g.SetupPin(b.pin, gpio.InputPullUp); err != nil {
			return nil, err
		}
	}
	if cfg.TallyPin > 0 {
		if err := g.SetupPin(cfg.TallyPin, gpio.Output); err != nil {
			return nil, err
		}
		if err := g.WritePin(cfg.TallyPin, gpio.Low); err != nil {
			return nil, err
		}
	}
	debug.Verbose("panel: shutter=%d record=%d tally=%d poll=%v", cfg.ShutterPin, cfg.RecordPin, cfg.TallyPin, cfg.PollInterval)
	return p, nil
}

// Run polls until ctx is cancelled, then turns the tally off.
func (p *Panel) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.setTally(false)
			return nil
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll samples every button once. A level change is accepted after
// Debounce consecutive samples; a press is the accepted HIGH to LOW edge.
func (p *Panel) poll() {
	for _, b := range p.buttons {
		lvl, err := p.gpio.ReadPin(b.pin)
		if err != nil {
			p.log.Trace().Err(err).Int("pin", b.pin).Msg("read failed")
			continue
		}
		if lvl == b.stable {
			b.streak = 0
			continue
		}
		b.streak++
		if b.streak < p.cfg.Debounce {
			continue
		}
		b.stable, b.streak = lvl, 0
		if lvl == gpio.Low {
			debug.Live("panel: %s pressed", b.name)
			b.onPress()
		}
	}
}

func (p *Panel) shutter() {
	if _, err := p.controls.CapturePhoto(); err != nil {
		p.log.Warn().Err(err).Msg("shutter ignored")
	}
}

func (p *Panel) toggleRecording() {
	var err error
	if p.controls.State() == capture.StateRecording {
		_, err = p.controls.StopRecording()
	} else {
		_, err = p.controls.StartRecording(0)
	}
	if err != nil {
		p.log.Warn().Err(err).Msg("record toggle ignored")
	}
}

// OnState is a capture hook keeping the tally in sync with recording.
func (p *Panel) OnState(from, to capture.State) {
	switch {
	case to == capture.StateRecording:
		p.setTally(true)
	case from == capture.StateRecording:
		p.setTally(false)
	}
}

// Tally reports whether the tally LED is lit.
func (p *Panel) Tally() bool {
	p.tallyMu.Lock()
	defer p.tallyMu.Unlock()
	return p.tally
}

func (p *Panel) setTally(on bool) {
	p.tallyMu.Lock()
	defer p.tallyMu.Unlock()
	p.tally = on
	if p.cfg.TallyPin <= 0 {
		return
	}
	lvl := gpio.Low
	if on {
		lvl = gpio.High
	}
	if err := p.gpio.WritePin(p.cfg.TallyPin, lvl); err != nil {
		p.log.Error().Err(err).Int("pin", p.cfg.TallyPin).Msg("tally write failed")
	}
}
