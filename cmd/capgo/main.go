package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cjeanneret/CapGo/internal/config"
	"github.com/cjeanneret/CapGo/internal/debug"
	"github.com/cjeanneret/CapGo/internal/hw/camera"
	"github.com/cjeanneret/CapGo/internal/hw/gpio"
	"github.com/cjeanneret/CapGo/internal/hw/motion"
	"github.com/cjeanneret/CapGo/internal/hw/panel"
	"github.com/cjeanneret/CapGo/internal/library"
	"github.com/cjeanneret/CapGo/internal/logic/capture"
	"github.com/cjeanneret/CapGo/internal/logic/orientation"
	"github.com/cjeanneret/CapGo/internal/logic/result"
	"github.com/cjeanneret/CapGo/internal/metrics"
	"github.com/cjeanneret/CapGo/internal/permission"
	"github.com/cjeanneret/CapGo/internal/web"
)

// overrides holds CLI values that replace config entries when non-zero.
type overrides struct {
	MaxRecordSeconds int
	ZoomCeiling      float64
	Position         string
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	maxRecordSeconds := flag.Int("max_record_seconds", 0, "override recording limit in seconds (1-3600)")
	zoomCeiling := flag.Float64("zoom_ceiling", 0, "override zoom factor ceiling (>= 1)")
	position := flag.String("position", "", "override starting camera: back or front")
	demo := flag.Bool("demo", false, "take one photo and one short clip, save both, then exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(*maxRecordSeconds, *zoomCeiling, *position); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides{
		MaxRecordSeconds: *maxRecordSeconds,
		ZoomCeiling:      *zoomCeiling,
		Position:         *position,
	})

	// Initialize debug system. With the web UI on, log lines also go to
	// the status stream; this must happen before components take loggers.
	var broadcaster *web.StatusBroadcaster
	debug.Init(cfg.Defaults.DebugLevel)
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Step(1, "Initializing permissions and storage")
	perms, err := permission.FromConfig(cfg.Permissions.Camera, cfg.Permissions.Microphone, cfg.Permissions.PhotoLibrary)
	if err != nil {
		log.Fatalf("init permissions failed: %v", err)
	}
	temp, err := library.NewTempFiles(cfg.Capture.TempDir)
	if err != nil {
		log.Fatalf("init temp dir failed: %v", err)
	}
	dir, err := library.NewDir(cfg.Library.Dir)
	if err != nil {
		log.Fatalf("init library failed: %v", err)
	}
	debug.Value("Temp dir", temp.Dir())
	debug.Value("Library dir", dir.Root())
	results := result.NewCoordinator(result.Options{
		Delegate: library.LogDelegate{},
		Library:  library.NewGuarded(dir, perms),
		Remover:  temp,
		OnSaved: func(r result.CaptureResult, err error) {
			metrics.ObserveLibrarySave(r.Mode.String(), err)
			if err != nil {
				debug.Error(fmt.Errorf("save %s: %w", r.Mode, err))
			}
		},
	})

	debug.Step(2, "Initializing camera")
	session, err := newSessionFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.PrintStruct("Camera config", cfg.Camera)

	tracker := orientation.NewTracker(motion.NewStatic(motion.Upright), orientation.Options{
		Interval: cfg.OrientationInterval(),
	})

	debug.Step(3, "Creating capture controller")
	ctrl, err := capture.New(capture.Options{
		Session:     session,
		Results:     results,
		Paths:       temp,
		Permissions: perms,
		Orientation: tracker,
		Preview: capture.Preview{
			Width:  cfg.Camera.PreviewWidth,
			Height: cfg.Camera.PreviewHeight,
			Scale:  cfg.Camera.PreviewScale,
		},
		MaxRecordSeconds: cfg.Capture.MaxRecordSeconds,
		ZoomCeiling:      cfg.Capture.ZoomCeiling,
		ProgressRate:     cfg.Capture.ProgressRateHz,
	})
	if err != nil {
		log.Fatalf("init capture failed: %v", err)
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			log.Printf("closing capture failed: %v", err)
		}
		dir.Wait()
	}()
	if broadcaster != nil {
		ctrl.AddHooks(broadcaster.CaptureHooks())
	}

	startPos, _ := camera.ParsePosition(cfg.Camera.DefaultPosition)
	if err := ctrl.Configure(ctx, startPos); err != nil {
		// The controller stays up in a degraded state; the UI reports it.
		debug.Error(fmt.Errorf("configure %s camera: %w", startPos, err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tracker.Run(gctx) })

	if *demo {
		g.Go(func() error {
			defer cancel()
			return runDemo(gctx, ctrl, demoClipSeconds)
		})
		if err := g.Wait(); err != nil {
			log.Fatalf("demo failed: %v", err)
		}
		debug.Summary("Demo complete")
		return
	}

	var ran bool
	if cfg.PanelEnabled() {
		debug.Step(4, "Initializing control panel")
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		p, err := panel.New(gpioDriver, ctrl, panel.Config{
			ShutterPin:   cfg.Panel.ShutterPin,
			RecordPin:    cfg.Panel.RecordPin,
			TallyPin:     cfg.Panel.TallyPin,
			PollInterval: cfg.PanelPollInterval(),
		})
		if err != nil {
			log.Fatalf("init panel failed: %v", err)
		}
		debug.PrintStruct("Panel config", cfg.Panel)
		ctrl.AddHooks(capture.Hooks{OnState: p.OnState})
		g.Go(func() error { return p.Run(gctx) })
		ran = true
	}

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		ui := web.UIConfig{
			PreviewWidth:     cfg.Camera.PreviewWidth,
			PreviewHeight:    cfg.Camera.PreviewHeight,
			MaxRecordSeconds: cfg.Capture.MaxRecordSeconds,
			ZoomCeiling:      cfg.Capture.ZoomCeiling,
			Position:         cfg.Camera.DefaultPosition,
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.Web.RateLimitPerSec), cfg.Web.RateBurst)
		srv, err := web.NewServer(webAddr, web.NewHandlers(broadcaster, ctrl, ui, limiter, nil))
		if err != nil {
			log.Fatalf("init web server failed: %v", err)
		}
		g.Go(func() error { return srv.Run(gctx) })
		ran = true
	}

	if !ran {
		// Nothing to drive the controller: behave like -demo.
		g.Go(func() error {
			defer cancel()
			return runDemo(gctx, ctrl, demoClipSeconds)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("capgo: %v", err)
	}
}

// demoClipSeconds is the recording limit used by runDemo.
const demoClipSeconds = 2

// runDemo takes a photo and a clip of clipSeconds that stops on its own
// timer, committing each to the library.
func runDemo(ctx context.Context, ctrl *capture.Controller, clipSeconds int) error {
	debug.Section("Demo")

	debug.Step(1, "Taking photo")
	ch, err := ctrl.CapturePhoto()
	if err != nil {
		return fmt.Errorf("capture photo: %w", err)
	}
	if err := awaitResult(ctx, ch); err != nil {
		return fmt.Errorf("photo: %w", err)
	}
	if _, err := ctrl.Use(); err != nil {
		return fmt.Errorf("use photo: %w", err)
	}

	debug.Step(2, "Recording clip")
	ch, err = ctrl.StartRecording(clipSeconds)
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	if err := awaitResult(ctx, ch); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	if _, err := ctrl.Use(); err != nil {
		return fmt.Errorf("use video: %w", err)
	}
	return nil
}

func awaitResult(ctx context.Context, ch <-chan result.CaptureResult) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r, ok := <-ch:
		if !ok {
			return capture.ErrClosed
		}
		return r.Err
	}
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(maxRecordSeconds int, zoomCeiling float64, position string) error {
	if maxRecordSeconds != 0 {
		if maxRecordSeconds < 0 || maxRecordSeconds > web.MaxRecordSeconds {
			return fmt.Errorf("max_record_seconds must be between 1 and %d, got %d", web.MaxRecordSeconds, maxRecordSeconds)
		}
	}
	if zoomCeiling != 0 {
		if math.IsNaN(zoomCeiling) || math.IsInf(zoomCeiling, 0) || zoomCeiling < 1 {
			return fmt.Errorf("zoom_ceiling must be a finite value >= 1, got %g", zoomCeiling)
		}
	}
	if position != "" {
		if _, err := camera.ParsePosition(position); err != nil {
			return err
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.MaxRecordSeconds > 0 {
		cfg.Capture.MaxRecordSeconds = o.MaxRecordSeconds
	}
	if o.ZoomCeiling > 0 {
		cfg.Capture.ZoomCeiling = o.ZoomCeiling
	}
	if o.Position != "" {
		cfg.Camera.DefaultPosition = o.Position
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newSessionFromConfig selects a capture framework based on configuration.
func newSessionFromConfig(cfg *config.Config) (camera.Session, error) {
	switch cfg.Camera.Type {
	case "simulated":
		return camera.NewSimulated(camera.SimulatedOptions{
			MaxZoomFactor: cfg.Camera.MaxZoomFactor,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
