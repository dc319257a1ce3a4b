package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// CameraConfig describes the capture device framework and the live preview.
// Type selects a concrete implementation (e.g., "simulated").
type CameraConfig struct {
	Type            string  `yaml:"type"`             // e.g., "simulated"
	DefaultPosition string  `yaml:"default_position"` // "back" or "front"
	PreviewWidth    float64 `yaml:"preview_width"`    // preview bounds in points
	PreviewHeight   float64 `yaml:"preview_height"`
	PreviewScale    float64 `yaml:"preview_scale"`   // pixels per point for still crops
	MaxZoomFactor   float64 `yaml:"max_zoom_factor"` // simulated device capability
}

// CaptureConfig holds photo/video capture parameters.
type CaptureConfig struct {
	MaxRecordSeconds      int     `yaml:"max_record_seconds"`      // recording hard limit (default 15)
	ZoomCeiling           float64 `yaml:"zoom_ceiling"`            // zoom factor ceiling (default 10.0)
	ProgressRateHz        int     `yaml:"progress_rate_hz"`        // progress ticks per second (default 60)
	OrientationIntervalMs int     `yaml:"orientation_interval_ms"` // accelerometer sampling interval (default 450)
	TempDir               string  `yaml:"temp_dir"`                // in-progress recordings (default os.TempDir())
}

// LibraryConfig describes where committed photos and videos are saved.
type LibraryConfig struct {
	Dir string `yaml:"dir"`
}

// PermissionsConfig holds the answers of the authorization service.
type PermissionsConfig struct {
	Camera       string `yaml:"camera"`        // not_determined | denied | authorized | restricted
	Microphone   string `yaml:"microphone"`    // same values
	PhotoLibrary string `yaml:"photo_library"` // same values
}

// PanelConfig wires physical buttons and the recording tally LED.
// A pin value of 0 disables that control.
type PanelConfig struct {
	ShutterPin     int `yaml:"shutter_pin"`      // BCM pin, active LOW with pull-up
	RecordPin      int `yaml:"record_pin"`       // BCM pin, active LOW with pull-up
	TallyPin       int `yaml:"tally_pin"`        // BCM pin, HIGH while recording
	PollIntervalMs int `yaml:"poll_interval_ms"` // button polling period (default 20)
}

// WebConfig tunes the HTTP control surface.
type WebConfig struct {
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"` // capture requests per second (default 2)
	RateBurst       int     `yaml:"rate_burst"`         // burst size (default 4)
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Capture     CaptureConfig     `yaml:"capture"`
	Library     LibraryConfig     `yaml:"library"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Panel       PanelConfig       `yaml:"panel"`
	Web         WebConfig         `yaml:"web"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

var validStatuses = map[string]bool{
	"not_determined": true,
	"denied":         true,
	"authorized":     true,
	"restricted":     true,
}

// ValidateConfigPath checks that path names a .yaml file inside a
// directory called "configs" and does not climb out of it.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize validates cfg and fills in defaults.
func (c *Config) normalize() error {
	if c.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}

	switch c.Camera.DefaultPosition {
	case "":
		c.Camera.DefaultPosition = "back"
	case "back", "front":
	default:
		return fmt.Errorf("camera.default_position must be back or front, got %q", c.Camera.DefaultPosition)
	}
	if c.Camera.PreviewWidth < 0 || c.Camera.PreviewHeight < 0 {
		return fmt.Errorf("camera preview size must be >= 0")
	}
	if c.Camera.PreviewWidth == 0 {
		c.Camera.PreviewWidth = 375
	}
	if c.Camera.PreviewHeight == 0 {
		c.Camera.PreviewHeight = 667
	}
	if c.Camera.PreviewScale <= 0 {
		c.Camera.PreviewScale = 2
	}
	if c.Camera.MaxZoomFactor <= 0 {
		c.Camera.MaxZoomFactor = 16
	}

	if c.Capture.MaxRecordSeconds < 0 {
		return fmt.Errorf("capture.max_record_seconds must be >= 0, got %d", c.Capture.MaxRecordSeconds)
	}
	if c.Capture.MaxRecordSeconds == 0 {
		c.Capture.MaxRecordSeconds = 15
	}
	if math.IsNaN(c.Capture.ZoomCeiling) || c.Capture.ZoomCeiling < 0 {
		return fmt.Errorf("capture.zoom_ceiling must be >= 1, got %g", c.Capture.ZoomCeiling)
	}
	if c.Capture.ZoomCeiling == 0 {
		c.Capture.ZoomCeiling = 10
	}
	if c.Capture.ZoomCeiling < 1 {
		return fmt.Errorf("capture.zoom_ceiling must be >= 1, got %g", c.Capture.ZoomCeiling)
	}
	if c.Capture.ProgressRateHz <= 0 {
		c.Capture.ProgressRateHz = 60
	}
	if c.Capture.OrientationIntervalMs <= 0 {
		c.Capture.OrientationIntervalMs = 450
	}
	if c.Capture.TempDir == "" {
		c.Capture.TempDir = os.TempDir()
	}

	if c.Library.Dir == "" {
		c.Library.Dir = "library"
	}

	for name, v := range map[string]*string{
		"camera":        &c.Permissions.Camera,
		"microphone":    &c.Permissions.Microphone,
		"photo_library": &c.Permissions.PhotoLibrary,
	} {
		if *v == "" {
			*v = "authorized"
		}
		if !validStatuses[*v] {
			return fmt.Errorf("permissions.%s: unknown status %q", name, *v)
		}
	}

	if c.Panel.ShutterPin < 0 || c.Panel.RecordPin < 0 || c.Panel.TallyPin < 0 {
		return fmt.Errorf("panel pins must be >= 0")
	}
	if c.Panel.PollIntervalMs <= 0 {
		c.Panel.PollIntervalMs = 20
	}

	if c.Web.RateLimitPerSec <= 0 {
		c.Web.RateLimitPerSec = 2
	}
	if c.Web.RateBurst <= 0 {
		c.Web.RateBurst = 4
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// MaxRecordDuration returns the recording hard limit.
func (c *Config) MaxRecordDuration() time.Duration {
	return time.Duration(c.Capture.MaxRecordSeconds) * time.Second
}

// OrientationInterval returns the accelerometer sampling interval.
func (c *Config) OrientationInterval() time.Duration {
	return time.Duration(c.Capture.OrientationIntervalMs) * time.Millisecond
}

// PanelPollInterval returns the button polling period.
func (c *Config) PanelPollInterval() time.Duration {
	return time.Duration(c.Panel.PollIntervalMs) * time.Millisecond
}

// PanelEnabled reports whether any physical control is wired.
func (c *Config) PanelEnabled() bool {
	return c.Panel.ShutterPin > 0 || c.Panel.RecordPin > 0 || c.Panel.TallyPin > 0
}
