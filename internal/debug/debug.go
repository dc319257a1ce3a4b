package debug

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (configuration, captures committed)
	LevelLive    = 2 // Live info (state transitions, photos taken, recordings)
	LevelVerbose = 3 // Verbose (zoom, focus tiers, orientation samples)
	LevelTrace   = 4 // Trace (GPIO, device callbacks, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *zerolog.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (configuration, committed captures)
// 2 = live info (state transitions, shots, recordings)
// 3 = verbose (zoom factors, focus/exposure tiers, orientation)
// 4 = trace (GPIO, device framework callbacks)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects all debug output (facade and component loggers
// created afterwards) to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// rebuild recreates the base logger. Callers hold mu.
func rebuild() {
	if level <= LevelOff {
		logger = nil
		return
	}
	cw := zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: "15:04:05.000000"}
	l := zerolog.New(cw).Level(zerologLevel(level)).With().Timestamp().Str("service", "capgo").Logger()
	logger = &l
}

func zerologLevel(l int) zerolog.Level {
	switch {
	case l >= LevelTrace:
		return zerolog.TraceLevel
	case l >= LevelVerbose:
		return zerolog.DebugLevel
	case l >= LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.Disabled
	}
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Component returns a structured logger tagged with component=name.
// It is disabled when debug output is off.
func Component(name string) zerolog.Logger {
	l := current()
	if l == nil {
		return zerolog.Nop()
	}
	return l.With().Str("component", name).Logger()
}

func emit(minLevel int, tag string, msg string) {
	if Level() < minLevel {
		return
	}
	l := current()
	if l == nil {
		return
	}
	var ev *zerolog.Event
	switch minLevel {
	case LevelTrace:
		ev = l.Trace()
	case LevelVerbose:
		ev = l.Debug()
	default:
		ev = l.Info()
	}
	ev.Str("tag", tag).Msg(msg)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	emit(LevelInfo, "INFO", fmt.Sprintf(format, args...))
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	bar := strings.Repeat("═", 39)
	emit(LevelInfo, "INFO", bar)
	emit(LevelInfo, "INFO", "  "+title)
	emit(LevelInfo, "INFO", bar)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	emit(LevelInfo, "INFO", fmt.Sprintf("  %s = %v", name, value))
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	emit(LevelLive, "LIVE", fmt.Sprintf(format, args...))
}

// Transition prints a capture state change (level 2).
func Transition(event, from, to string) {
	emit(LevelLive, "LIVE", fmt.Sprintf("State %s -> %s (%s)", from, to, event))
}

// Shot prints a committed or discarded artifact (level 2).
func Shot(kind, action string, elapsed time.Duration) {
	emit(LevelLive, "LIVE", fmt.Sprintf("%s %s after %s", kind, action, elapsed.Round(time.Millisecond)))
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	emit(LevelVerbose, "VERBOSE", fmt.Sprintf(format, args...))
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	emit(LevelVerbose, "VERBOSE", fmt.Sprintf("%s: %+v", name, v))
}

// Section prints a section separator (level 3).
func Section(name string) {
	bar := strings.Repeat("━", 40)
	emit(LevelVerbose, "VERBOSE", bar)
	emit(LevelVerbose, "VERBOSE", "  "+name)
	emit(LevelVerbose, "VERBOSE", bar)
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, "VERBOSE", fmt.Sprintf("Step %d: %s", num, description))
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	emit(LevelTrace, "TRACE", fmt.Sprintf(format, args...))
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	emit(LevelTrace, "GPIO", fmt.Sprintf("%s pin=%d value=%v", operation, pin, value))
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if err == nil || Level() < LevelInfo {
		return
	}
	if l := current(); l != nil {
		l.Error().Err(err).Str("tag", "ERROR").Send()
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
