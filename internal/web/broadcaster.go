package web

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/CapGo/internal/logic/capture"
	"github.com/cjeanneret/CapGo/internal/logic/result"
)

// Event kinds carried on the status stream.
const (
	KindLog      = "log"
	KindState    = "state"
	KindProgress = "progress"
	KindResult   = "result"
	KindDegraded = "degraded"
)

// ProgressInterval throttles recording progress on the status stream.
const ProgressInterval = 250 * time.Millisecond

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Kind  string `json:"k,omitempty"`
	Msg   string `json:"msg"`
	Data  any    `json:"data,omitempty"`
}

// ProgressData is the payload of a progress event.
type ProgressData struct {
	ElapsedFraction float64 `json:"elapsed_fraction"`
	Remaining       int     `json:"remaining"`
}

// StateData is the payload of a state event.
type StateData struct {
	From capture.State `json:"from"`
	To   capture.State `json:"to"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish sends evt to all subscribed clients as JSON.
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	if evt.Time == "" {
		evt.Time = time.Now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a log message: {"t":"...","l":"info","msg":"..."}.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// CaptureHooks forwards controller state changes, throttled recording
// progress and finished results to the stream.
func (b *StatusBroadcaster) CaptureHooks() capture.Hooks {
	progress := &rate.Sometimes{Interval: ProgressInterval}
	sendProgress := func(frac float64, remaining int) {
		b.Publish(StatusEvent{
			Level: "info",
			Kind:  KindProgress,
			Msg:   fmt.Sprintf("recording %.0f%%", frac*100),
			Data:  ProgressData{ElapsedFraction: frac, Remaining: remaining},
		})
	}
	return capture.Hooks{
		OnState: func(from, to capture.State) {
			b.Publish(StatusEvent{
				Level: "info",
				Kind:  KindState,
				Msg:   fmt.Sprintf("%s -> %s", from, to),
				Data:  StateData{From: from, To: to},
			})
		},
		OnProgress: func(frac float64, remaining int) {
			if remaining == 0 {
				sendProgress(frac, remaining)
				return
			}
			progress.Do(func() { sendProgress(frac, remaining) })
		},
		OnResult: func(r result.CaptureResult) {
			evt := StatusEvent{Level: "info", Kind: KindResult, Msg: r.Mode.String() + " ready", Data: newResultResponse(r)}
			if r.Err != nil {
				evt.Level = "error"
				evt.Msg = r.Mode.String() + " failed: " + r.Err.Error()
			}
			b.Publish(evt)
		},
		OnDegraded: func(err error) {
			b.Publish(StatusEvent{Level: "error", Kind: KindDegraded, Msg: "capture disabled: " + err.Error()})
		},
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.Publish(StatusEvent{Level: "info", Kind: KindLog, Msg: msg})
	}
	return len(p), nil
}
