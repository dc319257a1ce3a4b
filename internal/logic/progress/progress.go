// Package progress implements the fixed-rate countdown that bounds a
// recording and reports its progress.
package progress

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRate is the tick rate in ticks per second.
const DefaultRate = 60

// ErrInvalidDuration is returned for a non-positive duration.
var ErrInvalidDuration = errors.New("progress: duration must be positive")

// Options configures a Timer. Callbacks run on the timer goroutine.
type Options struct {
	Rate     int                                          // ticks per second (default DefaultRate)
	OnTick   func(elapsedFraction float64, remaining int) // after every tick
	OnFinish func()                                       // once, after the last tick
}

// Timer counts down seconds*Rate ticks. Tick i is scheduled at
// start + i/Rate seconds, so slow callbacks delay a tick but never shift
// the ones after it.
type Timer struct {
	total    int
	rate     int
	onTick   func(float64, int)
	onFinish func()

	remaining atomic.Int64
	canceled  atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Start begins a countdown of seconds at opts.Rate.
func Start(seconds int, opts Options) (*Timer, error) {
	if seconds <= 0 {
		return nil, ErrInvalidDuration
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	t := &Timer{
		total:    seconds * opts.Rate,
		rate:     opts.Rate,
		onTick:   opts.OnTick,
		onFinish: opts.OnFinish,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.remaining.Store(int64(t.total))
	go t.run(time.Now())
	return t, nil
}

func (t *Timer) run(start time.Time) {
	defer close(t.done)
	for i := 1; i <= t.total; i++ {
		deadline := start.Add(time.Duration(i) * time.Second / time.Duration(t.rate))
		wait := time.NewTimer(time.Until(deadline))
		select {
		case <-t.stop:
			wait.Stop()
			return
		case <-wait.C:
		}
		if t.canceled.Load() {
			return
		}
		remaining := t.total - i
		t.remaining.Store(int64(remaining))
		if t.onTick != nil {
			t.onTick(float64(t.total-remaining)/float64(t.total), remaining)
		}
	}
	if t.canceled.Load() {
		return
	}
	if t.onFinish != nil {
		t.onFinish()
	}
}

// Cancel stops future ticks. It is idempotent and safe to call from a
// callback. A callback already running may still complete.
func (t *Timer) Cancel() {
	t.canceled.Store(true)
	t.stopOnce.Do(func() { close(t.stop) })
}

// Done is closed when the timer goroutine exits.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

// Total returns the number of ticks in the countdown.
func (t *Timer) Total() int {
	return t.total
}

// Remaining returns the ticks left.
func (t *Timer) Remaining() int {
	return int(t.remaining.Load())
}

// Elapsed returns the fraction of the countdown already ticked.
func (t *Timer) Elapsed() float64 {
	return float64(t.total-t.Remaining()) / float64(t.total)
}

// RemainingDuration converts the ticks left into time.
func (t *Timer) RemainingDuration() time.Duration {
	return time.Duration(t.Remaining()) * time.Second / time.Duration(t.rate)
}
