// Package result holds the in-flight capture artifact until the user
// commits ("use") or discards ("give up") it.
package result

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/CapGo/internal/debug"
)

// ErrNoPendingResult is returned by Commit when nothing is held.
var ErrNoPendingResult = errors.New("result: no pending result")

// Mode is the kind of capture that produced an artifact.
type Mode int

const (
	Photo Mode = iota
	Video
)

func (m Mode) String() string {
	switch m {
	case Photo:
		return "photo"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// CaptureResult is either photo bytes or a video file path, plus the error
// reported by the output that produced it.
type CaptureResult struct {
	Mode      Mode
	Photo     []byte
	VideoPath string
	Err       error
	At        time.Time
}

// NewPhoto wraps a finished still.
func NewPhoto(data []byte, err error) CaptureResult {
	return CaptureResult{Mode: Photo, Photo: data, Err: err, At: time.Now()}
}

// NewVideo wraps a finished movie file.
func NewVideo(path string, err error) CaptureResult {
	return CaptureResult{Mode: Video, VideoPath: path, Err: err, At: time.Now()}
}

// Delegate is the consumer of committed captures. Exactly one method is
// called once per committed capture.
type Delegate interface {
	PhotoFinished(data []byte, err error)
	VideoFinished(path string, err error)
}

// Library persists committed artifacts. done is called asynchronously.
type Library interface {
	SavePhoto(data []byte, done func(error))
	SaveVideo(path string, done func(error))
}

// Remover deletes backing files of discarded videos.
type Remover interface {
	Remove(path string) error
}

// Options wires a Coordinator to its collaborators. Library and Remover
// may be nil.
type Options struct {
	Delegate Delegate
	Library  Library
	Remover  Remover
	// OnSaved reports the library outcome of a committed result.
	OnSaved func(r CaptureResult, err error)
	Logger  *zerolog.Logger
}

// Coordinator owns at most one CaptureResult.
type Coordinator struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	pending *CaptureResult
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{opts: opts}
	if opts.Logger != nil {
		c.log = *opts.Logger
	} else {
		c.log = debug.Component("result")
	}
	return c
}

// Hold stores r as the pending result. A result already pending is
// discarded first; Hold reports whether that happened.
func (c *Coordinator) Hold(r CaptureResult) bool {
	c.mu.Lock()
	prev := c.pending
	c.pending = &r
	c.mu.Unlock()

	if prev != nil {
		c.release(*prev)
		return true
	}
	return false
}

// Pending returns a copy of the pending result.
func (c *Coordinator) Pending() (CaptureResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return CaptureResult{}, false
	}
	return *c.pending, true
}

// Commit hands the pending result to the delegate, then to the library
// unless it carries an error, and clears it.
func (c *Coordinator) Commit() (CaptureResult, error) {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	if p == nil {
		return CaptureResult{}, ErrNoPendingResult
	}
	r := *p

	switch r.Mode {
	case Photo:
		if c.opts.Delegate != nil {
			c.opts.Delegate.PhotoFinished(r.Photo, r.Err)
		}
	case Video:
		if c.opts.Delegate != nil {
			c.opts.Delegate.VideoFinished(r.VideoPath, r.Err)
		}
	}
	c.log.Info().Stringer("mode", r.Mode).AnErr("capture_err", r.Err).Msg("result committed")

	if r.Err != nil || c.opts.Library == nil {
		return r, nil
	}
	done := func(err error) {
		if err != nil {
			c.log.Error().Err(err).Stringer("mode", r.Mode).Msg("library save failed")
		}
		if c.opts.OnSaved != nil {
			c.opts.OnSaved(r, err)
		}
	}
	switch r.Mode {
	case Photo:
		c.opts.Library.SavePhoto(r.Photo, done)
	case Video:
		c.opts.Library.SaveVideo(r.VideoPath, done)
	}
	return r, nil
}

// Discard drops the pending result, removing a video's backing file.
// It is a no-op when nothing is pending and reports whether a result was dropped.
func (c *Coordinator) Discard() bool {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	if p == nil {
		return false
	}
	c.release(*p)
	return true
}

// Drop releases r without holding it, removing a video's backing file.
// It is used for artifacts that arrive after their capture was abandoned.
func (c *Coordinator) Drop(r CaptureResult) {
	c.release(r)
}

func (c *Coordinator) release(r CaptureResult) {
	c.log.Debug().Stringer("mode", r.Mode).Msg("result discarded")
	if r.Mode != Video || r.VideoPath == "" || c.opts.Remover == nil {
		return
	}
	if err := c.opts.Remover.Remove(r.VideoPath); err != nil {
		c.log.Warn().Err(err).Str("path", r.VideoPath).Msg("remove discarded video")
	}
}
