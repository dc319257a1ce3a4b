// Package permission models the platform authorization service for camera,
// microphone and photo-library access.
package permission

import (
	"context"
	"fmt"
	"sync"
)

// Status is an authorization answer.
type Status int

const (
	NotDetermined Status = iota
	Denied
	Authorized
	Restricted
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not_determined"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	case Restricted:
		return "restricted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus parses the config spelling of a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "not_determined":
		return NotDetermined, nil
	case "denied":
		return Denied, nil
	case "authorized":
		return Authorized, nil
	case "restricted":
		return Restricted, nil
	default:
		return NotDetermined, fmt.Errorf("unknown authorization status %q", s)
	}
}

// Media is a protected resource.
type Media int

const (
	Camera Media = iota
	Microphone
	PhotoLibrary
)

func (m Media) String() string {
	switch m {
	case Camera:
		return "camera"
	case Microphone:
		return "microphone"
	case PhotoLibrary:
		return "photo_library"
	default:
		return fmt.Sprintf("media(%d)", int(m))
	}
}

// Service answers and requests authorization.
type Service interface {
	Status(m Media) Status
	// Request prompts for access when the status is NotDetermined and
	// returns the resulting status.
	Request(ctx context.Context, m Media) (Status, error)
}

// Static is a Service with fixed answers. A NotDetermined entry resolves to
// its Grant value on the first Request.
type Static struct {
	mu       sync.Mutex
	status   map[Media]Status
	grant    map[Media]Status
	requests map[Media]int
}

// NewStatic returns a Service reporting the given statuses. Media missing
// from status are NotDetermined; a request on them is granted.
func NewStatic(status map[Media]Status) *Static {
	s := &Static{
		status:   make(map[Media]Status),
		grant:    make(map[Media]Status),
		requests: make(map[Media]int),
	}
	for m, st := range status {
		s.status[m] = st
	}
	return s
}

// Grant sets what a Request on m resolves to while m is NotDetermined.
func (s *Static) Grant(m Media, st Status) {
	s.mu.Lock()
	s.grant[m] = st
	s.mu.Unlock()
}

func (s *Static) Status(m Media) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[m]
}

func (s *Static) Request(ctx context.Context, m Media) (Status, error) {
	if err := ctx.Err(); err != nil {
		return NotDetermined, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[m]++
	if s.status[m] != NotDetermined {
		return s.status[m], nil
	}
	st, ok := s.grant[m]
	if !ok {
		st = Authorized
	}
	s.status[m] = st
	return st, nil
}

// Requests returns how many times m was requested.
func (s *Static) Requests(m Media) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[m]
}

// FromConfig builds a Static service from config spellings.
func FromConfig(camera, microphone, photoLibrary string) (*Static, error) {
	status := make(map[Media]Status, 3)
	for m, v := range map[Media]string{Camera: camera, Microphone: microphone, PhotoLibrary: photoLibrary} {
		st, err := ParseStatus(v)
		if err != nil {
			return nil, fmt.Errorf("permissions.%s: %w", m, err)
		}
		status[m] = st
	}
	return NewStatic(status), nil
}

// Ensure returns the status of m, requesting once if it is NotDetermined.
func Ensure(ctx context.Context, svc Service, m Media) (Status, error) {
	st := svc.Status(m)
	if st != NotDetermined {
		return st, nil
	}
	return svc.Request(ctx, m)
}
