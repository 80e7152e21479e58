// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock is safe for concurrent use. It records calls so that tests can
// assert on them, and exposes exported fields to control return values.
//
// Typical usage:
//
//	src := mock.NewSource(16)
//	src.Send(audio.Frame{Speaker: "111", Data: pkt, CapturedAt: t0})
//	src.End()
//	err := capture(ctx, src)
package mock

import (
	"sync"

	"github.com/MrWong99/podbot/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Source is a mock implementation of [audio.Source]. Frames passed to
// [Source.Send] are delivered in order on [Source.Frames].
type Source struct {
	mu sync.Mutex

	frames chan audio.Frame
	ended  bool

	// CloseError is returned by [Source.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewSource returns a Source whose frame channel holds buffer frames.
func NewSource(buffer int) *Source {
	return &Source{frames: make(chan audio.Frame, buffer)}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame {
	return s.frames
}

// Send delivers f to consumers. It blocks when the buffer is full and is a
// no-op after [Source.End] or [Source.Close]. Send must not run
// concurrently with End.
func (s *Source) Send(frames ...audio.Frame) {
	for _, f := range frames {
		s.mu.Lock()
		ended := s.ended
		s.mu.Unlock()
		if ended {
			return
		}
		s.frames <- f
	}
}

// End closes the frame channel, simulating the remote side hanging up.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
}

// Close implements [audio.Source]. It ends the stream and returns CloseError.
func (s *Source) Close() error {
	s.End()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// Closed reports whether Close was called at least once.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}
