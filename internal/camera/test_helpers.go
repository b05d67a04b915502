package camera

import (
	"context"
	"errors"
	"sync"
	"time"
)

// StubSource is a deterministic in-memory frame source for tests. It serves
// a fixed JPEG payload and can be programmed to fail a number of leading
// acquisitions or to block to simulate a slow device.
type StubSource struct {
	mu           sync.Mutex
	Width        int
	Height       int
	Payload      []byte
	FailuresLeft int
	Delay        time.Duration
	acquired     int
	released     int
}

// MinimalJPEG is a syntactically valid stand-in frame (SOI + payload + EOI)
var MinimalJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x04, 0xAA, 0xBB, 0xFF, 0xD9}

// NewStubSource creates a stub source serving the minimal JPEG payload
func NewStubSource() *StubSource {
	return &StubSource{Width: 640, Height: 480, Payload: MinimalJPEG}
}

// AcquireFrame returns the programmed payload or a transient failure
func (s *StubSource) AcquireFrame(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailuresLeft > 0 {
		s.FailuresLeft--
		return nil, errors.New("stub capture failure")
	}

	s.acquired++
	data := make([]byte, len(s.Payload))
	copy(data, s.Payload)
	return &Frame{Data: data, Width: s.Width, Height: s.Height}, nil
}

// ReleaseFrame counts releases for leak checking
func (s *StubSource) ReleaseFrame(frame *Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

// Acquired returns how many frames were successfully acquired
func (s *StubSource) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Released returns how many frames were released
func (s *StubSource) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// SetFailures programs the next n acquisitions to fail
func (s *StubSource) SetFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailuresLeft = n
}

// SetDelay makes every acquisition block for d before returning
func (s *StubSource) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Delay = d
}
