package clock

import (
	"sync/atomic"
	"time"
)

// Service tracks the signed offset between the node's local monotonic clock
// and an externally asserted reference time. The offset starts at zero on
// every process start and is never persisted.
type Service struct {
	start  time.Time
	offset atomic.Int64 // milliseconds, reference - local
}

// New creates a clock service anchored at the current monotonic reading
func New() *Service {
	return &Service{start: time.Now()}
}

// localMS returns milliseconds elapsed on the local monotonic clock
func (s *Service) localMS() int64 {
	return time.Since(s.start).Milliseconds()
}

// SetReference records the offset so that Now() tracks the remote time.
// A plain atomic store is enough: stale reads during a concurrent update are
// absorbed by the admission window tolerance.
func (s *Service) SetReference(remoteTimeMS uint64) {
	s.offset.Store(int64(remoteTimeMS) - s.localMS())
}

// Now returns the offset-corrected current time in milliseconds
func (s *Service) Now() uint64 {
	corrected := s.localMS() + s.offset.Load()
	if corrected < 0 {
		return 0
	}
	return uint64(corrected)
}

// Offset returns the current offset in milliseconds
func (s *Service) Offset() int64 {
	return s.offset.Load()
}
