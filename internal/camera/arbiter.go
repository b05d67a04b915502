package camera

import (
	"sync/atomic"
)

// Operation identifies what the camera is currently doing
type Operation int32

const (
	// OpIdle means the camera is free
	OpIdle Operation = iota
	// OpPhoto means a single photo capture is in progress
	OpPhoto
	// OpRecording means a video recording session is active
	OpRecording
)

// String returns a human readable operation name
func (o Operation) String() string {
	switch o {
	case OpIdle:
		return "idle"
	case OpPhoto:
		return "photo"
	case OpRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Arbiter is the single owner of the physical camera. At most one non-idle
// operation exists at a time; acquisition is a single compare-and-swap so
// concurrent start requests cannot both observe an idle camera.
type Arbiter struct {
	state atomic.Int32
}

// NewArbiter creates an idle arbiter
func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// TryAcquire attempts to claim the camera for the given operation. It returns
// false without blocking when the camera is busy; requests are never queued
// or allowed to preempt the current holder.
func (a *Arbiter) TryAcquire(op Operation) bool {
	if op == OpIdle {
		return false
	}
	return a.state.CompareAndSwap(int32(OpIdle), int32(op))
}

// Release returns the camera to idle. Callers must release exactly once per
// successful acquisition, on every exit path.
func (a *Arbiter) Release() {
	a.state.Store(int32(OpIdle))
}

// Current returns the operation currently holding the camera
func (a *Arbiter) Current() Operation {
	return Operation(a.state.Load())
}

// Busy reports whether any operation holds the camera
func (a *Arbiter) Busy() bool {
	return a.Current() != OpIdle
}
