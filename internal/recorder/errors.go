package recorder

import "errors"

// Expected, user-visible outcomes. These are returned to callers and never
// logged as errors or retried internally.
var (
	// ErrAlreadyBusy means the camera is held by another operation
	ErrAlreadyBusy = errors.New("camera busy")
	// ErrQueueFull signals backpressure on the capture queue
	ErrQueueFull = errors.New("capture queue full")
	// ErrTimeWindowRejected means the claimed timestamp failed admission
	ErrTimeWindowRejected = errors.New("capture request outside admission window")
	// ErrNotRecording means stop was called with no active session
	ErrNotRecording = errors.New("no recording in progress")
)

// Failures surfaced to whoever initiated an operation
var (
	// ErrAllocation means session resources could not be set up
	ErrAllocation = errors.New("failed to allocate session resources")
	// ErrStorageWrite wraps file I/O failures during a session
	ErrStorageWrite = errors.New("storage write failure")
	// ErrStopTimeout means the recording loop did not finish within the
	// stop deadline; the session keeps winding down on its own
	ErrStopTimeout = errors.New("recording did not finish in time")
)
