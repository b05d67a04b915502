package recorder

import "time"

// CaptureKind distinguishes photo and video capture requests
type CaptureKind int

const (
	// KindPhoto requests a single still
	KindPhoto CaptureKind = iota
	// KindVideo requests a recording session
	KindVideo
)

// String returns a human readable kind name
func (k CaptureKind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// CaptureRequest is one admitted capture job. It is created by the admission
// path, immutable afterwards, and consumed exactly once by the worker.
type CaptureRequest struct {
	ID            string
	Kind          CaptureKind
	ClaimedTimeMS uint64
	// Duration applies to video requests; 0 means unbounded
	Duration time.Duration
}
