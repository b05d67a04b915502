package camera

import (
	"context"
	"errors"
	"time"
)

// ErrFrameUnavailable is returned when the capture device produced no frame
// after the retry budget was spent
var ErrFrameUnavailable = errors.New("frame unavailable")

const (
	// frameRetries is how many times a single acquisition is attempted
	frameRetries = 3
	// frameRetryBackoff is the pause between attempts
	frameRetryBackoff = 100 * time.Millisecond
)

// Frame is one JPEG-encoded frame from the capture device
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

// FrameSource produces JPEG frames on demand. Implementations may fail
// transiently; callers acquire through AcquireWithRetry.
type FrameSource interface {
	AcquireFrame(ctx context.Context) (*Frame, error)
	ReleaseFrame(frame *Frame)
}

// AcquireWithRetry attempts up to three acquisitions with a short fixed
// backoff before reporting ErrFrameUnavailable. Context cancellation aborts
// the remaining attempts.
func AcquireWithRetry(ctx context.Context, src FrameSource) (*Frame, error) {
	var lastErr error
	for attempt := 0; attempt < frameRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(frameRetryBackoff):
			}
		}

		frame, err := src.AcquireFrame(ctx)
		if err == nil {
			return frame, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if lastErr != nil {
		return nil, errors.Join(ErrFrameUnavailable, lastErr)
	}
	return nil, ErrFrameUnavailable
}
