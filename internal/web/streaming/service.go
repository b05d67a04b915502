// Package streaming serves the live MJPEG view: a pump goroutine grabs
// frames whenever the camera is free and feeds them to the connected viewer.
package streaming

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/motiontrap/camnode/internal/logger"
)

// ErrStreamActive is returned when a viewer is already connected. The
// per-frame capture device cannot fan out to multiple viewers cheaply, so
// the live view serves one client at a time.
var ErrStreamActive = errors.New("live stream already active")

// defaultFrameInterval paces the live view at roughly 10 fps
const defaultFrameInterval = 100 * time.Millisecond

// FrameGrabber produces one JPEG frame when the camera is free
type FrameGrabber interface {
	GrabFrame(ctx context.Context) ([]byte, error)
}

// Service owns the single live MJPEG stream
type Service struct {
	logger   *logger.Logger
	grabber  FrameGrabber
	interval time.Duration
	active   atomic.Bool
}

// NewService creates the streaming service
func NewService(grabber FrameGrabber, log *logger.Logger) *Service {
	return &Service{
		logger:   log,
		grabber:  grabber,
		interval: defaultFrameInterval,
	}
}

// Stream is one viewer's frame feed
type Stream struct {
	frames  chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Frames delivers JPEG frames. The channel is closed when the stream ends.
func (s *Stream) Frames() <-chan []byte {
	return s.frames
}

// Open starts the frame pump for one viewer
func (s *Service) Open() (*Stream, error) {
	if !s.active.CompareAndSwap(false, true) {
		return nil, ErrStreamActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream := &Stream{
		frames:  make(chan []byte, 4),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	go s.pump(stream)

	s.logger.Info("Live stream opened")
	return stream, nil
}

// Close stops the viewer's pump and frees the stream slot. The slot is
// released only after the pump has fully stopped, so a reconnecting viewer
// never races an in-flight frame grab.
func (s *Service) Close(stream *Stream) {
	stream.cancel()
	<-stream.stopped
	s.active.Store(false)

	s.logger.Info("Live stream closed")
}

// pump grabs frames on a fixed cadence. Grab failures, including the camera
// being held by a capture, skip the frame; the viewer sees the stream pause
// until the camera is free again.
func (s *Service) pump(stream *Stream) {
	defer close(stream.stopped)
	defer close(stream.frames)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stream.ctx.Done():
			return
		case <-ticker.C:
			frame, err := s.grabber.GrabFrame(stream.ctx)
			if err != nil {
				s.logger.Debug("Live frame skipped", "error", err)
				continue
			}

			select {
			case stream.frames <- frame:
			default:
				// Slow viewer; drop the frame
			}
		}
	}
}
