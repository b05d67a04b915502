package recorder

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/motiontrap/camnode/internal/admission"
	"github.com/motiontrap/camnode/internal/camera"
	"github.com/motiontrap/camnode/internal/catalog"
	"github.com/motiontrap/camnode/internal/clock"
	"github.com/motiontrap/camnode/internal/logger"
	"github.com/motiontrap/camnode/internal/storage"
)

const (
	// queueDepth bounds the capture queue; a full queue sheds new requests
	queueDepth = 8
	// stopTimeout is how long StopRecording waits for the session to wind down
	stopTimeout = 5 * time.Second
)

// MediaStore resolves file names to paths in the media directories
type MediaStore interface {
	PhotoPath(name string) string
	VideoPath(name string) string
}

// Catalog persists metadata for captured media
type Catalog interface {
	SaveMedia(ctx context.Context, media catalog.Media) error
}

// Config holds the recorder settings derived from node configuration
type Config struct {
	Width           int
	Height          int
	FrameRate       int
	MaxDuration     time.Duration
	DefaultDuration time.Duration
	StagingBytes    int
}

// Service owns the capture pipeline: admission of claimed timestamps, the
// camera arbiter, the bounded capture queue with its worker, and recording
// sessions. It is the only component that talks to the frame source.
type Service struct {
	config  Config
	logger  *logger.Logger
	clock   *clock.Service
	gate    *admission.Gate
	arbiter *camera.Arbiter
	source  camera.FrameSource
	store   MediaStore
	catalog Catalog

	queue chan CaptureRequest

	mu      sync.Mutex
	session *Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the recorder service
func NewService(config Config, clk *clock.Service, gate *admission.Gate, source camera.FrameSource, store MediaStore, cat Catalog, log *logger.Logger) *Service {
	return &Service{
		config:  config,
		logger:  log,
		clock:   clk,
		gate:    gate,
		arbiter: camera.NewArbiter(),
		source:  source,
		store:   store,
		catalog: cat,
		queue:   make(chan CaptureRequest, queueDepth),
	}
}

// Name implements the managed service interface
func (s *Service) Name() string {
	return "recorder"
}

// Start launches the capture worker
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.runWorker(s.ctx)

	s.logger.Info("Recorder service started",
		"frame_rate", s.config.FrameRate,
		"max_duration", s.config.MaxDuration,
		"queue_depth", queueDepth,
	)
	return nil
}

// Stop ends any active recording and shuts down the worker
func (s *Service) Stop(ctx context.Context) error {
	if _, err := s.StopRecording(); err != nil && err != ErrNotRecording {
		s.logger.Warn("Failed to stop active recording during shutdown", "error", err)
	}

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Recorder service stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("recorder shutdown: %w", ctx.Err())
	}
}

// DeviceTimeMS returns the node's offset-corrected time in milliseconds
func (s *Service) DeviceTimeMS() uint64 {
	return s.clock.Now()
}

// ClockOffset returns the current clock correction in milliseconds
func (s *Service) ClockOffset() int64 {
	return s.clock.Offset()
}

// SetTime updates the clock reference from an externally asserted time
func (s *Service) SetTime(remoteTimeMS uint64) {
	s.clock.SetReference(remoteTimeMS)
	s.logger.Info("Reference time set",
		"remote_ms", remoteTimeMS,
		"offset_ms", s.clock.Offset(),
	)
}

// AdmitCapture checks a claimed timestamp against the admission window
func (s *Service) AdmitCapture(claimedTimeMS uint64) admission.Decision {
	return s.gate.Admit(claimedTimeMS)
}

// EnqueuePhoto queues a photo capture. It fails fast when a recording holds
// the camera; a pending photo capture only delays the new request, so the
// queue absorbs it. A full queue sheds the request instead of blocking.
func (s *Service) EnqueuePhoto(claimedTimeMS uint64) (string, error) {
	if s.arbiter.Current() == camera.OpRecording {
		return "", ErrAlreadyBusy
	}

	req := CaptureRequest{
		ID:            uuid.New().String(),
		Kind:          KindPhoto,
		ClaimedTimeMS: claimedTimeMS,
	}

	select {
	case s.queue <- req:
		s.logger.Debug("Photo request queued", "request_id", req.ID, "queued", len(s.queue))
		return req.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// EnqueueVideo queues a recording request from a trigger source. Unlike
// StartRecording it does not claim the camera immediately; the worker
// acquires it when the request is dequeued.
func (s *Service) EnqueueVideo(claimedTimeMS uint64, duration time.Duration) (string, error) {
	if s.arbiter.Current() == camera.OpRecording {
		return "", ErrAlreadyBusy
	}
	if duration == 0 {
		duration = s.config.DefaultDuration
	}

	req := CaptureRequest{
		ID:            uuid.New().String(),
		Kind:          KindVideo,
		ClaimedTimeMS: claimedTimeMS,
		Duration:      duration,
	}

	select {
	case s.queue <- req:
		s.logger.Debug("Video request queued", "request_id", req.ID, "queued", len(s.queue))
		return req.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// StartRecording claims the camera and starts a session synchronously, so the
// caller learns immediately whether the camera was free. A zero duration
// records until StopRecording is called or the frame index fills; positive
// durations are capped at the configured maximum.
func (s *Service) StartRecording(duration time.Duration, claimedTimeMS uint64) (string, error) {
	if duration < 0 {
		duration = 0
	}
	if duration > s.config.MaxDuration {
		duration = s.config.MaxDuration
	}

	if !s.arbiter.TryAcquire(camera.OpRecording) {
		return "", ErrAlreadyBusy
	}

	sess, err := s.newSessionFor(CaptureRequest{
		ID:            uuid.New().String(),
		Kind:          KindVideo,
		ClaimedTimeMS: claimedTimeMS,
		Duration:      duration,
	})
	if err != nil {
		s.arbiter.Release()
		return "", err
	}

	s.setSession(sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.run(s.ctx)
		s.completeSession(sess)
	}()

	return sess.ID(), nil
}

// StopRecording asks the active session to finish and waits for the final
// result. When the session does not wind down within the stop deadline the
// caller gets ErrStopTimeout while the session keeps finalizing on its own.
func (s *Service) StopRecording() (*SessionResult, error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		return nil, ErrNotRecording
	}

	sess.Stop()

	select {
	case <-sess.Done():
		result := sess.Result()
		return &result, nil
	case <-time.After(stopTimeout):
		return nil, ErrStopTimeout
	}
}

// GrabFrame captures a single frame for the live view, holding the camera
// only for the duration of the capture. A recording or photo in progress
// wins; the caller gets ErrAlreadyBusy and skips the frame.
func (s *Service) GrabFrame(ctx context.Context) ([]byte, error) {
	if !s.arbiter.TryAcquire(camera.OpPhoto) {
		return nil, ErrAlreadyBusy
	}
	defer s.arbiter.Release()

	frame, err := s.source.AcquireFrame(ctx)
	if err != nil {
		return nil, err
	}
	defer s.source.ReleaseFrame(frame)

	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	return data, nil
}

// IsRecording reports whether a recording session holds the camera
func (s *Service) IsRecording() bool {
	return s.arbiter.Current() == camera.OpRecording
}

// IsBusy reports whether any operation holds the camera
func (s *Service) IsBusy() bool {
	return s.arbiter.Busy()
}

// State returns the current camera operation name
func (s *Service) State() string {
	return s.arbiter.Current().String()
}

// QueueDepth returns the number of queued capture requests
func (s *Service) QueueDepth() int {
	return len(s.queue)
}

// newSessionFor builds a session for an admitted video request. The camera
// must already be held by the caller.
func (s *Service) newSessionFor(req CaptureRequest) (*Session, error) {
	name := storage.MediaName(req.ClaimedTimeMS, ".avi")
	maxFrames := int(s.config.MaxDuration.Seconds()) * s.config.FrameRate

	return newSession(req.ID, SessionConfig{
		FilePath:      s.store.VideoPath(name),
		Width:         s.config.Width,
		Height:        s.config.Height,
		FrameRate:     s.config.FrameRate,
		Duration:      req.Duration,
		MaxFrames:     maxFrames,
		StagingBytes:  s.config.StagingBytes,
		ClaimedTimeMS: req.ClaimedTimeMS,
	}, s.source, s.logger)
}

func (s *Service) setSession(sess *Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

// completeSession records the result, releases the camera, and only then
// signals completion so waiters observe a fully settled session.
func (s *Service) completeSession(sess *Session) {
	result := sess.Result()

	switch {
	case result.Err != nil:
		s.logger.Error("Recording session failed",
			"session_id", sess.ID(),
			"file", result.FilePath,
			"frames", result.FrameCount,
			"error", result.Err,
		)
	case result.FrameCount == 0:
		s.logger.Warn("Recording captured no frames",
			"session_id", sess.ID(),
			"file", result.FilePath,
		)
	default:
		s.logger.Info("Recording session finished",
			"session_id", sess.ID(),
			"file", result.FilePath,
			"frames", result.FrameCount,
			"duration", result.Duration,
			"size_bytes", result.SizeBytes,
		)
		s.saveVideoEntry(sess, result)
	}

	// An empty container holds nothing worth keeping or cataloging
	if result.FrameCount == 0 {
		if err := os.Remove(result.FilePath); err != nil {
			s.logger.Warn("Failed to remove empty recording",
				"file", result.FilePath,
				"error", err,
			)
		}
	}

	s.mu.Lock()
	if s.session == sess {
		s.session = nil
	}
	s.mu.Unlock()

	s.arbiter.Release()
	close(sess.done)
}

func (s *Service) saveVideoEntry(sess *Session, result SessionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.catalog.SaveMedia(ctx, catalog.Media{
		ID:            sess.ID(),
		Kind:          catalog.KindVideo,
		FileName:      storage.MediaName(sess.config.ClaimedTimeMS, ".avi"),
		Path:          result.FilePath,
		SizeBytes:     result.SizeBytes,
		FrameCount:    int(result.FrameCount),
		DurationMS:    uint64(result.Duration.Milliseconds()),
		ClaimedTimeMS: sess.config.ClaimedTimeMS,
	})
	if err != nil {
		s.logger.Error("Failed to catalog recording",
			"session_id", sess.ID(),
			"error", err,
		)
	}
}
