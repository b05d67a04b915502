package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/motiontrap/camnode/internal/avi"
	"github.com/motiontrap/camnode/internal/camera"
	"github.com/motiontrap/camnode/internal/logger"
)

// SessionConfig describes one recording session
type SessionConfig struct {
	FilePath      string
	Width         int
	Height        int
	FrameRate     int
	Duration      time.Duration // 0 = unbounded, stopped explicitly
	MaxFrames     int
	StagingBytes  int
	ClaimedTimeMS uint64
}

// SessionResult is what a finished session reports back
type SessionResult struct {
	FilePath   string
	FrameCount uint32
	Duration   time.Duration
	SizeBytes  int64
	Err        error
}

// Session runs one recording: a paced loop pulling frames from the source
// into the AVI writer until the duration elapses or a stop is requested.
// The stop flag is the only state shared across the cancellation boundary;
// everything else is owned by the session goroutine.
type Session struct {
	id        string
	config    SessionConfig
	logger    *logger.Logger
	source    camera.FrameSource
	file      *os.File
	writer    *avi.Writer
	startTime time.Time
	stopFlag  atomic.Bool
	done      chan struct{}
	result    SessionResult
}

// newSession allocates the session resources: the output file, the staging
// buffer, and the bounded frame index. Any failure here is an allocation
// failure and the session never starts.
func newSession(id string, config SessionConfig, source camera.FrameSource, log *logger.Logger) (*Session, error) {
	file, err := os.Create(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrAllocation, config.FilePath, err)
	}

	writer, err := avi.NewWriter(file, avi.WriterConfig{
		Width:        config.Width,
		Height:       config.Height,
		FrameRate:    config.FrameRate,
		MaxFrames:    config.MaxFrames,
		StagingBytes: config.StagingBytes,
	})
	if err != nil {
		file.Close()
		os.Remove(config.FilePath)
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	return &Session{
		id:        id,
		config:    config,
		logger:    log,
		source:    source,
		file:      file,
		writer:    writer,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}, nil
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Stop requests the recording loop to finish. The loop observes the flag at
// the top of each iteration, so the latency is bounded by one frame interval.
func (s *Session) Stop() {
	s.stopFlag.Store(true)
}

// Done is closed once the session is fully finished: file finalized, arbiter
// released, catalog updated
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result is valid once Done is closed
func (s *Session) Result() SessionResult {
	return s.result
}

// maxConsecutiveMisses is how many retry-exhausted ticks in a row a session
// tolerates. The budget is restored only by a captured frame, so a source
// that stays down ends the session instead of producing an empty file.
const maxConsecutiveMisses = 3

// run executes the recording loop and finalizes the file. It does not close
// the done channel; the owner does that after releasing shared resources.
func (s *Session) run(ctx context.Context) {
	interval := time.Second / time.Duration(s.config.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Recording session started",
		"session_id", s.id,
		"file", s.config.FilePath,
		"duration", s.config.Duration,
		"frame_rate", s.config.FrameRate,
	)

	var sessionErr error
	misses := 0

loop:
	for {
		if s.stopFlag.Load() || ctx.Err() != nil {
			break
		}
		if s.config.Duration > 0 && time.Since(s.startTime) >= s.config.Duration {
			break
		}

		frame, err := camera.AcquireWithRetry(ctx, s.source)
		switch {
		case err == nil:
			misses = 0
			werr := s.writer.WriteFrame(frame.Data)
			s.source.ReleaseFrame(frame)
			if werr != nil {
				switch {
				case errors.Is(werr, avi.ErrIndexFull):
					// Session frame capacity reached; a normal end,
					// relevant for unbounded recordings.
					s.logger.Info("Recording reached frame capacity",
						"session_id", s.id,
						"frames", s.writer.FrameCount(),
					)
				case errors.Is(werr, avi.ErrBufferOverflow):
					sessionErr = werr
				default:
					sessionErr = errors.Join(ErrStorageWrite, werr)
				}
				break loop
			}
		case ctx.Err() != nil:
			break loop
		default:
			misses++
			if misses >= maxConsecutiveMisses {
				s.logger.Error("Frame source stayed unavailable, ending session",
					"session_id", s.id,
					"consecutive_misses", misses,
					"error", err,
				)
				sessionErr = err
				break loop
			}
			// Soft failure: skip this tick and keep the session alive
			s.logger.Warn("Frame unavailable, skipping tick",
				"session_id", s.id,
				"consecutive_misses", misses,
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	s.finalize(sessionErr)
}

// finalize flushes and patches the container, closes the file, and records
// the result. On finalization failure the file is left in place so already
// captured frames survive.
func (s *Session) finalize(runErr error) {
	if err := s.writer.Finalize(); err != nil {
		s.logger.Error("Failed to finalize recording",
			"session_id", s.id,
			"file", s.config.FilePath,
			"error", err,
		)
		if runErr == nil {
			runErr = errors.Join(ErrStorageWrite, err)
		}
	}

	if err := s.file.Sync(); err != nil && runErr == nil {
		runErr = errors.Join(ErrStorageWrite, err)
	}
	if err := s.file.Close(); err != nil && runErr == nil {
		runErr = errors.Join(ErrStorageWrite, err)
	}

	var sizeBytes int64
	if info, err := os.Stat(s.config.FilePath); err == nil {
		sizeBytes = info.Size()
	}

	s.result = SessionResult{
		FilePath:   s.config.FilePath,
		FrameCount: s.writer.FrameCount(),
		Duration:   time.Since(s.startTime),
		SizeBytes:  sizeBytes,
		Err:        runErr,
	}
}
