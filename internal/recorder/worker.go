package recorder

import (
	"context"
	"os"
	"time"

	"github.com/motiontrap/camnode/internal/camera"
	"github.com/motiontrap/camnode/internal/catalog"
	"github.com/motiontrap/camnode/internal/storage"
)

// arbiterPollInterval paces the worker's camera acquisition attempts while
// another operation holds it
const arbiterPollInterval = 100 * time.Millisecond

// runWorker drains the capture queue one request at a time. Requests already
// passed admission; the worker's job is to wait for the camera and execute.
func (s *Service) runWorker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.queue:
			switch req.Kind {
			case KindPhoto:
				s.handlePhoto(ctx, req)
			case KindVideo:
				s.handleVideo(ctx, req)
			}
		}
	}
}

// acquireCamera polls the arbiter until the camera is free or the context
// ends. Queued requests wait for the camera rather than being dropped.
func (s *Service) acquireCamera(ctx context.Context, op camera.Operation) bool {
	for {
		if s.arbiter.TryAcquire(op) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(arbiterPollInterval):
		}
	}
}

func (s *Service) handlePhoto(ctx context.Context, req CaptureRequest) {
	if !s.acquireCamera(ctx, camera.OpPhoto) {
		return
	}
	defer s.arbiter.Release()

	frame, err := camera.AcquireWithRetry(ctx, s.source)
	if err != nil {
		s.logger.Error("Photo capture failed",
			"request_id", req.ID,
			"error", err,
		)
		return
	}
	defer s.source.ReleaseFrame(frame)

	name := storage.MediaName(req.ClaimedTimeMS, ".jpg")
	path := s.store.PhotoPath(name)
	if err := os.WriteFile(path, frame.Data, 0644); err != nil {
		s.logger.Error("Failed to store photo",
			"request_id", req.ID,
			"path", path,
			"error", err,
		)
		return
	}

	if err := s.catalog.SaveMedia(ctx, catalog.Media{
		ID:            req.ID,
		Kind:          catalog.KindPhoto,
		FileName:      name,
		Path:          path,
		SizeBytes:     int64(len(frame.Data)),
		ClaimedTimeMS: req.ClaimedTimeMS,
	}); err != nil {
		s.logger.Error("Failed to catalog photo",
			"request_id", req.ID,
			"error", err,
		)
		return
	}

	s.logger.Info("Photo captured",
		"request_id", req.ID,
		"file", name,
		"size_bytes", len(frame.Data),
	)
}

// handleVideo runs a queued recording inline on the worker goroutine, so
// queued requests behind it wait until the session ends.
func (s *Service) handleVideo(ctx context.Context, req CaptureRequest) {
	if !s.acquireCamera(ctx, camera.OpRecording) {
		return
	}

	if req.Duration < 0 {
		req.Duration = 0
	}
	if req.Duration > s.config.MaxDuration {
		req.Duration = s.config.MaxDuration
	}

	sess, err := s.newSessionFor(req)
	if err != nil {
		s.arbiter.Release()
		s.logger.Error("Failed to start queued recording",
			"request_id", req.ID,
			"error", err,
		)
		return
	}

	s.setSession(sess)
	sess.run(ctx)
	s.completeSession(sess)
}
