package recorder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/motiontrap/camnode/internal/admission"
	"github.com/motiontrap/camnode/internal/avi"
	"github.com/motiontrap/camnode/internal/camera"
	"github.com/motiontrap/camnode/internal/catalog"
	"github.com/motiontrap/camnode/internal/clock"
	"github.com/motiontrap/camnode/internal/logger"
	"github.com/motiontrap/camnode/internal/storage"
)

type testRecorder struct {
	service *Service
	source  *camera.StubSource
	catalog *catalog.Manager
	store   *storage.Service
	clock   *clock.Service
}

func newTestRecorder(t *testing.T, start bool) *testRecorder {
	t.Helper()

	log := logger.NewNopLogger()
	store, err := storage.NewService(storage.Config{
		PhotosDir:           t.TempDir(),
		VideosDir:           t.TempDir(),
		MaxDiskUsagePercent: 95.0,
	}, log)
	if err != nil {
		t.Fatalf("Failed to create storage service: %v", err)
	}

	clk := clock.New()
	source := camera.NewStubSource()
	cat := catalog.NewTestManager(t)

	svc := NewService(Config{
		Width:           640,
		Height:          480,
		FrameRate:       20,
		MaxDuration:     2 * time.Second,
		DefaultDuration: 500 * time.Millisecond,
	}, clk, admission.NewGate(clk, 0, log), source, store, cat, log)

	if start {
		if err := svc.Start(context.Background()); err != nil {
			t.Fatalf("Failed to start recorder: %v", err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := svc.Stop(ctx); err != nil {
				t.Errorf("Failed to stop recorder: %v", err)
			}
		})
	}

	return &testRecorder{service: svc, source: source, catalog: cat, store: store, clock: clk}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestStartRecording_RejectsConcurrentOperations(t *testing.T) {
	tr := newTestRecorder(t, true)

	id, err := tr.service.StartRecording(0, tr.clock.Now())
	if err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a session id")
	}
	if !tr.service.IsRecording() {
		t.Error("Expected recorder to report an active recording")
	}

	if _, err := tr.service.StartRecording(0, tr.clock.Now()); !errors.Is(err, ErrAlreadyBusy) {
		t.Errorf("Expected ErrAlreadyBusy for second recording, got %v", err)
	}
	if _, err := tr.service.EnqueuePhoto(tr.clock.Now()); !errors.Is(err, ErrAlreadyBusy) {
		t.Errorf("Expected ErrAlreadyBusy for photo during recording, got %v", err)
	}
	if _, err := tr.service.EnqueueVideo(tr.clock.Now(), 0); !errors.Is(err, ErrAlreadyBusy) {
		t.Errorf("Expected ErrAlreadyBusy for queued video during recording, got %v", err)
	}

	result, err := tr.service.StopRecording()
	if err != nil {
		t.Fatalf("Failed to stop recording: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("Recording ended with error: %v", result.Err)
	}
	if tr.service.IsBusy() {
		t.Error("Expected camera to be released after stop")
	}
}

func TestStopRecording_ResultMatchesFile(t *testing.T) {
	tr := newTestRecorder(t, true)

	if _, err := tr.service.StartRecording(0, tr.clock.Now()); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	waitFor(t, 3*time.Second, "three frames", func() bool {
		return tr.source.Acquired() >= 3
	})

	result, err := tr.service.StopRecording()
	if err != nil {
		t.Fatalf("Failed to stop recording: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("Recording ended with error: %v", result.Err)
	}
	if result.FrameCount < 3 {
		t.Errorf("Expected at least 3 frames, got %d", result.FrameCount)
	}

	data, err := os.ReadFile(result.FilePath)
	if err != nil {
		t.Fatalf("Failed to read recording: %v", err)
	}
	if int64(len(data)) != result.SizeBytes {
		t.Errorf("Reported size %d does not match file size %d", result.SizeBytes, len(data))
	}

	file, err := avi.Parse(data)
	if err != nil {
		t.Fatalf("Recording does not parse: %v", err)
	}
	if file.TotalFrames != result.FrameCount {
		t.Errorf("Container reports %d frames, result reports %d", file.TotalFrames, result.FrameCount)
	}
	for i, frame := range file.Frames {
		if !bytes.Equal(frame.Data, camera.MinimalJPEG) {
			t.Fatalf("Frame %d payload does not round-trip", i)
		}
	}

	if tr.source.Acquired() != tr.source.Released() {
		t.Errorf("Frame leak: %d acquired, %d released", tr.source.Acquired(), tr.source.Released())
	}
}

func TestStartRecording_BusyDuringPhotoCapture(t *testing.T) {
	tr := newTestRecorder(t, true)

	// Stall the capture so the camera stays held by the photo
	tr.source.SetDelay(500 * time.Millisecond)
	if _, err := tr.service.EnqueuePhoto(tr.clock.Now()); err != nil {
		t.Fatalf("Failed to enqueue photo: %v", err)
	}

	waitFor(t, 2*time.Second, "photo to hold the camera", func() bool {
		return tr.service.State() == "photo"
	})

	if _, err := tr.service.StartRecording(3*time.Second, tr.clock.Now()); !errors.Is(err, ErrAlreadyBusy) {
		t.Errorf("Expected ErrAlreadyBusy during photo capture, got %v", err)
	}

	waitFor(t, 3*time.Second, "photo to finish", func() bool {
		return !tr.service.IsBusy()
	})
}

func TestEnqueuePhoto_ShedsWhileWorkerStalled(t *testing.T) {
	tr := newTestRecorder(t, true)

	tr.source.SetDelay(2 * time.Second)
	if _, err := tr.service.EnqueuePhoto(tr.clock.Now()); err != nil {
		t.Fatalf("Failed to enqueue first photo: %v", err)
	}
	waitFor(t, 2*time.Second, "worker to pick up the stalled capture", func() bool {
		return tr.service.QueueDepth() == 0 && tr.service.IsBusy()
	})

	for i := 0; i < queueDepth; i++ {
		if _, err := tr.service.EnqueuePhoto(tr.clock.Now()); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	if _, err := tr.service.EnqueuePhoto(tr.clock.Now()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull behind a stalled worker, got %v", err)
	}
}

func TestStopRecording_WithoutSession(t *testing.T) {
	tr := newTestRecorder(t, true)

	if _, err := tr.service.StopRecording(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected ErrNotRecording, got %v", err)
	}
}

func TestEnqueuePhoto_ShedsWhenQueueFull(t *testing.T) {
	// Worker not started, so the queue only fills
	tr := newTestRecorder(t, false)

	for i := 0; i < queueDepth; i++ {
		if _, err := tr.service.EnqueuePhoto(tr.clock.Now()); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	if tr.service.QueueDepth() != queueDepth {
		t.Fatalf("Expected queue depth %d, got %d", queueDepth, tr.service.QueueDepth())
	}

	if _, err := tr.service.EnqueuePhoto(tr.clock.Now()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestPhotoCapture_EndToEnd(t *testing.T) {
	tr := newTestRecorder(t, true)
	ctx := context.Background()

	claimed := tr.clock.Now()
	id, err := tr.service.EnqueuePhoto(claimed)
	if err != nil {
		t.Fatalf("Failed to enqueue photo: %v", err)
	}

	var entry *catalog.Media
	waitFor(t, 3*time.Second, "photo catalog entry", func() bool {
		entry, err = tr.catalog.GetMedia(ctx, id)
		return err == nil && entry != nil
	})

	if entry.Kind != catalog.KindPhoto {
		t.Errorf("Expected photo entry, got %s", entry.Kind)
	}
	if entry.ClaimedTimeMS != claimed {
		t.Errorf("Expected claimed time %d, got %d", claimed, entry.ClaimedTimeMS)
	}

	data, err := os.ReadFile(entry.Path)
	if err != nil {
		t.Fatalf("Failed to read photo: %v", err)
	}
	if !bytes.Equal(data, camera.MinimalJPEG) {
		t.Error("Photo payload does not match captured frame")
	}

	waitFor(t, time.Second, "camera release", func() bool {
		return !tr.service.IsBusy()
	})
	if tr.source.Acquired() != tr.source.Released() {
		t.Errorf("Frame leak: %d acquired, %d released", tr.source.Acquired(), tr.source.Released())
	}
}

func TestPhotoCapture_ReleasesCameraOnFailure(t *testing.T) {
	tr := newTestRecorder(t, true)
	ctx := context.Background()

	// All three acquisition attempts fail, so the capture is abandoned
	tr.source.SetFailures(3)

	id, err := tr.service.EnqueuePhoto(tr.clock.Now())
	if err != nil {
		t.Fatalf("Failed to enqueue photo: %v", err)
	}

	waitFor(t, 3*time.Second, "failed capture to drain", func() bool {
		return tr.service.QueueDepth() == 0 && !tr.service.IsBusy()
	})

	entry, err := tr.catalog.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("Failed to query catalog: %v", err)
	}
	if entry != nil {
		t.Error("Expected no catalog entry for failed capture")
	}

	// The camera recovered; the next capture succeeds
	id, err = tr.service.EnqueuePhoto(tr.clock.Now())
	if err != nil {
		t.Fatalf("Failed to enqueue photo after recovery: %v", err)
	}
	waitFor(t, 3*time.Second, "recovered capture", func() bool {
		entry, err = tr.catalog.GetMedia(ctx, id)
		return err == nil && entry != nil
	})
}

func TestEnqueueVideo_RunsQueuedRecording(t *testing.T) {
	tr := newTestRecorder(t, true)
	ctx := context.Background()

	claimed := tr.clock.Now()
	if _, err := tr.service.EnqueueVideo(claimed, 200*time.Millisecond); err != nil {
		t.Fatalf("Failed to enqueue video: %v", err)
	}

	waitFor(t, 2*time.Second, "recording to start", func() bool {
		return tr.service.IsRecording()
	})
	waitFor(t, 3*time.Second, "recording to finish", func() bool {
		return !tr.service.IsBusy()
	})

	videos, err := tr.catalog.ListMedia(ctx, catalog.KindVideo, 10)
	if err != nil {
		t.Fatalf("Failed to list videos: %v", err)
	}
	if len(videos) != 1 {
		t.Fatalf("Expected one video entry, got %d", len(videos))
	}
	if videos[0].ClaimedTimeMS != claimed {
		t.Errorf("Expected claimed time %d, got %d", claimed, videos[0].ClaimedTimeMS)
	}

	data, err := os.ReadFile(videos[0].Path)
	if err != nil {
		t.Fatalf("Failed to read recording: %v", err)
	}
	file, err := avi.Parse(data)
	if err != nil {
		t.Fatalf("Recording does not parse: %v", err)
	}
	if int(file.TotalFrames) != videos[0].FrameCount {
		t.Errorf("Container reports %d frames, catalog reports %d", file.TotalFrames, videos[0].FrameCount)
	}
}

func TestRecording_AbortsWhenSourceStaysDown(t *testing.T) {
	tr := newTestRecorder(t, true)
	tr.source.SetFailures(1 << 30)

	if _, err := tr.service.StartRecording(0, tr.clock.Now()); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	// Every tick exhausts its acquisition retries; after the third
	// consecutive miss the session must give up on its own
	waitFor(t, 10*time.Second, "session to abort", func() bool {
		return !tr.service.IsBusy()
	})

	if _, err := tr.service.StopRecording(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Expected the session to have ended itself, got %v", err)
	}

	videos, err := tr.catalog.ListMedia(context.Background(), catalog.KindVideo, 10)
	if err != nil {
		t.Fatalf("Failed to list videos: %v", err)
	}
	if len(videos) != 0 {
		t.Errorf("Expected no catalog entry for a frameless recording, got %d", len(videos))
	}

	entries, err := os.ReadDir(tr.store.VideosDir())
	if err != nil {
		t.Fatalf("Failed to read videos directory: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected the empty container to be discarded, found %d files", len(entries))
	}
}

func TestRecording_ToleratesTransientFrameLoss(t *testing.T) {
	tr := newTestRecorder(t, true)
	ctx := context.Background()

	// The first tick exhausts its retries, the second recovers mid-retry;
	// the captured frame restores the miss budget
	tr.source.SetFailures(4)

	if _, err := tr.service.StartRecording(600*time.Millisecond, tr.clock.Now()); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	waitFor(t, 5*time.Second, "recording to finish", func() bool {
		return !tr.service.IsBusy()
	})

	videos, err := tr.catalog.ListMedia(ctx, catalog.KindVideo, 10)
	if err != nil {
		t.Fatalf("Failed to list videos: %v", err)
	}
	if len(videos) != 1 {
		t.Fatalf("Expected the recovered session to be cataloged, got %d entries", len(videos))
	}
	if videos[0].FrameCount == 0 {
		t.Error("Expected frames captured after recovery")
	}
}

func TestStartRecording_ZeroDurationRunsUntilStopped(t *testing.T) {
	tr := newTestRecorder(t, true)

	// Slow the source below the target rate so the maximum session duration
	// elapses with the frame index far from full
	tr.source.SetDelay(100 * time.Millisecond)

	if _, err := tr.service.StartRecording(0, tr.clock.Now()); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	time.Sleep(tr.service.config.MaxDuration + 400*time.Millisecond)
	if !tr.service.IsRecording() {
		t.Fatal("Expected a zero-duration recording to outlive the maximum duration")
	}

	result, err := tr.service.StopRecording()
	if err != nil {
		t.Fatalf("Failed to stop recording: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("Recording ended with error: %v", result.Err)
	}
	if result.FrameCount == 0 {
		t.Error("Expected frames captured before the explicit stop")
	}
}

func TestGrabFrame_YieldsToActiveRecording(t *testing.T) {
	tr := newTestRecorder(t, true)

	frame, err := tr.service.GrabFrame(context.Background())
	if err != nil {
		t.Fatalf("Failed to grab live frame: %v", err)
	}
	if !bytes.Equal(frame, camera.MinimalJPEG) {
		t.Error("Live frame does not match the captured payload")
	}
	if tr.service.IsBusy() {
		t.Error("Expected camera released after the grab")
	}

	if _, err := tr.service.StartRecording(0, tr.clock.Now()); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}
	if _, err := tr.service.GrabFrame(context.Background()); !errors.Is(err, ErrAlreadyBusy) {
		t.Errorf("Expected ErrAlreadyBusy during recording, got %v", err)
	}
	if _, err := tr.service.StopRecording(); err != nil {
		t.Fatalf("Failed to stop recording: %v", err)
	}
}

func TestAdmitCapture_UsesCorrectedClock(t *testing.T) {
	tr := newTestRecorder(t, false)

	tr.service.SetTime(100_000)
	now := tr.service.DeviceTimeMS()
	if now < 100_000 {
		t.Fatalf("Expected corrected time at or after reference, got %d", now)
	}

	if d := tr.service.AdmitCapture(now + 4_000); !d.Accepted {
		t.Errorf("Expected claim inside window to be accepted: %+v", d)
	}
	if d := tr.service.AdmitCapture(now + 10_000); d.Accepted {
		t.Errorf("Expected stale claim to be rejected: %+v", d)
	}
}
