package streaming

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/motiontrap/camnode/internal/logger"
)

// stubGrabber serves a fixed frame, optionally failing a number of leading
// grabs to simulate the camera being held by a capture
type stubGrabber struct {
	mu           sync.Mutex
	frame        []byte
	failuresLeft int
	grabs        int
}

func (g *stubGrabber) GrabFrame(ctx context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.grabs++
	if g.failuresLeft > 0 {
		g.failuresLeft--
		return nil, errors.New("camera busy")
	}
	return g.frame, nil
}

func newTestService(grabber *stubGrabber) *Service {
	svc := NewService(grabber, logger.NewNopLogger())
	svc.interval = 5 * time.Millisecond
	return svc
}

func readFrame(t *testing.T, stream *Stream) []byte {
	t.Helper()

	select {
	case frame, ok := <-stream.Frames():
		if !ok {
			t.Fatal("Frame channel closed unexpectedly")
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a frame")
	}
	return nil
}

func TestStream_DeliversFrames(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	svc := newTestService(&stubGrabber{frame: payload})

	stream, err := svc.Open()
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}

	for i := 0; i < 3; i++ {
		if frame := readFrame(t, stream); !bytes.Equal(frame, payload) {
			t.Fatalf("Frame %d does not match payload", i)
		}
	}

	svc.Close(stream)

	// Drain: the channel must be closed once the pump has stopped
	for {
		frame, ok := <-stream.Frames()
		if !ok {
			return
		}
		if !bytes.Equal(frame, payload) {
			t.Fatal("Buffered frame does not match payload")
		}
	}
}

func TestStream_SingleViewer(t *testing.T) {
	svc := newTestService(&stubGrabber{frame: []byte{0xFF, 0xD8, 0xFF, 0xD9}})

	stream, err := svc.Open()
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}

	if _, err := svc.Open(); !errors.Is(err, ErrStreamActive) {
		t.Errorf("Expected ErrStreamActive for second viewer, got %v", err)
	}

	svc.Close(stream)

	// The slot is free again after the first viewer disconnects
	stream, err = svc.Open()
	if err != nil {
		t.Fatalf("Failed to reopen stream: %v", err)
	}
	svc.Close(stream)
}

func TestStream_SkipsFramesWhileCameraHeld(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	grabber := &stubGrabber{frame: payload, failuresLeft: 3}
	svc := newTestService(grabber)

	stream, err := svc.Open()
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer svc.Close(stream)

	// The first frame arrives only after the failed grabs were skipped
	if frame := readFrame(t, stream); !bytes.Equal(frame, payload) {
		t.Fatal("Frame does not match payload")
	}

	grabber.mu.Lock()
	grabs := grabber.grabs
	grabber.mu.Unlock()
	if grabs < 4 {
		t.Errorf("Expected at least 4 grab attempts before the first frame, got %d", grabs)
	}
}
