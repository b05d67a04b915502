package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motiontrap/camnode/internal/admission"
	"github.com/motiontrap/camnode/internal/catalog"
	"github.com/motiontrap/camnode/internal/config"
	"github.com/motiontrap/camnode/internal/health"
	"github.com/motiontrap/camnode/internal/logger"
	"github.com/motiontrap/camnode/internal/recorder"
	"github.com/motiontrap/camnode/internal/storage"
)

// mockCapture implements CaptureService with programmable outcomes
type mockCapture struct {
	admit        bool
	enqueueErr   error
	startErr     error
	stopResult   *recorder.SessionResult
	stopErr      error
	deviceTimeMS uint64
	offsetMS     int64
	setTimeMS    uint64
	lastClaimed  uint64
	lastDuration time.Duration
	recording    bool
	queueDepth   int
	frame        []byte
	grabErr      error
}

func (m *mockCapture) AdmitCapture(claimedTimeMS uint64) admission.Decision {
	return admission.Decision{
		Accepted:  m.admit,
		Reason:    "claimed time outside admission window",
		NowMS:     m.deviceTimeMS,
		ClaimedMS: claimedTimeMS,
	}
}

func (m *mockCapture) EnqueuePhoto(claimedTimeMS uint64) (string, error) {
	m.lastClaimed = claimedTimeMS
	if m.enqueueErr != nil {
		return "", m.enqueueErr
	}
	return "photo-request", nil
}

func (m *mockCapture) EnqueueVideo(claimedTimeMS uint64, duration time.Duration) (string, error) {
	m.lastClaimed = claimedTimeMS
	m.lastDuration = duration
	if m.enqueueErr != nil {
		return "", m.enqueueErr
	}
	return "video-request", nil
}

func (m *mockCapture) StartRecording(duration time.Duration, claimedTimeMS uint64) (string, error) {
	m.lastClaimed = claimedTimeMS
	m.lastDuration = duration
	if m.startErr != nil {
		return "", m.startErr
	}
	return "session-id", nil
}

func (m *mockCapture) StopRecording() (*recorder.SessionResult, error) {
	return m.stopResult, m.stopErr
}

func (m *mockCapture) State() string {
	if m.recording {
		return "recording"
	}
	return "idle"
}

func (m *mockCapture) GrabFrame(ctx context.Context) ([]byte, error) {
	if m.grabErr != nil {
		return nil, m.grabErr
	}
	return m.frame, nil
}

func (m *mockCapture) QueueDepth() int         { return m.queueDepth }
func (m *mockCapture) IsRecording() bool       { return m.recording }
func (m *mockCapture) DeviceTimeMS() uint64    { return m.deviceTimeMS }
func (m *mockCapture) ClockOffset() int64      { return m.offsetMS }
func (m *mockCapture) SetTime(remoteMS uint64) { m.setTimeMS = remoteMS }

func setupTestServer(t *testing.T, capture *mockCapture) (*Server, *catalog.Manager, *storage.Service) {
	t.Helper()

	log := logger.NewNopLogger()
	cat := catalog.NewTestManager(t)
	store, err := storage.NewService(storage.Config{
		PhotosDir:           t.TempDir(),
		VideosDir:           t.TempDir(),
		MaxDiskUsagePercent: 99.9,
	}, log)
	require.NoError(t, err)

	server := NewServer(config.WebConfig{Host: "localhost", Port: 8080},
		capture, cat, store, health.NewManager(log, nil), log)
	return server, cat, store
}

func doRequest(server *Server, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestSensorTrigger_QueuesRecording(t *testing.T) {
	capture := &mockCapture{admit: true, deviceTimeMS: 100_000}
	server, _, _ := setupTestServer(t, capture)

	w := doRequest(server, http.MethodPost, "/record", "text/plain", []byte("record:100500"))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, uint64(100500), capture.lastClaimed)
	assert.Equal(t, time.Duration(0), capture.lastDuration)
}

func TestSensorTrigger_RejectsStaleClaim(t *testing.T) {
	capture := &mockCapture{admit: false, deviceTimeMS: 100_000}
	server, _, _ := setupTestServer(t, capture)

	w := doRequest(server, http.MethodPost, "/record", "text/plain", []byte("record:500000"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "admission window")
}

func TestSensorTrigger_RejectsMalformedPayload(t *testing.T) {
	server, _, _ := setupTestServer(t, &mockCapture{admit: true})

	for _, payload := range []string{"", "photo:123", "record:", "record:abc"} {
		w := doRequest(server, http.MethodPost, "/record", "text/plain", []byte(payload))
		assert.Equal(t, http.StatusBadRequest, w.Code, "payload %q", payload)
	}
}

func TestPhoto_MapsCaptureErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"busy", recorder.ErrAlreadyBusy, http.StatusConflict},
		{"queue full", recorder.ErrQueueFull, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capture := &mockCapture{admit: true, enqueueErr: tt.err}
			server, _, _ := setupTestServer(t, capture)

			w := doRequest(server, http.MethodPost, "/photo", "application/json",
				[]byte(`{"claimed_time_ms": 12345}`))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestPhoto_Accepted(t *testing.T) {
	capture := &mockCapture{admit: true}
	server, _, _ := setupTestServer(t, capture)

	w := doRequest(server, http.MethodPost, "/photo", "application/json",
		[]byte(`{"claimed_time_ms": 12345}`))
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "photo-request", resp["request_id"])
	assert.Equal(t, uint64(12345), capture.lastClaimed)
}

func TestVideoStart_PassesDuration(t *testing.T) {
	capture := &mockCapture{admit: true}
	server, _, _ := setupTestServer(t, capture)

	w := doRequest(server, http.MethodPost, "/video", "application/json",
		[]byte(`{"claimed_time_ms": 12345, "duration_ms": 3000}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3*time.Second, capture.lastDuration)
}

func TestVideoStop_ReportsResult(t *testing.T) {
	capture := &mockCapture{
		stopResult: &recorder.SessionResult{
			FilePath:   "/data/videos/20231114_221320_123.avi",
			FrameCount: 42,
			Duration:   2 * time.Second,
			SizeBytes:  9000,
		},
	}
	server, _, _ := setupTestServer(t, capture)

	w := doRequest(server, http.MethodPost, "/video/stop", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "20231114_221320_123.avi", resp["file"])
	assert.Equal(t, float64(42), resp["frame_count"])
	assert.Equal(t, float64(2000), resp["duration_ms"])
}

func TestVideoStop_WithoutRecording(t *testing.T) {
	capture := &mockCapture{stopErr: recorder.ErrNotRecording}
	server, _, _ := setupTestServer(t, capture)

	w := doRequest(server, http.MethodPost, "/video/stop", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVideoStop_Timeout(t *testing.T) {
	capture := &mockCapture{stopErr: recorder.ErrStopTimeout}
	server, _, _ := setupTestServer(t, capture)

	w := doRequest(server, http.MethodPost, "/video/stop", "", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestTime_GetAndSet(t *testing.T) {
	capture := &mockCapture{deviceTimeMS: 42_000, offsetMS: -100}
	server, _, _ := setupTestServer(t, capture)

	w := doRequest(server, http.MethodGet, "/time", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(42_000), resp["device_time_ms"])
	assert.Equal(t, float64(-100), resp["offset_ms"])

	w = doRequest(server, http.MethodPost, "/time", "application/json",
		[]byte(`{"time_ms": 99000}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(99_000), capture.setTimeMS)
}

func TestListPhotos_FromCatalog(t *testing.T) {
	server, cat, _ := setupTestServer(t, &mockCapture{})
	ctx := context.Background()

	require.NoError(t, cat.SaveMedia(ctx, catalog.Media{
		ID: "p1", Kind: catalog.KindPhoto, FileName: "a.jpg", Path: "/x/a.jpg", SizeBytes: 100,
	}))
	require.NoError(t, cat.SaveMedia(ctx, catalog.Media{
		ID: "v1", Kind: catalog.KindVideo, FileName: "b.avi", Path: "/x/b.avi", SizeBytes: 200,
	}))

	w := doRequest(server, http.MethodGet, "/photos", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []map[string]interface{} `json:"items"`
		Count int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "a.jpg", resp.Items[0]["name"])
}

func TestGetPhoto_ServesFileAndBlocksTraversal(t *testing.T) {
	server, _, store := setupTestServer(t, &mockCapture{})

	payload := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	require.NoError(t, os.WriteFile(store.PhotoPath("shot.jpg"), payload, 0644))

	w := doRequest(server, http.MethodGet, "/photo/shot.jpg", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.Bytes())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = doRequest(server, http.MethodGet, "/photo/missing.jpg", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Path components outside the media dir are stripped to their base name
	w = doRequest(server, http.MethodGet, "/photo/..%2Fsecret.jpg", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFrame_ServesLiveJPEG(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	server, _, _ := setupTestServer(t, &mockCapture{frame: payload})

	w := doRequest(server, http.MethodGet, "/frame", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, payload, w.Body.Bytes())
}

func TestFrame_BusyWhileCameraHeld(t *testing.T) {
	server, _, _ := setupTestServer(t, &mockCapture{grabErr: recorder.ErrAlreadyBusy})

	w := doRequest(server, http.MethodGet, "/frame", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLiveStream_WritesMultipartFrames(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	server, _, _ := setupTestServer(t, &mockCapture{frame: payload})

	// The handler streams until the client goes away; a short request
	// deadline stands in for the disconnect
	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Contains(t, w.Header().Get("Content-Type"), "multipart/x-mixed-replace")
	body := w.Body.String()
	assert.Contains(t, body, "--frame")
	assert.Contains(t, body, "Content-Type: image/jpeg")
	assert.Contains(t, body, string(payload))
}

func TestStatus_ReportsNodeState(t *testing.T) {
	capture := &mockCapture{recording: true, queueDepth: 3, deviceTimeMS: 7_000, offsetMS: 50}
	server, _, _ := setupTestServer(t, capture)

	w := doRequest(server, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "recording", resp["state"])
	assert.Equal(t, true, resp["recording"])
	assert.Equal(t, float64(3), resp["queue_depth"])
	assert.NotNil(t, resp["disk"])
	assert.NotNil(t, resp["media"])
}

func TestHealthz_Healthy(t *testing.T) {
	server, _, _ := setupTestServer(t, &mockCapture{})

	w := doRequest(server, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "healthy"))
}
