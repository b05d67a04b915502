package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/motiontrap/camnode/internal/admission"
	"github.com/motiontrap/camnode/internal/catalog"
	"github.com/motiontrap/camnode/internal/health"
	"github.com/motiontrap/camnode/internal/recorder"
)

// sensorTriggerPrefix is the wire format of the motion sensor: a plain text
// body "record:<claimed_time_ms>"
const sensorTriggerPrefix = "record:"

// maxTriggerBody bounds the sensor trigger payload
const maxTriggerBody = 64

// handleSensorTrigger accepts the motion sensor's plain text trigger and
// queues a recording with the default duration
func (s *Server) handleSensorTrigger(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTriggerBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read trigger body"})
		return
	}

	payload := strings.TrimSpace(string(body))
	if !strings.HasPrefix(payload, sensorTriggerPrefix) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed trigger payload"})
		return
	}
	claimed, err := strconv.ParseUint(strings.TrimPrefix(payload, sensorTriggerPrefix), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed trigger timestamp"})
		return
	}

	if decision := s.capture.AdmitCapture(claimed); !decision.Accepted {
		writeRejected(c, decision)
		return
	}

	id, err := s.capture.EnqueueVideo(claimed, 0)
	if err != nil {
		s.writeCaptureError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"request_id": id})
}

// handlePhoto queues a photo capture
func (s *Server) handlePhoto(c *gin.Context) {
	var req struct {
		ClaimedTimeMS uint64 `json:"claimed_time_ms" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if decision := s.capture.AdmitCapture(req.ClaimedTimeMS); !decision.Accepted {
		writeRejected(c, decision)
		return
	}

	id, err := s.capture.EnqueuePhoto(req.ClaimedTimeMS)
	if err != nil {
		s.writeCaptureError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"request_id": id})
}

// handleVideoStart starts a recording session synchronously, so the caller
// learns immediately whether the camera was free
func (s *Server) handleVideoStart(c *gin.Context) {
	var req struct {
		ClaimedTimeMS uint64 `json:"claimed_time_ms" binding:"required"`
		DurationMS    uint64 `json:"duration_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if decision := s.capture.AdmitCapture(req.ClaimedTimeMS); !decision.Accepted {
		writeRejected(c, decision)
		return
	}

	id, err := s.capture.StartRecording(time.Duration(req.DurationMS)*time.Millisecond, req.ClaimedTimeMS)
	if err != nil {
		s.writeCaptureError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

// handleVideoStop stops the active recording and reports its result
func (s *Server) handleVideoStop(c *gin.Context) {
	result, err := s.capture.StopRecording()
	switch {
	case errors.Is(err, recorder.ErrNotRecording):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, recorder.ErrStopTimeout):
		// The session keeps finalizing on its own
		c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	response := gin.H{
		"file":        filepath.Base(result.FilePath),
		"frame_count": result.FrameCount,
		"duration_ms": result.Duration.Milliseconds(),
		"size_bytes":  result.SizeBytes,
	}
	if result.Err != nil {
		response["error"] = result.Err.Error()
		c.JSON(http.StatusInternalServerError, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// handleGetTime reports the offset-corrected device time
func (s *Server) handleGetTime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"device_time_ms": s.capture.DeviceTimeMS(),
		"offset_ms":      s.capture.ClockOffset(),
	})
}

// handleSetTime updates the clock reference
func (s *Server) handleSetTime(c *gin.Context) {
	var req struct {
		TimeMS uint64 `json:"time_ms" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.capture.SetTime(req.TimeMS)
	c.JSON(http.StatusOK, gin.H{
		"device_time_ms": s.capture.DeviceTimeMS(),
		"offset_ms":      s.capture.ClockOffset(),
	})
}

// handleFrame serves a single live frame
func (s *Server) handleFrame(c *gin.Context) {
	frame, err := s.capture.GrabFrame(c.Request.Context())
	if err != nil {
		s.writeCaptureError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", frame)
}

// handleLiveStream serves the live view as a multipart MJPEG stream. The
// response stays open until the viewer disconnects; frames pause while a
// capture holds the camera.
func (s *Server) handleLiveStream(c *gin.Context) {
	stream, err := s.stream.Open()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	defer s.stream.Close(stream)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Pragma", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	for {
		select {
		case frame, open := <-stream.Frames():
			if !open {
				return
			}
			fmt.Fprintf(c.Writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
			c.Writer.Write(frame)
			fmt.Fprintf(c.Writer, "\r\n")
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleListPhotos lists cataloged photos, newest first
func (s *Server) handleListPhotos(c *gin.Context) {
	s.listMedia(c, catalog.KindPhoto)
}

// handleListVideos lists cataloged videos, newest first
func (s *Server) handleListVideos(c *gin.Context) {
	s.listMedia(c, catalog.KindVideo)
}

func (s *Server) listMedia(c *gin.Context, kind string) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := s.catalog.ListMedia(c.Request.Context(), kind, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list media"})
		s.logger.Error("Failed to list media", "kind", kind, "error", err)
		return
	}

	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"name":            entry.FileName,
			"size_bytes":      entry.SizeBytes,
			"frame_count":     entry.FrameCount,
			"duration_ms":     entry.DurationMS,
			"claimed_time_ms": entry.ClaimedTimeMS,
			"created_at":      entry.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// handleGetPhoto serves one photo file
func (s *Server) handleGetPhoto(c *gin.Context) {
	s.serveMedia(c, s.store.PhotoPath(filepath.Base(c.Param("name"))), "image/jpeg")
}

// handleGetVideo serves one video file
func (s *Server) handleGetVideo(c *gin.Context) {
	s.serveMedia(c, s.store.VideoPath(filepath.Base(c.Param("name"))), "video/x-msvideo")
}

func (s *Server) serveMedia(c *gin.Context, path string, contentType string) {
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "media not found"})
		return
	}
	c.Header("Content-Type", contentType)
	c.File(path)
}

// handleStatus reports the node state in one place
func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"state":          s.capture.State(),
		"recording":      s.capture.IsRecording(),
		"queue_depth":    s.capture.QueueDepth(),
		"device_time_ms": s.capture.DeviceTimeMS(),
		"offset_ms":      s.capture.ClockOffset(),
		"uptime":         time.Since(s.startTime).String(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}

	if usage, err := s.store.DiskUsage(); err == nil {
		status["disk"] = gin.H{
			"total_bytes":     usage.TotalBytes,
			"available_bytes": usage.AvailableBytes,
			"usage_percent":   usage.UsagePercent,
		}
	}
	if stats, err := s.catalog.GetStats(c.Request.Context()); err == nil {
		status["media"] = gin.H{
			"photos":           stats.Photos,
			"videos":           stats.Videos,
			"total_size_bytes": stats.TotalSizeBytes,
		}
	}

	c.JSON(http.StatusOK, status)
}

// handleHealthz runs the health checks
func (s *Server) handleHealthz(c *gin.Context) {
	report := s.health.Check(c.Request.Context())

	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// writeRejected reports an admission rejection with the timestamps the
// sensor needs to resynchronize its clock
func writeRejected(c *gin.Context, decision admission.Decision) {
	c.JSON(http.StatusForbidden, gin.H{
		"error":      recorder.ErrTimeWindowRejected.Error(),
		"reason":     decision.Reason,
		"now_ms":     decision.NowMS,
		"claimed_ms": decision.ClaimedMS,
	})
}

// writeCaptureError maps recorder errors to HTTP status codes
func (s *Server) writeCaptureError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, recorder.ErrAlreadyBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, recorder.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
