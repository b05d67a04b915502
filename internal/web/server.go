// Package web is the node's HTTP surface: the sensor trigger endpoint, the
// capture control API, media listing and download, and status reporting.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/motiontrap/camnode/internal/admission"
	"github.com/motiontrap/camnode/internal/catalog"
	"github.com/motiontrap/camnode/internal/config"
	"github.com/motiontrap/camnode/internal/health"
	"github.com/motiontrap/camnode/internal/logger"
	"github.com/motiontrap/camnode/internal/recorder"
	"github.com/motiontrap/camnode/internal/storage"
	"github.com/motiontrap/camnode/internal/web/streaming"
)

// CaptureService is the recorder surface the handlers need
type CaptureService interface {
	AdmitCapture(claimedTimeMS uint64) admission.Decision
	EnqueuePhoto(claimedTimeMS uint64) (string, error)
	EnqueueVideo(claimedTimeMS uint64, duration time.Duration) (string, error)
	StartRecording(duration time.Duration, claimedTimeMS uint64) (string, error)
	StopRecording() (*recorder.SessionResult, error)
	GrabFrame(ctx context.Context) ([]byte, error)
	State() string
	QueueDepth() int
	IsRecording() bool
	DeviceTimeMS() uint64
	ClockOffset() int64
	SetTime(remoteTimeMS uint64)
}

// MediaCatalog lists captured media for the listing endpoints
type MediaCatalog interface {
	ListMedia(ctx context.Context, kind string, limit int) ([]catalog.Media, error)
	GetStats(ctx context.Context) (*catalog.Stats, error)
}

// Server is the HTTP server service
type Server struct {
	config     config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	capture    CaptureService
	catalog    MediaCatalog
	store      *storage.Service
	health     *health.Manager
	stream     *streaming.Service
	startTime  time.Time
}

// NewServer creates the web server
func NewServer(cfg config.WebConfig, capture CaptureService, cat MediaCatalog, store *storage.Service, healthMgr *health.Manager, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	s := &Server{
		config:    cfg,
		logger:    log,
		router:    router,
		capture:   capture,
		catalog:   cat,
		store:     store,
		health:    healthMgr,
		stream:    streaming.NewService(capture, log),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

// Name returns the service name
func (s *Server) Name() string {
	return "web-server"
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	// No write deadline: the live MJPEG stream holds its response open for
	// as long as the viewer stays connected
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		s.logger.Info("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", "address", addr, "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes registers all routes
func (s *Server) setupRoutes() {
	// Sensor protocol endpoint
	s.router.POST("/record", s.handleSensorTrigger)

	// Capture control
	s.router.POST("/photo", s.handlePhoto)
	s.router.POST("/video", s.handleVideoStart)
	s.router.POST("/video/stop", s.handleVideoStop)

	// Clock
	s.router.GET("/time", s.handleGetTime)
	s.router.POST("/time", s.handleSetTime)

	// Live view
	s.router.GET("/stream", s.handleLiveStream)
	s.router.GET("/frame", s.handleFrame)

	// Media listing and download
	s.router.GET("/photos", s.handleListPhotos)
	s.router.GET("/videos", s.handleListVideos)
	s.router.GET("/photo/:name", s.handleGetPhoto)
	s.router.GET("/video/:name", s.handleGetVideo)

	// Observability
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/healthz", s.handleHealthz)
}

// ginLogger creates a Gin middleware for request logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
