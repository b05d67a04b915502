package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/motiontrap/camnode/internal/logger"
)

// StillSourceConfig describes the capture device and frame geometry
type StillSourceConfig struct {
	Device  string
	Width   int
	Height  int
	Timeout time.Duration
}

// StillSource captures single JPEG stills by invoking ffmpeg against a local
// video device. Each acquisition is one short-lived process writing the
// encoded frame to stdout.
type StillSource struct {
	logger     *logger.Logger
	ffmpegPath string
	config     StillSourceConfig
}

// NewStillSource creates a still source, locating the ffmpeg executable
func NewStillSource(config StillSourceConfig, log *logger.Logger) (*StillSource, error) {
	path, err := detectFFmpeg()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	log.Info("Still source initialized",
		"ffmpeg", path,
		"device", config.Device,
		"resolution", fmt.Sprintf("%dx%d", config.Width, config.Height),
	)

	return &StillSource{
		logger:     log,
		ffmpegPath: path,
		config:     config,
	}, nil
}

// detectFFmpeg finds the ffmpeg executable
func detectFFmpeg() (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// AcquireFrame captures one JPEG still from the device
func (s *StillSource) AcquireFrame(ctx context.Context) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.config.Width, s.config.Height),
		"-i", s.config.Device,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg capture failed: %w (%s)", err, stderr.String())
	}

	data := stdout.Bytes()
	if err := validateJPEG(data); err != nil {
		return nil, err
	}

	return &Frame{
		Data:   data,
		Width:  s.config.Width,
		Height: s.config.Height,
	}, nil
}

// ReleaseFrame returns the frame buffer to the source. The still source
// allocates per capture, so there is nothing to recycle.
func (s *StillSource) ReleaseFrame(frame *Frame) {}

// validateJPEG checks the SOI and EOI markers of the captured data
func validateJPEG(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("no frame data captured")
	}
	if data[0] != 0xFF || data[1] != 0xD8 {
		return fmt.Errorf("captured data is not a JPEG frame")
	}
	if data[len(data)-2] != 0xFF || data[len(data)-1] != 0xD9 {
		return fmt.Errorf("captured JPEG frame is truncated")
	}
	return nil
}
