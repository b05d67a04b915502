// Package storage owns the media directories on disk: path layout, disk
// usage monitoring, and retention of old captures.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/motiontrap/camnode/internal/logger"
)

// Service manages the local media directories
type Service struct {
	logger      *logger.Logger
	photosDir   string
	videosDir   string
	diskMonitor *DiskMonitor
}

// Config contains storage service configuration
type Config struct {
	PhotosDir           string
	VideosDir           string
	MaxDiskUsagePercent float64
}

// NewService ensures the media directories exist and sets up monitoring
func NewService(config Config, log *logger.Logger) (*Service, error) {
	if err := os.MkdirAll(config.PhotosDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create photos directory: %w", err)
	}
	if err := os.MkdirAll(config.VideosDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create videos directory: %w", err)
	}

	maxDiskUsage := config.MaxDiskUsagePercent
	if maxDiskUsage <= 0 {
		maxDiskUsage = 80.0
	}

	service := &Service{
		logger:      log,
		photosDir:   config.PhotosDir,
		videosDir:   config.VideosDir,
		diskMonitor: NewDiskMonitor(config.PhotosDir, maxDiskUsage, log),
	}

	log.Info("Storage service initialized",
		"photos_dir", config.PhotosDir,
		"videos_dir", config.VideosDir,
		"max_disk_usage_percent", maxDiskUsage,
	)
	return service, nil
}

// PhotosDir returns the photos directory path
func (s *Service) PhotosDir() string {
	return s.photosDir
}

// VideosDir returns the videos directory path
func (s *Service) VideosDir() string {
	return s.videosDir
}

// PhotoPath returns the full path for a photo file name
func (s *Service) PhotoPath(name string) string {
	return filepath.Join(s.photosDir, name)
}

// VideoPath returns the full path for a video file name
func (s *Service) VideoPath(name string) string {
	return filepath.Join(s.videosDir, name)
}

// MediaName derives a file name from the admitted claimed capture time, so
// whoever issued the request can reproduce it. The millisecond remainder
// keeps names unique within a second.
func MediaName(claimedTimeMS uint64, ext string) string {
	t := time.UnixMilli(int64(claimedTimeMS)).UTC()
	return fmt.Sprintf("%s_%03d%s", t.Format("20060102_150405"), claimedTimeMS%1000, ext)
}

// Monitor returns the disk monitor for the media filesystem
func (s *Service) Monitor() *DiskMonitor {
	return s.diskMonitor
}

// DiskUsage returns current usage of the media filesystem
func (s *Service) DiskUsage() (*DiskUsage, error) {
	return s.diskMonitor.GetUsage()
}

// DiskFull reports whether usage exceeds the configured maximum
func (s *Service) DiskFull() (bool, error) {
	return s.diskMonitor.IsFull()
}
