package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Node NodeConfig `yaml:"node"`
	Log  LogConfig  `yaml:"log,omitempty"`
}

// NodeConfig contains camera node specific configuration
type NodeConfig struct {
	DataDir   string          `yaml:"data_dir"`
	Camera    CameraConfig    `yaml:"camera"`
	Recording RecordingConfig `yaml:"recording"`
	Admission AdmissionConfig `yaml:"admission"`
	Storage   StorageConfig   `yaml:"storage"`
	Web       WebConfig       `yaml:"web"`
}

// CameraConfig describes the capture device
type CameraConfig struct {
	Device         string        `yaml:"device"`
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	FrameRate      int           `yaml:"frame_rate"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

// RecordingConfig contains video recording configuration
type RecordingConfig struct {
	MaxDuration        time.Duration `yaml:"max_duration"`
	DefaultDuration    time.Duration `yaml:"default_duration"`
	StagingBufferBytes int           `yaml:"staging_buffer_bytes"` // 0 = write frames directly to storage
}

// AdmissionConfig contains remote trigger admission configuration
type AdmissionConfig struct {
	WindowMS uint64 `yaml:"window_ms"`
}

// StorageConfig contains local media storage configuration
type StorageConfig struct {
	PhotosDir           string  `yaml:"photos_dir"`
	VideosDir           string  `yaml:"videos_dir"`
	RetentionDays       int     `yaml:"retention_days"`
	MaxDiskUsagePercent float64 `yaml:"max_disk_usage_percent"`
}

// WebConfig contains HTTP server configuration
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir: "/var/lib/camnode",
			Camera: CameraConfig{
				Device:         "/dev/video0",
				Width:          640,
				Height:         480,
				FrameRate:      10,
				CaptureTimeout: 5 * time.Second,
			},
			Recording: RecordingConfig{
				MaxDuration:     5 * time.Minute,
				DefaultDuration: 30 * time.Second,
			},
			Admission: AdmissionConfig{
				WindowMS: 5000,
			},
			Storage: StorageConfig{
				RetentionDays:       7,
				MaxDiskUsagePercent: 80.0,
			},
			Web: WebConfig{
				Host: "0.0.0.0",
				Port: 8080,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

// Load reads configuration from a file, falling back to defaults when the
// path is empty
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDerivedDefaults fills paths that derive from the data directory
func (c *Config) applyDerivedDefaults() {
	if c.Node.Storage.PhotosDir == "" {
		c.Node.Storage.PhotosDir = filepath.Join(c.Node.DataDir, "pictures")
	}
	if c.Node.Storage.VideosDir == "" {
		c.Node.Storage.VideosDir = filepath.Join(c.Node.DataDir, "videos")
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}
	if c.Node.Camera.Width <= 0 || c.Node.Camera.Height <= 0 {
		return fmt.Errorf("camera dimensions must be positive, got %dx%d",
			c.Node.Camera.Width, c.Node.Camera.Height)
	}
	if c.Node.Camera.FrameRate <= 0 {
		return fmt.Errorf("camera.frame_rate must be positive, got %d", c.Node.Camera.FrameRate)
	}
	if c.Node.Camera.CaptureTimeout <= 0 {
		return fmt.Errorf("camera.capture_timeout must be positive")
	}
	if c.Node.Recording.MaxDuration <= 0 {
		return fmt.Errorf("recording.max_duration must be positive")
	}
	if c.Node.Recording.StagingBufferBytes < 0 {
		return fmt.Errorf("recording.staging_buffer_bytes must not be negative")
	}
	if c.Node.Admission.WindowMS == 0 {
		return fmt.Errorf("admission.window_ms must be positive")
	}
	if c.Node.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage.retention_days must not be negative")
	}
	if c.Node.Storage.MaxDiskUsagePercent <= 0 || c.Node.Storage.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("storage.max_disk_usage_percent must be in (0, 100], got %.1f",
			c.Node.Storage.MaxDiskUsagePercent)
	}
	if c.Node.Web.Port <= 0 || c.Node.Web.Port > 65535 {
		return fmt.Errorf("web.port must be a valid port, got %d", c.Node.Web.Port)
	}
	return nil
}
