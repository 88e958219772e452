// Package config provides configuration management for cvservice.
// It loads configuration from YAML files with sensible defaults, then applies
// environment overrides (optionally read from a .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all cvservice configuration.
type Config struct {
	Camera       CameraConfig       `yaml:"camera"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Models       ModelsConfig       `yaml:"models"`
	Acceleration AccelerationConfig `yaml:"acceleration"`
	Messaging    MessagingConfig    `yaml:"messaging"`
	Storage      StorageConfig      `yaml:"storage"`
	Render       RenderConfig       `yaml:"render"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// CameraConfig holds camera settings. A zero width or height keeps the
// driver's default resolution.
type CameraConfig struct {
	Index  int `yaml:"index"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// RecognitionConfig holds detection and matching settings.
type RecognitionConfig struct {
	Detector            string  `yaml:"detector"` // "ssd" or "dlib"
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MatchThreshold      float64 `yaml:"match_threshold"`
	TrackerTTL          int     `yaml:"tracker_ttl"`
}

// ModelsConfig locates the network files.
type ModelsConfig struct {
	Path      string `yaml:"path"`
	Precision string `yaml:"precision"`
}

// AccelerationConfig selects the inference backend.
type AccelerationConfig struct {
	Backend       string `yaml:"backend"`
	Target        string `yaml:"target"`
	FallbackToCPU bool   `yaml:"fallback_to_cpu"`
}

// MessagingConfig holds message bus settings.
type MessagingConfig struct {
	Transport      string `yaml:"transport"` // "mqtt", "nats" or "none"
	URL            string `yaml:"url"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	QoS            int    `yaml:"qos"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
}

// StorageConfig holds identity store and snapshot settings.
type StorageConfig struct {
	DatabasePath      string `yaml:"database_path"`
	ThumbnailDir      string `yaml:"thumbnail_dir"`
	SnapshotMaxSize   uint   `yaml:"snapshot_max_size"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// RenderConfig controls the raw video output.
type RenderConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Syslog bool   `yaml:"syslog"`
}

// Detector names.
const (
	DetectorSSD  = "ssd"
	DetectorDlib = "dlib"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			Index: 0,
		},
		Recognition: RecognitionConfig{
			Detector:            DetectorSSD,
			ConfidenceThreshold: 0.5,
			MatchThreshold:      0.3,
			TrackerTTL:          30,
		},
		Models: ModelsConfig{
			Path:      "./models/",
			Precision: "FP32",
		},
		Acceleration: AccelerationConfig{
			Backend:       "auto",
			FallbackToCPU: true,
		},
		Messaging: MessagingConfig{
			Transport:      "mqtt",
			URL:            "tcp://localhost:1883",
			ClientID:       "cvservice",
			ConnectTimeout: 10,
		},
		Storage: StorageConfig{
			DatabasePath: "./defaultdb.bin",
			ThumbnailDir: "./thumbs/",
		},
		Render: RenderConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/cvservice/cvservice.yaml"); err == nil {
		return Load("/etc/cvservice/cvservice.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/cvservice/cvservice.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// LoadDotEnv reads KEY=value pairs from files (default ".env") into the
// process environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("FACE_DB"); ok && v != "" {
		c.Storage.DatabasePath = v
	}
	if v, ok := os.LookupEnv("FACE_IMAGES"); ok && v != "" {
		c.Storage.ThumbnailDir = v
	}
	if v, ok := os.LookupEnv("MODELS"); ok && v != "" {
		c.Models.Path = v
	}
	if v, ok := os.LookupEnv("CVSERVICE_TRANSPORT"); ok && v != "" {
		c.Messaging.Transport = strings.ToLower(v)
	}

	switch c.Messaging.Transport {
	case "mqtt":
		if v, ok := os.LookupEnv("MQTT_URL"); ok && v != "" {
			c.Messaging.URL = v
		}
	case "nats":
		if v, ok := os.LookupEnv("NATS_URL"); ok && v != "" {
			c.Messaging.URL = v
		}
	}

	if v, ok := os.LookupEnv("MQTT_CLIENT_ID"); ok && v != "" {
		c.Messaging.ClientID = v
	}
	if v, ok := os.LookupEnv("MQTT_USERNAME"); ok {
		c.Messaging.Username = v
	}
	if v, ok := os.LookupEnv("MQTT_PASSWORD"); ok {
		c.Messaging.Password = v
	}
	if v, ok := os.LookupEnv("CAMERA_INDEX"); ok && v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CAMERA_INDEX %q: %w", v, err)
		}
		c.Camera.Index = idx
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Index < 0 {
		return fmt.Errorf("invalid camera index: %d", c.Camera.Index)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}

	if c.Recognition.Detector != DetectorSSD && c.Recognition.Detector != DetectorDlib {
		return fmt.Errorf("invalid detector: %s (must be ssd or dlib)", c.Recognition.Detector)
	}
	if c.Recognition.ConfidenceThreshold <= 0 || c.Recognition.ConfidenceThreshold >= 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", c.Recognition.ConfidenceThreshold)
	}
	// Cosine distance ranges over [0, 2].
	if c.Recognition.MatchThreshold <= 0 || c.Recognition.MatchThreshold > 2 {
		return fmt.Errorf("match_threshold must be in (0, 2], got %f", c.Recognition.MatchThreshold)
	}
	if c.Recognition.TrackerTTL <= 0 {
		return fmt.Errorf("tracker_ttl must be positive, got %d", c.Recognition.TrackerTTL)
	}

	validBackends := map[string]bool{"auto": true, "cpu": true, "openvino": true, "cuda": true}
	if !validBackends[c.Acceleration.Backend] {
		return fmt.Errorf("invalid acceleration backend: %s (must be auto, cpu, openvino, or cuda)", c.Acceleration.Backend)
	}

	validTransports := map[string]bool{"mqtt": true, "nats": true, "none": true}
	if !validTransports[c.Messaging.Transport] {
		return fmt.Errorf("invalid transport: %s (must be mqtt, nats, or none)", c.Messaging.Transport)
	}
	if c.Messaging.Transport != "none" && c.Messaging.URL == "" {
		return fmt.Errorf("messaging url is required for transport %s", c.Messaging.Transport)
	}
	if c.Messaging.QoS < 0 || c.Messaging.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1, or 2, got %d", c.Messaging.QoS)
	}
	if c.Messaging.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must not be negative, got %d", c.Messaging.ConnectTimeout)
	}

	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Models.Path = ExpandPath(c.Models.Path)
	c.Storage.DatabasePath = ExpandPath(c.Storage.DatabasePath)
	c.Storage.ThumbnailDir = ExpandPath(c.Storage.ThumbnailDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(filepath.Dir(c.Storage.DatabasePath), 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if c.Storage.ThumbnailDir != "" {
		if err := os.MkdirAll(c.Storage.ThumbnailDir, 0755); err != nil {
			return fmt.Errorf("failed to create thumbnail directory: %w", err)
		}
	}

	if err := os.MkdirAll(c.Models.Path, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// String renders the configuration as YAML with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Messaging.Password != "" {
		masked.Messaging.Password = "********"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
