package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/buddywatch/buddywatch/pkg/storage"
	"github.com/buddywatch/buddywatch/server/defs"
)

type CameraKind string

const (
	CameraKindMJPEG CameraKind = "mjpeg" // HTTP multipart/x-mixed-replace stream
	CameraKindDir   CameraKind = "dir"   // Directory that an external grabber writes JPEG snapshots into
	CameraKindDemo  CameraKind = "demo"  // Synthetic frames, for trying things out without a camera
)

type ExportMode string

const (
	ExportLocalDownload ExportMode = "download"
	ExportRemoteUpload  ExportMode = "upload"
)

type CameraConfig struct {
	Kind   CameraKind `json:"kind"`   // mjpeg, dir, demo
	URL    string     `json:"url"`    // eg http://192.168.1.20:8080/video for mjpeg
	Dir    string     `json:"dir"`    // Snapshot directory for 'dir'
	FFmpeg string     `json:"ffmpeg"` // Path to ffmpeg, used to encode recordings. Default "ffmpeg"
	FPS    int        `json:"fps"`    // Frame rate of recordings
}

// One of the storage options must be configured (i.e. either 'filesystem', 'gcs' or 'minio')
type StorageConfig struct {
	Filesystem *StorageConfigFS     `json:"filesystem"`
	GCS        *StorageConfigGCS    `json:"gcs"`
	Minio      *storage.MinioConfig `json:"minio"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the directory where downloaded recordings are written
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
	Prefix string `json:"prefix"` // Optional prefix for object names, eg "buddywatch/"
}

type MQTTConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"clientID"`
	Topic    string `json:"topic"` // Notices are published to Topic/<kind>
}

// Credentials that we log in with at startup. If empty, we wait for a login via the control API.
type AuthConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Config struct {
	BackendURL         string        `json:"backendURL"`         // Base URL of the detection, auth and video library backend, eg http://localhost:8000
	Listen             string        `json:"listen"`             // Control API address, eg ":8090"
	TickPeriodMS       int           `json:"tickPeriodMS"`       // Surveillance tick period. Default 100
	MaxInFlight        int           `json:"maxInFlight"`        // Maximum number of outstanding inference requests. Default 2
	InferenceTimeoutMS int           `json:"inferenceTimeoutMS"` // Per-request timeout for inference. Default 5000
	DrawThreshold      float64       `json:"drawThreshold"`      // Only detections above this are drawn. Clamped to [0.6, 0.8]
	OverlayWidth       int           `json:"overlayWidth"`       // Render surface width. Default 680
	OverlayHeight      int           `json:"overlayHeight"`      // Render surface height. Default 480
	ClearOverlayMS     int           `json:"clearOverlayMS"`     // Grace delay before clearing the overlay after surveillance stops. Default 300
	AutoRecordExport   ExportMode    `json:"autoRecordExport"`   // What to do with auto-recorded clips. Default "upload"
	MinFreeDiskMB      int           `json:"minFreeDiskMB"`      // Refuse local exports to the filesystem when free space is below this
	DBPath             string        `json:"dbPath"`             // Path to the sqlite ledger of recordings
	Camera             CameraConfig  `json:"camera"`
	Storage            StorageConfig `json:"storage"`
	MQTT               *MQTTConfig   `json:"mqtt"` // Optional
	Auth               AuthConfig    `json:"auth"`
}

func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.TickPeriodMS) * time.Millisecond
}

func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutMS) * time.Millisecond
}

func (c *Config) ClearOverlayDelay() time.Duration {
	return time.Duration(c.ClearOverlayMS) * time.Millisecond
}

// LoadConfig reads a JSON config file, applies environment overrides, and then fills in defaults.
// If filename does not exist, we start from an empty config, so that a pure environment
// configuration is possible.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = "buddywatch.json"
	}
	cfg := &Config{}
	raw, err := os.ReadFile(filename)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	} else if err == nil {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
		}
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv() {
	c.BackendURL = getenv("BUDDYWATCH_BACKEND_URL", c.BackendURL)
	c.Listen = getenv("BUDDYWATCH_LISTEN", c.Listen)
	c.DBPath = getenv("BUDDYWATCH_DB", c.DBPath)
	c.Auth.Username = getenv("BUDDYWATCH_USERNAME", c.Auth.Username)
	c.Auth.Password = getenv("BUDDYWATCH_PASSWORD", c.Auth.Password)
	c.Camera.URL = getenv("BUDDYWATCH_CAMERA_URL", c.Camera.URL)
	c.DrawThreshold = getenvFloat("BUDDYWATCH_DRAW_THRESHOLD", c.DrawThreshold)
	c.TickPeriodMS = getenvInt("BUDDYWATCH_TICK_MS", c.TickPeriodMS)

	if host := os.Getenv("MQTT_HOST"); host != "" {
		if c.MQTT == nil {
			c.MQTT = &MQTTConfig{}
		}
		c.MQTT.Host = host
		c.MQTT.Port = getenvInt("MQTT_PORT", c.MQTT.Port)
		c.MQTT.Username = getenv("MQTT_USERNAME", c.MQTT.Username)
		c.MQTT.Password = getenv("MQTT_PASSWORD", c.MQTT.Password)
		c.MQTT.ClientID = getenv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	}

	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		c.Storage.Minio = &storage.MinioConfig{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getenv("MINIO_BUCKET", "buddywatch"),
			UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		}
	}
}

func (c *Config) ApplyDefaults() {
	if c.BackendURL == "" {
		c.BackendURL = "http://localhost:8000"
	}
	if c.Listen == "" {
		c.Listen = ":8090"
	}
	if c.TickPeriodMS <= 0 {
		c.TickPeriodMS = 100
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 2
	}
	if c.InferenceTimeoutMS <= 0 {
		c.InferenceTimeoutMS = 5000
	}
	c.DrawThreshold = defs.ClampDrawThreshold(c.DrawThreshold)
	if c.OverlayWidth <= 0 || c.OverlayHeight <= 0 {
		c.OverlayWidth = 680
		c.OverlayHeight = 480
	}
	if c.ClearOverlayMS <= 0 {
		c.ClearOverlayMS = 300
	}
	if c.AutoRecordExport == "" {
		c.AutoRecordExport = ExportRemoteUpload
	}
	if c.DBPath == "" {
		c.DBPath = "buddywatch.sqlite"
	}
	if c.Camera.Kind == "" {
		c.Camera.Kind = CameraKindMJPEG
	}
	if c.Camera.FFmpeg == "" {
		c.Camera.FFmpeg = "ffmpeg"
	}
	if c.Camera.FPS <= 0 {
		c.Camera.FPS = 10
	}
	if c.Storage.Filesystem == nil && c.Storage.GCS == nil && c.Storage.Minio == nil {
		c.Storage.Filesystem = &StorageConfigFS{Root: "recordings"}
	}
	if c.MQTT != nil {
		if c.MQTT.Port == 0 {
			c.MQTT.Port = 1883
		}
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "buddywatch"
		}
		if c.MQTT.Topic == "" {
			c.MQTT.Topic = "buddywatch"
		}
	}
}

func (c *Config) Validate() error {
	switch c.Camera.Kind {
	case CameraKindMJPEG:
		if c.Camera.URL == "" {
			return fmt.Errorf("camera.url must be set for an mjpeg camera")
		}
	case CameraKindDir:
		if c.Camera.Dir == "" {
			return fmt.Errorf("camera.dir must be set for a snapshot directory camera")
		}
	case CameraKindDemo:
	default:
		return fmt.Errorf("Unknown camera kind '%v'. Valid values are 'mjpeg', 'dir' and 'demo'", c.Camera.Kind)
	}
	switch c.AutoRecordExport {
	case ExportLocalDownload, ExportRemoteUpload:
	default:
		return fmt.Errorf("Unknown autoRecordExport '%v'. Valid values are 'download' and 'upload'", c.AutoRecordExport)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			return x
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			return x
		}
	}
	return def
}
