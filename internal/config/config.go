package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/perchcam/perchcam/internal/frame"
)

// Config represents the application configuration.
type Config struct {
	Log           LogConfig      `yaml:"log,omitempty"`
	DataDir       string         `yaml:"data_dir"`
	RetentionDays int            `yaml:"retention_days"`
	Web           WebConfig      `yaml:"web"`
	MQTT          MQTTConfig     `yaml:"mqtt"`
	Encoder       EncoderConfig  `yaml:"encoder"`
	Location      LocationConfig `yaml:"location"`
	Pipeline      PipelineConfig `yaml:"pipeline"`
	Cameras       []CameraConfig `yaml:"cameras"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// WebConfig contains web server configuration.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains the optional event transmitter configuration.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// EncoderConfig contains the video session encoder configuration.
type EncoderConfig struct {
	OutputDir string `yaml:"output_dir"`
	Framerate int    `yaml:"framerate"`
}

// LocationConfig contains the device location used for sunrise/sunset
// lookups, plus optional fixed overrides for installations without
// coordinates.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	// Fixed boundaries in HH:MM; when set they take precedence over the
	// computed values.
	FixedSunrise string `yaml:"fixed_sunrise"`
	FixedSunset  string `yaml:"fixed_sunset"`
}

// PipelineConfig contains tuning shared by all camera pipelines.
type PipelineConfig struct {
	ConsumerTimeout     time.Duration `yaml:"consumer_timeout"`
	DefaultFPS          float64       `yaml:"default_fps"`
	BackgroundFPS       float64       `yaml:"background_fps"`
	ThumbFPS            float64       `yaml:"thumb_fps"`
	FirstFrameWait      time.Duration `yaml:"first_frame_wait"`
	ReconnectBackoff    time.Duration `yaml:"reconnect_backoff"`
	MaxReconnectBackoff time.Duration `yaml:"max_reconnect_backoff"`
	ErrorReconnectAfter time.Duration `yaml:"error_reconnect_after"`
	ControllerTick      time.Duration `yaml:"controller_tick"`
}

// CameraConfig is one camera's configuration snapshot. Controllers hold a
// read-only cached copy and replace it atomically on reload; it is never
// mutated in place while workers read it.
type CameraConfig struct {
	ID                  string         `yaml:"id"`
	Name                string         `yaml:"name"`
	Active              bool           `yaml:"active"`
	Source              string         `yaml:"source"`
	Rotation            int            `yaml:"rotation"`
	Width               int            `yaml:"width"`
	Height              int            `yaml:"height"`
	ThumbWidth          int            `yaml:"thumb_width"`
	Crop                frame.Rect     `yaml:"crop"`
	Detect              frame.Rect     `yaml:"detect"`
	SimilarityThreshold float64        `yaml:"similarity_threshold"`
	Record              RecordRule     `yaml:"record"`
	MaxClipSeconds      int            `yaml:"max_clip_seconds"`
	Properties          map[string]int `yaml:"properties"`
}

// DeviceAffectingChanged reports whether a reload changed fields that
// require a device reconnect (source or capture resolution).
func (c CameraConfig) DeviceAffectingChanged(next CameraConfig) bool {
	return c.Source != next.Source || c.Width != next.Width || c.Height != next.Height
}

// Load reads and parses the configuration file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// defaultConfigPath returns the first existing default config location.
func defaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/perchcam/config.yaml",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return paths[0]
}

// setDefaults sets default values for configuration.
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 30
	}
	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8084
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "perchcam"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "perchcam-edge"
	}
	if c.Encoder.OutputDir == "" {
		c.Encoder.OutputDir = filepath.Join(c.DataDir, "clips")
	}
	if c.Encoder.Framerate == 0 {
		c.Encoder.Framerate = 10
	}

	if c.Pipeline.ConsumerTimeout == 0 {
		c.Pipeline.ConsumerTimeout = 4 * time.Second
	}
	if c.Pipeline.DefaultFPS == 0 {
		c.Pipeline.DefaultFPS = 10
	}
	if c.Pipeline.BackgroundFPS == 0 {
		c.Pipeline.BackgroundFPS = 2
	}
	if c.Pipeline.ThumbFPS == 0 {
		c.Pipeline.ThumbFPS = 2
	}
	if c.Pipeline.FirstFrameWait == 0 {
		c.Pipeline.FirstFrameWait = 3 * time.Second
	}
	if c.Pipeline.ReconnectBackoff == 0 {
		c.Pipeline.ReconnectBackoff = 10 * time.Second
	}
	if c.Pipeline.MaxReconnectBackoff == 0 {
		c.Pipeline.MaxReconnectBackoff = 5 * time.Minute
	}
	if c.Pipeline.ErrorReconnectAfter == 0 {
		c.Pipeline.ErrorReconnectAfter = 2 * time.Minute
	}
	if c.Pipeline.ControllerTick == 0 {
		c.Pipeline.ControllerTick = time.Second
	}

	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.Name == "" {
			cam.Name = cam.ID
		}
		if cam.Width == 0 {
			cam.Width = 1280
		}
		if cam.Height == 0 {
			cam.Height = 720
		}
		if cam.ThumbWidth == 0 {
			cam.ThumbWidth = 320
		}
		if cam.SimilarityThreshold == 0 {
			cam.SimilarityThreshold = 90
		}
		if cam.Detect.IsZero() {
			cam.Detect = frame.FullRect
		}
		if cam.MaxClipSeconds == 0 {
			cam.MaxClipSeconds = 60
		}
		cam.Record.setDefaults()
	}
}

// Camera returns the snapshot for a camera id.
func (c *Config) Camera(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}
