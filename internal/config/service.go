package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/perchcam/perchcam/internal/logger"
)

// Service provides configuration management with reload and change
// notification. The held *Config is an immutable snapshot replaced by
// reference on reload; callers must not mutate it.
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []Watcher
}

// Watcher is called after a successful reload with the old and new
// snapshots.
type Watcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service.
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]Watcher, 0),
	}, nil
}

// Get returns the current configuration snapshot.
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file. On validation failure the
// previous configuration stays in effect and the error is returned to the
// caller.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	applyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig

	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher.
func (s *Service) Watch(watcher Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to the
// process-level settings. Per-camera settings come from the file only.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("PERCHCAM_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("PERCHCAM_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("PERCHCAM_DATA_DIR"); val != "" {
		cfg.DataDir = val
	}
	if val := os.Getenv("PERCHCAM_WEB_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Web.Port = port
		}
	}
	if val := os.Getenv("PERCHCAM_MQTT_BROKER_URL"); val != "" {
		cfg.MQTT.BrokerURL = val
	}
	if val := os.Getenv("PERCHCAM_MQTT_ENABLED"); val != "" {
		cfg.MQTT.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("PERCHCAM_CONSUMER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pipeline.ConsumerTimeout = d
		}
	}
}
