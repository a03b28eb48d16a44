package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

const testYAML = `
data_dir: /tmp/perchcam-test
web:
  enabled: true
  port: 9000
mqtt:
  enabled: false
location:
  latitude: 52.52
  longitude: 13.405
cameras:
  - id: front
    active: true
    source: rtsp://example/stream
    width: 1920
    height: 1080
    similarity_threshold: 85
    crop: {x: 0.1, y: 0.1, w: 0.8, h: 0.8}
    record:
      mode: rhythm
      from: sunrise-1
      to: sunset+1
      rhythm_seconds: 20
  - id: shed
    source: /dev/video0
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, testYAML))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Web.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, 4*time.Second, cfg.Pipeline.ConsumerTimeout)
	assert.Equal(t, 10.0, cfg.Pipeline.DefaultFPS)

	require.Len(t, cfg.Cameras, 2)
	front := cfg.Cameras[0]
	assert.Equal(t, 85.0, front.SimilarityThreshold)
	assert.Equal(t, frame.Rect{X: 0.1, Y: 0.1, W: 0.8, H: 0.8}, front.Crop)
	assert.Equal(t, frame.FullRect, front.Detect, "detect defaults to the full frame")

	shed := cfg.Cameras[1]
	assert.Equal(t, "shed", shed.Name, "name defaults to the id")
	assert.Equal(t, 1280, shed.Width)
	assert.Equal(t, 90.0, shed.SimilarityThreshold)
	assert.Equal(t, RecordModeRhythm, shed.Record.Mode)
	assert.Equal(t, "sunrise+0", shed.Record.From)
	assert.Equal(t, 20, shed.Record.RhythmSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, testYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"duplicate camera id", func(c *Config) { c.Cameras[1].ID = "front" }},
		{"empty source", func(c *Config) { c.Cameras[0].Source = "" }},
		{"bad rotation", func(c *Config) { c.Cameras[0].Rotation = 45 }},
		{"threshold out of range", func(c *Config) { c.Cameras[0].SimilarityThreshold = 150 }},
		{"crop exceeds frame", func(c *Config) { c.Cameras[0].Crop = frame.Rect{X: 0.5, Y: 0, W: 0.6, H: 1} }},
		{"bad latitude", func(c *Config) { c.Location.Latitude = 91 }},
		{"bad record boundary", func(c *Config) { c.Cameras[0].Record.From = "noon" }},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }},
		{"bad rhythm", func(c *Config) { c.Cameras[0].Record.RhythmSeconds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseBoundary(t *testing.T) {
	tests := []struct {
		in      string
		want    Boundary
		wantErr bool
	}{
		{"7", Boundary{Kind: BoundaryAbsolute, Hour: 7}, false},
		{"23", Boundary{Kind: BoundaryAbsolute, Hour: 23}, false},
		{"sunrise+0", Boundary{Kind: BoundarySunrise}, false},
		{"sunrise-1", Boundary{Kind: BoundarySunrise, OffsetHours: -1}, false},
		{"sunset+1", Boundary{Kind: BoundarySunset, OffsetHours: 1}, false},
		{"Sunset+2", Boundary{Kind: BoundarySunset, OffsetHours: 2}, false},
		{"sunset", Boundary{Kind: BoundarySunset}, false},
		{"24", Boundary{}, true},
		{"sunrise+13", Boundary{}, true},
		{"noon", Boundary{}, true},
		{"", Boundary{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBoundary(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeviceAffectingChanged(t *testing.T) {
	a := CameraConfig{Source: "rtsp://x", Width: 1280, Height: 720}

	b := a
	b.SimilarityThreshold = 50
	assert.False(t, a.DeviceAffectingChanged(b))

	b = a
	b.Source = "rtsp://y"
	assert.True(t, a.DeviceAffectingChanged(b))

	b = a
	b.Width = 640
	assert.True(t, a.DeviceAffectingChanged(b))
}

func TestServiceReloadKeepsPreviousOnFailure(t *testing.T) {
	path := writeConfig(t, testYAML)
	svc, err := NewService(path, logger.NewNopLogger())
	require.NoError(t, err)

	before := svc.Get()
	require.NoError(t, os.WriteFile(path, []byte("cameras: [{id: '', source: ''}]"), 0o644))
	assert.Error(t, svc.Reload(context.Background()))
	assert.Same(t, before, svc.Get(), "invalid reload keeps the previous snapshot")

	// A valid file reloads and notifies watchers.
	notified := false
	svc.Watch(func(_ context.Context, oldCfg, newCfg *Config) error {
		notified = true
		assert.Same(t, before, oldCfg)
		return nil
	})
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o644))
	require.NoError(t, svc.Reload(context.Background()))
	assert.True(t, notified)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PERCHCAM_WEB_PORT", "7777")
	t.Setenv("PERCHCAM_LOG_LEVEL", "debug")
	t.Setenv("PERCHCAM_CONSUMER_TIMEOUT", "9s")

	svc, err := NewService(writeConfig(t, testYAML), logger.NewNopLogger())
	require.NoError(t, err)

	cfg := svc.Get()
	assert.Equal(t, 7777, cfg.Web.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9*time.Second, cfg.Pipeline.ConsumerTimeout)
}
