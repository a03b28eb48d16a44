package config

import (
	"fmt"

	"github.com/perchcam/perchcam/internal/frame"
)

// Validate checks the configuration for consistency. Invalid configuration
// is rejected as a whole; the previous valid configuration stays in effect.
func (c *Config) Validate() error {
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web port %d out of range", c.Web.Port)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("negative retention_days")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt enabled but broker_url is empty")
	}
	if c.Encoder.Framerate < 1 || c.Encoder.Framerate > 60 {
		return fmt.Errorf("encoder framerate %d out of range [1,60]", c.Encoder.Framerate)
	}
	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", c.Location.Latitude)
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", c.Location.Longitude)
	}

	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera with empty id")
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true

		if cam.Source == "" {
			return fmt.Errorf("camera %s: empty source", cam.ID)
		}
		switch cam.Rotation {
		case 0, 90, 180, 270:
		default:
			return fmt.Errorf("camera %s: rotation %d not a right angle", cam.ID, cam.Rotation)
		}
		if cam.SimilarityThreshold < 0 || cam.SimilarityThreshold > 100 {
			return fmt.Errorf("camera %s: similarity threshold %f out of range [0,100]",
				cam.ID, cam.SimilarityThreshold)
		}
		if err := validateRect(cam.Crop); err != nil {
			return fmt.Errorf("camera %s: crop: %w", cam.ID, err)
		}
		if err := validateRect(cam.Detect); err != nil {
			return fmt.Errorf("camera %s: detect: %w", cam.ID, err)
		}
		if err := cam.Record.Validate(); err != nil {
			return fmt.Errorf("camera %s: record: %w", cam.ID, err)
		}
		if cam.MaxClipSeconds < 0 {
			return fmt.Errorf("camera %s: negative max_clip_seconds", cam.ID)
		}
	}
	return nil
}

// validateRect checks a relative rectangle. The zero rectangle is allowed
// and means "unset".
func validateRect(r frame.Rect) error {
	if r.IsZero() {
		return nil
	}
	if r.X < 0 || r.Y < 0 || r.W <= 0 || r.H <= 0 {
		return fmt.Errorf("negative or empty rectangle")
	}
	if r.X+r.W > 1 || r.Y+r.H > 1 {
		return fmt.Errorf("rectangle exceeds frame bounds")
	}
	return nil
}
