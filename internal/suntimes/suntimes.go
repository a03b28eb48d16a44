package suntimes

import (
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"github.com/perchcam/perchcam/internal/config"
)

// Provider supplies the day/night boundaries used by rhythm recording
// windows. Times are returned in the local time zone of the given date.
type Provider interface {
	Times(date time.Time) (sunriseAt, sunsetAt time.Time)
}

// Computed derives sunrise and sunset from the device coordinates.
type Computed struct {
	latitude  float64
	longitude float64
}

// NewComputed creates a provider for the given coordinates.
func NewComputed(latitude, longitude float64) *Computed {
	return &Computed{latitude: latitude, longitude: longitude}
}

// Times returns the computed sunrise and sunset for the date's day.
func (c *Computed) Times(date time.Time) (time.Time, time.Time) {
	rise, set := sunrise.SunriseSunset(c.latitude, c.longitude,
		date.Year(), date.Month(), date.Day())
	return rise.In(date.Location()), set.In(date.Location())
}

// Fixed serves constant boundaries; used for installations without
// coordinates and in tests.
type Fixed struct {
	SunriseHour, SunriseMinute int
	SunsetHour, SunsetMinute   int
}

// NewFixed parses "HH:MM" boundary strings.
func NewFixed(sunriseAt, sunsetAt string) (*Fixed, error) {
	rh, rm, err := parseClock(sunriseAt)
	if err != nil {
		return nil, fmt.Errorf("fixed sunrise: %w", err)
	}
	sh, sm, err := parseClock(sunsetAt)
	if err != nil {
		return nil, fmt.Errorf("fixed sunset: %w", err)
	}
	return &Fixed{SunriseHour: rh, SunriseMinute: rm, SunsetHour: sh, SunsetMinute: sm}, nil
}

// Times returns the fixed boundaries mapped onto the date's day.
func (f *Fixed) Times(date time.Time) (time.Time, time.Time) {
	rise := time.Date(date.Year(), date.Month(), date.Day(),
		f.SunriseHour, f.SunriseMinute, 0, 0, date.Location())
	set := time.Date(date.Year(), date.Month(), date.Day(),
		f.SunsetHour, f.SunsetMinute, 0, 0, date.Location())
	return rise, set
}

// FromConfig builds the provider for the configured location. Fixed
// boundaries take precedence over computed ones.
func FromConfig(loc config.LocationConfig) (Provider, error) {
	if loc.FixedSunrise != "" || loc.FixedSunset != "" {
		if loc.FixedSunrise == "" || loc.FixedSunset == "" {
			return nil, fmt.Errorf("fixed_sunrise and fixed_sunset must both be set")
		}
		return NewFixed(loc.FixedSunrise, loc.FixedSunset)
	}
	return NewComputed(loc.Latitude, loc.Longitude), nil
}

func parseClock(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return h, m, nil
}
