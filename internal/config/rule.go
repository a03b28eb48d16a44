package config

import (
	"fmt"
	"strconv"
	"strings"
)

// RecordMode selects how the recording window is evaluated.
type RecordMode string

const (
	// RecordModeLegacy persists on fixed sets of allowed hour and second
	// values.
	RecordModeLegacy RecordMode = "legacy"
	// RecordModeRhythm persists on a fixed rhythm inside a from/to window
	// whose bounds may track sunrise and sunset.
	RecordModeRhythm RecordMode = "rhythm"
)

// RecordRule describes when the scheduler persists still frames.
type RecordRule struct {
	Mode RecordMode `yaml:"mode"`

	// Legacy mode.
	Hours   []int `yaml:"hours"`
	Seconds []int `yaml:"seconds"`

	// Rhythm mode. From and To are either an absolute hour ("7") or an
	// offset from a sun event ("sunrise-1", "sunset+1").
	From          string `yaml:"from"`
	To            string `yaml:"to"`
	RhythmSeconds int    `yaml:"rhythm_seconds"`
	OffsetSeconds int    `yaml:"offset_seconds"`
}

// setDefaults applies rule defaults.
func (r *RecordRule) setDefaults() {
	if r.Mode == "" {
		r.Mode = RecordModeRhythm
	}
	if r.Mode == RecordModeRhythm {
		if r.From == "" {
			r.From = "sunrise+0"
		}
		if r.To == "" {
			r.To = "sunset+0"
		}
		if r.RhythmSeconds == 0 {
			r.RhythmSeconds = 20
		}
	}
}

// BoundaryKind identifies what a window bound is anchored to.
type BoundaryKind int

const (
	BoundaryAbsolute BoundaryKind = iota
	BoundarySunrise
	BoundarySunset
)

// Boundary is one resolved bound of a rhythm recording window.
type Boundary struct {
	Kind BoundaryKind
	// Hour is the absolute hour for BoundaryAbsolute bounds.
	Hour int
	// OffsetHours shifts a sun-anchored bound by whole hours.
	OffsetHours int
}

// ParseBoundary parses a window bound: an absolute hour ("7", "17") or a
// sun offset ("sunrise-1", "sunset+1", "sunrise+0").
func ParseBoundary(s string) (Boundary, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Boundary{}, fmt.Errorf("empty window boundary")
	}

	for kind, anchor := range map[BoundaryKind]string{
		BoundarySunrise: "sunrise",
		BoundarySunset:  "sunset",
	} {
		if !strings.HasPrefix(s, anchor) {
			continue
		}
		rest := s[len(anchor):]
		if rest == "" {
			return Boundary{Kind: kind}, nil
		}
		offset, err := strconv.Atoi(rest)
		if err != nil {
			return Boundary{}, fmt.Errorf("invalid sun offset %q: %w", s, err)
		}
		if offset < -12 || offset > 12 {
			return Boundary{}, fmt.Errorf("sun offset %q out of range", s)
		}
		return Boundary{Kind: kind, OffsetHours: offset}, nil
	}

	hour, err := strconv.Atoi(s)
	if err != nil {
		return Boundary{}, fmt.Errorf("invalid window boundary %q: %w", s, err)
	}
	if hour < 0 || hour > 23 {
		return Boundary{}, fmt.Errorf("window hour %d out of range", hour)
	}
	return Boundary{Kind: BoundaryAbsolute, Hour: hour}, nil
}

// Validate checks the rule for consistency.
func (r RecordRule) Validate() error {
	switch r.Mode {
	case RecordModeLegacy:
		for _, h := range r.Hours {
			if h < 0 || h > 23 {
				return fmt.Errorf("legacy hour %d out of range", h)
			}
		}
		for _, s := range r.Seconds {
			if s < 0 || s > 59 {
				return fmt.Errorf("legacy second %d out of range", s)
			}
		}
	case RecordModeRhythm:
		if _, err := ParseBoundary(r.From); err != nil {
			return fmt.Errorf("record from: %w", err)
		}
		if _, err := ParseBoundary(r.To); err != nil {
			return fmt.Errorf("record to: %w", err)
		}
		if r.RhythmSeconds < 1 || r.RhythmSeconds > 60 {
			return fmt.Errorf("rhythm_seconds %d out of range [1,60]", r.RhythmSeconds)
		}
		if r.OffsetSeconds < 0 || r.OffsetSeconds >= r.RhythmSeconds {
			return fmt.Errorf("offset_seconds %d must be in [0,%d)", r.OffsetSeconds, r.RhythmSeconds)
		}
	default:
		return fmt.Errorf("unknown record mode %q", r.Mode)
	}
	return nil
}
