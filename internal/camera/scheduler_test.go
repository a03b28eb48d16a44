package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchcam/perchcam/internal/config"
	"github.com/perchcam/perchcam/internal/logger"
	"github.com/perchcam/perchcam/internal/similarity"
	"github.com/perchcam/perchcam/internal/suntimes"
)

func windowController(t *testing.T, sun suntimes.Provider) *Controller {
	t.Helper()
	cfg := config.CameraConfig{ID: "cam1", Source: "sim://test", Width: 32, Height: 24}
	pipe := config.PipelineConfig{
		ConsumerTimeout: time.Second,
		DefaultFPS:      10,
		BackgroundFPS:   2,
		ThumbFPS:        2,
	}
	deps := Deps{Sun: sun, Comparator: similarity.NewComparator(logger.NewNopLogger())}
	return NewController(cfg, pipe, deps, logger.NewNopLogger())
}

func at(hour, minute, second int) time.Time {
	return time.Date(2026, 6, 15, hour, minute, second, 0, time.Local)
}

func TestRhythmWindowSunTracking(t *testing.T) {
	// Sunrise 06:15, sunset 20:40.
	sun := &suntimes.Fixed{SunriseHour: 6, SunriseMinute: 15, SunsetHour: 20, SunsetMinute: 40}
	c := windowController(t, sun)
	rule := config.RecordRule{
		Mode: config.RecordModeRhythm,
		From: "sunrise-1", // 05:15
		To:   "sunset+1",  // 21:40
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before open", at(5, 14, 59), false},
		{"at open", at(5, 15, 0), true},
		{"mid day", at(12, 0, 0), true},
		{"last minute", at(21, 40, 59), true},
		{"after close", at(21, 41, 0), false},
		{"deep night", at(2, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.rhythmWindow(tt.now, rule))
		})
	}
}

// A "to" bound resolving to a full hour closes at the end of the previous
// minute, so "to sunset+1" with a 20:00 sunset stops at 20:59, not 21:00.
// Deliberate boundary behavior; keep this pinned.
func TestRhythmWindowClosesBeforeFullHour(t *testing.T) {
	sun := &suntimes.Fixed{SunriseHour: 6, SunriseMinute: 0, SunsetHour: 20, SunsetMinute: 0}
	c := windowController(t, sun)
	rule := config.RecordRule{Mode: config.RecordModeRhythm, From: "sunrise+0", To: "sunset+1"}

	assert.True(t, c.rhythmWindow(at(20, 59, 30), rule))
	assert.False(t, c.rhythmWindow(at(21, 0, 0), rule))

	// Same rule for absolute bounds: "to 17" covers up to 16:59.
	abs := config.RecordRule{Mode: config.RecordModeRhythm, From: "7", To: "17"}
	assert.True(t, c.rhythmWindow(at(16, 59, 0), abs))
	assert.False(t, c.rhythmWindow(at(17, 0, 0), abs))
	assert.False(t, c.rhythmWindow(at(6, 59, 0), abs))
	assert.True(t, c.rhythmWindow(at(7, 0, 0), abs))
}

func TestRhythmWindowWrapsMidnight(t *testing.T) {
	sun := &suntimes.Fixed{SunriseHour: 6, SunriseMinute: 15, SunsetHour: 20, SunsetMinute: 40}
	c := windowController(t, sun)
	rule := config.RecordRule{Mode: config.RecordModeRhythm, From: "sunset+0", To: "sunrise+0"}

	assert.True(t, c.rhythmWindow(at(23, 0, 0), rule))
	assert.True(t, c.rhythmWindow(at(3, 0, 0), rule))
	assert.False(t, c.rhythmWindow(at(12, 0, 0), rule))
}

func TestRhythmSlot(t *testing.T) {
	rule := config.RecordRule{Mode: config.RecordModeRhythm, RhythmSeconds: 20, OffsetSeconds: 5}

	slot := func(h, m, s int) int64 {
		v, ok := rhythmSlot(at(h, m, s), rule)
		require.True(t, ok)
		return v
	}

	// Slots land on seconds 5, 25 and 45 of every minute; a tick between
	// slots resolves to the most recent one.
	assert.Equal(t, at(10, 0, 5).Unix(), slot(10, 0, 5))
	assert.Equal(t, at(10, 0, 5).Unix(), slot(10, 0, 24))
	assert.Equal(t, at(10, 0, 25).Unix(), slot(10, 0, 25))
	assert.Equal(t, at(10, 0, 45).Unix(), slot(10, 0, 59))

	// Before the first slot of a minute the previous minute's last slot
	// applies.
	assert.Equal(t, at(9, 59, 45).Unix(), slot(10, 0, 0))
	assert.Equal(t, at(10, 0, 45).Unix(), slot(10, 1, 4))

	_, ok := rhythmSlot(at(10, 0, 5), config.RecordRule{Mode: config.RecordModeRhythm})
	assert.False(t, ok, "zero rhythm never samples")
}

// A ticker that is not aligned to wall-clock seconds can straddle a slot
// second without ever observing it. The slot value must still advance
// exactly once across the boundary so the sample fires on the next tick.
func TestRhythmSlotSurvivesUnalignedTicks(t *testing.T) {
	rule := config.RecordRule{Mode: config.RecordModeRhythm, RhythmSeconds: 20, OffsetSeconds: 5}

	before, ok := rhythmSlot(time.Date(2026, 6, 15, 10, 0, 24, 990_000_000, time.Local), rule)
	require.True(t, ok)
	after, ok := rhythmSlot(time.Date(2026, 6, 15, 10, 0, 26, 10_000_000, time.Local), rule)
	require.True(t, ok)

	assert.NotEqual(t, before, after)
	assert.Equal(t, at(10, 0, 25).Unix(), after)

	next, ok := rhythmSlot(at(10, 0, 27), rule)
	require.True(t, ok)
	assert.Equal(t, after, next, "later ticks in the same slot do not fire again")
}

func TestLegacyWindow(t *testing.T) {
	rule := config.RecordRule{
		Mode:    config.RecordModeLegacy,
		Hours:   []int{7, 8},
		Seconds: []int{0, 30},
	}

	assert.True(t, legacyWindow(at(7, 15, 0), rule))
	assert.True(t, legacyWindow(at(8, 59, 30), rule))
	assert.False(t, legacyWindow(at(9, 0, 0), rule))
	assert.False(t, legacyWindow(at(7, 15, 10), rule))

	// Empty sets match everything.
	assert.True(t, legacyWindow(at(3, 33, 17), config.RecordRule{Mode: config.RecordModeLegacy}))
}

func TestShouldPersist(t *testing.T) {
	const threshold = 90

	tests := []struct {
		name        string
		hasBaseline bool
		flagged     bool
		topOfHour   bool
		score       float64
		want        bool
	}{
		{"no baseline", false, false, false, similarity.Sentinel, true},
		{"similar frame", true, false, false, 95, false},
		{"different frame", true, false, false, 60, true},
		{"at threshold", true, false, false, 90, false},
		{"sentinel is not very-different", true, false, false, similarity.Sentinel, false},
		{"detection overrides similarity", true, true, false, 95, true},
		{"top of hour overrides similarity", true, false, true, 95, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shouldPersist(tt.hasBaseline, tt.flagged, tt.topOfHour, tt.score, threshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopOfHourTickOncePerHour(t *testing.T) {
	c := windowController(t, &suntimes.Fixed{SunriseHour: 6, SunsetHour: 20})

	assert.True(t, c.topOfHourTick(at(10, 0, 5)))
	c.sched.lastTopHour = 10
	c.sched.lastTopDay = at(10, 0, 5).YearDay()

	assert.False(t, c.topOfHourTick(at(10, 0, 25)), "same hour fires once")
	assert.False(t, c.topOfHourTick(at(10, 30, 0)))
	assert.True(t, c.topOfHourTick(at(11, 0, 5)))
}
