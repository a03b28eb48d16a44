package camera

import (
	"context"
	"time"

	"github.com/perchcam/perchcam/internal/archive"
	"github.com/perchcam/perchcam/internal/config"
	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/similarity"
	"github.com/perchcam/perchcam/internal/stream"
)

// schedulerState is the recording scheduler's bookkeeping. Loop-goroutine
// only except persistErr, which Status reads under the controller mutex.
type schedulerState struct {
	seeded      bool
	lastFrame   *frame.Frame
	lastMeta    archive.FrameMeta
	hasBaseline bool
	lastSlot    int64
	lastTopHour int
	lastTopDay  int
	persistErr  error
}

// runScheduler decides, once per controller tick, whether to persist a
// still frame. While a video session is active, frames feed the session
// and still persistence is suppressed.
func (c *Controller) runScheduler(ctx context.Context, now time.Time) {
	if c.feedSession(now) {
		return
	}
	// Still persistence is optional; a camera can run streams only.
	if c.deps.Store == nil {
		return
	}

	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	if !c.inWindow(now, cfg.Record) {
		return
	}
	if cfg.Record.Mode == config.RecordModeRhythm {
		slot, ok := rhythmSlot(now, cfg.Record)
		if !ok || slot == c.sched.lastSlot {
			return
		}
		c.sched.lastSlot = slot
	}

	dw, ok := c.derived[primaryStream]
	if !ok {
		return
	}
	f, erroring := dw.ReadLatest(ctx, "scheduler/"+c.cameraID, stream.PriorityBackground, false)
	if f == nil || erroring || f.Empty() || f.Maintenance || f.ErrorLabel != "" {
		return
	}

	c.seedBaseline(ctx)

	flagged, err := c.deps.Store.ConsumeDetection(ctx, c.cameraID)
	if err != nil {
		c.logger.Warn("Detection flag read failed", "error", err)
	}

	score := similarity.Sentinel
	if c.sched.hasBaseline && c.sched.lastFrame != nil {
		score = c.deps.Comparator.Compare(c.sched.lastFrame, f, cfg.Detect)
	}

	topOfHour := c.topOfHourTick(now)
	if !shouldPersist(c.sched.hasBaseline, flagged, topOfHour, score, cfg.SimilarityThreshold) {
		return
	}

	meta := archive.FrameMeta{
		CameraID:     c.cameraID,
		Timestamp:    now,
		Similarity:   score,
		DetectRect:   cfg.Detect,
		HasDetection: flagged,
	}
	saved, err := c.deps.Store.SaveFrame(ctx, f, meta)
	if err != nil {
		// Retained for diagnostics; retried on the next sampling tick.
		c.mu.Lock()
		c.sched.persistErr = err
		c.mu.Unlock()
		c.logger.Error("Frame persist failed", "error", err)
		return
	}

	c.mu.Lock()
	c.sched.persistErr = nil
	c.sched.lastFrame = f
	c.sched.lastMeta = saved
	c.sched.hasBaseline = true
	if topOfHour {
		c.sched.lastTopHour = now.Hour()
		c.sched.lastTopDay = now.YearDay()
	}
	c.mu.Unlock()

	c.publish("frame_persisted", map[string]any{
		"similarity": score,
		"detection":  flagged,
	})
}

// shouldPersist is the still-frame persistence decision. A score equal to
// the comparator sentinel means no comparison was possible and never
// counts as "different enough" on its own.
func shouldPersist(hasBaseline, flagged, topOfHour bool, score, threshold float64) bool {
	if !hasBaseline || flagged || topOfHour {
		return true
	}
	return score != similarity.Sentinel && score < threshold
}

// seedBaseline restores the similarity baseline from the newest persisted
// frame after a restart, so the first post-restart comparison is against
// what was actually last stored.
func (c *Controller) seedBaseline(ctx context.Context) {
	if c.sched.seeded {
		return
	}
	c.sched.seeded = true

	meta, ok, err := c.deps.Store.LatestMeta(ctx, c.cameraID)
	if err != nil {
		c.logger.Warn("Baseline metadata read failed", "error", err)
		return
	}
	if !ok {
		return
	}
	f, err := c.deps.Store.LoadFrame(meta)
	if err != nil {
		c.logger.Warn("Baseline frame load failed", "error", err)
		return
	}
	c.sched.lastFrame = f
	c.sched.lastMeta = meta
	c.sched.hasBaseline = true
	c.logger.Info("Similarity baseline restored", "persisted_at", meta.Timestamp.Format(time.RFC3339))
}

// topOfHourTick reports whether this tick is the hourly forced persist,
// at most once per distinct hour.
func (c *Controller) topOfHourTick(now time.Time) bool {
	if now.Minute() != 0 {
		return false
	}
	return now.Hour() != c.sched.lastTopHour || now.YearDay() != c.sched.lastTopDay
}

// rhythmSlot returns the Unix time of the most recent sampling moment at
// or before now. Slot seconds repeat per minute: offset, offset+rhythm and
// so on. The scheduler fires when the slot value changes between ticks, so
// a tick that lands just after the slot second still samples it instead of
// skipping the whole slot.
func rhythmSlot(now time.Time, rule config.RecordRule) (int64, bool) {
	r := int64(rule.RhythmSeconds)
	if r <= 0 {
		return 0, false
	}
	off := int64(rule.OffsetSeconds)
	minute := now.Unix() - int64(now.Second())
	s := int64(now.Second())
	if s < off {
		minute -= 60
		s = 59
	}
	return minute + off + (s-off)/r*r, true
}

// inWindow reports whether now falls inside the recording window.
func (c *Controller) inWindow(now time.Time, rule config.RecordRule) bool {
	switch rule.Mode {
	case config.RecordModeLegacy:
		return legacyWindow(now, rule)
	case config.RecordModeRhythm:
		return c.rhythmWindow(now, rule)
	default:
		return false
	}
}

// legacyWindow matches fixed sets of allowed hours and seconds. Empty sets
// match everything.
func legacyWindow(now time.Time, rule config.RecordRule) bool {
	if len(rule.Hours) > 0 && !containsInt(rule.Hours, now.Hour()) {
		return false
	}
	if len(rule.Seconds) > 0 && !containsInt(rule.Seconds, now.Second()) {
		return false
	}
	return true
}

// rhythmWindow evaluates a from/to window whose bounds may track sunrise
// and sunset. Bounds resolve to minute precision; a "to" bound landing
// exactly on a full hour closes at the end of the previous minute, so the
// window never spills into the next hour.
func (c *Controller) rhythmWindow(now time.Time, rule config.RecordRule) bool {
	from, err := config.ParseBoundary(rule.From)
	if err != nil {
		return false
	}
	to, err := config.ParseBoundary(rule.To)
	if err != nil {
		return false
	}

	sunriseAt, sunsetAt := c.deps.Sun.Times(now)

	fromMin := boundaryMinutes(from, sunriseAt, sunsetAt)
	toMin := boundaryMinutes(to, sunriseAt, sunsetAt)
	if toMin%60 == 0 {
		toMin--
	}

	nowMin := now.Hour()*60 + now.Minute()
	if fromMin <= toMin {
		return nowMin >= fromMin && nowMin <= toMin
	}
	// Window wraps midnight.
	return nowMin >= fromMin || nowMin <= toMin
}

// boundaryMinutes resolves a bound to minutes past midnight. Sun-anchored
// bounds keep the sun event's minute and shift the hour by the offset.
func boundaryMinutes(b config.Boundary, sunriseAt, sunsetAt time.Time) int {
	switch b.Kind {
	case config.BoundarySunrise:
		return clampMinutes((sunriseAt.Hour()+b.OffsetHours)*60 + sunriseAt.Minute())
	case config.BoundarySunset:
		return clampMinutes((sunsetAt.Hour()+b.OffsetHours)*60 + sunsetAt.Minute())
	default:
		return clampMinutes(b.Hour * 60)
	}
}

func clampMinutes(m int) int {
	if m < 0 {
		return 0
	}
	if m > 24*60-1 {
		return 24*60 - 1
	}
	return m
}

func containsInt(vals []int, v int) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
