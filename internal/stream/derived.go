package stream

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/perchcam/perchcam/internal/config"
	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

// Kind selects the presentation applied by a derived stream.
type Kind string

const (
	KindRaw        Kind = "raw"
	KindNormalized Kind = "normalized"
	KindAnnotated  Kind = "annotated"
	KindOverlay    Kind = "overlay"
)

// ResolutionClass selects the output size of a derived stream.
type ResolutionClass string

const (
	ResFull  ResolutionClass = "full"
	ResThumb ResolutionClass = "thumb"
)

var (
	cropGuideColor   = color.RGBA{R: 64, G: 200, B: 255, A: 255}
	detectGuideColor = color.RGBA{R: 255, G: 64, B: 64, A: 255}
)

// DerivedWorker consumes the raw feed of one camera and republishes a
// transformed variant at its own capped rate. One worker runs per
// (kind, resolution) combination.
type DerivedWorker struct {
	cameraID string
	kind     Kind
	res      ResolutionClass
	logger   *logger.Logger

	raw *RawWorker

	mu           sync.RWMutex
	cfg          config.CameraConfig
	latest       *frame.Frame
	erroring     bool
	lastRawID    uint64
	lastRawStale bool
	maint        frame.Maintenance
	fpsCap       float64
	observed     float64
	tickTimes    []time.Duration

	// camErr reports the owning camera's most recent error for frame
	// annotation; optional.
	camErr func() string

	consumers *ConsumerSet
	errs      *ErrorHistory

	firstFrame chan struct{}
	firstOnce  sync.Once

	firstFrameWait time.Duration

	stopC chan struct{}
	doneC chan struct{}
}

// NewDerivedWorker creates a derived stream worker bound to a raw feed.
func NewDerivedWorker(cameraID string, kind Kind, res ResolutionClass, raw *RawWorker,
	cfg config.CameraConfig, fpsCap float64, consumerTimeout, firstFrameWait time.Duration,
	log *logger.Logger) *DerivedWorker {

	if fpsCap <= 0 {
		fpsCap = 5
	}
	if firstFrameWait <= 0 {
		firstFrameWait = 3 * time.Second
	}
	return &DerivedWorker{
		cameraID:       cameraID,
		kind:           kind,
		res:            res,
		logger: log.Named("derived").WithFields(
			zap.String("camera_id", cameraID),
			zap.String("kind", string(kind)),
			zap.String("res", string(res)),
		),
		raw:            raw,
		cfg:            cfg,
		fpsCap:         fpsCap,
		consumers:      NewConsumerSet(consumerTimeout),
		errs:           NewErrorHistory(8),
		firstFrame:     make(chan struct{}),
		firstFrameWait: firstFrameWait,
		stopC:          make(chan struct{}),
		doneC:          make(chan struct{}),
	}
}

// Kind returns the worker's presentation type.
func (w *DerivedWorker) Kind() Kind { return w.kind }

// Resolution returns the worker's resolution class.
func (w *DerivedWorker) Resolution() ResolutionClass { return w.res }

// SetCameraError installs the callback supplying the owning camera's most
// recent error text for error-frame annotation.
func (w *DerivedWorker) SetCameraError(fn func() string) {
	w.mu.Lock()
	w.camErr = fn
	w.mu.Unlock()
}

// ApplyConfig installs a new camera configuration snapshot. The raw worker
// must already hold the same snapshot; the controller linearizes this.
func (w *DerivedWorker) ApplyConfig(cfg config.CameraConfig) {
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

// SetRateCap installs a new publish-rate ceiling. Non-positive values are
// ignored; the loop picks the new budget up on its next tick.
func (w *DerivedWorker) SetRateCap(fps float64) {
	if fps <= 0 {
		return
	}
	w.mu.Lock()
	w.fpsCap = fps
	w.mu.Unlock()
}

// SetMaintenance switches the worker into or out of maintenance mode. While
// active the worker serves a static message frame instead of deriving from
// live frames.
func (w *DerivedWorker) SetMaintenance(m frame.Maintenance) {
	w.mu.Lock()
	w.maint = m
	if m.Active {
		width, height := w.outputSizeLocked()
		mf := frame.NewMaintenanceFrame(m, width, height)
		mf.CameraID = w.cameraID
		w.latest = mf
		w.erroring = false
	}
	w.mu.Unlock()
	if m.Active {
		w.firstOnce.Do(func() { close(w.firstFrame) })
	}
}

// InMaintenance reports whether maintenance mode is active.
func (w *DerivedWorker) InMaintenance() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.maint.Active
}

// ObservedFPS returns the rolling average publish rate.
func (w *DerivedWorker) ObservedFPS() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.observed
}

// ConsumerCount returns the number of live consumers of this stream.
func (w *DerivedWorker) ConsumerCount() int {
	return w.consumers.Count()
}

// Errors exposes the worker's recent error history.
func (w *DerivedWorker) Errors() *ErrorHistory {
	return w.errs
}

// ReadLatest returns the newest derived frame and refreshes the consumer's
// liveness. A fresh reader may wait up to the first-frame timeout when wait
// is set; subsequent reads never block. The bool reports whether the stream
// is currently erroring (the frame is then a synthetic error frame or
// stale).
func (w *DerivedWorker) ReadLatest(ctx context.Context, consumerID string, priority Priority, wait bool) (*frame.Frame, bool) {
	w.consumers.Touch(consumerID, priority)

	if wait {
		select {
		case <-w.firstFrame:
		default:
			t := time.NewTimer(w.firstFrameWait)
			select {
			case <-w.firstFrame:
				t.Stop()
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}

	w.mu.RLock()
	f := w.latest
	erroring := w.erroring
	w.mu.RUnlock()

	if f == nil {
		ef := frame.NewErrorFrame(frame.ErrorNotConnected, w.latestErrorText(), 0, 0)
		ef.CameraID = w.cameraID
		return ef, true
	}
	return f, erroring
}

// Run drives the derivation loop until Stop or context cancellation.
func (w *DerivedWorker) Run(ctx context.Context) {
	defer close(w.doneC)

	for {
		start := time.Now()

		select {
		case <-ctx.Done():
			return
		case <-w.stopC:
			return
		default:
		}

		w.consumers.Sweep(start)
		w.tick()

		budget := time.Duration(float64(time.Second) / w.capFPS())
		w.recordTick(time.Since(start), budget)

		if remain := budget - time.Since(start); remain > 0 {
			select {
			case <-time.After(remain):
			case <-w.stopC:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop signals the loop to exit and waits for it with a bounded grace
// period.
func (w *DerivedWorker) Stop(grace time.Duration) {
	select {
	case <-w.stopC:
	default:
		close(w.stopC)
	}
	select {
	case <-w.doneC:
	case <-time.After(grace):
		w.logger.Warn("Derived worker did not stop within grace period")
	}
}

// tick derives and publishes one frame.
func (w *DerivedWorker) tick() {
	w.mu.RLock()
	maint := w.maint
	lastID := w.lastRawID
	lastStale := w.lastRawStale
	w.mu.RUnlock()

	// Maintenance frames are static; SetMaintenance already published one.
	if maint.Active {
		return
	}

	src := w.raw.ReadLatest(w.rawConsumerID(), w.rawPriority())
	if src == nil {
		w.publishError(frame.ErrorNotConnected, w.latestErrorText())
		return
	}
	// Never republish a frame older than one already published. A failed
	// read republishes the last-good frame with a stale mark and an
	// unchanged id; that one is derived once more so the mark reaches
	// consumers.
	if src.ID != 0 && src.ID <= lastID {
		if src.ID != lastID || !src.Stale || lastStale {
			return
		}
	}

	out, err := w.derive(src)
	if err != nil {
		w.errs.Record(err.Error())
		w.publishError(frame.ErrorStream, err.Error())
		return
	}
	w.publish(out, src.ID, src.Stale)
}

// derive applies the transform pipeline for this worker's kind and
// resolution.
func (w *DerivedWorker) derive(src *frame.Frame) (*frame.Frame, error) {
	if src.Empty() {
		return nil, fmt.Errorf("empty source frame %d", src.ID)
	}

	w.mu.RLock()
	cfg := w.cfg
	observed := w.raw.ObservedFPS()
	w.mu.RUnlock()

	f := src
	if cfg.Rotation != 0 {
		f = frame.Rotate(f, cfg.Rotation)
	}

	if w.kind == KindNormalized {
		f = frame.Grayscale(f)
	}

	// The overlay stream stays uncropped so the crop guide is visible in
	// context; the annotated stream serves the cropped view itself.
	if w.kind == KindAnnotated && !cfg.Crop.IsZero() {
		f = frame.Crop(f, cfg.Crop)
	}

	// Drawing stages need a private copy; the source is shared.
	needsDraw := w.kind == KindOverlay || (w.res == ResFull && w.kind != KindRaw)
	if needsDraw && f == src {
		f = f.Clone()
	}

	if w.kind == KindOverlay {
		frame.DrawRectOutline(f, cfg.Crop, cropGuideColor)
		frame.DrawRectOutline(f, cfg.Detect, detectGuideColor)
	}

	// Thumbnails skip the caption to keep the pipeline cheap.
	if w.res == ResFull && w.kind != KindRaw {
		caption := fmt.Sprintf("%s  %s  %.1f fps", cfg.Name,
			src.Timestamp.Format("2006-01-02 15:04:05"), observed)
		frame.StampCaption(f, caption)
	}

	if w.res == ResThumb {
		f = frame.Downscale(f, cfg.ThumbWidth, 0)
	}

	if f.Empty() {
		return nil, fmt.Errorf("transform produced empty frame %d", src.ID)
	}
	return f, nil
}

// publish installs a derived frame as the latest.
func (w *DerivedWorker) publish(f *frame.Frame, rawID uint64, rawStale bool) {
	w.mu.Lock()
	w.latest = f
	w.lastRawID = rawID
	w.lastRawStale = rawStale
	w.erroring = false
	w.mu.Unlock()
	w.firstOnce.Do(func() { close(w.firstFrame) })
}

// publishError installs a synthetic error frame, de-duplicated so a steady
// error does not churn the published frame every tick.
func (w *DerivedWorker) publishError(kind frame.ErrorKind, detail string) {
	w.mu.Lock()
	if w.erroring && w.latest != nil && w.latest.ErrorLabel == string(kind) {
		w.mu.Unlock()
		return
	}
	width, height := w.outputSizeLocked()
	ef := frame.NewErrorFrame(kind, detail, width, height)
	ef.CameraID = w.cameraID
	w.latest = ef
	w.erroring = true
	w.mu.Unlock()
	w.firstOnce.Do(func() { close(w.firstFrame) })
}

// latestErrorText picks the most relevant recent error for annotation.
func (w *DerivedWorker) latestErrorText() string {
	if msg := w.errs.Latest(); msg != "" {
		return msg
	}
	if msg := w.raw.Errors().Latest(); msg != "" {
		return msg
	}
	w.mu.RLock()
	fn := w.camErr
	w.mu.RUnlock()
	if fn != nil {
		return fn()
	}
	return ""
}

// outputSizeLocked returns the synthetic-frame dimensions for this stream.
// Callers hold w.mu.
func (w *DerivedWorker) outputSizeLocked() (int, int) {
	width := w.cfg.Width
	height := w.cfg.Height
	if w.res == ResThumb && w.cfg.ThumbWidth > 0 && width > 0 {
		height = (height * w.cfg.ThumbWidth) / width
		width = w.cfg.ThumbWidth
	}
	return width, height
}

// rawConsumerID is this worker's identity on the raw feed.
func (w *DerivedWorker) rawConsumerID() string {
	return fmt.Sprintf("%s/%s/%s", w.cameraID, w.kind, w.res)
}

// rawPriority mirrors this stream's own consumer mix onto the raw feed so
// the acquisition rate only drops when nothing interactive is watching.
func (w *DerivedWorker) rawPriority() Priority {
	if w.consumers.OnlyBackground() || w.consumers.Count() == 0 {
		return PriorityBackground
	}
	return PriorityInteractive
}

func (w *DerivedWorker) capFPS() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fpsCap
}

// recordTick folds one tick duration into the rolling framerate average.
func (w *DerivedWorker) recordTick(elapsed, budget time.Duration) {
	if elapsed < budget {
		elapsed = budget
	}
	w.mu.Lock()
	w.tickTimes = append(w.tickTimes, elapsed)
	if len(w.tickTimes) > fpsWindow {
		w.tickTimes = w.tickTimes[len(w.tickTimes)-fpsWindow:]
	}
	var total time.Duration
	for _, d := range w.tickTimes {
		total += d
	}
	if total > 0 {
		w.observed = float64(len(w.tickTimes)) / total.Seconds()
	}
	w.mu.Unlock()
}
