package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/perchcam/perchcam/internal/device"
	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

// RawState is the lifecycle state of a RawWorker.
type RawState int

const (
	RawIdle RawState = iota
	RawWaitingForDevice
	RawStreaming
	RawDegraded
	RawStopped
)

// String returns a human readable state name.
func (s RawState) String() string {
	switch s {
	case RawIdle:
		return "idle"
	case RawWaitingForDevice:
		return "waiting_for_device"
	case RawStreaming:
		return "streaming"
	case RawDegraded:
		return "degraded"
	case RawStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// fpsWindow is the number of recent ticks averaged into the observed
// framerate.
const fpsWindow = 10

// RawWorker pulls frames from the camera device at a capped rate and
// republishes the newest one. It is the exclusive owner of the bound
// device.Handler; nothing else reads the device.
//
// Published frames are immutable: the worker never mutates a frame after
// publishing it, so readers may hold the returned pointer without copying.
type RawWorker struct {
	cameraID string
	logger   *logger.Logger

	mu        sync.RWMutex
	handler   device.Handler
	state     RawState
	current   *frame.Frame
	lastGood  *frame.Frame
	nextID    uint64
	active    bool
	slow      bool
	stale     bool
	observed  float64
	tickTimes []time.Duration

	defaultFPS    float64
	backgroundFPS float64

	consumers *ConsumerSet
	errs      *ErrorHistory

	firstFrame chan struct{}
	firstOnce  sync.Once

	stopC chan struct{}
	doneC chan struct{}
}

// NewRawWorker creates an acquisition worker for one camera. The device
// handler is bound later by the controller via Bind.
func NewRawWorker(cameraID string, defaultFPS, backgroundFPS float64, consumerTimeout time.Duration, log *logger.Logger) *RawWorker {
	if defaultFPS <= 0 {
		defaultFPS = 10
	}
	if backgroundFPS <= 0 {
		backgroundFPS = 2
	}
	return &RawWorker{
		cameraID:      cameraID,
		logger:        log.Named("raw").WithFields(zap.String("camera_id", cameraID)),
		state:         RawIdle,
		defaultFPS:    defaultFPS,
		backgroundFPS: backgroundFPS,
		consumers:     NewConsumerSet(consumerTimeout),
		errs:          NewErrorHistory(8),
		firstFrame:    make(chan struct{}),
		stopC:         make(chan struct{}),
		doneC:         make(chan struct{}),
	}
}

// Bind attaches a connected device handler. Frame ids keep increasing
// across rebinds so downstream ordering is preserved over reconnects.
func (w *RawWorker) Bind(h device.Handler) {
	w.mu.Lock()
	w.handler = h
	if w.active && h != nil {
		w.state = RawStreaming
	}
	w.mu.Unlock()
}

// Unbind detaches the device handler without disconnecting it. The
// controller owns the disconnect.
func (w *RawWorker) Unbind() device.Handler {
	w.mu.Lock()
	h := w.handler
	w.handler = nil
	if w.state == RawStreaming || w.state == RawDegraded {
		w.state = RawWaitingForDevice
	}
	w.mu.Unlock()
	return h
}

// Activate enables frame acquisition.
func (w *RawWorker) Activate() {
	w.mu.Lock()
	w.active = true
	if w.handler != nil {
		w.state = RawStreaming
	} else {
		w.state = RawWaitingForDevice
	}
	w.mu.Unlock()
}

// Deactivate pauses frame acquisition without tearing the worker down.
func (w *RawWorker) Deactivate() {
	w.mu.Lock()
	w.active = false
	w.state = RawIdle
	w.mu.Unlock()
}

// SlowDown caps acquisition at the background rate regardless of consumer
// priorities. Used while a higher-priority process owns the device budget.
func (w *RawWorker) SlowDown(on bool) {
	w.mu.Lock()
	w.slow = on
	w.mu.Unlock()
}

// SetRates updates the tick budgets on configuration reload.
func (w *RawWorker) SetRates(defaultFPS, backgroundFPS float64) {
	w.mu.Lock()
	if defaultFPS > 0 {
		w.defaultFPS = defaultFPS
	}
	if backgroundFPS > 0 {
		w.backgroundFPS = backgroundFPS
	}
	w.mu.Unlock()
}

// State returns the current lifecycle state.
func (w *RawWorker) State() RawState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// ObservedFPS returns the rolling average framerate over recent ticks.
func (w *RawWorker) ObservedFPS() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.observed
}

// ConsumerCount returns the number of live raw-feed consumers.
func (w *RawWorker) ConsumerCount() int {
	return w.consumers.Count()
}

// Errors exposes the worker's recent error history.
func (w *RawWorker) Errors() *ErrorHistory {
	return w.errs
}

// ReadLatest returns the newest published frame and refreshes the
// consumer's liveness. The returned frame may be the last-good fallback
// with a stale marker when live reads are failing; nil means no frame has
// ever been published.
func (w *RawWorker) ReadLatest(consumerID string, priority Priority) *frame.Frame {
	w.consumers.Touch(consumerID, priority)
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current != nil {
		return w.current
	}
	return w.lastGood
}

// WaitFirstFrame blocks until the first frame has been published or the
// timeout elapses. Only fresh readers use this; it never blocks again once
// a frame exists.
func (w *RawWorker) WaitFirstFrame(ctx context.Context, timeout time.Duration) bool {
	select {
	case <-w.firstFrame:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.firstFrame:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// LastFrameID returns the id of the newest published frame.
func (w *RawWorker) LastFrameID() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.nextID
}

// Run drives the acquisition loop until Stop or context cancellation.
func (w *RawWorker) Run(ctx context.Context) {
	defer close(w.doneC)
	w.logger.Info("Raw acquisition worker started")

	for {
		start := time.Now()

		select {
		case <-ctx.Done():
			w.setState(RawStopped)
			return
		case <-w.stopC:
			w.setState(RawStopped)
			return
		default:
		}

		w.consumers.Sweep(start)
		w.tick(ctx)

		budget := time.Duration(float64(time.Second) / w.targetFPS())
		w.recordTick(time.Since(start), budget)

		if remain := budget - time.Since(start); remain > 0 {
			select {
			case <-time.After(remain):
			case <-w.stopC:
				w.setState(RawStopped)
				return
			case <-ctx.Done():
				w.setState(RawStopped)
				return
			}
		}
	}
}

// Stop signals the loop to exit and waits for it with a bounded grace
// period.
func (w *RawWorker) Stop(grace time.Duration) {
	select {
	case <-w.stopC:
	default:
		close(w.stopC)
	}
	select {
	case <-w.doneC:
	case <-time.After(grace):
		w.logger.Warn("Raw worker did not stop within grace period")
	}
}

// tick performs a single acquisition attempt.
func (w *RawWorker) tick(ctx context.Context) {
	w.mu.RLock()
	h := w.handler
	active := w.active
	w.mu.RUnlock()

	if !active {
		w.setState(RawIdle)
		return
	}
	if h == nil {
		w.setState(RawWaitingForDevice)
		return
	}

	f, err := h.ReadFrame(ctx)
	if err != nil {
		w.onReadFailure(err)
		return
	}
	w.publish(f)
}

// publish installs a fresh frame as both current and last-good.
func (w *RawWorker) publish(f *frame.Frame) {
	w.mu.Lock()
	w.nextID++
	f.ID = w.nextID
	f.CameraID = w.cameraID
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	w.current = f
	w.lastGood = f
	w.stale = false
	w.state = RawStreaming
	w.mu.Unlock()

	w.firstOnce.Do(func() { close(w.firstFrame) })
}

// onReadFailure records the error and falls back to the last-good frame.
// The stale marker is stamped once, on the first failure after a
// successful read, onto a clone so the already-published frame stays
// immutable.
func (w *RawWorker) onReadFailure(err error) {
	w.errs.Record(err.Error())

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == RawStreaming {
		w.logger.Warn("Frame read failed, serving last-good frame", "error", err)
	}
	w.state = RawDegraded

	if !w.stale && w.lastGood != nil {
		marked := w.lastGood.Clone()
		frame.StampStaleMarker(marked)
		w.lastGood = marked
		w.current = marked
		w.stale = true
	}
}

// targetFPS selects the applicable tick budget.
func (w *RawWorker) targetFPS() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.slow || w.consumers.OnlyBackground() {
		return w.backgroundFPS
	}
	return w.defaultFPS
}

// recordTick folds one tick duration into the rolling framerate average.
func (w *RawWorker) recordTick(elapsed, budget time.Duration) {
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

func (w *RawWorker) setState(s RawState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}
