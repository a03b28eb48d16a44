package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/perchcam/perchcam/internal/archive"
	"github.com/perchcam/perchcam/internal/config"
	"github.com/perchcam/perchcam/internal/device"
	"github.com/perchcam/perchcam/internal/encoder"
	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
	"github.com/perchcam/perchcam/internal/similarity"
	"github.com/perchcam/perchcam/internal/stream"
	"github.com/perchcam/perchcam/internal/suntimes"
)

// FrameStore is the persistence collaborator. The controller only decides
// when to persist; storage layout belongs to the store.
type FrameStore interface {
	SaveFrame(ctx context.Context, f *frame.Frame, meta archive.FrameMeta) (archive.FrameMeta, error)
	LatestMeta(ctx context.Context, cameraID string) (archive.FrameMeta, bool, error)
	LoadFrame(meta archive.FrameMeta) (*frame.Frame, error)
	ConsumeDetection(ctx context.Context, cameraID string) (bool, error)
}

// Publisher receives camera lifecycle events; optional.
type Publisher interface {
	Publish(topic string, payload any)
}

// StreamKey identifies one derived stream variant.
type StreamKey struct {
	Kind stream.Kind
	Res  stream.ResolutionClass
}

// defaultStreams is the derived variant set every camera runs.
var defaultStreams = []StreamKey{
	{stream.KindRaw, stream.ResFull},
	{stream.KindRaw, stream.ResThumb},
	{stream.KindAnnotated, stream.ResFull},
	{stream.KindAnnotated, stream.ResThumb},
	{stream.KindNormalized, stream.ResFull},
	{stream.KindOverlay, stream.ResFull},
}

// primaryStream is the variant the recording scheduler persists from.
var primaryStream = StreamKey{stream.KindAnnotated, stream.ResFull}

// Deps bundles the external collaborators a controller needs.
type Deps struct {
	FFmpeg     *device.FFmpeg
	Store      FrameStore
	Encoder    encoder.Encoder
	Sun        suntimes.Provider
	Comparator *similarity.Comparator
	Publisher  Publisher
	Priority   *PriorityToken
}

// Controller supervises one camera: device lifecycle with backoff
// reconnects, hot configuration reloads, the derived stream set and the
// recording scheduler. It is the only component that mutates camera-wide
// state or touches the device beyond frame reads.
type Controller struct {
	cameraID string
	logger   *logger.Logger
	deps     Deps

	mu       sync.RWMutex
	cfg      config.CameraConfig
	pipe     config.PipelineConfig
	handler  device.Handler
	degraded bool

	raw     *stream.RawWorker
	derived map[StreamKey]*stream.DerivedWorker

	// Reconnect bookkeeping, loop-goroutine only.
	connected     bool
	nextRetry     time.Time
	backoff       time.Duration
	lastConnectOK time.Time
	errorSince    time.Time
	lastReload    time.Time
	lastError     string

	sched   schedulerState
	session *VideoSession

	stopC   chan struct{}
	doneC   chan struct{}
	started bool
}

// NewController creates a controller for one configured camera.
func NewController(cfg config.CameraConfig, pipe config.PipelineConfig, deps Deps, log *logger.Logger) *Controller {
	camLog := log.Named("camera").WithFields(zap.String("camera_id", cfg.ID))

	raw := stream.NewRawWorker(cfg.ID, pipe.DefaultFPS, pipe.BackgroundFPS,
		pipe.ConsumerTimeout, log)

	c := &Controller{
		cameraID:   cfg.ID,
		logger:     camLog,
		deps:       deps,
		cfg:        cfg,
		pipe:       pipe,
		raw:        raw,
		derived:    make(map[StreamKey]*stream.DerivedWorker, len(defaultStreams)),
		backoff:    pipe.ReconnectBackoff,
		lastReload: time.Now(),
		stopC:      make(chan struct{}),
		doneC:      make(chan struct{}),
	}
	c.sched.lastTopHour = -1

	for _, key := range defaultStreams {
		cap := pipe.DefaultFPS
		if key.Res == stream.ResThumb {
			cap = pipe.ThumbFPS
		}
		dw := stream.NewDerivedWorker(cfg.ID, key.Kind, key.Res, raw, cfg,
			cap, pipe.ConsumerTimeout, pipe.FirstFrameWait, log)
		dw.SetCameraError(c.LastError)
		c.derived[key] = dw
	}
	return c
}

// ID returns the camera id.
func (c *Controller) ID() string { return c.cameraID }

// Start launches the raw worker, the derived workers and the control loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("camera %s already started", c.cameraID)
	}
	c.started = true
	cfg := c.cfg
	c.mu.Unlock()

	go c.raw.Run(ctx)
	for _, dw := range c.derived {
		go dw.Run(ctx)
	}
	if cfg.Active {
		c.raw.Activate()
	}
	c.setMaintenance("Connecting", "please wait")

	go c.loop(ctx)
	c.logger.Info("Camera controller started", "active", cfg.Active, "source", cfg.Source)
	return nil
}

// Stop tears the camera down: controller loop first so no new decisions
// start, then derived workers, then the raw worker, then the device. The
// device is disconnected exactly once regardless of exit path.
func (c *Controller) Stop(ctx context.Context) error {
	select {
	case <-c.stopC:
	default:
		close(c.stopC)
	}
	select {
	case <-c.doneC:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Controller loop did not stop within grace period")
	case <-ctx.Done():
	}

	c.stopRecording(true)

	for _, dw := range c.derived {
		dw.Stop(2 * time.Second)
	}
	c.raw.Stop(2 * time.Second)

	if h := c.raw.Unbind(); h != nil {
		if err := h.Disconnect(); err != nil {
			c.logger.Warn("Device disconnect failed", "error", err)
		}
	}
	c.mu.Lock()
	c.handler = nil
	c.connected = false
	c.mu.Unlock()

	c.logger.Info("Camera controller stopped")
	return nil
}

// loop is the per-camera control task: reconnects, error recovery and the
// recording scheduler, one pass per tick.
func (c *Controller) loop(ctx context.Context) {
	defer close(c.doneC)

	ticker := time.NewTicker(c.pipe.ControllerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopC:
			return
		case now := <-ticker.C:
			c.tick(ctx, now)
		}
	}
}

func (c *Controller) tick(ctx context.Context, now time.Time) {
	c.mu.RLock()
	active := c.cfg.Active
	c.mu.RUnlock()
	if !active {
		return
	}

	c.applyPriority()
	c.ensureConnected(ctx, now)

	// A camera in error keeps serving degraded streams but never calls
	// into persistence or the video session. An interrupted recording is
	// finalized, not cancelled: the footage up to the failure stays on
	// disk.
	if c.inError() {
		c.stopRecording(false)
		return
	}
	c.runScheduler(ctx, now)
}

// ensureConnected drives the reconnect state machine with exponential
// backoff, plus a forced reconnect after a continuous error interval.
func (c *Controller) ensureConnected(ctx context.Context, now time.Time) {
	c.mu.RLock()
	connected := c.connected
	errorSince := c.errorSince
	c.mu.RUnlock()

	if connected {
		if c.raw.State() == stream.RawDegraded {
			if errorSince.IsZero() {
				c.mu.Lock()
				c.errorSince = now
				c.mu.Unlock()
			} else if now.Sub(errorSince) >= c.pipe.ErrorReconnectAfter {
				c.logger.Warn("Continuous read errors, forcing reconnect",
					"since", errorSince.Format(time.RFC3339))
				c.disconnect()
				c.scheduleRetry(now, true)
			}
		} else if !errorSince.IsZero() {
			c.mu.Lock()
			c.errorSince = time.Time{}
			c.mu.Unlock()
		}
		return
	}

	if now.Before(c.retryAt()) {
		return
	}
	c.connect(ctx, now)
}

// connect opens the device and binds it to the raw worker. Failure leaves
// the derived streams in maintenance mode and schedules the next retry.
func (c *Controller) connect(ctx context.Context, now time.Time) {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	h, err := device.NewHandler(c.deps.FFmpeg, cfg.Source,
		device.Resolution{Width: cfg.Width, Height: cfg.Height}, c.logger)
	if err != nil {
		c.onConnectFailure(now, err)
		return
	}

	result, err := h.Connect(ctx)
	switch result {
	case device.ConnectFailed:
		c.onConnectFailure(now, err)
		return
	case device.ConnectDegraded:
		c.logger.Warn("Device connected degraded, first frame read failed", "error", err)
	}

	c.applyProperties(h, cfg.Properties)

	c.mu.Lock()
	c.handler = h
	c.connected = true
	c.degraded = result == device.ConnectDegraded
	c.lastConnectOK = now
	c.errorSince = time.Time{}
	c.backoff = c.pipe.ReconnectBackoff
	c.lastError = ""
	c.mu.Unlock()

	c.raw.Bind(h)
	c.clearMaintenance()
	c.publish("connected", map[string]any{"degraded": result == device.ConnectDegraded})
	c.logger.Info("Device connected", "result", result.String(),
		"resolution", fmt.Sprintf("%dx%d", h.CurrentResolution().Width, h.CurrentResolution().Height))
}

func (c *Controller) onConnectFailure(now time.Time, err error) {
	msg := "connect failed"
	if err != nil {
		msg = err.Error()
	}
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()

	c.logger.Error("Device connect failed", "error", msg, "retry_in", c.backoffValue().String())
	c.setMaintenance("Camera unavailable", "restart camera")
	c.scheduleRetry(now, false)
	c.publish("connect_failed", map[string]any{"error": msg})
}

// scheduleRetry sets the next attempt time, doubling the backoff up to the
// configured cap. immediate resets the backoff first (used for forced
// reconnects where the device was previously healthy).
func (c *Controller) scheduleRetry(now time.Time, immediate bool) {
	c.mu.Lock()
	if immediate {
		c.backoff = c.pipe.ReconnectBackoff
		c.nextRetry = now
	} else {
		c.nextRetry = now.Add(c.backoff)
		c.backoff *= 2
		if c.backoff > c.pipe.MaxReconnectBackoff {
			c.backoff = c.pipe.MaxReconnectBackoff
		}
	}
	c.mu.Unlock()
}

// disconnect unbinds and closes the device.
func (c *Controller) disconnect() {
	h := c.raw.Unbind()
	c.mu.Lock()
	c.handler = nil
	c.connected = false
	c.errorSince = time.Time{}
	c.mu.Unlock()
	if h != nil {
		if err := h.Disconnect(); err != nil {
			c.logger.Warn("Device disconnect failed", "error", err)
		}
	}
	c.setMaintenance("Reconnecting", "please wait")
	c.publish("disconnected", nil)
}

// applyProperties pushes the configured device properties; unsupported or
// out-of-range values are logged and skipped, never fatal.
func (c *Controller) applyProperties(h device.Handler, props map[string]int) {
	for key, value := range props {
		if err := h.SetProperty(device.PropertyKey(key), value); err != nil {
			c.logger.Warn("Device property not applied", "key", key, "value", value, "error", err)
		}
	}
}

// Reload applies a new configuration snapshot. The raw worker is updated
// before any derived worker so no derived stream observes a mixed config.
// A reconnect is triggered only when device-affecting fields changed.
func (c *Controller) Reload(ctx context.Context, next config.CameraConfig, pipe config.PipelineConfig) error {
	c.mu.Lock()
	prev := c.cfg
	c.cfg = next
	c.pipe = pipe
	c.lastReload = time.Now()
	c.mu.Unlock()

	c.raw.SetRates(pipe.DefaultFPS, pipe.BackgroundFPS)
	for key, dw := range c.derived {
		cap := pipe.DefaultFPS
		if key.Res == stream.ResThumb {
			cap = pipe.ThumbFPS
		}
		dw.SetRateCap(cap)
		dw.ApplyConfig(next)
	}

	if prev.Active && !next.Active {
		c.raw.Deactivate()
		c.stopRecording(true)
		c.disconnect()
		c.logger.Info("Camera deactivated by reload")
		return nil
	}
	if !prev.Active && next.Active {
		c.raw.Activate()
		c.scheduleRetry(time.Now(), true)
		c.logger.Info("Camera activated by reload")
	}

	if next.Active && prev.DeviceAffectingChanged(next) {
		c.logger.Info("Device-affecting config changed, reconnecting",
			"source", next.Source)
		c.disconnect()
		c.scheduleRetry(time.Now(), true)
	} else if c.isConnected() {
		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h != nil {
			c.applyProperties(h, next.Properties)
		}
	}
	return nil
}

// ReadLatest serves a consumer read for one derived stream variant.
func (c *Controller) ReadLatest(ctx context.Context, key StreamKey, consumerID string, wait bool) (*frame.Frame, bool, error) {
	dw, ok := c.derived[key]
	if !ok {
		return nil, false, fmt.Errorf("camera %s has no %s/%s stream", c.cameraID, key.Kind, key.Res)
	}
	f, erroring := dw.ReadLatest(ctx, consumerID, stream.PriorityInteractive, wait)
	return f, erroring, nil
}

// Status is the controller's diagnostics snapshot.
type Status struct {
	CameraID      string             `json:"camera_id"`
	Name          string             `json:"name"`
	Active        bool               `json:"active"`
	Connected     bool               `json:"connected"`
	Degraded      bool               `json:"degraded"`
	Recording     bool               `json:"recording"`
	RawState      string             `json:"raw_state"`
	ObservedFPS   float64            `json:"observed_fps"`
	Consumers     int                `json:"consumers"`
	LastReloadAge string             `json:"last_reload_age"`
	LastError     string             `json:"last_error,omitempty"`
	PersistError  string             `json:"persist_error,omitempty"`
	StreamErrors  map[string]int     `json:"stream_errors"`
	StreamFPS     map[string]float64 `json:"stream_fps"`
	RecentErrors  []string           `json:"recent_errors,omitempty"`
}

// Status returns the current diagnostics snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		CameraID:      c.cameraID,
		Name:          c.cfg.Name,
		Active:        c.cfg.Active,
		Connected:     c.connected,
		Degraded:      c.degraded,
		Recording:     c.session != nil,
		LastReloadAge: time.Since(c.lastReload).Truncate(time.Second).String(),
		LastError:     c.lastError,
	}
	if c.sched.persistErr != nil {
		st.PersistError = c.sched.persistErr.Error()
	}
	c.mu.RUnlock()

	st.RawState = c.raw.State().String()
	st.ObservedFPS = c.raw.ObservedFPS()
	st.Consumers = c.raw.ConsumerCount()
	st.RecentErrors = c.raw.Errors().Recent()

	st.StreamErrors = make(map[string]int, len(c.derived))
	st.StreamFPS = make(map[string]float64, len(c.derived))
	for key, dw := range c.derived {
		name := fmt.Sprintf("%s/%s", key.Kind, key.Res)
		st.StreamErrors[name] = dw.Errors().Count()
		st.StreamFPS[name] = dw.ObservedFPS()
	}
	return st
}

// LastError returns the most recent camera-level error text.
func (c *Controller) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Config returns the current configuration snapshot.
func (c *Controller) Config() config.CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Controller) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// inError reports whether the camera is currently failing: disconnected or
// with a raw stream stuck in degraded reads.
func (c *Controller) inError() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return true
	}
	return c.raw.State() == stream.RawDegraded
}

func (c *Controller) retryAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextRetry
}

func (c *Controller) backoffValue() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backoff
}

// setMaintenance freezes every derived stream on a message frame.
func (c *Controller) setMaintenance(line1, line2 string) {
	m := frame.Maintenance{Active: true, Line1: line1, Line2: line2}
	for _, dw := range c.derived {
		dw.SetMaintenance(m)
	}
}

func (c *Controller) clearMaintenance() {
	for _, dw := range c.derived {
		dw.SetMaintenance(frame.Maintenance{})
	}
}

func (c *Controller) publish(event string, payload map[string]any) {
	if c.deps.Publisher == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["camera_id"] = c.cameraID
	payload["time"] = time.Now().Format(time.RFC3339)
	c.deps.Publisher.Publish("camera/"+c.cameraID+"/"+event, payload)
}
