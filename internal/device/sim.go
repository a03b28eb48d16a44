package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

// simProperties mirrors the V4L2 table so the simulator can stand in for a
// real device in integration setups.
var simProperties = map[PropertyKey]propertyRange{
	PropBrightness: {min: -64, max: 64, def: 0},
	PropContrast:   {min: 0, max: 64, def: 32},
}

// SimulatedHandler generates synthetic frames without hardware. Used for
// sim:// sources and in tests.
type SimulatedHandler struct {
	logger  *logger.Logger
	source  string
	current Resolution

	mu        sync.Mutex
	connected bool
	tick      uint64
	values    map[PropertyKey]int

	// Failure injection for tests.
	FailConnect  bool
	FailReads    bool
	DegradeFirst bool
	ReadDelay    time.Duration

	disconnects int
}

// NewSimulatedHandler creates a synthetic device.
func NewSimulatedHandler(source string, res Resolution, log *logger.Logger) *SimulatedHandler {
	if res.IsZero() {
		res = Resolution{Width: 320, Height: 240}
	}
	values := make(map[PropertyKey]int, len(simProperties))
	for key, rng := range simProperties {
		values[key] = rng.def
	}
	return &SimulatedHandler{
		logger:  log,
		source:  source,
		current: res,
		values:  values,
	}
}

// Connect opens the synthetic device.
func (h *SimulatedHandler) Connect(ctx context.Context) (ConnectResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailConnect {
		return ConnectFailed, &ConnectionError{Source: h.source, Err: fmt.Errorf("simulated connect failure")}
	}
	h.connected = true
	if h.DegradeFirst {
		return ConnectDegraded, nil
	}
	return ConnectOK, nil
}

// Reconnect closes and reopens the synthetic device.
func (h *SimulatedHandler) Reconnect(ctx context.Context) (ConnectResult, error) {
	_ = h.Disconnect()
	return h.Connect(ctx)
}

// Disconnect releases the synthetic device.
func (h *SimulatedHandler) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connected {
		h.disconnects++
	}
	h.connected = false
	return nil
}

// Disconnects returns how many times the device transitioned from
// connected to disconnected. Test hook for teardown assertions.
func (h *SimulatedHandler) Disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

// ReadFrame produces a synthetic frame with a moving gradient so
// consecutive frames differ slightly.
func (h *SimulatedHandler) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	h.mu.Lock()
	connected := h.connected
	fail := h.FailReads
	res := h.current
	tick := h.tick
	h.tick++
	delay := h.ReadDelay
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &ReadError{Source: h.source, Err: ctx.Err()}
		}
	}
	if !connected {
		return nil, &ReadError{Source: h.source, Err: fmt.Errorf("device not connected")}
	}
	if fail {
		return nil, &ReadError{Source: h.source, Err: ErrEmptyFrame}
	}

	f := frame.New(res.Width, res.Height)
	f.Timestamp = time.Now()
	shift := uint8(tick % 256)
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			off := (y*res.Width + x) * 4
			f.Pix[off] = uint8(x) + shift
			f.Pix[off+1] = uint8(y)
			f.Pix[off+2] = shift
			f.Pix[off+3] = 255
		}
	}
	return f, nil
}

// GetProperty returns the current value of a supported property.
func (h *SimulatedHandler) GetProperty(key PropertyKey) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := simProperties[key]; !ok {
		return 0, &UnsupportedPropertyError{Key: key}
	}
	return h.values[key], nil
}

// SetProperty sets a supported property value.
func (h *SimulatedHandler) SetProperty(key PropertyKey, value int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rng, ok := simProperties[key]
	if !ok {
		return &UnsupportedPropertyError{Key: key}
	}
	if value < rng.min || value > rng.max {
		return &OutOfRangeError{Key: key, Value: value, Min: rng.min, Max: rng.max}
	}
	h.values[key] = value
	return nil
}

// CurrentResolution returns the configured resolution.
func (h *SimulatedHandler) CurrentResolution() Resolution { return h.current }

// MaxResolution returns the simulator's fixed maximum.
func (h *SimulatedHandler) MaxResolution() Resolution {
	return Resolution{Width: 1920, Height: 1080}
}

// Source returns the device source identifier.
func (h *SimulatedHandler) Source() string { return h.source }

// SetFailReads toggles read-failure injection.
func (h *SimulatedHandler) SetFailReads(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.FailReads = fail
}
