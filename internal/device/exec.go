package device

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

// defaultReadTimeout bounds a single device read so a hung device cannot
// stall the whole camera.
const defaultReadTimeout = 5 * time.Second

// execHandler is the shared implementation for handlers that pull raw
// frames through an ffmpeg child process. Variants supply the input
// arguments and their own property behavior.
type execHandler struct {
	ffmpeg      *FFmpeg
	logger      *logger.Logger
	source      string
	readTimeout time.Duration
	current     Resolution
	max         Resolution

	props  map[PropertyKey]propertyRange
	values map[PropertyKey]int

	// inputArgs returns the ffmpeg input arguments for one frame read.
	inputArgs func() []string
	// applyProperty pushes a validated value to the device, if the
	// backend does that in hardware. May be nil.
	applyProperty func(key PropertyKey, value int) error

	mu        sync.Mutex
	connected bool
}

func newExecHandler(ffmpeg *FFmpeg, source string, res Resolution, props map[PropertyKey]propertyRange, log *logger.Logger) *execHandler {
	if res.IsZero() {
		res = Resolution{Width: 1280, Height: 720}
	}
	values := make(map[PropertyKey]int, len(props))
	for key, rng := range props {
		values[key] = rng.def
	}
	return &execHandler{
		ffmpeg:      ffmpeg,
		logger:      log,
		source:      source,
		readTimeout: defaultReadTimeout,
		current:     res,
		max:         Resolution{Width: 1920, Height: 1080},
		props:       props,
		values:      values,
	}
}

// Connect probes the source and attempts a first read. A readable source
// whose first frame fails yields a degraded result.
func (h *execHandler) Connect(ctx context.Context) (ConnectResult, error) {
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()

	if err := h.ffmpeg.Probe(ctx, h.source); err != nil {
		return ConnectFailed, &ConnectionError{Source: h.source, Err: err}
	}

	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()

	if _, err := h.ReadFrame(ctx); err != nil {
		h.logger.Warn("Device opened but first read failed",
			"source", h.source, "error", err)
		return ConnectDegraded, nil
	}
	return ConnectOK, nil
}

// Reconnect closes and reopens the device.
func (h *execHandler) Reconnect(ctx context.Context) (ConnectResult, error) {
	_ = h.Disconnect()
	return h.Connect(ctx)
}

// Disconnect releases the device. Exec-backed handlers hold no persistent
// OS resource between reads, so this only clears the connected flag.
func (h *execHandler) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
	return nil
}

// ReadFrame reads one raw RGBA frame via ffmpeg.
func (h *execHandler) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	h.mu.Lock()
	connected := h.connected
	res := h.current
	h.mu.Unlock()

	if !connected {
		return nil, &ReadError{Source: h.source, Err: fmt.Errorf("device not connected")}
	}

	readCtx, cancel := context.WithTimeout(ctx, h.readTimeout)
	defer cancel()

	args := append(h.inputArgs(),
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", res.Width, res.Height),
		"-",
	)
	cmd := h.ffmpeg.BuildCommand(readCtx, args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &ReadError{
			Source: h.source,
			Err:    fmt.Errorf("ffmpeg read failed: %w: %s", err, stderr.String()),
		}
	}

	data := stdout.Bytes()
	want := res.Width * res.Height * 4
	if len(data) < want {
		return nil, &ReadError{Source: h.source, Err: ErrEmptyFrame}
	}

	f := frame.New(res.Width, res.Height)
	copy(f.Pix, data[:want])
	f.Timestamp = time.Now()
	return f, nil
}

// GetProperty returns the current value of a supported property.
func (h *execHandler) GetProperty(key PropertyKey) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.props[key]; !ok {
		return 0, &UnsupportedPropertyError{Key: key}
	}
	return h.values[key], nil
}

// SetProperty validates and applies a property value.
func (h *execHandler) SetProperty(key PropertyKey, value int) error {
	h.mu.Lock()
	rng, ok := h.props[key]
	h.mu.Unlock()
	if !ok {
		return &UnsupportedPropertyError{Key: key}
	}
	if value < rng.min || value > rng.max {
		return &OutOfRangeError{Key: key, Value: value, Min: rng.min, Max: rng.max}
	}
	if h.applyProperty != nil {
		if err := h.applyProperty(key, value); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.values[key] = value
	h.mu.Unlock()
	return nil
}

// CurrentResolution returns the configured capture resolution.
func (h *execHandler) CurrentResolution() Resolution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// MaxResolution returns the largest resolution the device reports.
func (h *execHandler) MaxResolution() Resolution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.max
}

// Source returns the device source identifier.
func (h *execHandler) Source() string { return h.source }
