package device

import (
	"context"

	"github.com/perchcam/perchcam/internal/frame"
)

// ConnectResult reports the outcome of opening a device.
type ConnectResult int

const (
	// ConnectFailed means the device could not be opened at all.
	ConnectFailed ConnectResult = iota
	// ConnectDegraded means the device opened but the first frame read
	// failed or returned empty. The camera is usable but callers should
	// flag a warning rather than a hard failure.
	ConnectDegraded
	// ConnectOK means the device opened and produced a frame.
	ConnectOK
)

// String returns a human-readable connect result.
func (r ConnectResult) String() string {
	switch r {
	case ConnectOK:
		return "ok"
	case ConnectDegraded:
		return "degraded"
	default:
		return "failed"
	}
}

// PropertyKey identifies a numeric device property. Each backend declares
// its own closed table of supported keys.
type PropertyKey string

const (
	PropBrightness PropertyKey = "brightness"
	PropContrast   PropertyKey = "contrast"
	PropSaturation PropertyKey = "saturation"
	PropExposure   PropertyKey = "exposure"
	PropGain       PropertyKey = "gain"
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int
	Height int
}

// IsZero reports whether the resolution is unset.
func (r Resolution) IsZero() bool { return r.Width == 0 || r.Height == 0 }

// propertyRange is one row of a backend's supported-property table.
type propertyRange struct {
	min int
	max int
	def int
}

// Handler is the capability interface over a physical capture device. One
// handler is exclusively owned by the camera's acquisition worker; no other
// component calls it directly.
type Handler interface {
	// Connect opens the device. A Degraded result means the device opened
	// but the first frame read failed.
	Connect(ctx context.Context) (ConnectResult, error)
	// Reconnect closes and reopens the device.
	Reconnect(ctx context.Context) (ConnectResult, error)
	// Disconnect releases the device. Safe to call more than once.
	Disconnect() error
	// ReadFrame reads one frame. Errors are wrapped as ReadError.
	ReadFrame(ctx context.Context) (*frame.Frame, error)
	// GetProperty returns the current value of a property.
	GetProperty(key PropertyKey) (int, error)
	// SetProperty sets a property. Unsupported keys return
	// UnsupportedPropertyError, out-of-range values OutOfRangeError.
	SetProperty(key PropertyKey, value int) error
	// CurrentResolution returns the configured capture resolution.
	CurrentResolution() Resolution
	// MaxResolution returns the largest resolution the device reports.
	MaxResolution() Resolution
	// Source returns the device source identifier.
	Source() string
}
