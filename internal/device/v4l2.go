package device

import (
	"fmt"
	"os/exec"

	"github.com/perchcam/perchcam/internal/logger"
)

// v4l2Properties is the closed set of controls the V4L2 backend exposes,
// matching the common UVC control ranges.
var v4l2Properties = map[PropertyKey]propertyRange{
	PropBrightness: {min: -64, max: 64, def: 0},
	PropContrast:   {min: 0, max: 64, def: 32},
	PropSaturation: {min: 0, max: 128, def: 64},
	PropExposure:   {min: 1, max: 5000, def: 156},
	PropGain:       {min: 0, max: 100, def: 0},
}

// V4L2Handler captures from a local V4L2 device node (USB webcams and
// SoC camera interfaces exposed through the kernel).
type V4L2Handler struct {
	*execHandler
}

// NewV4L2Handler creates a handler for a /dev/videoN device path.
func NewV4L2Handler(ffmpeg *FFmpeg, devicePath string, res Resolution, log *logger.Logger) *V4L2Handler {
	base := newExecHandler(ffmpeg, devicePath, res, v4l2Properties, log)
	h := &V4L2Handler{execHandler: base}

	base.inputArgs = func() []string {
		r := h.CurrentResolution()
		return []string{
			"-hide_banner",
			"-loglevel", "error",
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", r.Width, r.Height),
			"-i", devicePath,
		}
	}
	base.applyProperty = h.setControl
	return h
}

// setControl pushes a control value to the device via v4l2-ctl.
func (h *V4L2Handler) setControl(key PropertyKey, value int) error {
	ctl := v4l2ControlName(key)
	cmd := exec.Command("v4l2-ctl", "-d", h.source, "--set-ctrl", fmt.Sprintf("%s=%d", ctl, value))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("v4l2-ctl set %s=%d failed: %w: %s", ctl, value, err, output)
	}
	h.logger.Debug("Device control set", "source", h.source, "control", ctl, "value", value)
	return nil
}

// v4l2ControlName maps property keys to V4L2 control names.
func v4l2ControlName(key PropertyKey) string {
	switch key {
	case PropExposure:
		return "exposure_time_absolute"
	default:
		return string(key)
	}
}
