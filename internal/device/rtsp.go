package device

import (
	"context"

	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

// rtspProperties is the closed set the network backend exposes. Network
// cameras manage exposure themselves; brightness and contrast are applied
// in software on each read.
var rtspProperties = map[PropertyKey]propertyRange{
	PropBrightness: {min: -100, max: 100, def: 0},
	PropContrast:   {min: -100, max: 100, def: 0},
}

// RTSPHandler captures from a network camera over RTSP.
type RTSPHandler struct {
	*execHandler
}

// NewRTSPHandler creates a handler for an rtsp:// source URL.
func NewRTSPHandler(ffmpeg *FFmpeg, url string, res Resolution, log *logger.Logger) *RTSPHandler {
	base := newExecHandler(ffmpeg, url, res, rtspProperties, log)
	h := &RTSPHandler{execHandler: base}

	base.inputArgs = func() []string {
		return []string{
			"-hide_banner",
			"-loglevel", "error",
			"-rtsp_transport", "tcp",
			"-i", url,
		}
	}
	return h
}

// ReadFrame reads one frame and applies the software brightness and
// contrast adjustments.
func (h *RTSPHandler) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	f, err := h.execHandler.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}

	brightness, _ := h.GetProperty(PropBrightness)
	contrast, _ := h.GetProperty(PropContrast)
	if brightness != 0 || contrast != 0 {
		adjustLevels(f, brightness, contrast)
	}
	return f, nil
}

// adjustLevels applies brightness (additive) and contrast (multiplicative
// around mid-gray) to a frame in place. Both inputs are in [-100,100].
func adjustLevels(f *frame.Frame, brightness, contrast int) {
	// contrast 100 doubles the distance from mid-gray, -100 flattens it.
	factor := 1.0 + float64(contrast)/100.0
	offset := float64(brightness) * 1.28
	for i := 0; i+3 < len(f.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := (float64(f.Pix[i+c])-128)*factor + 128 + offset
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			f.Pix[i+c] = uint8(v)
		}
	}
}
