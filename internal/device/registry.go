package device

import (
	"fmt"
	"strings"
	"sync"

	"github.com/perchcam/perchcam/internal/logger"
)

// Factory builds a handler for a source identifier.
type Factory func(ffmpeg *FFmpeg, source string, res Resolution, log *logger.Logger) (Handler, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// RegisterFactory registers a handler factory for a source scheme. Called
// from init() of each backend.
func RegisterFactory(scheme string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = factory
}

func init() {
	RegisterFactory("rtsp", func(ffmpeg *FFmpeg, source string, res Resolution, log *logger.Logger) (Handler, error) {
		return NewRTSPHandler(ffmpeg, source, res, log), nil
	})
	RegisterFactory("rtsps", func(ffmpeg *FFmpeg, source string, res Resolution, log *logger.Logger) (Handler, error) {
		return NewRTSPHandler(ffmpeg, source, res, log), nil
	})
	RegisterFactory("sim", func(ffmpeg *FFmpeg, source string, res Resolution, log *logger.Logger) (Handler, error) {
		return NewSimulatedHandler(source, res, log), nil
	})
	RegisterFactory("v4l2", func(ffmpeg *FFmpeg, source string, res Resolution, log *logger.Logger) (Handler, error) {
		return NewV4L2Handler(ffmpeg, strings.TrimPrefix(source, "v4l2://"), res, log), nil
	})
}

// NewHandler builds the right handler for a source identifier. Local
// device paths map to the V4L2 backend; URLs are dispatched by scheme.
// Callers never branch on backend identity.
func NewHandler(ffmpeg *FFmpeg, source string, res Resolution, log *logger.Logger) (Handler, error) {
	if source == "" {
		return nil, fmt.Errorf("empty device source")
	}
	if strings.HasPrefix(source, "/") {
		return NewV4L2Handler(ffmpeg, source, res, log), nil
	}

	scheme, _, found := strings.Cut(source, "://")
	if !found {
		return nil, fmt.Errorf("unrecognized device source: %s", source)
	}

	registryMu.RLock()
	factory, ok := registry[scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no device backend for scheme %q", scheme)
	}
	return factory(ffmpeg, source, res, log)
}
