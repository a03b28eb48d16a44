package camera

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// memStore is an in-memory FrameStore for controller tests.
type memStore struct {
	mu      sync.Mutex
	saved   []archive.FrameMeta
	frames  map[string]*frame.Frame
	pending map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		frames:  make(map[string]*frame.Frame),
		pending: make(map[string]bool),
	}
}

func (s *memStore) SaveFrame(ctx context.Context, f *frame.Frame, meta archive.FrameMeta) (archive.FrameMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta.ID = meta.Timestamp.Format(time.RFC3339Nano)
	s.saved = append(s.saved, meta)
	s.frames[meta.ID] = f.Clone()
	return meta, nil
}

func (s *memStore) LatestMeta(ctx context.Context, cameraID string) (archive.FrameMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saved) - 1; i >= 0; i-- {
		if s.saved[i].CameraID == cameraID {
			return s.saved[i], true, nil
		}
	}
	return archive.FrameMeta{}, false, nil
}

func (s *memStore) LoadFrame(meta archive.FrameMeta) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[meta.ID].Clone(), nil
}

func (s *memStore) ConsumeDetection(ctx context.Context, cameraID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flagged := s.pending[cameraID]
	s.pending[cameraID] = false
	return flagged, nil
}

func (s *memStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// fakeEncoder records sessions so tests can observe how they finish.
type fakeEncoder struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (e *fakeEncoder) Begin(ctx context.Context, cameraID string, width, height int) (encoder.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &fakeSession{}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEncoder) last() *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

type fakeSession struct {
	mu        sync.Mutex
	frames    int
	ended     bool
	cancelled bool
}

func (s *fakeSession) Feed(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return nil
}

func (s *fakeSession) End() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return "/tmp/clip.mp4", nil
}

func (s *fakeSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

func (s *fakeSession) state() (ended, cancelled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended, s.cancelled
}

func testController(t *testing.T, cfg config.CameraConfig) (*Controller, *memStore) {
	t.Helper()
	store := newMemStore()
	pipe := config.PipelineConfig{
		ConsumerTimeout:     time.Second,
		DefaultFPS:          50,
		BackgroundFPS:       10,
		ThumbFPS:            10,
		FirstFrameWait:      time.Second,
		ReconnectBackoff:    50 * time.Millisecond,
		MaxReconnectBackoff: 200 * time.Millisecond,
		ErrorReconnectAfter: 500 * time.Millisecond,
		ControllerTick:      20 * time.Millisecond,
	}
	deps := Deps{
		Store:      store,
		Encoder:    &fakeEncoder{},
		Sun:        &suntimes.Fixed{SunriseHour: 6, SunsetHour: 20},
		Comparator: similarity.NewComparator(logger.NewNopLogger()),
	}
	return NewController(cfg, pipe, deps, logger.NewNopLogger()), store
}

func simCameraConfig() config.CameraConfig {
	return config.CameraConfig{
		ID:                  "cam1",
		Name:                "Front",
		Active:              true,
		Source:              "sim://front",
		Width:               32,
		Height:              24,
		ThumbWidth:          16,
		Detect:              frame.FullRect,
		SimilarityThreshold: 90,
		MaxClipSeconds:      60,
		Record: config.RecordRule{
			Mode: config.RecordModeLegacy, // empty sets: always in window
		},
	}
}

func TestControllerConnectsAndStreams(t *testing.T) {
	c, _ := testController(t, simCameraConfig())
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	require.Eventually(t, func() bool {
		return c.Status().Connected
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		f, erroring, err := c.ReadLatest(ctx, StreamKey{stream.KindAnnotated, stream.ResFull}, "viewer", true)
		return err == nil && f != nil && !erroring && !f.Maintenance
	}, 2*time.Second, 20*time.Millisecond, "maintenance cleared after connect")

	st := c.Status()
	assert.Equal(t, "cam1", st.CameraID)
	assert.True(t, st.Active)
	assert.Equal(t, "streaming", st.RawState)
	assert.Contains(t, st.StreamFPS, "annotated/full")
}

func TestControllerPersistsFrames(t *testing.T) {
	c, store := testController(t, simCameraConfig())
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	require.Eventually(t, func() bool {
		return store.savedCount() >= 1
	}, 3*time.Second, 20*time.Millisecond, "baseline frame persisted unconditionally")

	meta := store.saved[0]
	assert.Equal(t, "cam1", meta.CameraID)
	assert.Equal(t, frame.FullRect, meta.DetectRect)
	assert.False(t, meta.Timestamp.IsZero())
}

func TestControllerDetectionFlagForcesPersist(t *testing.T) {
	c, store := testController(t, simCameraConfig())
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	require.Eventually(t, func() bool {
		return store.savedCount() >= 1
	}, 3*time.Second, 20*time.Millisecond)

	before := store.savedCount()
	store.mu.Lock()
	store.pending["cam1"] = true
	store.mu.Unlock()

	require.Eventually(t, func() bool {
		if store.savedCount() <= before {
			return false
		}
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.saved[len(store.saved)-1].HasDetection
	}, 3*time.Second, 20*time.Millisecond, "flagged frame persisted regardless of similarity")
}

func TestControllerDeactivateOnReload(t *testing.T) {
	c, _ := testController(t, simCameraConfig())
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	require.Eventually(t, func() bool {
		return c.Status().Connected
	}, 2*time.Second, 20*time.Millisecond)

	next := simCameraConfig()
	next.Active = false
	require.NoError(t, c.Reload(ctx, next, c.pipe))

	require.Eventually(t, func() bool {
		st := c.Status()
		return !st.Connected && st.RawState == "idle"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestControllerReloadKeepsConnectionWithoutDeviceChanges(t *testing.T) {
	c, _ := testController(t, simCameraConfig())
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	require.Eventually(t, func() bool {
		return c.Status().Connected
	}, 2*time.Second, 20*time.Millisecond)

	next := simCameraConfig()
	next.SimilarityThreshold = 50
	require.NoError(t, c.Reload(ctx, next, c.pipe))

	assert.True(t, c.Status().Connected, "non device-affecting reload must not reconnect")
	assert.Equal(t, 50.0, c.Config().SimilarityThreshold)
}

func TestControllerFinalizesRecordingOnReadErrors(t *testing.T) {
	c, _ := testController(t, simCameraConfig())
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	require.Eventually(t, func() bool {
		return c.Status().Connected
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, c.StartRecording(ctx))
	require.True(t, c.Status().Recording)

	sess := c.deps.Encoder.(*fakeEncoder).last()
	require.NotNil(t, sess)

	c.mu.RLock()
	sim, ok := c.handler.(*device.SimulatedHandler)
	c.mu.RUnlock()
	require.True(t, ok)
	sim.SetFailReads(true)

	// Footage captured before the failure is kept: the session ends, it is
	// never discarded.
	require.Eventually(t, func() bool {
		ended, cancelled := sess.state()
		return ended && !cancelled && !c.Status().Recording
	}, 3*time.Second, 20*time.Millisecond, "read failure finalizes the clip")
}

func TestControllerStopRecordingWithoutSession(t *testing.T) {
	c, _ := testController(t, simCameraConfig())
	_, err := c.StopRecording()
	assert.Error(t, err)
}

func TestControllerUnknownStream(t *testing.T) {
	c, _ := testController(t, simCameraConfig())
	_, _, err := c.ReadLatest(context.Background(),
		StreamKey{stream.Kind("bogus"), stream.ResFull}, "viewer", false)
	assert.Error(t, err)
}

func TestControllerStatusWhileDisconnected(t *testing.T) {
	cfg := simCameraConfig()
	cfg.Source = "sim://front"
	c, _ := testController(t, cfg)

	st := c.Status()
	assert.False(t, st.Connected)
	assert.False(t, st.Recording)
}
