package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testFrame() *frame.Frame {
	f := frame.New(16, 12)
	for i := range f.Pix {
		f.Pix[i] = uint8(i)
	}
	return f
}

func TestSaveAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestMeta(ctx, "cam1")
	require.NoError(t, err)
	assert.False(t, ok, "empty archive has no latest")

	saved, err := s.SaveFrame(ctx, testFrame(), FrameMeta{
		CameraID:   "cam1",
		Timestamp:  time.Now(),
		Similarity: 42.5,
		DetectRect: frame.FullRect,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.FileExists(t, saved.Path)

	got, ok, err := s.LatestMeta(ctx, "cam1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, 42.5, got.Similarity)
	assert.Equal(t, frame.FullRect, got.DetectRect)

	_, ok, err = s.LatestMeta(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLatestPicksNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Now().Add(-time.Hour)
	_, err := s.SaveFrame(ctx, testFrame(), FrameMeta{CameraID: "cam1", Timestamp: older})
	require.NoError(t, err)
	newest, err := s.SaveFrame(ctx, testFrame(), FrameMeta{CameraID: "cam1", Timestamp: time.Now()})
	require.NoError(t, err)

	got, ok, err := s.LatestMeta(ctx, "cam1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newest.ID, got.ID)
}

func TestLoadFrameRoundTrip(t *testing.T) {
	s := newTestStore(t)
	original := testFrame()

	saved, err := s.SaveFrame(context.Background(), original, FrameMeta{
		CameraID: "cam1", Timestamp: time.Now(),
	})
	require.NoError(t, err)

	loaded, err := s.LoadFrame(saved)
	require.NoError(t, err)
	assert.Equal(t, original.Width, loaded.Width)
	assert.Equal(t, original.Height, loaded.Height)
	assert.Equal(t, original.Pix, loaded.Pix)
	assert.Equal(t, "cam1", loaded.CameraID)
}

func TestSaveRejectsEmptyFrame(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveFrame(context.Background(), frame.New(0, 0), FrameMeta{CameraID: "cam1"})
	assert.Error(t, err)
}

func TestDetectionFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	flagged, err := s.ConsumeDetection(ctx, "cam1")
	require.NoError(t, err)
	assert.False(t, flagged)

	_, err = s.SaveFrame(ctx, testFrame(), FrameMeta{CameraID: "cam1", Timestamp: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.FlagDetection(ctx, "cam1"))

	flagged, err = s.ConsumeDetection(ctx, "cam1")
	require.NoError(t, err)
	assert.True(t, flagged)

	// Consuming clears the flag.
	flagged, err = s.ConsumeDetection(ctx, "cam1")
	require.NoError(t, err)
	assert.False(t, flagged)

	// The newest persisted record was marked.
	got, ok, err := s.LatestMeta(ctx, "cam1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.HasDetection)
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old, err := s.SaveFrame(ctx, testFrame(), FrameMeta{
		CameraID: "cam1", Timestamp: time.Now().Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	kept, err := s.SaveFrame(ctx, testFrame(), FrameMeta{
		CameraID: "cam1", Timestamp: time.Now(),
	})
	require.NoError(t, err)

	removed, err := s.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, statErr := os.Stat(old.Path)
	assert.True(t, os.IsNotExist(statErr), "expired still removed from disk")
	assert.FileExists(t, kept.Path)

	got, ok, err := s.LatestMeta(ctx, "cam1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, kept.ID, got.ID)
}
