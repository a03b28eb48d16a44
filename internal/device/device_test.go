package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchcam/perchcam/internal/logger"
)

func TestSimulatedHandlerLifecycle(t *testing.T) {
	h := NewSimulatedHandler("sim://test", Resolution{Width: 64, Height: 48}, logger.NewNopLogger())

	result, err := h.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectOK, result)

	f, err := h.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 64*48*4, len(f.Pix))

	require.NoError(t, h.Disconnect())
	_, err = h.ReadFrame(context.Background())
	assert.True(t, IsReadError(err), "reads after disconnect fail with a read error")
}

func TestSimulatedHandlerConnectFailure(t *testing.T) {
	h := NewSimulatedHandler("sim://test", Resolution{}, logger.NewNopLogger())
	h.FailConnect = true

	result, err := h.Connect(context.Background())
	assert.Equal(t, ConnectFailed, result)
	assert.True(t, IsConnectionError(err))
}

func TestSimulatedHandlerDegradedConnect(t *testing.T) {
	h := NewSimulatedHandler("sim://test", Resolution{}, logger.NewNopLogger())
	h.DegradeFirst = true

	result, err := h.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectDegraded, result)
}

func TestPropertyValidation(t *testing.T) {
	h := NewSimulatedHandler("sim://test", Resolution{}, logger.NewNopLogger())
	_, err := h.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.SetProperty(PropBrightness, 10))
	v, err := h.GetProperty(PropBrightness)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	err = h.SetProperty(PropBrightness, 1000)
	var oor *OutOfRangeError
	require.True(t, errors.As(err, &oor))
	assert.Equal(t, 64, oor.Max)

	err = h.SetProperty(PropertyKey("zoom"), 1)
	var unsupported *UnsupportedPropertyError
	assert.True(t, errors.As(err, &unsupported), "unsupported keys are a typed, non-fatal error")
}

func TestSimulatedFramesDiffer(t *testing.T) {
	h := NewSimulatedHandler("sim://test", Resolution{Width: 16, Height: 16}, logger.NewNopLogger())
	_, err := h.Connect(context.Background())
	require.NoError(t, err)

	a, err := h.ReadFrame(context.Background())
	require.NoError(t, err)
	b, err := h.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.Pix, b.Pix, "consecutive synthetic frames differ")
}

func TestNewHandlerSchemeDispatch(t *testing.T) {
	log := logger.NewNopLogger()

	h, err := NewHandler(nil, "sim://garden", Resolution{}, log)
	require.NoError(t, err)
	_, ok := h.(*SimulatedHandler)
	assert.True(t, ok)
	assert.Equal(t, "sim://garden", h.Source())

	_, err = NewHandler(nil, "gopher://nope", Resolution{}, log)
	assert.Error(t, err)
}

func TestConnectResultString(t *testing.T) {
	assert.Equal(t, "ok", ConnectOK.String())
	assert.Equal(t, "degraded", ConnectDegraded.String())
	assert.Equal(t, "failed", ConnectFailed.String())
}

func TestErrorWrapping(t *testing.T) {
	inner := errors.New("socket closed")
	err := &ReadError{Source: "rtsp://x", Err: inner}
	assert.True(t, errors.Is(err, inner))

	var re *ReadError
	assert.True(t, errors.As(error(err), &re))
	assert.True(t, IsReadError(err))
	assert.False(t, IsConnectionError(err))
}
