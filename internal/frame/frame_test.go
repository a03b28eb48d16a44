package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsIndependent(t *testing.T) {
	f := New(4, 4)
	f.Pix[0] = 100
	f.ID = 7

	clone := f.Clone()
	require.Equal(t, f.Pix, clone.Pix)
	assert.Equal(t, uint64(7), clone.ID)

	clone.Pix[0] = 200
	assert.Equal(t, uint8(100), f.Pix[0], "clone mutation must not reach the original")
}

func TestRectAbs(t *testing.T) {
	r := Rect{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}
	bounds := r.Abs(100, 100)
	assert.Equal(t, 25, bounds.Min.X)
	assert.Equal(t, 75, bounds.Max.X)
	assert.Equal(t, 50, bounds.Dx())

	// Out-of-range rectangles clamp to the frame.
	over := Rect{X: 0.5, Y: 0.5, W: 1, H: 1}
	bounds = over.Abs(100, 100)
	assert.Equal(t, 100, bounds.Max.X)
	assert.Equal(t, 100, bounds.Max.Y)
}

func TestCrop(t *testing.T) {
	f := New(10, 10)
	// Mark the pixel at (5,5).
	f.Pix[(5*10+5)*4] = 255

	cropped := Crop(f, Rect{X: 0.5, Y: 0.5, W: 0.5, H: 0.5})
	require.Equal(t, 5, cropped.Width)
	require.Equal(t, 5, cropped.Height)
	assert.Equal(t, uint8(255), cropped.Pix[0], "marked pixel should land at the crop origin")
}

func TestCropZeroRectIsNoop(t *testing.T) {
	f := New(10, 10)
	assert.Same(t, f, Crop(f, Rect{}))
}

func TestDownscale(t *testing.T) {
	f := New(100, 50)
	out := Downscale(f, 20, 0)
	assert.Equal(t, 20, out.Width)
	assert.Equal(t, 10, out.Height, "aspect ratio preserved when height is zero")

	assert.Same(t, f, Downscale(f, 100, 50), "matching target returns the same frame")
	assert.Same(t, f, Downscale(f, 0, 0))
}

func TestRotateDimensions(t *testing.T) {
	f := New(10, 6)
	assert.Equal(t, 6, Rotate(f, 90).Width)
	assert.Equal(t, 10, Rotate(f, 90).Height)
	assert.Equal(t, 10, Rotate(f, 180).Width)
	assert.Same(t, f, Rotate(f, 45), "non right angles are a no-op")
}

func TestRotate180Pixels(t *testing.T) {
	f := New(2, 2)
	f.Pix[0] = 9 // top-left red channel

	out := Rotate(f, 180)
	bottomRight := (1*2 + 1) * 4
	assert.Equal(t, uint8(9), out.Pix[bottomRight])
}

func TestGrayscaleEqualChannels(t *testing.T) {
	f := New(2, 1)
	f.Pix[0], f.Pix[1], f.Pix[2], f.Pix[3] = 250, 10, 30, 255

	g := Grayscale(f)
	assert.Equal(t, g.Pix[0], g.Pix[1])
	assert.Equal(t, g.Pix[1], g.Pix[2])
	assert.Equal(t, uint8(250), f.Pix[0], "source frame untouched")
}

func TestStampStaleMarkerSetsFlag(t *testing.T) {
	f := New(32, 32)
	StampStaleMarker(f)
	assert.True(t, f.Stale)
}

func TestNewErrorFrame(t *testing.T) {
	f := NewErrorFrame(ErrorNotConnected, "probe timed out", 0, 0)
	require.False(t, f.Empty())
	assert.Equal(t, string(ErrorNotConnected), f.ErrorLabel)
	assert.Equal(t, 320, f.Width)
	assert.Equal(t, 240, f.Height)
}

func TestNewMaintenanceFrame(t *testing.T) {
	f := NewMaintenanceFrame(Maintenance{Active: true, Line1: "Reconnecting"}, 64, 48)
	require.False(t, f.Empty())
	assert.True(t, f.Maintenance)
}
