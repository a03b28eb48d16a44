package frame

import (
	"image"
	"time"
)

// Frame represents a single captured or derived image buffer. A frame is
// owned by the worker that produced it and must not be mutated after it has
// been published; consumers receive clones or read-only references.
type Frame struct {
	Pix       []uint8 // RGBA, 4 bytes per pixel, row-major
	Width     int
	Height    int
	ID        uint64    // monotonic per acquisition worker
	Timestamp time.Time // capture time
	CameraID  string

	Stale       bool   // served from the last-good cache, not live
	Maintenance bool   // synthetic maintenance-mode frame
	ErrorLabel  string // non-empty for synthetic error frames
}

// New allocates a black frame of the given dimensions.
func New(width, height int) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Pix:    make([]uint8, width*height*4),
		Width:  width,
		Height: height,
	}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	clone := *f
	clone.Pix = make([]uint8, len(f.Pix))
	copy(clone.Pix, f.Pix)
	return &clone
}

// Empty reports whether the frame has no pixel data.
func (f *Frame) Empty() bool {
	return f == nil || f.Width == 0 || f.Height == 0 || len(f.Pix) == 0
}

// RGBA wraps the frame's pixel buffer in an image.RGBA sharing the same
// backing array. Mutations through the returned image mutate the frame.
func (f *Frame) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FromImage converts an image into a frame, copying pixel data.
func FromImage(img image.Image) *Frame {
	bounds := img.Bounds()
	f := New(bounds.Dx(), bounds.Dy())
	dst := f.RGBA()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(x-bounds.Min.X, y-bounds.Min.Y, img.At(x, y))
		}
	}
	return f
}

// Rect describes a sub-rectangle of a frame in relative fractions [0,1].
type Rect struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	W float64 `yaml:"w" json:"w"`
	H float64 `yaml:"h" json:"h"`
}

// FullRect covers the entire frame.
var FullRect = Rect{X: 0, Y: 0, W: 1, H: 1}

// IsZero reports whether the rectangle is unset.
func (r Rect) IsZero() bool {
	return r.W == 0 || r.H == 0
}

// Abs converts the relative rectangle to absolute pixel bounds for a frame
// of the given dimensions, clamped to the frame.
func (r Rect) Abs(width, height int) image.Rectangle {
	x0 := int(r.X * float64(width))
	y0 := int(r.Y * float64(height))
	x1 := int((r.X + r.W) * float64(width))
	y1 := int((r.Y + r.H) * float64(height))
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, width, height))
}
