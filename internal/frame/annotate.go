package frame

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	captionColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	captionShade = color.RGBA{R: 0, G: 0, B: 0, A: 160}
	staleColor   = color.RGBA{R: 255, G: 160, B: 0, A: 255}
)

// DrawText draws a single line of text at the given pixel position. The
// position is the baseline-left corner of the text.
func DrawText(f *Frame, x, y int, text string, col color.RGBA) {
	if f.Empty() || text == "" {
		return
	}
	drawer := &font.Drawer{
		Dst:  f.RGBA(),
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(text)
}

// StampCaption draws a shaded caption bar along the bottom edge of the
// frame and renders the given text on it.
func StampCaption(f *Frame, text string) {
	if f.Empty() || text == "" {
		return
	}
	barHeight := 16
	if barHeight > f.Height {
		barHeight = f.Height
	}
	img := f.RGBA()
	bar := image.Rect(0, f.Height-barHeight, f.Width, f.Height)
	draw.Draw(img, bar, image.NewUniform(captionShade), image.Point{}, draw.Over)
	DrawText(f, 4, f.Height-4, text, captionColor)
}

// StampStaleMarker stamps a small marker in the top-right corner so
// consumers can tell a cached frame from live data.
func StampStaleMarker(f *Frame) {
	if f.Empty() {
		return
	}
	size := 8
	if size > f.Width {
		size = f.Width
	}
	if size > f.Height {
		size = f.Height
	}
	img := f.RGBA()
	marker := image.Rect(f.Width-size-2, 2, f.Width-2, size+2)
	draw.Draw(img, marker.Intersect(img.Rect), image.NewUniform(staleColor), image.Point{}, draw.Src)
	f.Stale = true
}

// DrawRectOutline draws a one-pixel outline of the relative rectangle.
func DrawRectOutline(f *Frame, r Rect, col color.RGBA) {
	if f.Empty() || r.IsZero() {
		return
	}
	bounds := r.Abs(f.Width, f.Height)
	if bounds.Empty() {
		return
	}
	img := f.RGBA()
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		img.SetRGBA(x, bounds.Min.Y, col)
		img.SetRGBA(x, bounds.Max.Y-1, col)
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		img.SetRGBA(bounds.Min.X, y, col)
		img.SetRGBA(bounds.Max.X-1, y, col)
	}
}

// Fill floods the whole frame with a solid color.
func Fill(f *Frame, col color.RGBA) {
	if f.Empty() {
		return
	}
	img := f.RGBA()
	draw.Draw(img, img.Rect, image.NewUniform(col), image.Point{}, draw.Src)
}
