package frame

// Grayscale returns a copy of the frame reduced to a single luminance
// channel, stored back into RGBA so downstream stages keep one pixel format.
func Grayscale(f *Frame) *Frame {
	if f.Empty() {
		return f
	}
	out := f.Clone()
	for i := 0; i+3 < len(out.Pix); i += 4 {
		r := uint32(out.Pix[i])
		g := uint32(out.Pix[i+1])
		b := uint32(out.Pix[i+2])
		// ITU-R BT.601 luma weights, integer form.
		y := uint8((299*r + 587*g + 114*b) / 1000)
		out.Pix[i] = y
		out.Pix[i+1] = y
		out.Pix[i+2] = y
	}
	return out
}

// Luma returns the frame's pixels as a single-channel luminance slice.
func Luma(f *Frame) []uint8 {
	if f.Empty() {
		return nil
	}
	out := make([]uint8, f.Width*f.Height)
	for i, j := 0, 0; i+3 < len(f.Pix); i, j = i+4, j+1 {
		r := uint32(f.Pix[i])
		g := uint32(f.Pix[i+1])
		b := uint32(f.Pix[i+2])
		out[j] = uint8((299*r + 587*g + 114*b) / 1000)
	}
	return out
}

// Crop returns the sub-frame covered by the relative rectangle. A zero
// rectangle returns the frame unchanged.
func Crop(f *Frame, r Rect) *Frame {
	if f.Empty() || r.IsZero() {
		return f
	}
	bounds := r.Abs(f.Width, f.Height)
	if bounds.Empty() {
		return f
	}
	out := New(bounds.Dx(), bounds.Dy())
	out.ID = f.ID
	out.Timestamp = f.Timestamp
	out.CameraID = f.CameraID
	out.Stale = f.Stale
	srcStride := f.Width * 4
	dstStride := out.Width * 4
	for y := 0; y < out.Height; y++ {
		srcOff := (bounds.Min.Y+y)*srcStride + bounds.Min.X*4
		copy(out.Pix[y*dstStride:(y+1)*dstStride], f.Pix[srcOff:srcOff+dstStride])
	}
	return out
}

// Rotate rotates the frame by the given number of degrees. Only the right
// angles 0, 90, 180 and 270 are supported; other values are a no-op.
func Rotate(f *Frame, degrees int) *Frame {
	degrees = ((degrees % 360) + 360) % 360
	if f.Empty() || degrees == 0 {
		return f
	}

	var out *Frame
	switch degrees {
	case 90, 270:
		out = New(f.Height, f.Width)
	case 180:
		out = New(f.Width, f.Height)
	default:
		return f
	}
	out.ID = f.ID
	out.Timestamp = f.Timestamp
	out.CameraID = f.CameraID
	out.Stale = f.Stale

	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			var dx, dy int
			switch degrees {
			case 90:
				dx, dy = f.Height-1-y, x
			case 180:
				dx, dy = f.Width-1-x, f.Height-1-y
			case 270:
				dx, dy = y, f.Width-1-x
			}
			srcOff := (y*f.Width + x) * 4
			dstOff := (dy*out.Width + dx) * 4
			copy(out.Pix[dstOff:dstOff+4], f.Pix[srcOff:srcOff+4])
		}
	}
	return out
}

// Downscale resizes the frame to the target dimensions using
// nearest-neighbor sampling. Zero dimensions preserve the aspect ratio from
// the other dimension; if both are zero, or the target matches the source,
// the frame is returned unchanged.
func Downscale(f *Frame, width, height int) *Frame {
	if f.Empty() || (width == 0 && height == 0) {
		return f
	}
	if width == 0 {
		width = (f.Width * height) / f.Height
	}
	if height == 0 {
		height = (f.Height * width) / f.Width
	}
	if width <= 0 || height <= 0 || (width == f.Width && height == f.Height) {
		return f
	}

	out := New(width, height)
	out.ID = f.ID
	out.Timestamp = f.Timestamp
	out.CameraID = f.CameraID
	out.Stale = f.Stale
	for y := 0; y < height; y++ {
		srcY := (y * f.Height) / height
		for x := 0; x < width; x++ {
			srcX := (x * f.Width) / width
			srcOff := (srcY*f.Width + srcX) * 4
			dstOff := (y*width + x) * 4
			copy(out.Pix[dstOff:dstOff+4], f.Pix[srcOff:srcOff+4])
		}
	}
	return out
}
