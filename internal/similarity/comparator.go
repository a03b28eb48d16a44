package similarity

import (
	"math"

	"github.com/perchcam/perchcam/internal/frame"
	"github.com/perchcam/perchcam/internal/logger"
)

// SSIM stabilization constants for 8-bit dynamic range.
const (
	c1 = (0.01 * 255) * (0.01 * 255)
	c2 = (0.03 * 255) * (0.03 * 255)
)

// Sentinel is the score returned when no comparison was possible. Callers
// must not interpret it as "very different".
const Sentinel = 0.0

// Comparator computes perceptual similarity scores between two frames
// restricted to a sub-rectangle.
type Comparator struct {
	logger *logger.Logger
}

// NewComparator creates a new comparator.
func NewComparator(log *logger.Logger) *Comparator {
	return &Comparator{logger: log}
}

// Compare returns a structural-similarity score in [0.1,100], rounded to
// one decimal. Both frames are cropped to the relative area and reduced to
// luminance first. Degenerate inputs (empty buffers, mismatched shapes)
// yield the sentinel 0 and a logged warning, never a panic.
func (c *Comparator) Compare(a, b *frame.Frame, area frame.Rect) float64 {
	if a.Empty() || b.Empty() {
		c.logger.Warn("Similarity comparison skipped: empty frame")
		return Sentinel
	}

	if area.IsZero() {
		area = frame.FullRect
	}
	ca := frame.Crop(a, area)
	cb := frame.Crop(b, area)
	if ca.Width != cb.Width || ca.Height != cb.Height {
		c.logger.Warn("Similarity comparison skipped: shape mismatch",
			"a_width", ca.Width, "a_height", ca.Height,
			"b_width", cb.Width, "b_height", cb.Height,
		)
		return Sentinel
	}

	la := frame.Luma(ca)
	lb := frame.Luma(cb)
	if len(la) == 0 || len(la) != len(lb) {
		c.logger.Warn("Similarity comparison skipped: empty comparison area")
		return Sentinel
	}

	score := ssim(la, lb) * 100
	// Anti-correlated frames drive SSIM negative. Floor them just above the
	// sentinel so a real comparison is never mistaken for a skipped one.
	if score < 0.1 {
		score = 0.1
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score*10) / 10
}

// ssim computes the global structural similarity index of two equal-length
// luminance slices.
func ssim(a, b []uint8) float64 {
	n := float64(len(a))

	var sumA, sumB float64
	for i := range a {
		sumA += float64(a[i])
		sumB += float64(b[i])
	}
	meanA := sumA / n
	meanB := sumB / n

	var varA, varB, cov float64
	for i := range a {
		da := float64(a[i]) - meanA
		db := float64(b[i]) - meanB
		varA += da * da
		varB += db * db
		cov += da * db
	}
	varA /= n
	varB /= n
	cov /= n

	num := (2*meanA*meanB + c1) * (2*cov + c2)
	den := (meanA*meanA + meanB*meanB + c1) * (varA + varB + c2)
	return num / den
}
