package frames

import (
	"image"

	"github.com/technosupport/ts-sentinel/internal/metrics"
)

// SSIMThreshold is the similarity above which the later frame is dropped as a
// near duplicate. Exactly at the threshold the frame is kept.
const SSIMThreshold = 0.95

// SSIM computes the global structural similarity index of two frames, both
// resized to 256x256 grayscale. Returns a value in [-1, 1].
func SSIM(a, b image.Image) float64 {
	ga := ResizeGrayForCompare(a)
	gb := ResizeGrayForCompare(b)

	const (
		c1 = 6.5025  // (0.01 * 255)^2
		c2 = 58.5225 // (0.03 * 255)^2
	)

	n := float64(compareSize * compareSize)

	var sumA, sumB float64
	for y := 0; y < compareSize; y++ {
		for x := 0; x < compareSize; x++ {
			sumA += float64(ga.GrayAt(x, y).Y)
			sumB += float64(gb.GrayAt(x, y).Y)
		}
	}
	muA := sumA / n
	muB := sumB / n

	var varA, varB, cov float64
	for y := 0; y < compareSize; y++ {
		for x := 0; x < compareSize; x++ {
			da := float64(ga.GrayAt(x, y).Y) - muA
			db := float64(gb.GrayAt(x, y).Y) - muB
			varA += da * da
			varB += db * db
			cov += da * db
		}
	}
	varA /= n - 1
	varB /= n - 1
	cov /= n - 1

	num := (2*muA*muB + c1) * (2*cov + c2)
	den := (muA*muA + muB*muB + c1) * (varA + varB + c2)
	if den == 0 {
		return 1
	}
	return num / den
}

// DeduplicateSSIM walks the frames in order keeping the first, and drops any
// frame whose SSIM against the last-kept frame exceeds the threshold.
// Returns the survivors and their original indices.
func DeduplicateSSIM(in []Frame) []Frame {
	if len(in) == 0 {
		return nil
	}
	out := []Frame{in[0]}
	last := in[0]
	for _, f := range in[1:] {
		if SSIM(last.Image, f.Image) > SSIMThreshold {
			metrics.FramesRejectedTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		out = append(out, f)
		last = f
	}
	return out
}
