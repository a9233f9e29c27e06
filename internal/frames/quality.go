package frames

import (
	"image"
	"math"
)

const (
	// SharpnessThreshold is the Laplacian-variance floor below which a frame
	// is considered blurry. Exactly at the threshold counts as usable.
	SharpnessThreshold = 100.0

	// ContrastThreshold is the grayscale standard-deviation floor below which
	// a frame is considered empty or single-color.
	ContrastThreshold = 10.0
)

// Quality holds the per-frame filter scores.
type Quality struct {
	Sharpness float64 // Laplacian variance
	Contrast  float64 // grayscale stddev
}

func (q Quality) Blurry() bool { return q.Sharpness < SharpnessThreshold }
func (q Quality) Empty() bool  { return q.Contrast < ContrastThreshold }
func (q Quality) Usable() bool { return !q.Blurry() && !q.Empty() }

// Measure computes the sharpness and contrast scores for one frame.
func Measure(img image.Image) Quality {
	g := ToGray(img)
	return Quality{
		Sharpness: laplacianVariance(g),
		Contrast:  grayStdDev(g),
	}
}

// laplacianVariance applies the 4-neighbour Laplacian kernel and returns the
// variance of the response over interior pixels.
func laplacianVariance(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	n := 0
	mean := 0.0
	m2 := 0.0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			up := float64(g.GrayAt(b.Min.X+x, b.Min.Y+y-1).Y)
			down := float64(g.GrayAt(b.Min.X+x, b.Min.Y+y+1).Y)
			left := float64(g.GrayAt(b.Min.X+x-1, b.Min.Y+y).Y)
			right := float64(g.GrayAt(b.Min.X+x+1, b.Min.Y+y).Y)

			v := up + down + left + right - 4*c

			// Welford running variance
			n++
			delta := v - mean
			mean += delta / float64(n)
			m2 += delta * (v - mean)
		}
	}
	if n < 2 {
		return 0
	}
	return m2 / float64(n)
}

func grayStdDev(g *image.Gray) float64 {
	b := g.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	sum := 0.0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += float64(g.GrayAt(x, y).Y)
		}
	}
	mean := sum / float64(total)

	varSum := 0.0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			d := float64(g.GrayAt(x, y).Y) - mean
			varSum += d * d
		}
	}
	return math.Sqrt(varSum / float64(total))
}
