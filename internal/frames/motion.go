package frames

import (
	"image"
	"math"
	"sort"
)

// Dense optical flow by block matching on the 256x256 grayscale plane. Each
// 16x16 block searches a +/-8 px window in the next frame for the minimum
// sum-of-absolute-differences displacement. Coarser than Farneback but the
// score contract is the same: identical frames score ~0, a full-frame shift
// saturates at 100.

const (
	flowBlock  = 16
	flowSearch = 8
)

// FlowMagnitude returns the mean displacement magnitude between two frames.
func FlowMagnitude(a, b image.Image) float64 {
	ga := ResizeGrayForCompare(a)
	gb := ResizeGrayForCompare(b)

	blocks := 0
	total := 0.0
	for by := 0; by+flowBlock <= compareSize; by += flowBlock {
		for bx := 0; bx+flowBlock <= compareSize; bx += flowBlock {
			dx, dy := bestMatch(ga, gb, bx, by)
			total += math.Hypot(float64(dx), float64(dy))
			blocks++
		}
	}
	if blocks == 0 {
		return 0
	}
	return total / float64(blocks)
}

// MotionScore maps a mean flow magnitude to the 0-100 score range.
func MotionScore(a, b image.Image) float64 {
	return math.Min(100, 10*FlowMagnitude(a, b))
}

func bestMatch(a, b *image.Gray, bx, by int) (int, int) {
	bestDX, bestDY := 0, 0
	bestCost := blockSAD(a, b, bx, by, 0, 0)
	if bestCost == 0 {
		return 0, 0
	}
	for dy := -flowSearch; dy <= flowSearch; dy++ {
		for dx := -flowSearch; dx <= flowSearch; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			cost := blockSAD(a, b, bx, by, dx, dy)
			if cost < bestCost {
				bestCost = cost
				bestDX, bestDY = dx, dy
			}
		}
	}
	return bestDX, bestDY
}

func blockSAD(a, b *image.Gray, bx, by, dx, dy int) int {
	sad := 0
	for y := 0; y < flowBlock; y++ {
		for x := 0; x < flowBlock; x++ {
			sx, sy := bx+x, by+y
			tx, ty := sx+dx, sy+dy
			if tx < 0 || ty < 0 || tx >= compareSize || ty >= compareSize {
				sad += 255 // out-of-frame penalty
				continue
			}
			d := int(a.GrayAt(sx, sy).Y) - int(b.GrayAt(tx, ty).Y)
			if d < 0 {
				d = -d
			}
			sad += d
		}
	}
	return sad
}

// ScoreMotion assigns each frame in a sequence a motion score. Edge frames
// score against their single neighbour; interior frames average the forward
// and backward pair scores.
func ScoreMotion(in []Frame) []float64 {
	n := len(in)
	scores := make([]float64, n)
	if n < 2 {
		return scores
	}

	pair := make([]float64, n-1) // pair[i] = score between frame i and i+1
	for i := 0; i < n-1; i++ {
		pair[i] = MotionScore(in[i].Image, in[i+1].Image)
	}

	scores[0] = pair[0]
	scores[n-1] = pair[n-2]
	for i := 1; i < n-1; i++ {
		scores[i] = (pair[i-1] + pair[i]) / 2
	}
	return scores
}

// SelectTopByMotion returns the k highest-scoring frames, re-sorted into
// temporal order.
func SelectTopByMotion(in []Frame, k int) []Frame {
	if k >= len(in) {
		return in
	}
	scores := ScoreMotion(in)

	idx := make([]int, len(in))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	idx = idx[:k]
	sort.Ints(idx)

	out := make([]Frame, 0, k)
	for _, i := range idx {
		out = append(out, in[i])
	}
	return out
}
