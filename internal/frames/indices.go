package frames

import "math"

const (
	MinFrameCount     = 3
	MaxFrameCount     = 20
	DefaultFrameCount = 5
)

// ClampFrameCount bounds a requested frame count to the supported range.
func ClampFrameCount(n int) int {
	if n < MinFrameCount {
		return MinFrameCount
	}
	if n > MaxFrameCount {
		return MaxFrameCount
	}
	return n
}

// SelectIndices returns n evenly-spaced frame indices over a clip of total
// frames, always including the first and last frame.
func SelectIndices(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	if n >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if n == 1 {
		return []int{0}
	}

	out := make([]int, 0, n)
	last := -1
	for i := 0; i < n; i++ {
		idx := int(math.Round(float64(i) * float64(total-1) / float64(n-1)))
		if idx <= last {
			idx = last + 1
		}
		if idx > total-1 {
			idx = total - 1
		}
		out = append(out, idx)
		last = idx
	}
	return out
}

// OffsetFrames converts a millisecond offset into whole frames at the given
// fps. Callers fall back to zero when the clip is shorter than the offset.
func OffsetFrames(offsetMS int, fps float64) int {
	if offsetMS <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Round(float64(offsetMS) * fps / 1000.0))
}
