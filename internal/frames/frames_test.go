package frames

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectIndices_Invariants(t *testing.T) {
	cases := []struct{ total, n int }{
		{100, 5}, {30, 3}, {900, 20}, {10, 9}, {2, 2},
	}
	for _, tc := range cases {
		got := SelectIndices(tc.total, tc.n)
		require.Len(t, got, tc.n, "total=%d n=%d", tc.total, tc.n)
		assert.Equal(t, 0, got[0], "first index must be 0")
		assert.Equal(t, tc.total-1, got[len(got)-1], "last index must be total-1")
		for i := 1; i < len(got); i++ {
			assert.Greater(t, got[i], got[i-1], "indices must be strictly increasing")
		}
	}
}

func TestSelectIndices_Edges(t *testing.T) {
	assert.Nil(t, SelectIndices(0, 5))
	assert.Nil(t, SelectIndices(-3, 5))
	assert.Equal(t, []int{0}, SelectIndices(50, 1))
	assert.Equal(t, []int{0, 1, 2}, SelectIndices(3, 10)) // n >= total returns all
}

func TestClampFrameCount(t *testing.T) {
	assert.Equal(t, MaxFrameCount, ClampFrameCount(100))
	assert.Equal(t, MinFrameCount, ClampFrameCount(0))
	assert.Equal(t, 5, ClampFrameCount(5))
}

func TestOffsetFrames(t *testing.T) {
	assert.Equal(t, 30, OffsetFrames(1000, 30))
	assert.Equal(t, 0, OffsetFrames(0, 30))
	assert.Equal(t, 0, OffsetFrames(500, 0))
	assert.Equal(t, 15, OffsetFrames(500, 30))
}

func flatGray(v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func noisyGray(seed int64) *image.Gray {
	r := rand.New(rand.NewSource(seed))
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range g.Pix {
		g.Pix[i] = uint8(r.Intn(256))
	}
	return g
}

func TestQuality_EmptyFrame(t *testing.T) {
	q := Measure(flatGray(128))
	assert.True(t, q.Empty(), "flat frame must be flagged empty")
	assert.True(t, q.Blurry(), "flat frame has no edges")
	assert.False(t, q.Usable())
}

func TestQuality_SharpFrame(t *testing.T) {
	// Checkerboard: maximal edges, maximal contrast.
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x+y)%2 == 0 {
				g.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	q := Measure(g)
	assert.True(t, q.Usable(), "checkerboard scores: sharpness=%.1f contrast=%.1f", q.Sharpness, q.Contrast)
}

func TestSSIM_Identical(t *testing.T) {
	img := noisyGray(1)
	assert.InDelta(t, 1.0, SSIM(img, img), 0.001)
}

func TestSSIM_Different(t *testing.T) {
	s := SSIM(noisyGray(1), noisyGray(2))
	assert.Less(t, s, 0.5, "independent noise must not be similar")
}

func TestDeduplicateSSIM(t *testing.T) {
	a := noisyGray(1)
	b := noisyGray(2)
	in := []Frame{
		{Image: a, Index: 0},
		{Image: a, Index: 1}, // duplicate of 0
		{Image: b, Index: 2},
		{Image: b, Index: 3}, // duplicate of 2
	}
	out := DeduplicateSSIM(in)
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0].Index, "first frame always kept")
	assert.Equal(t, 2, out[1].Index)
	assert.LessOrEqual(t, len(out), len(in))
}

func TestMotionScore_Identical(t *testing.T) {
	img := noisyGray(3)
	assert.InDelta(t, 0.0, MotionScore(img, img), 0.5)
}

func TestMotionScore_Shift(t *testing.T) {
	// Structured gradient image shifted by several pixels.
	a := image.NewGray(image.Rect(0, 0, 256, 256))
	b := image.NewGray(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			v := uint8((x * 7 / 3) % 256)
			a.SetGray(x, y, color.Gray{Y: v})
			if x >= 6 {
				b.SetGray(x, y, color.Gray{Y: uint8(((x - 6) * 7 / 3) % 256)})
			}
		}
	}
	score := MotionScore(a, b)
	assert.Greater(t, score, 30.0, "shifted frame should score high, got %.1f", score)
}

func TestScoreMotion_EdgeFrames(t *testing.T) {
	fs := []Frame{
		{Image: noisyGray(1)},
		{Image: noisyGray(1)},
		{Image: noisyGray(9)},
	}
	scores := ScoreMotion(fs)
	require.Len(t, scores, 3)
	// frame 0 scores against 1 only; frame 2 against 1 only; frame 1 averages.
	assert.InDelta(t, 0, scores[0], 1.0)
	assert.Greater(t, scores[2], scores[0])
}

func TestSelectTopByMotion_PreservesOrder(t *testing.T) {
	fs := []Frame{
		{Image: noisyGray(1), Index: 0},
		{Image: noisyGray(1), Index: 1},
		{Image: noisyGray(5), Index: 2},
		{Image: noisyGray(9), Index: 3},
	}
	out := SelectTopByMotion(fs, 2)
	require.Len(t, out, 2)
	assert.Less(t, out[0].Index, out[1].Index)
}

func TestApplyQualityPolicy_AllUsable(t *testing.T) {
	var in []Frame
	for i := 0; i < 6; i++ {
		in = append(in, Frame{Image: noisyGray(int64(i)), Index: i})
	}
	out := applyQualityPolicy(in, 4)
	require.Len(t, out, 4)
}

func TestApplyQualityPolicy_NoneUsable(t *testing.T) {
	var in []Frame
	for i := 0; i < 4; i++ {
		in = append(in, Frame{Image: flatGray(uint8(i * 10)), Index: i})
	}
	out := applyQualityPolicy(in, 3)
	require.Len(t, out, 3, "best-effort top by sharpness when none usable")
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].Index, out[i].Index, "temporal order preserved")
	}
}

func TestFinalizeSelection_StaticSceneKeepsFloor(t *testing.T) {
	// All frames identical (a parked-car clip): dedup alone would collapse
	// the batch to one frame.
	img := noisyGray(1)
	var in []Frame
	for i := 0; i < 5; i++ {
		in = append(in, Frame{Image: img, Index: i})
	}

	out := finalizeSelection(in, 5)
	require.GreaterOrEqual(t, len(out), MinFrameCount)
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].Index, out[i].Index, "temporal order preserved")
	}
}

func TestFinalizeSelection_TinyBatchReturnsAll(t *testing.T) {
	img := noisyGray(2)
	in := []Frame{{Image: img, Index: 0}, {Image: img, Index: 1}}
	out := finalizeSelection(in, 5)
	require.Len(t, out, 2)
}

func TestFinalizeSelection_DistinctFramesUntouched(t *testing.T) {
	var in []Frame
	for i := 0; i < 5; i++ {
		in = append(in, Frame{Image: noisyGray(int64(i + 1)), Index: i})
	}
	out := finalizeSelection(in, 5)
	require.Len(t, out, 5)
}

func TestReduceCandidates_MotionRankingWithoutSelector(t *testing.T) {
	still := noisyGray(1)
	in := []Frame{
		{Image: still, Index: 0},
		{Image: still, Index: 1},
		{Image: noisyGray(7), Index: 2},
		{Image: still, Index: 3},
		{Image: noisyGray(8), Index: 4},
		{Image: still, Index: 5},
	}

	e := &Extractor{Strategy: StrategyAdaptive}
	out := e.reduceCandidates(context.Background(), in, 2)
	require.Len(t, out, 2)
	assert.Less(t, out[0].Index, out[1].Index)

	// Uniform strategy never reduces in-process.
	e = &Extractor{Strategy: StrategyUniform}
	assert.Len(t, e.reduceCandidates(context.Background(), in, 2), len(in))
}

func TestApplyQualityPolicy_TopUp(t *testing.T) {
	in := []Frame{
		{Image: noisyGray(1), Index: 0},
		{Image: flatGray(100), Index: 1},
		{Image: flatGray(50), Index: 2},
		{Image: noisyGray(2), Index: 3},
	}
	out := applyQualityPolicy(in, 5)
	// 2 usable + topped up from unusable pool to reach max(3, 5)->capped by total.
	require.GreaterOrEqual(t, len(out), 3)
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].Index, out[i].Index)
	}
}
