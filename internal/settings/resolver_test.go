package settings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-sentinel/internal/data"
)

func TestResolverPrefersCameraPrompt(t *testing.T) {
	r := &PromptResolver{}
	camera := &data.Camera{ID: uuid.New(), CustomPrompt: "Watch the driveway gate.", AnalysisMode: data.ModeSingleFrame}
	assert.Equal(t, "Watch the driveway gate.", r.CustomPrompt(context.Background(), camera, false))
}

func TestResolverFileOverrides(t *testing.T) {
	file := &PromptFile{}
	file.overrides = PromptOverrides{
		Single:   "single override",
		Multi:    "multi override",
		Doorbell: "doorbell override",
	}
	r := &PromptResolver{File: file}

	single := &data.Camera{ID: uuid.New(), AnalysisMode: data.ModeSingleFrame}
	multi := &data.Camera{ID: uuid.New(), AnalysisMode: data.ModeMultiFrame}

	assert.Equal(t, "single override", r.CustomPrompt(context.Background(), single, false))
	assert.Equal(t, "multi override", r.CustomPrompt(context.Background(), multi, false))
	assert.Equal(t, "doorbell override", r.CustomPrompt(context.Background(), single, true))
}

func TestResolverEmptyWithoutSources(t *testing.T) {
	r := &PromptResolver{}
	camera := &data.Camera{ID: uuid.New(), AnalysisMode: data.ModeSingleFrame}
	assert.Empty(t, r.CustomPrompt(context.Background(), camera, false))
}

func TestResolverDoorbellFallsBackToRingPrompt(t *testing.T) {
	r := &PromptResolver{}
	camera := &data.Camera{ID: uuid.New(), AnalysisMode: data.ModeSingleFrame, IsDoorbell: true}
	got := r.CustomPrompt(context.Background(), camera, true)
	assert.Contains(t, got, "doorbell")
}

func TestABBucketIsStable(t *testing.T) {
	camera := &data.Camera{ID: uuid.New()}
	first := abBucket(camera)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, abBucket(camera))
	}
}
