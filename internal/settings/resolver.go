package settings

import (
	"context"
	"hash/fnv"

	"github.com/technosupport/ts-sentinel/internal/ai"
	"github.com/technosupport/ts-sentinel/internal/data"
)

// PromptResolver picks the effective custom prompt for one camera.
// Precedence: per-camera prompt, then the on-disk override file, then the
// stored global prompt (with A/B variant selection keyed off the camera id).
// Ring events with no override of their own fall back to the doorbell base
// prompt rather than the generic scene prompt.
type PromptResolver struct {
	Service *Service
	File    *PromptFile
}

func (r *PromptResolver) CustomPrompt(ctx context.Context, camera *data.Camera, doorbell bool) string {
	if camera.CustomPrompt != "" {
		return camera.CustomPrompt
	}
	if r.File != nil {
		o := r.File.Overrides()
		if doorbell && o.Doorbell != "" {
			return o.Doorbell
		}
		if camera.AnalysisMode != data.ModeSingleFrame && o.Multi != "" {
			return o.Multi
		}
		if o.Single != "" {
			return o.Single
		}
	}
	if r.Service != nil {
		if p, ok := r.Service.DescriptionPrompt(ctx, abBucket(camera)); ok {
			return p
		}
	}
	if doorbell {
		return ai.DoorbellPrompt()
	}
	return ""
}

// abBucket assigns a camera to one of two stable A/B buckets.
func abBucket(camera *data.Camera) bool {
	h := fnv.New32a()
	h.Write(camera.ID[:])
	return h.Sum32()%2 == 1
}
