package events

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/ai"
	"github.com/technosupport/ts-sentinel/internal/bridge"
	"github.com/technosupport/ts-sentinel/internal/data"
	"github.com/technosupport/ts-sentinel/internal/frames"
	"github.com/technosupport/ts-sentinel/internal/media"
	"github.com/technosupport/ts-sentinel/internal/metrics"
)

// Persistence retry schedule.
var storeBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Describer is the slice of the AI service the pipeline depends on.
type Describer interface {
	DescribeImage(ctx context.Context, jpegB64 string, pc ai.PromptContext) *ai.Result
	DescribeImages(ctx context.Context, jpegB64 []string, pc ai.PromptContext) *ai.Result
	DescribeVideoNative(ctx context.Context, p ai.Provider, clipPath string, pc ai.PromptContext) (*ai.Result, error)
	DescribeVideoFrames(ctx context.Context, p ai.Provider, jpegB64 []string, pc ai.PromptContext) (*ai.Result, error)
	FirstVideoCapable() ai.Provider
}

// FrameSource extracts frames and audio from a downloaded clip.
type FrameSource interface {
	Extract(ctx context.Context, clipPath string, n int) ([]frames.Frame, error)
	ExtractAudio(ctx context.Context, clipPath string) (string, error)
}

// SnapshotFunc fetches a current JPEG still for one camera.
type SnapshotFunc func(ctx context.Context, camera *data.Camera) ([]byte, error)

// CostGate reports whether AI spend is currently capped.
type CostGate interface {
	Active(ctx context.Context) (string, bool)
}

// AudioTranscriber turns an extracted WAV into text.
type AudioTranscriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// Embedder produces the event embedding used for entity context and matching.
type Embedder interface {
	Embed(ctx context.Context, jpegB64, kind string) ([]float32, error)
}

// EntityContext is the read-only pre-inference lookup against the known
// entity set. It never writes; the post-persist fan-out does the linking.
type EntityContext interface {
	MatchOnly(ctx context.Context, q []float32) (*data.Entity, float64, error)
}

// Pipeline runs one event end to end: evidence, AI fallback chain,
// persistence, fan-out.
type Pipeline struct {
	repos       *data.Repositories
	aiFor       func(ctx context.Context) Describer
	extractor   FrameSource
	snapshot    SnapshotFunc
	costGate    CostGate
	transcriber AudioTranscriber
	embedder    Embedder
	matcher     EntityContext
	store       *media.Store
	fanout      *Fanout
	prompts     PromptSource

	FrameCount int
}

// PromptSource resolves the effective custom prompt for one camera, if any.
type PromptSource interface {
	CustomPrompt(ctx context.Context, camera *data.Camera, doorbell bool) string
}

type PipelineConfig struct {
	Repos       *data.Repositories
	AIFor       func(ctx context.Context) Describer
	Extractor   FrameSource
	Snapshot    SnapshotFunc
	CostGate    CostGate
	Transcriber AudioTranscriber
	Embedder    Embedder
	Matcher     EntityContext
	Store       *media.Store
	Fanout      *Fanout
	Prompts     PromptSource
	FrameCount  int
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	n := cfg.FrameCount
	if n == 0 {
		n = frames.DefaultFrameCount
	}
	return &Pipeline{
		repos:       cfg.Repos,
		aiFor:       cfg.AIFor,
		extractor:   cfg.Extractor,
		snapshot:    cfg.Snapshot,
		costGate:    cfg.CostGate,
		transcriber: cfg.Transcriber,
		embedder:    cfg.Embedder,
		matcher:     cfg.Matcher,
		store:       cfg.Store,
		fanout:      cfg.Fanout,
		prompts:     cfg.Prompts,
		FrameCount:  frames.ClampFrameCount(n),
	}
}

// chainResult is the outcome of the evidence chain.
type chainResult struct {
	result     *ai.Result
	mode       string
	frameCount *int
	frames     []frames.Frame
	reasons    []string
}

// Process runs the synchronous pipeline for one event, then dispatches
// fan-out. The returned error covers persistence failure only; degraded AI
// outcomes are stored, not surfaced.
func (p *Pipeline) Process(ctx context.Context, ev *ProcessingEvent) error {
	defer func() {
		if ev.ClipPath != "" {
			p.store.RemoveClipPath(ev.ClipPath)
		}
	}()

	if ev.IsRing() && p.fanout != nil {
		p.fanout.DoorbellRing(ev)
	}

	snapshot := p.acquireSnapshot(ctx, ev)

	pc := ai.PromptContext{
		CameraName:      ev.Camera.Name,
		Timestamp:       ev.Timestamp,
		DetectedObjects: ev.Types,
	}
	if p.prompts != nil {
		pc.CustomPrompt = p.prompts.CustomPrompt(ctx, ev.Camera, ev.IsRing())
	}
	p.attachAudio(ctx, ev, &pc)

	var embedding []float32
	if p.embedder != nil && snapshot != nil && (ev.HasType("person") || ev.HasType("vehicle")) {
		embedding = p.computeEmbedding(ctx, ev, snapshot)
	}
	if embedding != nil {
		pc.KnownEntityContext = p.entityContext(ctx, embedding)
	}

	if reason, capped := p.gate(ctx); capped {
		stored, err := p.persistPaused(ctx, ev, snapshot, reason)
		if err != nil {
			return err
		}
		p.dispatchFanout(ev, stored, embedding)
		return nil
	}

	cr := p.runChain(ctx, ev, snapshot, pc)
	stored, err := p.persist(ctx, ev, snapshot, pc, cr)
	if err != nil {
		return err
	}
	p.dispatchFanout(ev, stored, embedding)
	return nil
}

func (p *Pipeline) gate(ctx context.Context) (string, bool) {
	if p.costGate == nil {
		return "", false
	}
	return p.costGate.Active(ctx)
}

func (p *Pipeline) acquireSnapshot(ctx context.Context, ev *ProcessingEvent) []byte {
	if len(ev.FrameJPEG) > 0 {
		return ev.FrameJPEG
	}
	if p.snapshot == nil {
		return nil
	}
	jpegBytes, err := p.snapshot(ctx, ev.Camera)
	if err != nil {
		log.Printf("[WARN] Pipeline: snapshot for camera %s failed: %v", ev.Camera.Name, err)
		return nil
	}
	return jpegBytes
}

// attachAudio extracts and transcribes the clip audio track for doorbell
// cameras. Failures never block the chain.
func (p *Pipeline) attachAudio(ctx context.Context, ev *ProcessingEvent, pc *ai.PromptContext) {
	if !ev.Camera.IsDoorbell || !ev.Camera.AudioEnabled || ev.ClipPath == "" {
		return
	}
	if p.extractor == nil || p.transcriber == nil {
		return
	}
	wav, err := p.extractor.ExtractAudio(ctx, ev.ClipPath)
	if err != nil {
		log.Printf("[WARN] Pipeline: audio extraction for camera %s failed: %v", ev.Camera.Name, err)
		return
	}
	text, err := p.transcriber.Transcribe(ctx, wav)
	if err != nil {
		log.Printf("[WARN] Pipeline: transcription for camera %s failed: %v", ev.Camera.Name, err)
		return
	}
	pc.AudioTranscription = strings.TrimSpace(text)
}

func (p *Pipeline) computeEmbedding(ctx context.Context, ev *ProcessingEvent, snapshot []byte) []float32 {
	kind := "face"
	if ev.HasType("vehicle") && !ev.HasType("person") {
		kind = "vehicle"
	}
	emb, err := p.embedder.Embed(ctx, base64.StdEncoding.EncodeToString(snapshot), kind)
	if err != nil {
		log.Printf("[WARN] Pipeline: embedding for camera %s failed: %v", ev.Camera.Name, err)
		return nil
	}
	return emb
}

// entityContext summarizes a pre-matched known entity for the prompt.
// Lookup failures and misses degrade to no context.
func (p *Pipeline) entityContext(ctx context.Context, embedding []float32) string {
	if p.matcher == nil {
		return ""
	}
	e, _, err := p.matcher.MatchOnly(ctx, embedding)
	if err != nil {
		log.Printf("[WARN] Pipeline: entity context lookup failed: %v", err)
		return ""
	}
	if e == nil {
		return ""
	}
	since := e.FirstSeen.UTC().Format("2006-01-02")
	if e.Name != nil && *e.Name != "" {
		return fmt.Sprintf("this %s resembles %s, seen %d times since %s",
			e.EntityType, *e.Name, e.OccurrenceCount, since)
	}
	return fmt.Sprintf("a recurring unnamed %s, seen %d times since %s",
		e.EntityType, e.OccurrenceCount, since)
}

// runChain walks video_native → multi_frame → single_frame, recording one
// stage:reason entry per degradation step.
func (p *Pipeline) runChain(ctx context.Context, ev *ProcessingEvent, snapshot []byte, pc ai.PromptContext) chainResult {
	cr := chainResult{reasons: append([]string(nil), ev.FallbackReasons...)}
	mode := ev.Camera.AnalysisMode
	aiSvc := p.aiFor(ctx)

	if ev.Camera.SourceKind != data.SourceProtect {
		if mode == data.ModeVideoNative {
			cr.fail("video_native", "no_clip_source")
		}
		if mode == data.ModeVideoNative || mode == data.ModeMultiFrame {
			cr.fail("multi_frame", "no_clip_source")
		}
		mode = data.ModeSingleFrame
	}

	if mode == data.ModeVideoNative {
		if done := p.tryVideoNative(ctx, ev, aiSvc, pc, &cr); done {
			return cr
		}
	}

	if mode == data.ModeVideoNative || mode == data.ModeMultiFrame {
		if done := p.tryMultiFrame(ctx, ev, aiSvc, pc, &cr); done {
			return cr
		}
	}

	p.trySingleFrame(ctx, aiSvc, snapshot, pc, &cr)
	return cr
}

func (cr *chainResult) fail(stage, reason string) {
	cr.reasons = append(cr.reasons, stage+":"+reason)
	metrics.FallbackStepsTotal.WithLabelValues(stage).Inc()
}

func (p *Pipeline) tryVideoNative(ctx context.Context, ev *ProcessingEvent, aiSvc Describer, pc ai.PromptContext, cr *chainResult) bool {
	if ev.ClipPath == "" {
		cr.fail("video_native", "no_clip_available")
		return false
	}
	provider := aiSvc.FirstVideoCapable()
	if provider == nil {
		cr.fail("video_native", "no_video_providers_available")
		return false
	}

	var res *ai.Result
	var err error
	switch provider.VideoMethod() {
	case ai.VideoNativeUpload:
		res, err = aiSvc.DescribeVideoNative(ctx, provider, ev.ClipPath, pc)
	case ai.VideoFrameExtraction:
		fs, exErr := p.extractor.Extract(ctx, ev.ClipPath, p.FrameCount)
		if exErr != nil || len(fs) == 0 {
			cr.fail("video_native", "frame_extraction_failed")
			return false
		}
		b64, encErr := encodeFramesB64(fs)
		if encErr != nil {
			cr.fail("video_native", "frame_encoding_failed")
			return false
		}
		pc.FrameCount = len(fs)
		res, err = aiSvc.DescribeVideoFrames(ctx, provider, b64, pc)
	default:
		cr.fail("video_native", "no_video_providers_available")
		return false
	}

	if err != nil || res == nil || !res.Success {
		cr.fail("video_native", videoFailureReason(err, res))
		return false
	}
	cr.result = res
	cr.mode = data.ModeVideoNative
	return true
}

func videoFailureReason(err error, res *ai.Result) string {
	if res != nil && res.Provider == ai.TimeoutProviderTag {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "ai_failed"
}

func (p *Pipeline) tryMultiFrame(ctx context.Context, ev *ProcessingEvent, aiSvc Describer, pc ai.PromptContext, cr *chainResult) bool {
	if ev.ClipPath == "" {
		cr.fail("multi_frame", "no_clip_available")
		return false
	}
	fs, err := p.extractor.Extract(ctx, ev.ClipPath, p.FrameCount)
	if err != nil || len(fs) == 0 {
		cr.fail("multi_frame", "frame_extraction_failed")
		return false
	}
	b64, err := encodeFramesB64(fs)
	if err != nil {
		cr.fail("multi_frame", "frame_extraction_failed")
		return false
	}

	pc.FrameCount = len(fs)
	res := aiSvc.DescribeImages(ctx, b64, pc)
	if !res.Success {
		cr.fail("multi_frame", "ai_failed")
		return false
	}
	n := len(fs)
	cr.result = res
	cr.mode = data.ModeMultiFrame
	cr.frameCount = &n
	cr.frames = fs
	return true
}

func (p *Pipeline) trySingleFrame(ctx context.Context, aiSvc Describer, snapshot []byte, pc ai.PromptContext, cr *chainResult) {
	if snapshot == nil {
		cr.fail("single_frame", "no_snapshot")
		return
	}
	res := aiSvc.DescribeImage(ctx, base64.StdEncoding.EncodeToString(snapshot), pc)
	if !res.Success {
		cr.fail("single_frame", "ai_failed")
		return
	}
	one := 1
	cr.result = res
	cr.mode = data.ModeSingleFrame
	cr.frameCount = &one
}

func encodeFramesB64(fs []frames.Frame) ([]string, error) {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		jpegBytes, err := frames.EncodeAnalysisJPEG(f.Image)
		if err != nil {
			return nil, err
		}
		out = append(out, base64.StdEncoding.EncodeToString(jpegBytes))
	}
	return out, nil
}

// persist maps the chain outcome onto a stored event and writes it with
// bounded retries.
func (p *Pipeline) persist(ctx context.Context, ev *ProcessingEvent, snapshot []byte, pc ai.PromptContext, cr chainResult) (*data.Event, error) {
	stored := &data.Event{
		ID:                 uuid.New(),
		CameraID:           ev.Camera.ID,
		Timestamp:          ev.Timestamp,
		ObjectsDetected:    ev.Types,
		SourceKind:         ev.Camera.SourceKind,
		SmartDetectionType: ev.SmartDetectionType(),
		IsDoorbellRing:     ev.IsRing(),
	}
	if pc.AudioTranscription != "" {
		stored.AudioTranscription = &pc.AudioTranscription
	}
	if len(cr.reasons) > 0 {
		chain := strings.Join(cr.reasons, ",")
		stored.FallbackReason = &chain
	}

	if cr.result != nil {
		res := cr.result
		stored.Description = res.Description
		stored.AnalysisMode = &cr.mode
		stored.FrameCountUsed = cr.frameCount
		stored.ProviderUsed = &res.Provider
		stored.AICost = &res.CostUSD
		if res.SelfReportedConfidence != nil {
			stored.Confidence = *res.SelfReportedConfidence
			stored.AIConfidence = res.SelfReportedConfidence
		} else {
			stored.Confidence = 50
		}
		stored.LowConfidence = stored.Confidence < 40
		inferred := ai.InferObjects(res.Description)
		if len(inferred) > 0 && inferred[0] != "unknown" {
			stored.ObjectsDetected = mergeTags(stored.ObjectsDetected, inferred)
		}
		if hasTag(stored.ObjectsDetected, "package") {
			if carrier := bridge.ExtractCarrier(res.Description); carrier != "" {
				stored.DeliveryCarrier = &carrier
			}
		}
	} else {
		stored.Description = data.DescriptionUnavailable
		stored.Confidence = 0
		stored.DescriptionRetryNeed = true
	}

	p.attachThumbnail(ev, snapshot, stored)

	if err := p.storeWithRetry(ctx, stored); err != nil {
		return nil, err
	}
	p.storeKeyFrames(ctx, stored, cr.frames)
	return stored, nil
}

// persistPaused writes the cost-cap terminal state.
func (p *Pipeline) persistPaused(ctx context.Context, ev *ProcessingEvent, snapshot []byte, reason string) (*data.Event, error) {
	stored := &data.Event{
		ID:                    uuid.New(),
		CameraID:              ev.Camera.ID,
		Timestamp:             ev.Timestamp,
		Description:           data.DescriptionPausedPrefix + reason,
		Confidence:            0,
		ObjectsDetected:       ev.Types,
		SourceKind:            ev.Camera.SourceKind,
		SmartDetectionType:    ev.SmartDetectionType(),
		IsDoorbellRing:        ev.IsRing(),
		DescriptionRetryNeed:  true,
		AnalysisSkippedReason: &reason,
	}
	p.attachThumbnail(ev, snapshot, stored)
	if err := p.storeWithRetry(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (p *Pipeline) attachThumbnail(ev *ProcessingEvent, snapshot []byte, stored *data.Event) {
	if snapshot == nil || p.store == nil {
		return
	}
	thumb, err := makeThumbnail(snapshot)
	if err != nil {
		log.Printf("[WARN] Pipeline: thumbnail encode for camera %s failed: %v", ev.Camera.Name, err)
		return
	}
	path, err := p.store.WriteThumbnail(stored.ID, ev.Timestamp, thumb)
	if err != nil {
		log.Printf("[WARN] Pipeline: thumbnail write for camera %s failed: %v", ev.Camera.Name, err)
		return
	}
	stored.ThumbnailPath = &path
}

func (p *Pipeline) storeWithRetry(ctx context.Context, stored *data.Event) error {
	var err error
	for i := 0; i <= len(storeBackoff); i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(storeBackoff[i-1]):
			}
		}
		if err = p.repos.Events.Create(ctx, stored); err == nil {
			return nil
		}
	}
	log.Printf("[ERROR] Pipeline: event_storage_failed for camera %s: %v", stored.CameraID, err)
	return fmt.Errorf("event_storage_failed: %w", err)
}

func (p *Pipeline) storeKeyFrames(ctx context.Context, stored *data.Event, fs []frames.Frame) {
	if len(fs) == 0 || p.fanout == nil || !p.fanout.StoreFrames(ctx) {
		return
	}
	keyFrames := make([]data.KeyFrame, 0, len(fs))
	for _, f := range fs {
		jpegBytes, err := frames.EncodeThumbnailJPEG(f.Image)
		if err != nil {
			continue
		}
		keyFrames = append(keyFrames, data.KeyFrame{
			EventID:   stored.ID,
			Index:     f.Index,
			Timestamp: stored.Timestamp.Add(f.Timestamp),
			JPEG:      jpegBytes,
		})
	}
	if err := p.repos.Events.InsertKeyFrames(ctx, keyFrames); err != nil {
		log.Printf("[WARN] Pipeline: key frame store failed: %v", err)
	}
}

func (p *Pipeline) dispatchFanout(ev *ProcessingEvent, stored *data.Event, embedding []float32) {
	if p.fanout == nil {
		return
	}
	p.fanout.Dispatch(ev, stored, embedding)
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range append(append([]string{}, a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// makeThumbnail re-encodes a snapshot JPEG at thumbnail size.
func makeThumbnail(jpegBytes []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return nil, err
	}
	return frames.EncodeThumbnailJPEG(img)
}

func errorKind(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "event_storage_failed"):
		return "event_storage_failed"
	case strings.Contains(msg, "context deadline"):
		return "timeout"
	default:
		return "pipeline_error"
	}
}
