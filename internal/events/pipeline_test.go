package events

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/ai"
	"github.com/technosupport/ts-sentinel/internal/data"
	"github.com/technosupport/ts-sentinel/internal/frames"
	"github.com/technosupport/ts-sentinel/internal/media"
)

type stubDescriber struct {
	imageRes    *ai.Result
	imagesRes   *ai.Result
	videoCap    ai.Provider
	imageCalls  int
	imagesCalls int
	lastPC      ai.PromptContext
}

func (s *stubDescriber) DescribeImage(ctx context.Context, jpegB64 string, pc ai.PromptContext) *ai.Result {
	s.imageCalls++
	s.lastPC = pc
	return s.imageRes
}

func (s *stubDescriber) DescribeImages(ctx context.Context, jpegB64 []string, pc ai.PromptContext) *ai.Result {
	s.imagesCalls++
	s.lastPC = pc
	return s.imagesRes
}

func (s *stubDescriber) DescribeVideoNative(ctx context.Context, p ai.Provider, clipPath string, pc ai.PromptContext) (*ai.Result, error) {
	return nil, errors.New("not wired")
}

func (s *stubDescriber) DescribeVideoFrames(ctx context.Context, p ai.Provider, jpegB64 []string, pc ai.PromptContext) (*ai.Result, error) {
	return nil, errors.New("not wired")
}

func (s *stubDescriber) FirstVideoCapable() ai.Provider { return s.videoCap }

type stubExtractor struct {
	frames []frames.Frame
	err    error
}

func (s *stubExtractor) Extract(ctx context.Context, clipPath string, n int) ([]frames.Frame, error) {
	return s.frames, s.err
}

func (s *stubExtractor) ExtractAudio(ctx context.Context, clipPath string) (string, error) {
	return "", errors.New("no audio track")
}

type stubGate struct {
	reason string
	active bool
}

func (s *stubGate) Active(ctx context.Context) (string, bool) { return s.reason, s.active }

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testFrames(t *testing.T, n int) []frames.Frame {
	t.Helper()
	out := make([]frames.Frame, n)
	for i := range out {
		out[i] = frames.Frame{
			Image:     image.NewRGBA(image.Rect(0, 0, 16, 16)),
			Index:     i,
			Timestamp: time.Duration(i) * time.Second,
		}
	}
	return out
}

func newPipelineFixture(t *testing.T, d Describer, gate CostGate, extractor FrameSource, snap SnapshotFunc) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repos := &data.Repositories{DB: db, Events: data.EventModel{DB: db}}
	return NewPipeline(PipelineConfig{
		Repos:     repos,
		AIFor:     func(ctx context.Context) Describer { return d },
		Extractor: extractor,
		Snapshot:  snap,
		CostGate:  gate,
		Store:     media.NewStore(t.TempDir()),
	}), mock
}

// insertArgs builds a 23-slot matcher list for the events insert, with
// specific expectations at the given 1-based placeholder positions.
func insertArgs(overrides map[int]driver.Value) []driver.Value {
	args := make([]driver.Value, 23)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	for pos, v := range overrides {
		args[pos-1] = v
	}
	return args
}

func expectEventInsert(mock sqlmock.Sqlmock, overrides map[int]driver.Value) {
	mock.ExpectQuery(`(?s)INSERT INTO events.+RETURNING created_at`).
		WithArgs(insertArgs(overrides)...).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
}

func TestPipelineSingleFrameHappyPath(t *testing.T) {
	d := &stubDescriber{imageRes: &ai.Result{
		Description: "A person walks to the front door.",
		Provider:    ai.ProviderOpenAI,
		CostUSD:     0.001,
		Success:     true,
	}}
	p, mock := newPipelineFixture(t, d, nil, nil, nil)

	expectEventInsert(mock, map[int]driver.Value{
		4:  "A person walks to the front door.",
		5:  int64(50), // no self-reported confidence
		11: data.SourceRTSP,
		12: "person",
		14: data.ModeSingleFrame,
		15: int64(1),
		16: nil, // no fallback chain
		17: ai.ProviderOpenAI,
		21: false,
	})

	ev := testEvent("porch", "person", "motion")
	ev.FrameJPEG = testJPEG(t)
	require.NoError(t, p.Process(context.Background(), ev))

	assert.Equal(t, 1, d.imageCalls)
	assert.Equal(t, "porch", d.lastPC.CameraName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelineFallsBackToMultiFrame(t *testing.T) {
	d := &stubDescriber{
		imagesRes: &ai.Result{
			Description: "Two cars pass on the street.",
			Provider:    ai.ProviderClaude,
			Success:     true,
		},
	}
	extractor := &stubExtractor{frames: testFrames(t, 3)}
	p, mock := newPipelineFixture(t, d, nil, extractor, func(ctx context.Context, c *data.Camera) ([]byte, error) {
		return nil, errors.New("camera offline")
	})

	expectEventInsert(mock, map[int]driver.Value{
		12: "vehicle",
		14: data.ModeMultiFrame,
		15: int64(3),
		16: "video_native:no_video_providers_available",
		17: ai.ProviderClaude,
	})

	ev := testEvent("street", "vehicle")
	ev.Camera.SourceKind = data.SourceProtect
	ev.Camera.AnalysisMode = data.ModeVideoNative
	ev.ClipPath = "/nonexistent/clip.mp4"
	require.NoError(t, p.Process(context.Background(), ev))

	assert.Equal(t, 1, d.imagesCalls)
	assert.Equal(t, 0, d.imageCalls)
	assert.Equal(t, 3, d.lastPC.FrameCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelineTerminalUnavailable(t *testing.T) {
	d := &stubDescriber{imageRes: &ai.Result{Success: false, Error: "401 unauthorized"}}
	p, mock := newPipelineFixture(t, d, nil, &stubExtractor{err: errors.New("no clip")}, func(ctx context.Context, c *data.Camera) ([]byte, error) {
		return testJPEG(t), nil
	})

	expectEventInsert(mock, map[int]driver.Value{
		4:  data.DescriptionUnavailable,
		5:  int64(0),
		16: "video_native:no_clip_available,multi_frame:no_clip_available,single_frame:ai_failed",
		21: true, // retry needed
	})

	ev := testEvent("gate", "person")
	ev.Camera.SourceKind = data.SourceProtect
	ev.Camera.AnalysisMode = data.ModeVideoNative
	require.NoError(t, p.Process(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelinePackageCarrierExtraction(t *testing.T) {
	d := &stubDescriber{imageRes: &ai.Result{
		Description: "A FedEx driver leaves a package on the porch.",
		Provider:    ai.ProviderOpenAI,
		Success:     true,
	}}
	p, mock := newPipelineFixture(t, d, nil, nil, nil)

	expectEventInsert(mock, map[int]driver.Value{
		12: "package",
		19: "fedex",
	})

	ev := testEvent("porch", "package")
	ev.FrameJPEG = testJPEG(t)
	require.NoError(t, p.Process(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipelineCostCapPausesAnalysis(t *testing.T) {
	d := &stubDescriber{}
	gate := &stubGate{reason: "daily limit reached", active: true}
	p, mock := newPipelineFixture(t, d, gate, nil, nil)

	expectEventInsert(mock, map[int]driver.Value{
		4:  data.DescriptionPausedPrefix + "daily limit reached",
		5:  int64(0),
		21: true,
		22: "daily limit reached",
	})

	ev := testEvent("porch", "person")
	ev.FrameJPEG = testJPEG(t)
	require.NoError(t, p.Process(context.Background(), ev))

	assert.Equal(t, 0, d.imageCalls)
	assert.Equal(t, 0, d.imagesCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type recordingPush struct {
	rings  chan struct{}
	events chan bool // vip flag
}

func newRecordingPush() *recordingPush {
	return &recordingPush{rings: make(chan struct{}, 4), events: make(chan bool, 4)}
}

func (r *recordingPush) SendEvent(ctx context.Context, cameraID, eventID uuid.UUID, cameraName, description, thumbnailURL string, vip bool) {
	r.events <- vip
}

func (r *recordingPush) SendDoorbellRing(ctx context.Context, cameraID uuid.UUID, cameraName, thumbnailURL string, ts time.Time) {
	r.rings <- struct{}{}
}

func (r *recordingPush) SendCostAlert(ctx context.Context, window string, frac float64) {}

func TestPipelineDoorbellRingFiresImmediately(t *testing.T) {
	d := &stubDescriber{imageRes: &ai.Result{
		Description: "A visitor presses the doorbell.",
		Provider:    ai.ProviderOpenAI,
		Success:     true,
	}}
	push := newRecordingPush()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repos := &data.Repositories{DB: db, Events: data.EventModel{DB: db}}

	p := NewPipeline(PipelineConfig{
		Repos:  repos,
		AIFor:  func(ctx context.Context) Describer { return d },
		Store:  media.NewStore(t.TempDir()),
		Fanout: &Fanout{Repos: repos, Push: push},
	})

	expectEventInsert(mock, map[int]driver.Value{
		12: "ring",
		13: true,
	})

	ev := testEvent("doorbell", "ring", "person")
	ev.Camera.IsDoorbell = true
	ev.FrameJPEG = testJPEG(t)
	require.NoError(t, p.Process(context.Background(), ev))

	select {
	case <-push.rings:
	case <-time.After(time.Second):
		t.Fatal("doorbell ring push never fired")
	}
	// The regular event push is suppressed for ring events.
	select {
	case <-push.events:
		t.Fatal("unexpected event push for a doorbell ring")
	case <-time.After(50 * time.Millisecond):
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

type stubMatcher struct {
	entity *data.Entity
	err    error
}

func (s *stubMatcher) MatchOnly(ctx context.Context, q []float32) (*data.Entity, float64, error) {
	return s.entity, 0.88, s.err
}

func TestPipelineEntityContext(t *testing.T) {
	name := "Alice"
	known := &data.Entity{
		EntityType:      data.EntityPerson,
		Name:            &name,
		FirstSeen:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		OccurrenceCount: 12,
	}

	p := &Pipeline{matcher: &stubMatcher{entity: known}}
	got := p.entityContext(context.Background(), make([]float32, 4))
	assert.Equal(t, "this person resembles Alice, seen 12 times since 2026-03-01", got)

	unnamed := &data.Entity{
		EntityType:      data.EntityVehicle,
		FirstSeen:       time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC),
		OccurrenceCount: 3,
	}
	p = &Pipeline{matcher: &stubMatcher{entity: unnamed}}
	got = p.entityContext(context.Background(), make([]float32, 4))
	assert.Equal(t, "a recurring unnamed vehicle, seen 3 times since 2026-05-20", got)

	p = &Pipeline{matcher: &stubMatcher{err: context.DeadlineExceeded}}
	assert.Empty(t, p.entityContext(context.Background(), make([]float32, 4)))

	p = &Pipeline{}
	assert.Empty(t, p.entityContext(context.Background(), make([]float32, 4)))
}
