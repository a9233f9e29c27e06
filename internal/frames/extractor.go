package frames

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/technosupport/ts-sentinel/internal/metrics"
)

// Sampling strategies.
const (
	StrategyUniform  = "uniform"
	StrategyAdaptive = "adaptive"
	StrategyHybrid   = "hybrid"
)

// Frame is one decoded frame plus its position in the source clip.
type Frame struct {
	Image     image.Image
	Index     int
	Timestamp time.Duration
	Quality   Quality
}

// DiversitySelector reduces an oversampled candidate set to n frames using
// histogram and perceptual distance, preserving temporal order. External to
// the extractor; the adaptive strategies hand off to it.
type DiversitySelector interface {
	Select(ctx context.Context, candidates []Frame, n int) ([]Frame, error)
}

// Extractor pulls frames out of on-disk clips via ffmpeg.
type Extractor struct {
	FFmpegPath  string
	FFprobePath string
	Strategy    string
	OffsetMS    int
	Diversity   DiversitySelector
	WorkDir     string
}

func NewExtractor(workDir string) *Extractor {
	return &Extractor{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Strategy:    StrategyUniform,
		WorkDir:     workDir,
	}
}

// ClipInfo is the probed shape of a clip.
type ClipInfo struct {
	FrameCount int
	FPS        float64
	Duration   time.Duration
}

// Probe reads frame count, fps and duration with ffprobe.
func (e *Extractor) Probe(ctx context.Context, clipPath string) (*ClipInfo, error) {
	out, err := exec.CommandContext(ctx, e.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames,r_frame_rate,duration",
		"-of", "csv=p=0",
		clipPath,
	).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", clipPath, err)
	}

	fields := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(fields) < 3 {
		return nil, fmt.Errorf("ffprobe %s: unexpected output %q", clipPath, string(out))
	}

	info := &ClipInfo{}
	if num, den, ok := strings.Cut(fields[0], "/"); ok {
		n, _ := strconv.ParseFloat(num, 64)
		d, _ := strconv.ParseFloat(den, 64)
		if d > 0 {
			info.FPS = n / d
		}
	}
	if secs, err := strconv.ParseFloat(fields[1], 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	if n, err := strconv.Atoi(fields[2]); err == nil {
		info.FrameCount = n
	}
	return info, nil
}

// Extract returns up to n usable frames from the clip, evenly spaced,
// quality-filtered, and deduplicated. n is clamped to [3, 20].
func (e *Extractor) Extract(ctx context.Context, clipPath string, n int) ([]Frame, error) {
	n = ClampFrameCount(n)

	info, err := e.Probe(ctx, clipPath)
	if err != nil {
		return nil, err
	}
	if info.FrameCount <= 0 {
		return nil, fmt.Errorf("clip %s has no frames", clipPath)
	}

	offset := OffsetFrames(e.OffsetMS, info.FPS)
	if offset >= info.FrameCount {
		log.Printf("[WARN] Frame Extractor: offset %dms exceeds clip %s, using offset 0", e.OffsetMS, filepath.Base(clipPath))
		offset = 0
	}

	sampleCount := n
	if e.Strategy == StrategyAdaptive || e.Strategy == StrategyHybrid {
		sampleCount = 3 * n
	}

	avail := info.FrameCount - offset
	indices := SelectIndices(avail, sampleCount)
	for i := range indices {
		indices[i] += offset
	}

	candidates, err := e.decodeFrames(ctx, clipPath, indices, info.FPS)
	if err != nil {
		return nil, err
	}
	metrics.FramesExtractedTotal.Add(float64(len(candidates)))

	candidates = e.reduceCandidates(ctx, candidates, n)
	return finalizeSelection(candidates, n), nil
}

// reduceCandidates narrows an oversampled adaptive batch to n frames: the
// external diversity selector when configured, otherwise motion ranking.
func (e *Extractor) reduceCandidates(ctx context.Context, candidates []Frame, n int) []Frame {
	if e.Strategy == StrategyUniform || len(candidates) <= n {
		return candidates
	}
	if e.Diversity != nil {
		reduced, err := e.Diversity.Select(ctx, candidates, n)
		if err == nil {
			return reduced
		}
		log.Printf("[WARN] Frame Extractor: diversity selection failed, falling back to motion ranking: %v", err)
	}
	return SelectTopByMotion(candidates, n)
}

// finalizeSelection applies the quality policy and near-duplicate removal.
// When dedup cuts a static scene below the minimum batch size, the dropped
// duplicates are restored so multi-frame analysis always sees at least
// MinFrameCount frames (or the whole batch when fewer exist).
func finalizeSelection(candidates []Frame, n int) []Frame {
	selected := applyQualityPolicy(candidates, n)
	deduped := DeduplicateSSIM(selected)
	if len(deduped) < MinFrameCount {
		deduped = restoreDropped(deduped, selected, MinFrameCount)
	}
	return deduped
}

// restoreDropped tops a deduplicated batch back up to floor with the dropped
// frames, in temporal order.
func restoreDropped(kept, all []Frame, floor int) []Frame {
	if floor > len(all) {
		floor = len(all)
	}
	have := make(map[int]bool, len(kept))
	for _, f := range kept {
		have[f.Index] = true
	}
	out := append([]Frame(nil), kept...)
	for _, f := range all {
		if len(out) >= floor {
			break
		}
		if !have[f.Index] {
			out = append(out, f)
		}
	}
	sortByIndex(out)
	return out
}

// decodeFrames extracts the given frame indices as JPEGs in one ffmpeg pass
// and decodes them.
func (e *Extractor) decodeFrames(ctx context.Context, clipPath string, indices []int, fps float64) ([]Frame, error) {
	if len(indices) == 0 {
		return nil, nil
	}

	tmpDir, err := os.MkdirTemp(e.WorkDir, "frames-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	terms := make([]string, len(indices))
	for i, idx := range indices {
		terms[i] = fmt.Sprintf("eq(n\\,%d)", idx)
	}
	filter := "select='" + strings.Join(terms, "+") + "'"

	cmd := exec.CommandContext(ctx, e.FFmpegPath,
		"-i", clipPath,
		"-vf", filter,
		"-vsync", "0",
		"-q:v", "2",
		filepath.Join(tmpDir, "f-%04d.jpg"),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction: %w (%s)", err, lastLine(out))
	}

	names, err := filepath.Glob(filepath.Join(tmpDir, "f-*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var out []Frame
	for i, name := range names {
		if i >= len(indices) {
			break
		}
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		img, err := jpeg.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(name), err)
		}

		var ts time.Duration
		if fps > 0 {
			ts = time.Duration(float64(indices[i]) / fps * float64(time.Second))
		}
		out = append(out, Frame{Image: img, Index: indices[i], Timestamp: ts})
	}
	return out, nil
}

// ExtractAudio demuxes the audio track to a 16kHz mono WAV for transcription.
// Returns the path of the WAV file; the caller removes it.
func (e *Extractor) ExtractAudio(ctx context.Context, clipPath string) (string, error) {
	out := filepath.Join(e.WorkDir, filepath.Base(clipPath)+".wav")
	cmd := exec.CommandContext(ctx, e.FFmpegPath,
		"-i", clipPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y", out,
	)
	if b, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg audio extraction: %w (%s)", err, lastLine(b))
	}
	return out, nil
}

// applyQualityPolicy filters candidates to usable frames and tops up from the
// unusable pool by sharpness when too few survive.
func applyQualityPolicy(candidates []Frame, n int) []Frame {
	for i := range candidates {
		candidates[i].Quality = Measure(candidates[i].Image)
		if candidates[i].Quality.Blurry() {
			metrics.FramesRejectedTotal.WithLabelValues("blurry").Inc()
		} else if candidates[i].Quality.Empty() {
			metrics.FramesRejectedTotal.WithLabelValues("empty").Inc()
		}
	}

	var usable, unusable []Frame
	for _, f := range candidates {
		if f.Quality.Usable() {
			usable = append(usable, f)
		} else {
			unusable = append(unusable, f)
		}
	}

	if len(usable) >= n {
		return usable[:n]
	}

	if len(usable) == 0 {
		// Best effort: top frames by sharpness regardless of flags.
		sort.SliceStable(candidates, func(a, b int) bool {
			return candidates[a].Quality.Sharpness > candidates[b].Quality.Sharpness
		})
		k := n
		if k > len(candidates) {
			k = len(candidates)
		}
		out := append([]Frame(nil), candidates[:k]...)
		sortByIndex(out)
		return out
	}

	want := n
	if want < MinFrameCount {
		want = MinFrameCount
	}
	sort.SliceStable(unusable, func(a, b int) bool {
		return unusable[a].Quality.Sharpness > unusable[b].Quality.Sharpness
	})
	out := append([]Frame(nil), usable...)
	for _, f := range unusable {
		if len(out) >= want {
			break
		}
		out = append(out, f)
	}
	sortByIndex(out)
	return out
}

func sortByIndex(fs []Frame) {
	sort.SliceStable(fs, func(a, b int) bool { return fs[a].Index < fs[b].Index })
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
