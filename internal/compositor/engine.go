package compositor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/clipforge/clipforge/internal/background"
	"github.com/clipforge/clipforge/internal/models"
	"github.com/clipforge/clipforge/internal/runner"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// segmentEncodeParallelism bounds concurrent per-segment encodes in mixed
// mode. Each encode is its own ffmpeg process; more than two per job starves
// the other worker slots.
const segmentEncodeParallelism = 2

// Engine builds and executes the processing graph for one clip and streams
// the encoded result to the storage gateway as it is produced.
type Engine struct {
	ffmpeg  string
	ffprobe string
	storage *storage.Storage
}

func New(stor *storage.Storage) *Engine {
	return NewWithBinaries(stor, "ffmpeg", "ffprobe")
}

func NewWithBinaries(stor *storage.Storage, ffmpegPath, ffprobePath string) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Engine{ffmpeg: ffmpegPath, ffprobe: ffprobePath, storage: stor}
}

// Spec is everything the engine needs to render one clip. The scratch
// directory is owned by the calling job; the engine only writes
// intermediates there and never removes it.
type Spec struct {
	JobID          uuid.UUID
	Request        models.RenderRequest
	SourcePath     string
	Crop           *models.CropResult
	BackgroundPath string
	BackgroundPlan *background.Plan
	CaptionsPath   string
	ScratchDir     string
	OnProgress     func(frac float64)
}

// Render dispatches on the crop result variant and uploads the encoded clip
// under the job's output key. A nil crop result renders a straight
// aspect-fit, same as the sidecar's skip verdict.
func (e *Engine) Render(ctx context.Context, spec *Spec) (*storage.UploadResult, error) {
	outW, outH, err := outputSize(&spec.Request)
	if err != nil {
		return nil, err
	}

	mode := models.CropModeSkip
	if spec.Crop != nil {
		mode = spec.Crop.Mode
	}
	log.Printf("[Compositor] Job %s: rendering mode=%s %dx%d", spec.JobID, mode, outW, outH)

	switch mode {
	case models.CropModeDynamic:
		return e.renderDynamic(ctx, spec, outW, outH)
	case models.CropModeSplit:
		return e.renderSplit(ctx, spec, outW, outH)
	case models.CropModeMixed:
		return e.renderMixed(ctx, spec, outW, outH)
	case models.CropModeSkip:
		return e.renderAspectFit(ctx, spec, outW, outH)
	default:
		return nil, fmt.Errorf("unsupported crop mode: %q", mode)
	}
}

// renderDynamic drives a single crop filter from a sendcmd schedule. Only
// the crop origin moves over time; the crop size is frozen at the first
// sample's dimensions.
func (e *Engine) renderDynamic(ctx context.Context, spec *Spec, outW, outH int) (*storage.UploadResult, error) {
	src, err := e.probeStreamParams(ctx, spec.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe source: %w", err)
	}
	samples := clampSamples(sortSamples(spec.Crop.Samples), src.Width, src.Height)

	// Sample timestamps are already clip-local and -ss before -i resets the
	// encoded timeline to zero, so the schedule needs no rebasing.
	schedulePath := filepath.Join(spec.ScratchDir, fmt.Sprintf("%s_crop.cmd", spec.JobID))
	if err := os.WriteFile(schedulePath, []byte(buildCropSchedule(samples, 0)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write crop schedule: %w", err)
	}

	vf := buildDynamicCropFilter(samples[0], schedulePath, outW, outH, spec.CaptionsPath)

	args := []string{
		"-ss", formatSeconds(spec.Request.StartTime),
		"-to", formatSeconds(spec.Request.EndTime),
		"-i", spec.SourcePath,
		"-vf", vf,
	}
	args = append(args, e.encodeArgs(spec.Request.Quality)...)
	args = append(args, streamOutputArgs()...)

	return e.streamEncode(ctx, spec, "dynamic crop", args, spec.Request.Duration(), spec.OnProgress)
}

// renderSplit stacks the screen region over the pip region (or over the
// background asset when one is attached). Audio passthrough comes from the
// primary source track only.
func (e *Engine) renderSplit(ctx context.Context, spec *Spec, outW, outH int) (*storage.UploadResult, error) {
	useBackground := spec.BackgroundPath != "" && spec.BackgroundPlan != nil

	args := []string{
		"-ss", formatSeconds(spec.Request.StartTime),
		"-to", formatSeconds(spec.Request.EndTime),
		"-i", spec.SourcePath,
	}
	if useBackground {
		args = append(args, background.InputArgs(spec.BackgroundPath, *spec.BackgroundPlan)...)
	}

	args = append(args,
		"-filter_complex", buildSplitFilter(spec.Crop, outW, outH, useBackground, spec.CaptionsPath),
		"-map", "[v]",
		"-map", "0:a?",
		"-shortest",
	)
	args = append(args, e.encodeArgs(spec.Request.Quality)...)
	args = append(args, streamOutputArgs()...)

	return e.streamEncode(ctx, spec, "split screen", args, spec.Request.Duration(), spec.OnProgress)
}

// renderAspectFit scales the source to the target width and pads the rest,
// centered. Used when the sidecar found nothing to crop.
func (e *Engine) renderAspectFit(ctx context.Context, spec *Spec, outW, outH int) (*storage.UploadResult, error) {
	args := []string{
		"-ss", formatSeconds(spec.Request.StartTime),
		"-to", formatSeconds(spec.Request.EndTime),
		"-i", spec.SourcePath,
		"-vf", buildAspectFitFilter(outW, outH, spec.CaptionsPath),
	}
	args = append(args, e.encodeArgs(spec.Request.Quality)...)
	args = append(args, streamOutputArgs()...)

	return e.streamEncode(ctx, spec, "aspect fit", args, spec.Request.Duration(), spec.OnProgress)
}

// renderMixed encodes each timeline segment to its own file with the
// matching algorithm, verifies the segment files agree on codec parameters,
// then concatenates them in order and streams the result out. Segment
// encodes may run in parallel; concat order is the segment order.
func (e *Engine) renderMixed(ctx context.Context, spec *Spec, outW, outH int) (*storage.UploadResult, error) {
	src, err := e.probeStreamParams(ctx, spec.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe source: %w", err)
	}

	segments := spec.Crop.Segments
	segmentPaths := make([]string, len(segments))
	for i := range segments {
		segmentPaths[i] = filepath.Join(spec.ScratchDir, fmt.Sprintf("%s_segment_%03d.mp4", spec.JobID, i))
	}

	// Segment encodes get 0..0.8 of the reported progress; concat the rest.
	prog := &segmentProgress{total: len(segments), report: spec.OnProgress}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(segmentEncodeParallelism)

	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			if err := e.encodeSegment(gctx, spec, seg, src, segmentPaths[i], outW, outH); err != nil {
				return fmt.Errorf("segment %d [%s %.2f-%.2f): %w", i, seg.Type, seg.Start, seg.End, err)
			}
			prog.step()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := e.verifySegmentParams(ctx, segmentPaths); err != nil {
		return nil, err
	}

	return e.concatSegments(ctx, spec, segmentPaths)
}

func (e *Engine) encodeSegment(ctx context.Context, spec *Spec, seg models.MixedSegment, src *streamParams, outPath string, outW, outH int) error {
	// Segment times are clip-local; seeking is absolute in the source
	absStart := spec.Request.StartTime + seg.Start
	absEnd := spec.Request.StartTime + seg.End

	args := []string{
		"-ss", formatSeconds(absStart),
		"-to", formatSeconds(absEnd),
		"-i", spec.SourcePath,
	}

	switch seg.Type {
	case models.SegmentFace:
		samples := clampSamples(sortSamples(seg.Samples), src.Width, src.Height)
		schedulePath := outPath + ".cmd"
		// Sample timestamps are clip-local but this encode's timeline starts
		// at the segment boundary, so shift the schedule by seg.Start.
		if err := os.WriteFile(schedulePath, []byte(buildCropSchedule(samples, seg.Start)), 0644); err != nil {
			return fmt.Errorf("failed to write segment crop schedule: %w", err)
		}
		// Captions are burned at the concat step where the timeline is
		// clip-local, so segments carry none.
		args = append(args, "-vf", buildDynamicCropFilter(samples[0], schedulePath, outW, outH, ""))
	case models.SegmentLetterbox:
		args = append(args, "-vf", buildAspectFitFilter(outW, outH, ""))
	default:
		return fmt.Errorf("unknown segment type: %q", seg.Type)
	}

	args = append(args, e.encodeArgs(spec.Request.Quality)...)
	args = append(args, "-y", outPath)

	_, err := runner.Run(ctx, e.ffmpeg, args, runner.Options{})
	if err != nil {
		return &EncodeError{Stage: "mixed segment", Err: err}
	}
	return nil
}

// verifySegmentParams checks that every segment file carries identical video
// codec parameters. Concat with stream copy silently corrupts output when
// they differ, so a mismatch fails loudly instead.
func (e *Engine) verifySegmentParams(ctx context.Context, paths []string) error {
	var first *streamParams
	for i, p := range paths {
		params, err := e.probeStreamParams(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to probe segment %d: %w", i, err)
		}
		if first == nil {
			first = params
			continue
		}
		if *params != *first {
			return &ConcatMismatchError{
				Detail: fmt.Sprintf("segment 0 is %s, segment %d is %s", first, i, params),
			}
		}
	}
	return nil
}

// segmentProgress fans per-segment completions into the 0..0.8 band of the
// job's encode progress. Stepped concurrently by segment encode goroutines;
// the report callback runs under the lock so callers see fractions in order.
type segmentProgress struct {
	mu     sync.Mutex
	done   int
	total  int
	report func(frac float64)
}

func (p *segmentProgress) step() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if p.report != nil {
		p.report(0.8 * float64(p.done) / float64(p.total))
	}
}

// buildConcatList renders a concat demuxer list file body. Path order is
// playback order.
func buildConcatList(paths []string) string {
	var sb strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&sb, "file '%s'\n", p)
	}
	return sb.String()
}

func (e *Engine) concatSegments(ctx context.Context, spec *Spec, paths []string) (*storage.UploadResult, error) {
	listPath := filepath.Join(spec.ScratchDir, fmt.Sprintf("%s_concat.txt", spec.JobID))
	if err := os.WriteFile(listPath, []byte(buildConcatList(paths)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write concat list: %w", err)
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
	}
	if spec.CaptionsPath != "" {
		// Burning captions needs a re-encode; the concat timeline is
		// clip-local so cue times line up as-is.
		args = append(args, "-vf", withCaptions("null", spec.CaptionsPath))
		args = append(args, e.encodeArgs(spec.Request.Quality)...)
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, streamOutputArgs()...)

	progress := func(frac float64) {
		if spec.OnProgress != nil {
			spec.OnProgress(0.8 + 0.2*frac)
		}
	}
	return e.streamEncode(ctx, spec, "concat", args, spec.Request.Duration(), progress)
}

// streamEncode starts the encoder with stdout as a pipe and uploads the
// stream as it is produced; the clip never exists as a whole file locally
// or in memory.
func (e *Engine) streamEncode(ctx context.Context, spec *Spec, stage string, args []string, totalSeconds float64, onProgress func(frac float64)) (*storage.UploadResult, error) {
	key := storage.ClipKey(spec.JobID, "output.mp4")

	proc, err := runner.Start(ctx, e.ffmpeg, args, runner.Options{
		Stderr: progressSink(totalSeconds, onProgress),
	})
	if err != nil {
		return nil, &EncodeError{Stage: stage, Err: err}
	}

	result, uploadErr := e.storage.UploadStream(ctx, key, proc.Stdout, "video/mp4")
	if uploadErr != nil {
		// The upload is gone; stop feeding it
		proc.Kill()
		proc.Wait()
		return nil, uploadErr
	}

	if err := proc.Wait(); err != nil {
		return nil, &EncodeError{Stage: stage, Err: err}
	}

	log.Printf("[Compositor] Job %s: %s encode uploaded to %s", spec.JobID, stage, result.Key)
	return result, nil
}

// ExtractRange stream-copies [start, end) of the source into outPath. Crop
// analysis runs on this cut rather than the whole source so the coordinates
// it emits are already on the clip's own timeline.
func (e *Engine) ExtractRange(ctx context.Context, sourcePath string, start, end float64, outPath string) error {
	args := []string{
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", sourcePath,
		"-c", "copy",
		"-y", outPath,
	}
	if _, err := runner.Run(ctx, e.ffmpeg, args, runner.Options{}); err != nil {
		return &EncodeError{Stage: "clip extract", Err: err}
	}
	return nil
}

// Thumbnail grabs a single frame from the source at the given absolute
// timestamp and writes a JPEG to outPath.
func (e *Engine) Thumbnail(ctx context.Context, sourcePath string, at float64, outPath string) error {
	args := []string{
		"-ss", formatSeconds(at),
		"-i", sourcePath,
		"-vframes", "1",
		"-q:v", "3",
		"-y", outPath,
	}
	if _, err := runner.Run(ctx, e.ffmpeg, args, runner.Options{}); err != nil {
		return &EncodeError{Stage: "thumbnail", Err: err}
	}
	return nil
}

// encodeArgs returns the shared codec parameter set. Mixed-mode concat
// relies on every encode in a job using exactly these arguments.
func (e *Engine) encodeArgs(quality models.QualityTier) []string {
	crf := "18"
	if quality == models.Quality720p {
		crf = "23"
	}
	return []string{
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", crf,
		"-c:a", "aac",
		"-b:a", "128k",
		"-pix_fmt", "yuv420p",
	}
}

// streamOutputArgs configures fragmented MP4 to stdout. Fragmentation is
// what makes the container writable to a non-seekable pipe.
func streamOutputArgs() []string {
	return []string{
		"-movflags", "frag_keyframe+empty_moov",
		"-f", "mp4",
		"pipe:1",
	}
}

// outputSize maps the request's aspect ratio and quality tier to encode
// dimensions.
func outputSize(req *models.RenderRequest) (int, int, error) {
	w, h, err := req.AspectRatio.OutputSize()
	if err != nil {
		return 0, 0, err
	}
	if req.Quality == models.Quality720p {
		w = evenDown(w * 2 / 3)
		h = evenDown(h * 2 / 3)
	}
	return w, h, nil
}
