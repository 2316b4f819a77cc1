package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/background"
	"github.com/clipforge/clipforge/internal/captions"
	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/models"
	"github.com/clipforge/clipforge/internal/queue"
	"github.com/clipforge/clipforge/internal/runner"
	"github.com/clipforge/clipforge/internal/sidecar"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/google/uuid"
)

const (
	dequeueTimeout     = 5 * time.Second
	signedURLTTL       = 3600 // seconds
	queueDepthInterval = 15 * time.Second
)

// Progress checkpoints reported to the jobs table. The encode range is
// filled in continuously from ffmpeg's stderr.
const (
	progressClaimed     = 10
	progressDownloaded  = 20
	progressAnalyzed    = 35
	progressEncodeStart = 60
	progressEncodeEnd   = 85
	progressUploaded    = 90
	progressDone        = 100
)

// jobStore is the slice of the database the worker touches. *db.DB
// satisfies it.
type jobStore interface {
	GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error)
	MarkJobActive(ctx context.Context, id uuid.UUID) (int, error)
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error
	MarkJobCompleted(ctx context.Context, id uuid.UUID, outputKey, outputURL string, thumbKey, thumbURL *string) error
	MarkJobFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	MarkJobRequeued(ctx context.Context, id uuid.UUID, errorMessage string) error
	UpdateClipStatus(ctx context.Context, clipID uuid.UUID, status models.ClipStatus, fields db.ClipStatusFields) error
	GetBackgroundAsset(ctx context.Context, id uuid.UUID) (*models.BackgroundAsset, error)
}

// jobQueue is the queue surface the worker uses. *queue.Queue satisfies it.
type jobQueue interface {
	Enqueue(ctx context.Context, env *queue.Envelope) error
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Envelope, error)
	Length(ctx context.Context) (int64, error)
}

type Config struct {
	Concurrency     int
	MaxAttempts     int
	ScratchRoot     string
	DownloadTimeout time.Duration
}

type Worker struct {
	db      jobStore
	queue   jobQueue
	storage *storage.Storage
	sidecar *sidecar.Client // nil disables crop analysis; every job aspect-fits
	engine  *compositor.Engine
	cfg     Config

	// render runs one attempt's pipeline. Indirected so the claim/retry
	// state machine is testable apart from the media pipeline.
	render func(ctx context.Context, job *models.RenderJob) (models.CropMode, *renderOutput, error)

	rngMu sync.Mutex
	rng   *rand.Rand
}

// renderOutput carries the locators a successful attempt produced.
type renderOutput struct {
	Output       storage.UploadResult
	ThumbnailKey *string
	ThumbnailURL *string
}

func New(database jobStore, q jobQueue, stor *storage.Storage, sc *sidecar.Client, engine *compositor.Engine, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	w := &Worker{
		db:      database,
		queue:   q,
		storage: stor,
		sidecar: sc,
		engine:  engine,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	w.render = w.renderJob
	return w
}

// Start runs the fixed pool of render slots until the context is cancelled.
// A slot processes one job at a time end to end.
func (w *Worker) Start(ctx context.Context) {
	w.sweepScratch()

	log.Printf("[Worker] Started with %d render slots (max %d attempts per job)", w.cfg.Concurrency, w.cfg.MaxAttempts)

	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.runSlot(ctx, i)
	}
	go w.reportQueueDepth(ctx)

	<-ctx.Done()
	log.Println("[Worker] Shutting down...")
}

func (w *Worker) runSlot(ctx context.Context, slot int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Worker] Slot %d: dequeue error: %v", slot, err)
			time.Sleep(time.Second)
			continue
		}
		if env == nil {
			continue
		}

		log.Printf("[Worker] Slot %d: picked up job %s (attempt %d)", slot, env.JobID, env.Attempt)
		metrics.ActiveRenders.Inc()
		w.processJob(ctx, env)
		metrics.ActiveRenders.Dec()
	}
}

func (w *Worker) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := w.queue.Length(ctx); err == nil {
				metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}

// sweepScratch removes per-job scratch directories left behind by a previous
// process that died mid-render. Scratch dirs are named by job ID; anything
// else under the root belongs to someone else and is left alone.
func (w *Worker) sweepScratch() {
	entries, err := os.ReadDir(w.cfg.ScratchRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Worker] Failed to read scratch root %s: %v", w.cfg.ScratchRoot, err)
		}
		return
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.cfg.ScratchRoot, e.Name())); err != nil {
			log.Printf("[Worker] Failed to remove stale scratch dir %s: %v", e.Name(), err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[Worker] Swept %d stale scratch directories from %s", removed, w.cfg.ScratchRoot)
	}
}

func (w *Worker) processJob(ctx context.Context, env *queue.Envelope) {
	job, err := w.db.GetRenderJob(ctx, env.JobID)
	if err != nil {
		log.Printf("[Worker] Job %s: cannot load, dropping: %v", env.JobID, err)
		return
	}
	if job.Status == models.JobStatusCompleted {
		log.Printf("[Worker] Job %s: already completed, dropping duplicate delivery", job.ID)
		return
	}

	attempts, err := w.db.MarkJobActive(ctx, job.ID)
	if err != nil {
		log.Printf("[Worker] Job %s: failed to claim: %v", job.ID, err)
		return
	}
	w.db.UpdateJobProgress(ctx, job.ID, progressClaimed)
	if err := w.db.UpdateClipStatus(ctx, job.ClipID, models.ClipStatusGenerating, db.ClipStatusFields{}); err != nil {
		log.Printf("[Worker] Job %s: failed to mark clip generating: %v", job.ID, err)
	}

	started := time.Now()
	mode, out, renderErr := w.render(ctx, job)
	elapsed := time.Since(started)

	if renderErr == nil {
		renderErr = w.completeJob(ctx, job, out)
	}
	if renderErr == nil {
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
		metrics.JobDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
		log.Printf("[Worker] Job %s: completed in %s (mode=%s, attempt %d)", job.ID, elapsed.Round(time.Second), mode, attempts)
		return
	}

	log.Printf("[Worker] Job %s: attempt %d failed after %s: %v", job.ID, attempts, elapsed.Round(time.Second), renderErr)

	if isRetryable(renderErr) && attempts < w.cfg.MaxAttempts {
		if err := w.db.MarkJobRequeued(ctx, job.ID, renderErr.Error()); err != nil {
			log.Printf("[Worker] Job %s: failed to mark requeued: %v", job.ID, err)
		}
		if err := w.queue.Enqueue(ctx, &queue.Envelope{
			JobID:      job.ID,
			ClipID:     job.ClipID,
			Attempt:    attempts + 1,
			EnqueuedAt: time.Now().UTC(),
		}); err != nil {
			log.Printf("[Worker] Job %s: failed to re-enqueue, marking failed: %v", job.ID, err)
			w.failJob(ctx, job, renderErr)
			return
		}
		metrics.JobsTotal.WithLabelValues(metrics.OutcomeRequeued).Inc()
		metrics.JobRetriesTotal.Inc()
		log.Printf("[Worker] Job %s: re-enqueued for attempt %d/%d", job.ID, attempts+1, w.cfg.MaxAttempts)
		return
	}

	w.failJob(ctx, job, renderErr)
}

// completeJob persists the terminal success state: job row, clip status
// sink, and the final progress checkpoint.
func (w *Worker) completeJob(ctx context.Context, job *models.RenderJob, out *renderOutput) error {
	if err := w.db.MarkJobCompleted(ctx, job.ID, out.Output.Key, out.Output.URL, out.ThumbnailKey, out.ThumbnailURL); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	if err := w.db.UpdateClipStatus(ctx, job.ClipID, models.ClipStatusReady, db.ClipStatusFields{
		OutputKey:    &out.Output.Key,
		OutputURL:    &out.Output.URL,
		ThumbnailKey: out.ThumbnailKey,
		ThumbnailURL: out.ThumbnailURL,
	}); err != nil {
		return fmt.Errorf("failed to mark clip ready: %w", err)
	}
	w.db.UpdateJobProgress(ctx, job.ID, progressDone)
	return nil
}

func (w *Worker) failJob(ctx context.Context, job *models.RenderJob, cause error) {
	msg := cause.Error()
	if err := w.db.MarkJobFailed(ctx, job.ID, msg); err != nil {
		log.Printf("[Worker] Job %s: failed to persist failure: %v", job.ID, err)
	}
	if err := w.db.UpdateClipStatus(ctx, job.ClipID, models.ClipStatusFailed, db.ClipStatusFields{ErrorMessage: &msg}); err != nil {
		log.Printf("[Worker] Job %s: failed to mark clip failed: %v", job.ID, err)
	}
	metrics.JobsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
}

// isRetryable classifies a render failure. Spawn failures mean the host is
// misconfigured and retrying cannot help; a concat parameter mismatch is a
// pipeline defect, not a transient fault. Everything else gets another
// attempt under the ceiling, including errors we cannot classify, since the
// attempt counter bounds the damage.
func isRetryable(err error) bool {
	var spawnErr *runner.SpawnError
	if errors.As(err, &spawnErr) {
		return false
	}
	var mismatchErr *compositor.ConcatMismatchError
	if errors.As(err, &mismatchErr) {
		return false
	}
	return true
}

// progressThrottle drops non-advancing progress values so database writes
// stay monotonic and sparse. Safe for concurrent use by encode goroutines
// reporting through the same callback.
type progressThrottle struct {
	mu   sync.Mutex
	last int
}

// advance reports whether p moves the high-water mark forward.
func (t *progressThrottle) advance(p int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p <= t.last {
		return false
	}
	t.last = p
	return true
}

// renderJob runs the full pipeline for one attempt and returns the crop mode
// that was rendered plus the uploaded locators. All intermediates live in a
// per-job scratch directory removed on every exit path.
func (w *Worker) renderJob(ctx context.Context, job *models.RenderJob) (models.CropMode, *renderOutput, error) {
	req := &job.Request
	mode := models.CropModeSkip

	scratchDir := filepath.Join(w.cfg.ScratchRoot, job.ID.String())
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return mode, nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			log.Printf("[Worker] Job %s: failed to clean scratch dir: %v", job.ID, err)
		}
	}()

	// Source download
	sourceURL := req.SourceURL
	if req.SourceKey != "" {
		signed, err := w.storage.GetSignedURL(ctx, req.SourceKey, signedURLTTL)
		if err != nil {
			return mode, nil, fmt.Errorf("failed to sign source key %s: %w", req.SourceKey, err)
		}
		sourceURL = signed
	}

	sourcePath := filepath.Join(scratchDir, "source.mp4")
	downloadStart := time.Now()
	if err := w.storage.DownloadToFile(ctx, sourceURL, sourcePath, w.cfg.DownloadTimeout); err != nil {
		return mode, nil, err
	}
	metrics.StageDuration.WithLabelValues("download").Observe(time.Since(downloadStart).Seconds())
	w.db.UpdateJobProgress(ctx, job.ID, progressDownloaded)

	// Crop analysis
	crop, err := w.analyzeCrop(ctx, job, sourcePath, scratchDir)
	if err != nil {
		return mode, nil, err
	}
	if crop != nil {
		mode = crop.Mode
	}
	w.db.UpdateJobProgress(ctx, job.ID, progressAnalyzed)

	// Caption track
	captionsPath := ""
	if len(req.Captions) > 0 {
		outW, outH, err := req.AspectRatio.OutputSize()
		if err != nil {
			return mode, nil, err
		}
		captionsPath = filepath.Join(scratchDir, "captions.ass")
		style := captions.StyleFromParams(req.Style)
		if err := captions.WriteASS(req.Captions, captionsPath, outW, outH, style); err != nil {
			return mode, nil, fmt.Errorf("failed to write caption track: %w", err)
		}
	}

	// Background asset for split-screen composition
	bgPath, bgPlan, err := w.resolveBackground(ctx, job, crop, scratchDir)
	if err != nil {
		return mode, nil, err
	}

	// Encode and stream upload
	throttle := &progressThrottle{last: progressEncodeStart}
	onProgress := func(frac float64) {
		p := progressEncodeStart + int(frac*float64(progressEncodeEnd-progressEncodeStart))
		if throttle.advance(p) {
			w.db.UpdateJobProgress(ctx, job.ID, p)
		}
	}

	encodeStart := time.Now()
	result, err := w.engine.Render(ctx, &compositor.Spec{
		JobID:          job.ID,
		Request:        *req,
		SourcePath:     sourcePath,
		Crop:           crop,
		BackgroundPath: bgPath,
		BackgroundPlan: bgPlan,
		CaptionsPath:   captionsPath,
		ScratchDir:     scratchDir,
		OnProgress:     onProgress,
	})
	if err != nil {
		return mode, nil, err
	}
	metrics.StageDuration.WithLabelValues("encode").Observe(time.Since(encodeStart).Seconds())
	w.db.UpdateJobProgress(ctx, job.ID, progressUploaded)

	// Thumbnail failure never fails the job
	thumbKey, thumbURL := w.makeThumbnail(ctx, job, sourcePath, scratchDir)

	return mode, &renderOutput{
		Output:       *result,
		ThumbnailKey: thumbKey,
		ThumbnailURL: thumbURL,
	}, nil
}

// analyzeCrop runs the sidecar unless the request opted out or no sidecar is
// configured. A nil result means aspect-fit. The sidecar is handed a
// stream-copied cut of just the clip range, never the whole source, so the
// coordinates it returns are on the clip's own timeline.
func (w *Worker) analyzeCrop(ctx context.Context, job *models.RenderJob, sourcePath, scratchDir string) (*models.CropResult, error) {
	req := &job.Request
	hint := req.CropModeHint
	if hint != nil && *hint == models.CropModeSkip {
		log.Printf("[Worker] Job %s: crop analysis skipped by request", job.ID)
		return nil, nil
	}
	if w.sidecar == nil {
		return nil, nil
	}

	start := time.Now()

	clipPath := filepath.Join(scratchDir, "analysis.mp4")
	if err := w.engine.ExtractRange(ctx, sourcePath, req.StartTime, req.EndTime, clipPath); err != nil {
		return nil, err
	}

	crop, err := w.sidecar.Analyze(ctx, clipPath, job.ID, scratchDir)
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("analyze").Observe(time.Since(start).Seconds())
	metrics.SidecarResults.WithLabelValues(string(crop.Mode)).Inc()

	if crop.Mode == models.CropModeSkip {
		return nil, nil
	}
	return crop, nil
}

// resolveBackground downloads the requested background asset when the
// composition will use it. Only split mode composes a background.
func (w *Worker) resolveBackground(ctx context.Context, job *models.RenderJob, crop *models.CropResult, scratchDir string) (string, *background.Plan, error) {
	req := &job.Request
	if req.BackgroundAssetID == nil || crop == nil || crop.Mode != models.CropModeSplit {
		return "", nil, nil
	}

	asset, err := w.db.GetBackgroundAsset(ctx, *req.BackgroundAssetID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load background asset %s: %w", req.BackgroundAssetID, err)
	}

	signed, err := w.storage.GetSignedURL(ctx, asset.StorageKey, signedURLTTL)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign background asset %s: %w", asset.ID, err)
	}

	bgPath := filepath.Join(scratchDir, "background.mp4")
	if err := w.storage.DownloadToFile(ctx, signed, bgPath, w.cfg.DownloadTimeout); err != nil {
		return "", nil, err
	}

	w.rngMu.Lock()
	plan := background.PlanTiming(req.Duration(), asset.DurationSec, w.rng)
	w.rngMu.Unlock()

	log.Printf("[Worker] Job %s: background %s (loop=%v offset=%.2fs)", job.ID, asset.Name, plan.Loop, plan.Offset)
	return bgPath, &plan, nil
}

// makeThumbnail grabs a frame a quarter of the way into the clip and uploads
// it. Any failure is logged and swallowed.
func (w *Worker) makeThumbnail(ctx context.Context, job *models.RenderJob, sourcePath, scratchDir string) (key, url *string) {
	req := &job.Request
	at := req.StartTime + req.Duration()*0.25

	thumbPath := filepath.Join(scratchDir, "thumb.jpg")
	if err := w.engine.Thumbnail(ctx, sourcePath, at, thumbPath); err != nil {
		log.Printf("[Worker] Job %s: thumbnail extraction failed: %v", job.ID, err)
		return nil, nil
	}

	result, err := w.storage.UploadFile(ctx, storage.ClipKey(job.ID, "thumb.jpg"), thumbPath, "image/jpeg")
	if err != nil {
		log.Printf("[Worker] Job %s: thumbnail upload failed: %v", job.ID, err)
		return nil, nil
	}
	return &result.Key, &result.URL
}
