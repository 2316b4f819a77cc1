package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clipforge/clipforge/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateRenderJob(ctx context.Context, job *models.RenderJob) error {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal render request: %w", err)
	}

	query := `
		INSERT INTO render_jobs (
			id, clip_id, video_id, request, status, attempts, progress
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.ClipID, job.VideoID, request, job.Status, job.Attempts, job.Progress,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetRenderJob(ctx context.Context, id uuid.UUID) (*models.RenderJob, error) {
	query := `
		SELECT
			id, clip_id, video_id, request, status, attempts, progress,
			error_message, output_key, output_url, thumbnail_key, thumbnail_url,
			started_at, finished_at, created_at, updated_at
		FROM render_jobs
		WHERE id = $1
	`

	job := &models.RenderJob{}
	var request []byte
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.ClipID, &job.VideoID, &request, &job.Status,
		&job.Attempts, &job.Progress, &job.ErrorMessage,
		&job.OutputKey, &job.OutputURL, &job.ThumbnailKey, &job.ThumbnailURL,
		&job.StartedAt, &job.FinishedAt, &job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render job %s not found: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render job: %w", err)
	}

	if err := json.Unmarshal(request, &job.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal render request: %w", err)
	}

	return job, nil
}

// MarkJobActive transitions a claimed job to active and bumps the attempt
// counter. The returned attempt count is the one in effect for this run.
func (db *DB) MarkJobActive(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE render_jobs
		SET status = $1, attempts = attempts + 1, started_at = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING attempts
	`

	var attempts int
	err := db.QueryRowContext(ctx, query, models.JobStatusActive, time.Now(), id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to mark job active: %w", err)
	}
	return attempts, nil
}

// UpdateJobProgress persists a progress checkpoint. The GREATEST keeps the
// value monotonic even if checkpoints race with a stale write.
func (db *DB) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `
		UPDATE render_jobs
		SET progress = GREATEST(progress, $1), updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, progress, id)
	return err
}

// MarkJobCompleted records terminal success with the output locators.
func (db *DB) MarkJobCompleted(ctx context.Context, id uuid.UUID, outputKey, outputURL string, thumbKey, thumbURL *string) error {
	query := `
		UPDATE render_jobs
		SET status = $1, progress = 100, output_key = $2, output_url = $3,
		    thumbnail_key = $4, thumbnail_url = $5,
		    error_message = NULL, finished_at = $6, updated_at = NOW()
		WHERE id = $7
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusCompleted, outputKey, outputURL, thumbKey, thumbURL, time.Now(), id)
	return err
}

// MarkJobFailed records terminal failure with the last error message.
func (db *DB) MarkJobFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE render_jobs
		SET status = $1, error_message = $2, finished_at = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusFailed, errorMessage, time.Now(), id)
	return err
}

// MarkJobRequeued returns a failed attempt to the queue: status back to
// queued, last error preserved for diagnostics, progress reset.
func (db *DB) MarkJobRequeued(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE render_jobs
		SET status = $1, error_message = $2, progress = 0, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusQueued, errorMessage, id)
	return err
}

// ResetJobForRegenerate clears all terminal state for a fresh attempt from
// scratch, discarding prior output locators.
func (db *DB) ResetJobForRegenerate(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE render_jobs
		SET status = $1, attempts = 0, progress = 0,
		    error_message = NULL, output_key = NULL, output_url = NULL,
		    thumbnail_key = NULL, thumbnail_url = NULL,
		    started_at = NULL, finished_at = NULL, updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, models.JobStatusQueued, id)
	return err
}
