package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/models"
	"github.com/clipforge/clipforge/internal/queue"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	db      *db.DB
	queue   *queue.Queue
	storage *storage.Storage
}

func NewHandler(database *db.DB, q *queue.Queue, stor *storage.Storage) *Handler {
	return &Handler{
		db:      database,
		queue:   q,
		storage: stor,
	}
}

// CreateRenderJob handles POST /v1/render
func (h *Handler) CreateRenderJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRenderJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ClipID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "clip_id is required")
		return
	}
	if err := req.RenderRequest.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &models.RenderJob{
		ID:      uuid.New(),
		ClipID:  req.ClipID,
		VideoID: req.VideoID,
		Request: req.RenderRequest,
		Status:  models.JobStatusQueued,
	}

	if err := h.db.CreateRenderJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create render job")
		return
	}

	if err := h.queue.Enqueue(r.Context(), &queue.Envelope{
		JobID:      job.ID,
		ClipID:     job.ClipID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateRenderJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.db.GetRenderJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	respondJSON(w, http.StatusOK, models.JobStatusResponse{
		JobID:        job.ID,
		State:        job.Status,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		OutputURL:    job.OutputURL,
		ThumbnailURL: job.ThumbnailURL,
	})
}

// RegenerateJob handles POST /v1/jobs/{id}/regenerate
// Resets a terminal job and enqueues a fresh attempt with the same request
// payload. The previous output is overwritten on success.
func (h *Handler) RegenerateJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.db.GetRenderJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	if job.Status == models.JobStatusActive || job.Status == models.JobStatusQueued {
		respondError(w, http.StatusConflict, "Job is still in progress")
		return
	}

	if err := h.db.ResetJobForRegenerate(r.Context(), job.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to reset job")
		return
	}

	if err := h.queue.Enqueue(r.Context(), &queue.Envelope{
		JobID:      job.ID,
		ClipID:     job.ClipID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateRenderJobResponse{
		JobID:  job.ID,
		Status: models.JobStatusQueued,
	})
}

// ListBackgrounds handles GET /v1/backgrounds
func (h *Handler) ListBackgrounds(w http.ResponseWriter, r *http.Request) {
	backgrounds, err := h.db.ListBackgroundAssets(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list background assets")
		return
	}

	respondJSON(w, http.StatusOK, models.ListBackgroundsResponse{
		Backgrounds: backgrounds,
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
