package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/api/middleware"
	"github.com/dvloznov/statement-booking/internal/jobs"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}. Jobs of other owners are reported as missing.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Jobs are not configured")
		return
	}
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	if job.OwnerID != middleware.OwnerID(r.Context()) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs?status=&limit=&offset=
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Jobs are not configured")
		return
	}

	query := r.URL.Query()
	filter := jobs.JobFilter{
		OwnerID: middleware.OwnerID(r.Context()),
		Status:  jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
