package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/BlockXAI/Ginie-User-Management/internal/http/middleware"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
	"github.com/BlockXAI/Ginie-User-Management/internal/repository"

	"github.com/go-chi/chi/v5"
)

type JobHandler struct {
	jobs repository.JobRepository
}

func NewJobHandler(jobs repository.JobRepository) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	jobs, err := h.jobs.ListByUser(r.Context(), p.User.ID)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "job lookup unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"jobs": jobs})
}

type attachJobRequest struct {
	JobID string `json:"job_id"`
	Name  string `json:"name"`
}

// Attach records ownership of an externally submitted job; the interactive
// pipeline socket attaches automatically, this covers jobs started elsewhere.
func (h *JobHandler) Attach(w http.ResponseWriter, r *http.Request) {
	var req attachJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" || len(req.JobID) > 128 {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "job_id is required", nil)
		return
	}
	if len(req.Name) > 256 {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "name too long", nil)
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	job, err := h.jobs.Attach(r.Context(), p.User.ID, req.JobID, req.Name)
	if err != nil {
		if errors.Is(err, repository.ErrJobAlreadyAttached) {
			response.Error(w, r, http.StatusConflict, "conflict", "job already attached", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "job store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{"job": job})
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	p, _ := middleware.PrincipalFromContext(r.Context())
	err := h.jobs.DeleteForUser(r.Context(), p.User.ID, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			response.Error(w, r, http.StatusNotFound, "not_found", "job not attached to this account", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "job store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"deleted": true})
}
