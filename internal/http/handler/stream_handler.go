package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/gateway"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/middleware"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
	"github.com/BlockXAI/Ginie-User-Management/internal/repository"
	"github.com/BlockXAI/Ginie-User-Management/internal/upstream"

	"github.com/go-chi/chi/v5"
)

// StreamHandler fronts the streaming and proxy surfaces of the upstream job
// service. Every jobID route checks ownership first; admins may inspect any
// job.
type StreamHandler struct {
	relay    *gateway.Relay
	bridge   *gateway.Bridge
	pipeline *gateway.Pipeline
	client   *upstream.Client
	jobs     repository.JobRepository
}

func NewStreamHandler(relay *gateway.Relay, bridge *gateway.Bridge, pipeline *gateway.Pipeline, client *upstream.Client, jobs repository.JobRepository) *StreamHandler {
	return &StreamHandler{relay: relay, bridge: bridge, pipeline: pipeline, client: client, jobs: jobs}
}

// requireOwnership answers whether the caller may touch jobID, writing the
// error response itself when not.
func (h *StreamHandler) requireOwnership(w http.ResponseWriter, r *http.Request, jobID string) bool {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return false
	}
	if jobID == "" {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "job id is required", nil)
		return false
	}
	if p.User.Role == domain.RoleAdmin {
		return true
	}
	owned, err := h.jobs.OwnedBy(r.Context(), p.User.ID, jobID)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "ownership lookup unavailable", nil)
		return false
	}
	if !owned {
		response.Error(w, r, http.StatusForbidden, "forbidden", "job does not belong to this account", nil)
		return false
	}
	return true
}

func (h *StreamHandler) LogStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !h.requireOwnership(w, r, jobID) {
		return
	}
	h.relay.ServeLogStream(w, r, jobID)
}

func (h *StreamHandler) BuilderEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !h.requireOwnership(w, r, jobID) {
		return
	}
	h.bridge.ServeBuilderEvents(w, r, jobID)
}

func (h *StreamHandler) BuilderSocket(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !h.requireOwnership(w, r, jobID) {
		return
	}
	h.bridge.ServeBuilder(w, r, jobID)
}

func (h *StreamHandler) PipelineSocket(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	h.pipeline.ServePipeline(w, r, p.User.ID)
}

func (h *StreamHandler) JobDetail(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !h.requireOwnership(w, r, jobID) {
		return
	}
	detail, err := h.client.JobDetail(r.Context(), jobID)
	if err != nil {
		h.writeUpstreamError(w, r, err)
		return
	}
	h.writeRaw(w, detail.Raw)
}

func (h *StreamHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !h.requireOwnership(w, r, jobID) {
		return
	}
	raw, err := h.client.JobStatus(r.Context(), jobID, r.URL.Query())
	if err != nil {
		h.writeUpstreamError(w, r, err)
		return
	}
	h.writeRaw(w, raw)
}

func (h *StreamHandler) Artifacts(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if !h.requireOwnership(w, r, jobID) {
		return
	}
	raw, err := h.client.Artifacts(r.Context(), jobID)
	if err != nil {
		h.writeUpstreamError(w, r, err)
		return
	}
	h.writeRaw(w, raw)
}

// writeRaw passes the upstream document through untouched; re-encoding would
// reorder fields the frontend depends on.
func (h *StreamHandler) writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *StreamHandler) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		response.Error(w, r, http.StatusBadGateway, "upstream_error", "upstream rejected the request",
			map[string]int{"status": se.Code})
		return
	}
	response.Error(w, r, http.StatusBadGateway, "upstream_unreachable", "upstream service unreachable", nil)
}
