// Package httphandler is the HTTP driving adapter that serves the REST API.
package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/conveyorci/conveyor/internal/application"
	"github.com/conveyorci/conveyor/internal/domain/model"
	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// defaultRunLimit bounds list responses when no limit is given.
const defaultRunLimit = 50

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	runStore  driven.RunStore
	repoStore driven.RepoStore
	statusSvc *application.StatusService
	pollSvc   *application.PollService
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	runStore driven.RunStore,
	repoStore driven.RepoStore,
	statusSvc *application.StatusService,
	pollSvc *application.PollService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		runStore:  runStore,
		repoStore: repoStore,
		statusSvc: statusSvc,
		pollSvc:   pollSvc,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.GetRun)
	mux.HandleFunc("GET /api/v1/workflows", h.ListWorkflows)
	mux.HandleFunc("GET /api/v1/repos", h.ListRepos)
	mux.HandleFunc("POST /api/v1/repos", h.AddRepo)
	mux.HandleFunc("DELETE /api/v1/repos/{owner}/{repo}", h.RemoveRepo)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/dispatch", h.DispatchRepo)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListRuns returns recent runs, latest first, optionally filtered by status.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	var runs []model.Run
	var err error
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.RunStatus(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		runs, err = h.runStore.ListRunsByStatus(r.Context(), status, limit)
	} else {
		runs, err = h.runStore.ListRuns(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRun returns a single run with its jobs and steps.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.runStore.GetRun(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(*run))
}

// ListWorkflows returns the loaded workflow definitions.
func (h *Handler) ListWorkflows(w http.ResponseWriter, _ *http.Request) {
	workflows := h.pollSvc.Workflows()

	resp := make([]WorkflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		resp = append(resp, toWorkflowResponse(wf))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListRepos returns all watched repositories.
func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repoStore.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list repos", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RepoResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepoResponse(repo))
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddRepo adds a repository branch to the watch list.
func (h *Handler) AddRepo(w http.ResponseWriter, r *http.Request) {
	var req AddRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner, name, err := model.SplitRepo(req.FullName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	repo := model.Repository{
		FullName: req.FullName,
		Owner:    owner,
		Name:     name,
		Branch:   branch,
		AddedAt:  time.Now().UTC(),
	}

	if err := h.repoStore.Upsert(r.Context(), repo); err != nil {
		h.logger.Error("failed to add repo", "repo", req.FullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toRepoResponse(repo))
}

// RemoveRepo removes a repository from the watch list.
func (h *Handler) RemoveRepo(w http.ResponseWriter, r *http.Request) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	repo, err := h.repoStore.GetByFullName(r.Context(), fullName)
	if err != nil {
		h.logger.Error("failed to look up repo", "repo", fullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if repo == nil {
		writeError(w, http.StatusNotFound, "repository not found")
		return
	}

	if err := h.repoStore.Remove(r.Context(), fullName); err != nil {
		h.logger.Error("failed to remove repo", "repo", fullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DispatchRepo queues a manual run. The request may name a single workflow;
// otherwise every workflow bound to the repository is dispatched.
func (h *Handler) DispatchRepo(w http.ResponseWriter, r *http.Request) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	var req DispatchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var candidates []string
	for _, wf := range h.pollSvc.Workflows() {
		if wf.RepoFullName != fullName {
			continue
		}
		if req.Workflow != "" && wf.Name != req.Workflow {
			continue
		}
		candidates = append(candidates, wf.Name)
	}

	if len(candidates) == 0 {
		writeError(w, http.StatusNotFound, "no matching workflow for repository")
		return
	}

	dispatched := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if err := h.pollSvc.Dispatch(r.Context(), name); err != nil {
			h.logger.Error("dispatch failed", "workflow", name, "error", err)
			writeError(w, http.StatusBadGateway, "dispatch failed: "+err.Error())
			return
		}
		dispatched = append(dispatched, name)
	}

	writeJSON(w, http.StatusAccepted, DispatchResponse{Dispatched: dispatched})
}

// Health returns aggregate runner status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.statusSvc.GetStatus(r.Context())
	if err != nil {
		h.logger.Error("failed to assemble status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toHealthResponse(*status))
}
