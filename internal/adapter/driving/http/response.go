package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/conveyorci/conveyor/internal/application"
	"github.com/conveyorci/conveyor/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RunResponse is the JSON representation of a workflow run.
type RunResponse struct {
	ID            int64  `json:"id"`
	Workflow      string `json:"workflow"`
	Repository    string `json:"repository"`
	Branch        string `json:"branch"`
	HeadSHA       string `json:"head_sha"`
	CommitMessage string `json:"commit_message"`
	Trigger       string `json:"trigger"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	StartedAt     string `json:"started_at,omitempty"`
	FinishedAt    string `json:"finished_at,omitempty"`
	DurationMS    int64  `json:"duration_ms"`

	// Jobs are populated only on the single-run detail endpoint.
	Jobs []JobResponse `json:"jobs,omitempty"`
}

// JobResponse is the JSON representation of one matrix variant of a run.
type JobResponse struct {
	ID      int64             `json:"id"`
	Variant map[string]string `json:"variant"`
	Label   string            `json:"label"`
	Status  string            `json:"status"`
	Steps   []StepResponse    `json:"steps"`
}

// StepResponse is the JSON representation of one executed step.
type StepResponse struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Log        string `json:"log,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// WorkflowResponse is the JSON representation of a loaded workflow definition.
type WorkflowResponse struct {
	Name       string   `json:"name"`
	Repository string   `json:"repository"`
	Branch     string   `json:"branch"`
	Schedule   string   `json:"schedule,omitempty"`
	Gated      bool     `json:"gated"`
	Steps      []string `json:"steps"`
}

// RepoResponse is the JSON representation of a watched repository.
type RepoResponse struct {
	FullName    string `json:"full_name"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Branch      string `json:"branch"`
	LastSeenSHA string `json:"last_seen_sha,omitempty"`
	AddedAt     string `json:"added_at"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status       string         `json:"status"`
	Time         string         `json:"time"`
	WatchedRepos int            `json:"watched_repos"`
	Workflows    int            `json:"workflows"`
	Runs         map[string]int `json:"runs"`
}

// AddRepoRequest is the JSON body for the add repository endpoint.
type AddRepoRequest struct {
	FullName string `json:"full_name"`
	Branch   string `json:"branch"`
}

// DispatchRequest is the JSON body for the manual dispatch endpoint. An empty
// workflow name dispatches every workflow bound to the repository.
type DispatchRequest struct {
	Workflow string `json:"workflow"`
}

// DispatchResponse reports which workflows were queued.
type DispatchResponse struct {
	Dispatched []string `json:"dispatched"`
}

// toRunResponse converts a domain Run to its JSON response representation.
func toRunResponse(run model.Run) RunResponse {
	resp := RunResponse{
		ID:            run.ID,
		Workflow:      run.WorkflowName,
		Repository:    run.RepoFullName,
		Branch:        run.Branch,
		HeadSHA:       run.HeadSHA,
		CommitMessage: run.CommitMessage,
		Trigger:       string(run.Trigger),
		Status:        string(run.Status),
		CreatedAt:     run.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:     formatOptionalTime(run.StartedAt),
		FinishedAt:    formatOptionalTime(run.FinishedAt),
		DurationMS:    run.Duration().Milliseconds(),
	}

	for _, job := range run.Jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}

	return resp
}

// toJobResponse converts a domain JobRun to its JSON representation.
func toJobResponse(job model.JobRun) JobResponse {
	variant := job.Variant
	if variant == nil {
		variant = map[string]string{}
	}

	steps := make([]StepResponse, 0, len(job.Steps))
	for _, step := range job.Steps {
		steps = append(steps, StepResponse{
			Index:      step.Index,
			Name:       step.Name,
			Kind:       string(step.Kind),
			Status:     string(step.Status),
			Log:        step.Log,
			StartedAt:  formatOptionalTime(step.StartedAt),
			FinishedAt: formatOptionalTime(step.FinishedAt),
		})
	}

	return JobResponse{
		ID:      job.ID,
		Variant: variant,
		Label:   job.VariantLabel(),
		Status:  string(job.Status),
		Steps:   steps,
	}
}

// toWorkflowResponse converts a workflow definition to its JSON representation.
func toWorkflowResponse(wf model.Workflow) WorkflowResponse {
	steps := make([]string, 0, len(wf.Steps))
	for _, step := range wf.Steps {
		steps = append(steps, step.Name)
	}

	return WorkflowResponse{
		Name:       wf.Name,
		Repository: wf.RepoFullName,
		Branch:     wf.Branch,
		Schedule:   wf.Schedule,
		Gated:      len(wf.Gate.Require) > 0 || len(wf.Gate.SkipMarkers) > 0,
		Steps:      steps,
	}
}

// toRepoResponse converts a domain Repository to its JSON representation.
func toRepoResponse(repo model.Repository) RepoResponse {
	return RepoResponse{
		FullName:    repo.FullName,
		Owner:       repo.Owner,
		Name:        repo.Name,
		Branch:      repo.Branch,
		LastSeenSHA: repo.LastSeenSHA,
		AddedAt:     repo.AddedAt.UTC().Format(time.RFC3339),
	}
}

// toHealthResponse converts the aggregate runner status to its JSON representation.
func toHealthResponse(status application.RunnerStatus) HealthResponse {
	runs := make(map[string]int, len(status.RunCounts))
	for s, n := range status.RunCounts {
		runs[string(s)] = n
	}

	return HealthResponse{
		Status:       "ok",
		Time:         time.Now().UTC().Format(time.RFC3339),
		WatchedRepos: status.WatchedRepos,
		Workflows:    status.Workflows,
		Runs:         runs,
	}
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
