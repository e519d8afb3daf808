package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/conveyorci/conveyor/internal/adapter/driving/http"
	"github.com/conveyorci/conveyor/internal/application"
	"github.com/conveyorci/conveyor/internal/domain/model"
)

// --- Mock implementations ---

type mockRunStore struct {
	runs   []model.Run
	run    *model.Run
	counts map[model.RunStatus]int
	err    error
}

func (m *mockRunStore) CreateRun(_ context.Context, run *model.Run) error {
	run.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, *run)
	return nil
}
func (m *mockRunStore) UpdateRun(_ context.Context, _ model.Run) error { return nil }
func (m *mockRunStore) GetRun(_ context.Context, _ int64) (*model.Run, error) {
	return m.run, m.err
}
func (m *mockRunStore) ListRuns(_ context.Context, _ int) ([]model.Run, error) {
	return m.runs, m.err
}
func (m *mockRunStore) ListRunsByStatus(_ context.Context, status model.RunStatus, _ int) ([]model.Run, error) {
	var out []model.Run
	for _, r := range m.runs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, m.err
}
func (m *mockRunStore) CountRunsByStatus(_ context.Context) (map[model.RunStatus]int, error) {
	return m.counts, m.err
}
func (m *mockRunStore) CreateJob(_ context.Context, _ *model.JobRun) error   { return nil }
func (m *mockRunStore) UpdateJob(_ context.Context, _ model.JobRun) error    { return nil }
func (m *mockRunStore) CreateStep(_ context.Context, _ *model.StepRun) error { return nil }
func (m *mockRunStore) UpdateStep(_ context.Context, _ model.StepRun) error  { return nil }

type mockRepoStore struct {
	repos    []model.Repository
	repo     *model.Repository
	err      error
	removed  string
	upserted *model.Repository
}

func (m *mockRepoStore) Upsert(_ context.Context, repo model.Repository) error {
	m.upserted = &repo
	return m.err
}
func (m *mockRepoStore) Remove(_ context.Context, fullName string) error {
	m.removed = fullName
	return m.err
}
func (m *mockRepoStore) GetByFullName(_ context.Context, _ string) (*model.Repository, error) {
	return m.repo, m.err
}
func (m *mockRepoStore) ListAll(_ context.Context) ([]model.Repository, error) {
	return m.repos, m.err
}
func (m *mockRepoStore) SetLastSeenSHA(_ context.Context, _, _ string) error { return nil }

type mockGitHub struct {
	event *model.PushEvent
	err   error
}

func (m *mockGitHub) FetchHeadCommit(_ context.Context, _, _ string) (*model.PushEvent, error) {
	return m.event, m.err
}

type mockEnqueuer struct {
	mu   sync.Mutex
	runs []model.Run
}

func (m *mockEnqueuer) Enqueue(_ context.Context, _ model.Workflow, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// --- Test fixtures ---

func testWorkflow() model.Workflow {
	return model.Workflow{
		Name:         "minimal",
		RepoFullName: "PMEAL/porespy",
		Branch:       "dev",
		Gate:         model.Gate{Require: []string{"ci min"}},
		Steps: []model.Step{
			{Name: "checkout", Kind: model.StepKindCheckout},
			{Name: "tests", Kind: model.StepKindRun, Run: "pytest"},
		},
	}
}

type fixture struct {
	runStore  *mockRunStore
	repoStore *mockRepoStore
	gh        *mockGitHub
	enq       *mockEnqueuer
	pollSvc   *application.PollService
	server    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		runStore:  &mockRunStore{counts: map[model.RunStatus]int{}},
		repoStore: &mockRepoStore{},
		gh:        &mockGitHub{event: &model.PushEvent{SHA: "abc", Message: "manual"}},
		enq:       &mockEnqueuer{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	workflows := []model.Workflow{testWorkflow()}

	f.pollSvc = application.NewPollService(f.gh, f.repoStore, f.enq, workflows, time.Hour)
	statusSvc := application.NewStatusService(f.runStore, f.repoStore, workflows)

	handler := httphandler.NewHandler(f.runStore, f.repoStore, statusSvc, f.pollSvc, logger)
	f.server = httphandler.NewServeMux(handler, logger)
	return f
}

// startPolling runs the poll loop so manual dispatch requests are served.
// Call after the mocks are fully configured.
func (f *fixture) startPolling(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go f.pollSvc.Start(ctx)
	t.Cleanup(cancel)
}

func doRequest(f *fixture, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	f.runStore.runs = []model.Run{
		{ID: 2, WorkflowName: "minimal", Status: model.RunStatusRunning, Trigger: model.TriggerPush},
		{ID: 1, WorkflowName: "minimal", Status: model.RunStatusSucceeded, Trigger: model.TriggerPush},
	}

	rec := doRequest(f, http.MethodGet, "/api/v1/runs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []httphandler.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, int64(2), resp[0].ID)
	assert.Equal(t, "running", resp[0].Status)
}

func TestListRuns_StatusFilter(t *testing.T) {
	f := newFixture(t)
	f.runStore.runs = []model.Run{
		{ID: 1, Status: model.RunStatusSucceeded},
		{ID: 2, Status: model.RunStatusFailed},
	}

	rec := doRequest(f, http.MethodGet, "/api/v1/runs?status=failed", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []httphandler.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, int64(2), resp[0].ID)
}

func TestListRuns_InvalidStatus(t *testing.T) {
	f := newFixture(t)

	rec := doRequest(f, http.MethodGet, "/api/v1/runs?status=bogus", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRuns_StoreError(t *testing.T) {
	f := newFixture(t)
	f.runStore.err = errors.New("disk on fire")

	rec := doRequest(f, http.MethodGet, "/api/v1/runs", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestGetRun_WithJobsAndSteps(t *testing.T) {
	f := newFixture(t)
	f.runStore.run = &model.Run{
		ID:           7,
		WorkflowName: "minimal",
		Status:       model.RunStatusSucceeded,
		Jobs: []model.JobRun{{
			ID:      1,
			Variant: map[string]string{"python": "3.8"},
			Status:  model.RunStatusSucceeded,
			Steps: []model.StepRun{
				{Index: 0, Name: "checkout", Kind: model.StepKindCheckout, Status: model.StepStatusSucceeded},
				{Index: 1, Name: "tests", Kind: model.StepKindRun, Status: model.StepStatusSucceeded, Log: "42 passed"},
			},
		}},
	}

	rec := doRequest(f, http.MethodGet, "/api/v1/runs/7", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "python=3.8", resp.Jobs[0].Label)
	require.Len(t, resp.Jobs[0].Steps, 2)
	assert.Equal(t, "42 passed", resp.Jobs[0].Steps[1].Log)
}

func TestGetRun_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := doRequest(f, http.MethodGet, "/api/v1/runs/99", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun_InvalidID(t *testing.T) {
	f := newFixture(t)

	rec := doRequest(f, http.MethodGet, "/api/v1/runs/abc", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWorkflows(t *testing.T) {
	f := newFixture(t)

	rec := doRequest(f, http.MethodGet, "/api/v1/workflows", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []httphandler.WorkflowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "minimal", resp[0].Name)
	assert.True(t, resp[0].Gated)
	assert.Equal(t, []string{"checkout", "tests"}, resp[0].Steps)
}

func TestAddRepo(t *testing.T) {
	f := newFixture(t)

	rec := doRequest(f, http.MethodPost, "/api/v1/repos",
		`{"full_name":"PMEAL/porespy","branch":"dev"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, f.repoStore.upserted)
	assert.Equal(t, "PMEAL", f.repoStore.upserted.Owner)
	assert.Equal(t, "dev", f.repoStore.upserted.Branch)
}

func TestAddRepo_DefaultsBranch(t *testing.T) {
	f := newFixture(t)

	rec := doRequest(f, http.MethodPost, "/api/v1/repos", `{"full_name":"a/b"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "main", f.repoStore.upserted.Branch)
}

func TestAddRepo_InvalidName(t *testing.T) {
	f := newFixture(t)

	rec := doRequest(f, http.MethodPost, "/api/v1/repos", `{"full_name":"not-a-slug"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveRepo(t *testing.T) {
	f := newFixture(t)
	f.repoStore.repo = &model.Repository{FullName: "PMEAL/porespy"}

	rec := doRequest(f, http.MethodDelete, "/api/v1/repos/PMEAL/porespy", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "PMEAL/porespy", f.repoStore.removed)
}

func TestRemoveRepo_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := doRequest(f, http.MethodDelete, "/api/v1/repos/x/y", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatchRepo(t *testing.T) {
	f := newFixture(t)
	f.startPolling(t)

	rec := doRequest(f, http.MethodPost, "/api/v1/repos/PMEAL/porespy/dispatch", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp httphandler.DispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"minimal"}, resp.Dispatched)

	f.enq.mu.Lock()
	defer f.enq.mu.Unlock()
	require.Len(t, f.enq.runs, 1)
	assert.Equal(t, model.TriggerManual, f.enq.runs[0].Trigger)
	assert.Equal(t, "abc", f.enq.runs[0].HeadSHA)
}

func TestDispatchRepo_NamedWorkflow(t *testing.T) {
	f := newFixture(t)
	f.startPolling(t)

	rec := doRequest(f, http.MethodPost, "/api/v1/repos/PMEAL/porespy/dispatch",
		`{"workflow":"minimal"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestDispatchRepo_NoMatch(t *testing.T) {
	f := newFixture(t)

	rec := doRequest(f, http.MethodPost, "/api/v1/repos/other/repo/dispatch", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.runStore.counts = map[model.RunStatus]int{
		model.RunStatusSucceeded: 3,
		model.RunStatusFailed:    1,
	}
	f.repoStore.repos = []model.Repository{{FullName: "a/b"}}

	rec := doRequest(f, http.MethodGet, "/api/v1/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.WatchedRepos)
	assert.Equal(t, 1, resp.Workflows)
	assert.Equal(t, 3, resp.Runs["succeeded"])
}
