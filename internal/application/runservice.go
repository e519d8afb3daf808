package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/conveyorci/conveyor/internal/domain/model"
	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// maxStepLog bounds how much captured output is persisted per step.
const maxStepLog = 64 * 1024

// queuedRun pairs a persisted run with the workflow definition it executes.
type queuedRun struct {
	workflow model.Workflow
	run      model.Run
}

// pendingSave is a cache step whose save phase runs after the job's remaining
// steps finish (restore-at-position, save-at-end, like hosted CI caches).
type pendingSave struct {
	key  string
	path string
	hit  bool
}

// RunService executes queued runs: it expands the matrix into jobs, runs each
// job's steps strictly sequentially with fail-fast semantics, and persists
// every state transition. Runs execute one at a time; jobs within a run
// execute with at most Matrix.MaxParallel in flight.
type RunService struct {
	runStore     driven.RunStore
	fetcher      driven.SourceFetcher
	cache        driven.CacheStore
	uploader     driven.CoverageUploader
	workspaceDir string
	runnerOS     string
	cacheEpoch   string
	queue        chan queuedRun
	keepWorkdirs bool
}

// NewRunService creates a RunService with all required dependencies.
func NewRunService(
	runStore driven.RunStore,
	fetcher driven.SourceFetcher,
	cache driven.CacheStore,
	uploader driven.CoverageUploader,
	workspaceDir string,
	runnerOS string,
	cacheEpoch string,
) *RunService {
	return &RunService{
		runStore:     runStore,
		fetcher:      fetcher,
		cache:        cache,
		uploader:     uploader,
		workspaceDir: workspaceDir,
		runnerOS:     runnerOS,
		cacheEpoch:   cacheEpoch,
		queue:        make(chan queuedRun, 64),
	}
}

// Enqueue persists the run as queued and hands it to the executor loop.
// Returns an error when the queue is full rather than blocking the caller
// (pollers and HTTP handlers must not wedge behind a slow run).
func (s *RunService) Enqueue(ctx context.Context, wf model.Workflow, run model.Run) error {
	run.Status = model.RunStatusQueued
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	if err := s.runStore.CreateRun(ctx, &run); err != nil {
		return fmt.Errorf("persist queued run: %w", err)
	}

	select {
	case s.queue <- queuedRun{workflow: wf, run: run}:
		slog.Info("run queued",
			"run_id", run.ID,
			"workflow", wf.Name,
			"repo", run.RepoFullName,
			"sha", run.HeadSHA,
			"trigger", string(run.Trigger),
		)
		return nil
	default:
		run.Status = model.RunStatusFailed
		run.FinishedAt = time.Now()
		if err := s.runStore.UpdateRun(ctx, run); err != nil {
			slog.Error("mark overflowed run failed", "run_id", run.ID, "error", err)
		}
		return fmt.Errorf("run queue full, dropping run for %s@%s", run.RepoFullName, run.HeadSHA)
	}
}

// Start runs the executor loop until the context is canceled. Start blocks.
func (s *RunService) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("run service stopped")
			return
		case item := <-s.queue:
			s.execute(ctx, item.workflow, item.run)
		}
	}
}

// execute drives one run from queued to a terminal state.
func (s *RunService) execute(ctx context.Context, wf model.Workflow, run model.Run) {
	start := time.Now()

	run.Status = model.RunStatusRunning
	run.StartedAt = start
	if err := s.runStore.UpdateRun(ctx, run); err != nil {
		slog.Error("mark run running", "run_id", run.ID, "error", err)
	}

	variants := wf.Matrix.Expand()
	jobs := make([]*model.JobRun, 0, len(variants))
	for _, variant := range variants {
		job := &model.JobRun{RunID: run.ID, Variant: variant, Status: model.RunStatusQueued}
		if err := s.runStore.CreateJob(ctx, job); err != nil {
			slog.Error("persist job", "run_id", run.ID, "variant", job.VariantLabel(), "error", err)
			job.Status = model.RunStatusFailed
		}
		jobs = append(jobs, job)
	}

	sem := make(chan struct{}, wf.Matrix.Parallelism())
	var wg sync.WaitGroup

	for _, job := range jobs {
		if job.Status == model.RunStatusFailed {
			continue
		}
		wg.Add(1)
		go func(job *model.JobRun) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			s.runJob(ctx, wf, run, job)
		}(job)
	}
	wg.Wait()

	if !s.keepWorkdirs {
		runDir := filepath.Join(s.workspaceDir, fmt.Sprintf("run-%d", run.ID))
		if err := os.RemoveAll(runDir); err != nil {
			slog.Warn("remove run workspace", "run_id", run.ID, "error", err)
		}
	}

	run.Status = model.RunStatusSucceeded
	for _, job := range jobs {
		switch job.Status {
		case model.RunStatusFailed:
			run.Status = model.RunStatusFailed
		case model.RunStatusCanceled:
			if run.Status != model.RunStatusFailed {
				run.Status = model.RunStatusCanceled
			}
		}
	}
	run.FinishedAt = time.Now()

	// The run's terminal state must land even when the shutdown signal is
	// what ended it, so persist with a fresh context.
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runStore.UpdateRun(persistCtx, run); err != nil {
		slog.Error("persist run result", "run_id", run.ID, "error", err)
	}

	slog.Info("run finished",
		"run_id", run.ID,
		"workflow", wf.Name,
		"status", string(run.Status),
		"jobs", len(jobs),
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// runJob executes one matrix variant. Steps run strictly sequentially; the
// first failure marks the job failed and the remaining steps skipped.
func (s *RunService) runJob(ctx context.Context, wf model.Workflow, run model.Run, job *model.JobRun) {
	job.Status = model.RunStatusRunning
	job.StartedAt = time.Now()
	if err := s.runStore.UpdateJob(ctx, *job); err != nil {
		slog.Error("mark job running", "job_id", job.ID, "error", err)
	}

	workspace := filepath.Join(s.workspaceDir,
		fmt.Sprintf("run-%d", run.ID), sanitizePathLabel(job.VariantLabel()))
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("create workspace", "job_id", job.ID, "error", err)
		s.finishJob(job, model.RunStatusFailed)
		return
	}

	steps := make([]*model.StepRun, 0, len(wf.Steps))
	for i, def := range wf.Steps {
		step := &model.StepRun{
			JobID:  job.ID,
			Index:  i,
			Name:   def.Name,
			Kind:   def.Kind,
			Status: model.StepStatusPending,
		}
		if err := s.runStore.CreateStep(ctx, step); err != nil {
			slog.Error("persist step", "job_id", job.ID, "step", def.Name, "error", err)
		}
		steps = append(steps, step)
	}

	var saves []pendingSave
	jobStatus := model.RunStatusSucceeded

	for i, def := range wf.Steps {
		step := steps[i]

		if jobStatus != model.RunStatusSucceeded {
			step.Status = model.StepStatusSkipped
			s.persistStep(step)
			continue
		}

		step.Status = model.StepStatusRunning
		step.StartedAt = time.Now()
		s.persistStep(step)

		log, err := s.executeStep(ctx, wf, run, job, def, workspace, &saves)
		step.Log = clipLog(log)
		step.FinishedAt = time.Now()

		switch {
		case err == nil:
			step.Status = model.StepStatusSucceeded
		case errors.Is(err, errStepSkipped):
			step.Status = model.StepStatusSkipped
		case ctx.Err() != nil:
			step.Status = model.StepStatusCanceled
			jobStatus = model.RunStatusCanceled
		default:
			step.Status = model.StepStatusFailed
			if step.Log != "" {
				step.Log += "\n"
			}
			step.Log += err.Error()
			jobStatus = model.RunStatusFailed
			slog.Error("step failed",
				"job_id", job.ID,
				"step", def.Name,
				"kind", string(def.Kind),
				"error", err,
			)
		}
		s.persistStep(step)
	}

	// Save phase for cache steps: only after a fully green job, and never
	// when the restore was an exact hit.
	if jobStatus == model.RunStatusSucceeded {
		for _, save := range saves {
			if save.hit {
				continue
			}
			if err := s.cache.Save(ctx, save.key, filepath.Join(workspace, save.path)); err != nil {
				slog.Error("save cache entry", "job_id", job.ID, "key", save.key, "error", err)
			} else {
				slog.Info("cache entry saved", "job_id", job.ID, "key", save.key)
			}
		}
	}

	s.finishJob(job, jobStatus)
}

// errStepSkipped signals a step that chose not to run (e.g. coverage upload
// without a configured token). Skipped steps do not fail the job.
var errStepSkipped = errors.New("step skipped")

func (s *RunService) executeStep(
	ctx context.Context,
	wf model.Workflow,
	run model.Run,
	job *model.JobRun,
	def model.Step,
	workspace string,
	saves *[]pendingSave,
) (string, error) {
	switch def.Kind {
	case model.StepKindCheckout:
		if err := s.fetcher.Checkout(ctx, run.RepoFullName, run.Branch, run.HeadSHA, workspace); err != nil {
			return "", err
		}
		return fmt.Sprintf("checked out %s@%s", run.RepoFullName, run.HeadSHA), nil

	case model.StepKindCache:
		key, err := RenderCacheKey(def.CacheKey, KeyVars{
			OS:           s.runnerOS,
			Env:          s.stepEnv(wf),
			Matrix:       job.Variant,
			WorkspaceDir: workspace,
		})
		if err != nil {
			return "", err
		}

		dest := filepath.Join(workspace, def.CachePath)
		hit, err := s.cache.Restore(ctx, key, dest)
		if err != nil {
			return "", err
		}
		*saves = append(*saves, pendingSave{key: key, path: def.CachePath, hit: hit})

		if hit {
			return fmt.Sprintf("cache hit: %s", key), nil
		}
		return fmt.Sprintf("cache miss: %s", key), nil

	case model.StepKindRun:
		return s.runCommand(ctx, wf, job, def.Run, workspace)

	case model.StepKindCoverage:
		if !s.uploader.Configured() {
			return "coverage upload skipped: no token configured", errStepSkipped
		}
		report := driven.CoverageReport{
			FilePath:     filepath.Join(workspace, def.CoverageFile),
			RepoFullName: run.RepoFullName,
			SHA:          run.HeadSHA,
			Branch:       run.Branch,
			Flags:        def.Flags,
			Name:         def.UploadName,
		}
		if err := s.uploader.Upload(ctx, report); err != nil {
			return "", err
		}
		return fmt.Sprintf("uploaded %s (flags=%s, name=%s)", def.CoverageFile, def.Flags, def.UploadName), nil

	default:
		return "", fmt.Errorf("unknown step kind %q", def.Kind)
	}
}

// runCommand executes a shell step in the workspace and returns its combined
// output. The workflow env, the matrix variant (as MATRIX_<NAME>), and the
// runner identity are exported on top of the process environment.
func (s *RunService) runCommand(ctx context.Context, wf model.Workflow, job *model.JobRun, command, workspace string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workspace

	env := os.Environ()
	for name, value := range s.stepEnv(wf) {
		env = append(env, name+"="+value)
	}
	for name, value := range job.Variant {
		env = append(env, "MATRIX_"+strings.ToUpper(envName(name))+"="+value)
	}
	env = append(env, "CONVEYOR_OS="+s.runnerOS)
	cmd.Env = env

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("command %q: %w", command, err)
	}
	return string(out), nil
}

// stepEnv merges the workflow env over the runner-provided defaults.
func (s *RunService) stepEnv(wf model.Workflow) map[string]string {
	env := map[string]string{"CACHE_EPOCH": s.cacheEpoch}
	for name, value := range wf.Env {
		env[name] = value
	}
	return env
}

func (s *RunService) finishJob(job *model.JobRun, status model.RunStatus) {
	job.Status = status
	job.FinishedAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runStore.UpdateJob(ctx, *job); err != nil {
		slog.Error("persist job result", "job_id", job.ID, "error", err)
	}

	slog.Info("job finished",
		"job_id", job.ID,
		"variant", job.VariantLabel(),
		"status", string(status),
	)
}

func (s *RunService) persistStep(step *model.StepRun) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runStore.UpdateStep(ctx, *step); err != nil {
		slog.Error("persist step", "step_id", step.ID, "error", err)
	}
}

func clipLog(log string) string {
	if len(log) <= maxStepLog {
		return log
	}
	return log[:maxStepLog] + "\n[log truncated]"
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._=-]+`)

func sanitizePathLabel(label string) string {
	return unsafePathChars.ReplaceAllString(label, "_")
}

var unsafeEnvChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

func envName(name string) string {
	return unsafeEnvChars.ReplaceAllString(name, "_")
}
