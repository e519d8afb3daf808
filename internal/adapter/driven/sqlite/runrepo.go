package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/conveyorci/conveyor/internal/domain/model"
	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the RunStore port interface.
// Matrix variants are serialized as JSON objects in the TEXT column.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// CreateRun inserts a new run and assigns the generated ID onto run.
func (r *RunRepo) CreateRun(ctx context.Context, run *model.Run) error {
	const query = `
		INSERT INTO runs (workflow_name, repo_full_name, branch, head_sha,
			commit_message, trigger_kind, status, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		run.WorkflowName, run.RepoFullName, run.Branch, run.HeadSHA,
		run.CommitMessage, string(run.Trigger), string(run.Status),
		run.CreatedAt.UTC(), nullableTime(run.StartedAt), nullableTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run for %s@%s: %w", run.RepoFullName, run.HeadSHA, err)
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("run insert id: %w", err)
	}

	return nil
}

// UpdateRun persists the mutable fields of a run (status and timestamps).
func (r *RunRepo) UpdateRun(ctx context.Context, run model.Run) error {
	const query = `
		UPDATE runs SET status = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(run.Status), nullableTime(run.StartedAt), nullableTime(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %d not found", run.ID)
	}

	return nil
}

// GetRun retrieves a single run with its jobs and steps populated.
// Returns nil, nil if the run does not exist.
func (r *RunRepo) GetRun(ctx context.Context, id int64) (*model.Run, error) {
	const query = `
		SELECT id, workflow_name, repo_full_name, branch, head_sha,
		       commit_message, trigger_kind, status, created_at, started_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}

	run.Jobs, err = r.jobsForRun(ctx, id)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	const query = `
		SELECT id, workflow_name, repo_full_name, branch, head_sha,
		       commit_message, trigger_kind, status, created_at, started_at, finished_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?
	`

	return r.queryRuns(ctx, query, limit)
}

// ListRunsByStatus returns the most recent runs with the given status, newest first.
func (r *RunRepo) ListRunsByStatus(ctx context.Context, status model.RunStatus, limit int) ([]model.Run, error) {
	const query = `
		SELECT id, workflow_name, repo_full_name, branch, head_sha,
		       commit_message, trigger_kind, status, created_at, started_at, finished_at
		FROM runs
		WHERE status = ?
		ORDER BY id DESC
		LIMIT ?
	`

	return r.queryRuns(ctx, query, string(status), limit)
}

// CountRunsByStatus returns run counts grouped by status.
func (r *RunRepo) CountRunsByStatus(ctx context.Context) (map[model.RunStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM runs GROUP BY status`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count runs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.RunStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[model.RunStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	return counts, nil
}

// CreateJob inserts a new job run and assigns the generated ID onto job.
func (r *RunRepo) CreateJob(ctx context.Context, job *model.JobRun) error {
	const query = `
		INSERT INTO job_runs (run_id, variant, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?)
	`

	variant := job.Variant
	if variant == nil {
		variant = map[string]string{}
	}
	variantJSON, err := json.Marshal(variant)
	if err != nil {
		return fmt.Errorf("marshal variant: %w", err)
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		job.RunID, string(variantJSON), string(job.Status),
		nullableTime(job.StartedAt), nullableTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job for run %d: %w", job.RunID, err)
	}

	job.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("job insert id: %w", err)
	}

	return nil
}

// UpdateJob persists the mutable fields of a job run.
func (r *RunRepo) UpdateJob(ctx context.Context, job model.JobRun) error {
	const query = `
		UPDATE job_runs SET status = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		string(job.Status), nullableTime(job.StartedAt), nullableTime(job.FinishedAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", job.ID, err)
	}

	return nil
}

// CreateStep inserts a new step run and assigns the generated ID onto step.
func (r *RunRepo) CreateStep(ctx context.Context, step *model.StepRun) error {
	const query = `
		INSERT INTO step_runs (job_id, step_index, name, kind, status, log, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		step.JobID, step.Index, step.Name, string(step.Kind), string(step.Status),
		step.Log, nullableTime(step.StartedAt), nullableTime(step.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert step %q for job %d: %w", step.Name, step.JobID, err)
	}

	step.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("step insert id: %w", err)
	}

	return nil
}

// UpdateStep persists the mutable fields of a step run, including its log.
func (r *RunRepo) UpdateStep(ctx context.Context, step model.StepRun) error {
	const query = `
		UPDATE step_runs SET status = ?, log = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		string(step.Status), step.Log, nullableTime(step.StartedAt), nullableTime(step.FinishedAt), step.ID,
	)
	if err != nil {
		return fmt.Errorf("update step %d: %w", step.ID, err)
	}

	return nil
}

func (r *RunRepo) queryRuns(ctx context.Context, query string, args ...any) ([]model.Run, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepo) jobsForRun(ctx context.Context, runID int64) ([]model.JobRun, error) {
	const query = `
		SELECT id, run_id, variant, status, started_at, finished_at
		FROM job_runs
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query jobs for run %d: %w", runID, err)
	}
	defer rows.Close()

	var jobs []model.JobRun
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	for i := range jobs {
		jobs[i].Steps, err = r.stepsForJob(ctx, jobs[i].ID)
		if err != nil {
			return nil, err
		}
	}

	return jobs, nil
}

func (r *RunRepo) stepsForJob(ctx context.Context, jobID int64) ([]model.StepRun, error) {
	const query = `
		SELECT id, job_id, step_index, name, kind, status, log, started_at, finished_at
		FROM step_runs
		WHERE job_id = ?
		ORDER BY step_index
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("query steps for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var steps []model.StepRun
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, *step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}

	return steps, nil
}

func scanRun(s scanner) (*model.Run, error) {
	var run model.Run
	var trigger, status, createdAt string
	var startedAt, finishedAt sql.NullString

	err := s.Scan(
		&run.ID, &run.WorkflowName, &run.RepoFullName, &run.Branch, &run.HeadSHA,
		&run.CommitMessage, &trigger, &status, &createdAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Trigger = model.TriggerKind(trigger)
	run.Status = model.RunStatus(status)

	run.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	run.StartedAt, err = parseNullableTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}

	run.FinishedAt, err = parseNullableTime(finishedAt)
	if err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &run, nil
}

func scanJob(s scanner) (*model.JobRun, error) {
	var job model.JobRun
	var variantJSON, status string
	var startedAt, finishedAt sql.NullString

	err := s.Scan(&job.ID, &job.RunID, &variantJSON, &status, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	job.Status = model.RunStatus(status)

	if err := json.Unmarshal([]byte(variantJSON), &job.Variant); err != nil {
		return nil, fmt.Errorf("unmarshal variant: %w", err)
	}

	job.StartedAt, err = parseNullableTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}

	job.FinishedAt, err = parseNullableTime(finishedAt)
	if err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &job, nil
}

func scanStep(s scanner) (*model.StepRun, error) {
	var step model.StepRun
	var kind, status string
	var startedAt, finishedAt sql.NullString

	err := s.Scan(
		&step.ID, &step.JobID, &step.Index, &step.Name, &kind, &status,
		&step.Log, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	step.Kind = model.StepKind(kind)
	step.Status = model.StepStatus(status)

	step.StartedAt, err = parseNullableTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}

	step.FinishedAt, err = parseNullableTime(finishedAt)
	if err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &step, nil
}
