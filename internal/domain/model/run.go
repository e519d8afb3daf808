package model

import (
	"sort"
	"strings"
	"time"
)

// Run is one execution of a workflow against a specific commit.
type Run struct {
	ID            int64
	WorkflowName  string
	RepoFullName  string
	Branch        string
	HeadSHA       string
	CommitMessage string
	Trigger       TriggerKind
	Status        RunStatus
	CreatedAt     time.Time
	StartedAt     time.Time // zero until the run starts
	FinishedAt    time.Time // zero until the run reaches a terminal state

	// Jobs is populated on single-run lookups, not on list queries.
	Jobs []JobRun
}

// Duration returns the wall-clock duration of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// JobRun is one matrix variant of a run. Steps execute strictly sequentially
// within a job; the first failure marks the job failed and skips the rest.
type JobRun struct {
	ID         int64
	RunID      int64
	Variant    map[string]string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time

	Steps []StepRun
}

// VariantLabel renders the matrix variant as a stable "k=v,k=v" label, or
// "default" for the empty variant. Used in logs and workspace paths.
func (j JobRun) VariantLabel() string {
	if len(j.Variant) == 0 {
		return "default"
	}

	keys := make([]string, 0, len(j.Variant))
	for k := range j.Variant {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+j.Variant[k])
	}
	return strings.Join(parts, ",")
}

// StepRun is the recorded execution of one step within a job.
type StepRun struct {
	ID         int64
	JobID      int64
	Index      int
	Name       string
	Kind       StepKind
	Status     StepStatus
	Log        string
	StartedAt  time.Time
	FinishedAt time.Time
}
