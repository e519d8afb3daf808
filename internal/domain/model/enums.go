package model

// RunStatus represents the lifecycle state of a run or a job within a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCanceled
}

// Valid reports whether s is a known run status value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	}
	return false
}

// StepStatus represents the lifecycle state of a single step within a job.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusCanceled  StepStatus = "canceled"
)

// StepKind identifies what a step does. Steps of kind "run" execute a shell
// command; the other kinds are built-ins handled by dedicated adapters.
type StepKind string

const (
	StepKindCheckout StepKind = "checkout"
	StepKindCache    StepKind = "cache"
	StepKindRun      StepKind = "run"
	StepKindCoverage StepKind = "coverage"
)

// TriggerKind records what caused a run to be created.
type TriggerKind string

const (
	TriggerPush     TriggerKind = "push"
	TriggerSchedule TriggerKind = "schedule"
	TriggerManual   TriggerKind = "manual"
)
