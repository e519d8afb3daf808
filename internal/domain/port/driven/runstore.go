package driven

import (
	"context"

	"github.com/conveyorci/conveyor/internal/domain/model"
)

// RunStore defines the driven port for run, job and step persistence.
// Create methods assign the generated ID back onto the passed value.
// GetRun returns nil, nil when the run does not exist.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id int64) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	ListRunsByStatus(ctx context.Context, status model.RunStatus, limit int) ([]model.Run, error)
	CountRunsByStatus(ctx context.Context) (map[model.RunStatus]int, error)

	CreateJob(ctx context.Context, job *model.JobRun) error
	UpdateJob(ctx context.Context, job model.JobRun) error

	CreateStep(ctx context.Context, step *model.StepRun) error
	UpdateStep(ctx context.Context, step model.StepRun) error
}
