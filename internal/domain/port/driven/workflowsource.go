package driven

import "github.com/conveyorci/conveyor/internal/domain/model"

// WorkflowSource defines the driven port for loading workflow definitions.
type WorkflowSource interface {
	// LoadAll returns every valid workflow. Invalid definition files are
	// reported via the errs slice without preventing the rest from loading.
	LoadAll() (workflows []model.Workflow, errs []error)
}
