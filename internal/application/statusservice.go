package application

import (
	"context"

	"github.com/conveyorci/conveyor/internal/domain/model"
	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// RunnerStatus is the aggregate view served by the health endpoint.
type RunnerStatus struct {
	WatchedRepos int
	Workflows    int
	RunCounts    map[model.RunStatus]int
}

// StatusService assembles the runner's aggregate status for the HTTP API.
// It depends only on port interfaces.
type StatusService struct {
	runStore  driven.RunStore
	repoStore driven.RepoStore
	workflows []model.Workflow
}

// NewStatusService creates a new StatusService with the required dependencies.
func NewStatusService(runStore driven.RunStore, repoStore driven.RepoStore, workflows []model.Workflow) *StatusService {
	return &StatusService{
		runStore:  runStore,
		repoStore: repoStore,
		workflows: workflows,
	}
}

// GetStatus returns run counts by status plus watched repo and workflow
// totals.
func (s *StatusService) GetStatus(ctx context.Context) (*RunnerStatus, error) {
	counts, err := s.runStore.CountRunsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	repos, err := s.repoStore.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	return &RunnerStatus{
		WatchedRepos: len(repos),
		Workflows:    len(s.workflows),
		RunCounts:    counts,
	}, nil
}
