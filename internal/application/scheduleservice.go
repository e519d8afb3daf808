package application

import (
	"context"
	"log/slog"

	"github.com/robfig/cron"

	"github.com/conveyorci/conveyor/internal/domain/model"
	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// ScheduleService queues runs for workflows that declare a cron schedule.
// Scheduled runs bypass the commit-message gate and execute against the last
// observed head commit; a workflow whose repository has never been polled is
// skipped until the cursor is primed.
type ScheduleService struct {
	repoStore driven.RepoStore
	enqueuer  RunEnqueuer
	workflows []model.Workflow
	cron      *cron.Cron
}

// NewScheduleService creates a ScheduleService for the scheduled subset of
// the given workflows.
func NewScheduleService(repoStore driven.RepoStore, enqueuer RunEnqueuer, workflows []model.Workflow) *ScheduleService {
	return &ScheduleService{
		repoStore: repoStore,
		enqueuer:  enqueuer,
		workflows: workflows,
		cron:      cron.New(),
	}
}

// Start registers every scheduled workflow and runs the cron loop until the
// context is canceled. Start blocks.
func (s *ScheduleService) Start(ctx context.Context) {
	var scheduled int
	for _, wf := range s.workflows {
		if !wf.Scheduled() {
			continue
		}

		wf := wf
		if err := s.cron.AddFunc(wf.Schedule, func() {
			if err := s.TriggerSchedule(ctx, wf); err != nil {
				slog.Error("scheduled trigger failed", "workflow", wf.Name, "error", err)
			}
		}); err != nil {
			// Schedules are validated at load time, so this is unexpected.
			slog.Error("register schedule", "workflow", wf.Name, "schedule", wf.Schedule, "error", err)
			continue
		}
		scheduled++
		slog.Info("schedule registered", "workflow", wf.Name, "schedule", wf.Schedule)
	}

	if scheduled == 0 {
		slog.Info("no scheduled workflows")
		<-ctx.Done()
		return
	}

	s.cron.Start()
	<-ctx.Done()
	s.cron.Stop()
	slog.Info("schedule service stopped")
}

// TriggerSchedule queues one scheduled run of the workflow against the last
// observed head of its branch.
func (s *ScheduleService) TriggerSchedule(ctx context.Context, wf model.Workflow) error {
	repo, err := s.repoStore.GetByFullName(ctx, wf.RepoFullName)
	if err != nil {
		return err
	}
	if repo == nil || repo.LastSeenSHA == "" {
		slog.Warn("scheduled workflow has no observed head yet",
			"workflow", wf.Name,
			"repo", wf.RepoFullName,
		)
		return nil
	}

	run := model.Run{
		WorkflowName: wf.Name,
		RepoFullName: wf.RepoFullName,
		Branch:       wf.Branch,
		HeadSHA:      repo.LastSeenSHA,
		Trigger:      model.TriggerSchedule,
	}
	return s.enqueuer.Enqueue(ctx, wf, run)
}
