package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorci/conveyor/internal/domain/model"
	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// RunEnqueuer accepts runs for execution. Satisfied by RunService.
type RunEnqueuer interface {
	Enqueue(ctx context.Context, wf model.Workflow, run model.Run) error
}

// dispatchRequest represents a manual workflow dispatch.
type dispatchRequest struct {
	workflowName string
	done         chan error
}

// PollService watches repository branches for new head commits and turns
// gated pushes into queued runs. Manual dispatches share the same loop so
// cursor updates never race.
type PollService struct {
	ghClient   driven.GitHubClient
	repoStore  driven.RepoStore
	enqueuer   RunEnqueuer
	workflows  []model.Workflow
	interval   time.Duration
	dispatchCh chan dispatchRequest
}

// NewPollService creates a new PollService with all required dependencies.
func NewPollService(
	ghClient driven.GitHubClient,
	repoStore driven.RepoStore,
	enqueuer RunEnqueuer,
	workflows []model.Workflow,
	interval time.Duration,
) *PollService {
	return &PollService{
		ghClient:   ghClient,
		repoStore:  repoStore,
		enqueuer:   enqueuer,
		workflows:  workflows,
		interval:   interval,
		dispatchCh: make(chan dispatchRequest),
	}
}

// Start begins the polling loop. It runs an immediate poll, then polls on the
// configured interval, and serves manual dispatch requests in between. Start
// blocks until the context is canceled.
func (s *PollService) Start(ctx context.Context) {
	if err := s.pollAll(ctx); err != nil {
		slog.Error("initial poll failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poll service stopped")
			return
		case <-ticker.C:
			if err := s.pollAll(ctx); err != nil {
				slog.Error("poll cycle failed", "error", err)
			}
		case req := <-s.dispatchCh:
			req.done <- s.handleDispatch(ctx, req.workflowName)
		}
	}
}

// Dispatch queues a run of the named workflow against the current branch
// head, bypassing the commit-message gate. It blocks until the run has been
// queued or the context is canceled.
func (s *PollService) Dispatch(ctx context.Context, workflowName string) error {
	done := make(chan error, 1)
	req := dispatchRequest{workflowName: workflowName, done: done}

	select {
	case s.dispatchCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workflows returns the workflow definitions this poller serves.
func (s *PollService) Workflows() []model.Workflow {
	return s.workflows
}

// pollAll checks every watched repository for a new head commit.
func (s *PollService) pollAll(ctx context.Context) error {
	start := time.Now()

	repos, err := s.repoStore.ListAll(ctx)
	if err != nil {
		return err
	}

	var pollErrors int
	for _, repo := range repos {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.pollRepo(ctx, repo); err != nil {
			slog.Error("repo poll failed", "repo", repo.FullName, "error", err)
			pollErrors++
		}
	}

	slog.Info("poll cycle complete",
		"repos", len(repos),
		"errors", pollErrors,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

// pollRepo is the push detection logic for a single repository. A repository
// seen for the first time only primes the cursor: runs start with the next
// push, not with history that predates watching.
func (s *PollService) pollRepo(ctx context.Context, repo model.Repository) error {
	event, err := s.ghClient.FetchHeadCommit(ctx, repo.FullName, repo.Branch)
	if err != nil {
		return err
	}
	if event == nil {
		slog.Debug("branch has no commits", "repo", repo.FullName, "branch", repo.Branch)
		return nil
	}

	if event.SHA == repo.LastSeenSHA {
		return nil
	}

	if err := s.repoStore.SetLastSeenSHA(ctx, repo.FullName, event.SHA); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	if repo.LastSeenSHA == "" {
		slog.Info("cursor primed", "repo", repo.FullName, "branch", repo.Branch, "sha", event.SHA)
		return nil
	}

	return s.triggerPush(ctx, repo, *event)
}

// triggerPush evaluates every workflow bound to the pushed branch and queues
// runs for those whose gate admits the commit message.
func (s *PollService) triggerPush(ctx context.Context, repo model.Repository, event model.PushEvent) error {
	var queued, gated int

	for _, wf := range s.workflows {
		if wf.RepoFullName != repo.FullName || wf.Branch != repo.Branch {
			continue
		}

		if !wf.Gate.Allows(event.Message) {
			gated++
			slog.Info("push gated",
				"workflow", wf.Name,
				"repo", repo.FullName,
				"sha", event.SHA,
			)
			continue
		}

		run := model.Run{
			WorkflowName:  wf.Name,
			RepoFullName:  repo.FullName,
			Branch:        repo.Branch,
			HeadSHA:       event.SHA,
			CommitMessage: event.Message,
			Trigger:       model.TriggerPush,
		}
		if err := s.enqueuer.Enqueue(ctx, wf, run); err != nil {
			slog.Error("enqueue run failed", "workflow", wf.Name, "sha", event.SHA, "error", err)
			continue
		}
		queued++
	}

	slog.Info("push processed",
		"repo", repo.FullName,
		"branch", repo.Branch,
		"sha", event.SHA,
		"queued", queued,
		"gated", gated,
	)

	return nil
}

// handleDispatch queues a manual run of the named workflow. Manual runs
// bypass the gate: the operator asked for this run explicitly.
func (s *PollService) handleDispatch(ctx context.Context, workflowName string) error {
	var wf *model.Workflow
	for i := range s.workflows {
		if s.workflows[i].Name == workflowName {
			wf = &s.workflows[i]
			break
		}
	}
	if wf == nil {
		return fmt.Errorf("unknown workflow %q", workflowName)
	}

	event, err := s.ghClient.FetchHeadCommit(ctx, wf.RepoFullName, wf.Branch)
	if err != nil {
		return fmt.Errorf("fetch head of %s@%s: %w", wf.RepoFullName, wf.Branch, err)
	}
	if event == nil {
		return fmt.Errorf("branch %s of %s has no commits", wf.Branch, wf.RepoFullName)
	}

	run := model.Run{
		WorkflowName:  wf.Name,
		RepoFullName:  wf.RepoFullName,
		Branch:        wf.Branch,
		HeadSHA:       event.SHA,
		CommitMessage: event.Message,
		Trigger:       model.TriggerManual,
	}
	return s.enqueuer.Enqueue(ctx, *wf, run)
}
