package driven

import (
	"context"

	"github.com/conveyorci/conveyor/internal/domain/model"
)

// GitHubClient defines the driven port for reading push activity from the
// GitHub API.
type GitHubClient interface {
	// FetchHeadCommit returns the current head commit of the given branch.
	// Returns nil, nil when the branch has no commits.
	FetchHeadCommit(ctx context.Context, repoFullName, branch string) (*model.PushEvent, error)
}
