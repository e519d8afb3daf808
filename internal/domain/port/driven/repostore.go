package driven

import (
	"context"

	"github.com/conveyorci/conveyor/internal/domain/model"
)

// RepoStore defines the driven port for watched-repository persistence.
// GetByFullName returns nil, nil when the repository is not watched.
type RepoStore interface {
	Upsert(ctx context.Context, repo model.Repository) error
	Remove(ctx context.Context, fullName string) error
	GetByFullName(ctx context.Context, fullName string) (*model.Repository, error)
	ListAll(ctx context.Context) ([]model.Repository, error)
	// SetLastSeenSHA records the most recently observed head commit so
	// restarts do not re-trigger runs for commits already seen.
	SetLastSeenSHA(ctx context.Context, fullName, sha string) error
}
