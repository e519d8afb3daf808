package driven

import "context"

// SourceFetcher defines the driven port for materializing repository source
// into a job workspace (the checkout step).
type SourceFetcher interface {
	// Checkout clones repoFullName's branch into dir and positions the
	// worktree at sha. An empty sha leaves the branch head checked out.
	Checkout(ctx context.Context, repoFullName, branch, sha, dir string) error
}
