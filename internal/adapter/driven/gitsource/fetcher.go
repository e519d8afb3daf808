// Package gitsource implements the SourceFetcher port using go-git.
package gitsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SourceFetcher = (*Fetcher)(nil)

// Fetcher clones repositories into job workspaces. The base URL is normally
// "https://github.com"; tests point it at a directory of local repositories.
type Fetcher struct {
	baseURL string
	token   string
}

// NewFetcher creates a Fetcher. token may be empty for public repositories.
func NewFetcher(baseURL, token string) *Fetcher {
	return &Fetcher{baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

// Checkout clones repoFullName's branch into dir and positions the worktree
// at sha. An empty sha leaves the branch head checked out.
func (f *Fetcher) Checkout(ctx context.Context, repoFullName, branch, sha, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create workspace parent: %w", err)
	}

	opts := &git.CloneOptions{
		URL: f.cloneURL(repoFullName),
	}
	if f.token != "" && strings.HasPrefix(f.baseURL, "http") {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: f.token}
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return fmt.Errorf("clone %s: %w", repoFullName, err)
	}

	if sha == "" {
		return nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree for %s: %w", repoFullName, err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha)}); err != nil {
		return fmt.Errorf("checkout %s at %s: %w", repoFullName, sha, err)
	}

	return nil
}

func (f *Fetcher) cloneURL(repoFullName string) string {
	if strings.HasPrefix(f.baseURL, "http") {
		return f.baseURL + "/" + repoFullName + ".git"
	}
	// Local base directory, used in tests.
	return filepath.Join(f.baseURL, filepath.FromSlash(repoFullName))
}
