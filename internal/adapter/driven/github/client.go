// Package github implements the GitHubClient port using the go-github library.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/conveyorci/conveyor/internal/domain/model"
	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GitHubClient = (*Client)(nil)

// Client implements the driven.GitHubClient port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching; head-commit polls are
//     cheap 304s between pushes)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// FetchHeadCommit returns the current head commit of the given branch.
// Returns nil, nil when the branch has no commits.
func (c *Client) FetchHeadCommit(ctx context.Context, repoFullName, branch string) (*model.PushEvent, error) {
	owner, repo, err := model.SplitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.CommitsListOptions{
		SHA:         branch,
		ListOptions: gh.ListOptions{PerPage: 1},
	}

	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("listing commits for %s@%s: %w", repoFullName, branch, err)
	}

	if len(commits) == 0 {
		return nil, nil
	}

	return mapPushEvent(commits[0], repoFullName, branch), nil
}

func mapPushEvent(rc *gh.RepositoryCommit, repoFullName, branch string) *model.PushEvent {
	ev := &model.PushEvent{
		RepoFullName: repoFullName,
		Branch:       branch,
		SHA:          rc.GetSHA(),
	}

	if commit := rc.GetCommit(); commit != nil {
		ev.Message = commit.GetMessage()
		if author := commit.GetAuthor(); author != nil {
			ev.Author = author.GetName()
			ev.CommittedAt = author.GetDate().Time
		}
	}

	// Prefer the GitHub login over the raw commit author name when present.
	if user := rc.GetAuthor(); user != nil && user.GetLogin() != "" {
		ev.Author = user.GetLogin()
	}

	return ev
}
