package gitsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a local repository under root/owner/name with two
// commits on the default branch and returns both commit SHAs.
func initTestRepo(t *testing.T, root string) (first, second string) {
	t.Helper()

	dir := filepath.Join(root, "acme", "widgets")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("v1\n"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	firstHash, err := wt.Commit("initial", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("v2\n"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	secondHash, err := wt.Commit("update readme", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	return firstHash.String(), secondHash.String()
}

func TestCheckout_HeadOfBranch(t *testing.T) {
	root := t.TempDir()
	_, second := initTestRepo(t, root)
	_ = second

	fetcher := NewFetcher(root, "")
	dest := filepath.Join(t.TempDir(), "ws")

	err := fetcher.Checkout(context.Background(), "acme/widgets", "", "", dest)

	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dest, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(content))
}

func TestCheckout_SpecificSHA(t *testing.T) {
	root := t.TempDir()
	first, _ := initTestRepo(t, root)

	fetcher := NewFetcher(root, "")
	dest := filepath.Join(t.TempDir(), "ws")

	err := fetcher.Checkout(context.Background(), "acme/widgets", "", first, dest)

	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dest, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(content))
}

func TestCheckout_MissingRepo(t *testing.T) {
	fetcher := NewFetcher(t.TempDir(), "")
	dest := filepath.Join(t.TempDir(), "ws")

	err := fetcher.Checkout(context.Background(), "nobody/nothing", "", "", dest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "clone nobody/nothing")
}

func TestCloneURL(t *testing.T) {
	https := NewFetcher("https://github.com", "tok")
	assert.Equal(t, "https://github.com/acme/widgets.git", https.cloneURL("acme/widgets"))

	local := NewFetcher("/srv/repos", "")
	assert.Equal(t, filepath.Join("/srv/repos", "acme", "widgets"), local.cloneURL("acme/widgets"))
}
