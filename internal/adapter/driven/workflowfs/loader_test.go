package workflowfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/internal/domain/model"
)

const minimalWorkflow = `
name: minimal
repo: PMEAL/porespy
branch: dev
gate:
  require: ["ci min"]
  skip: ["ci skip", "ci examples"]
matrix:
  max-parallel: 1
  axes:
    python: ["3.8"]
    os: ["ubuntu-latest"]
env:
  CONDA_REQS: requirements/conda.txt
steps:
  - name: checkout
    uses: checkout
  - name: conda cache
    uses: cache
    path: .conda_pkgs
    key: "${os}-conda-${env.CACHE_EPOCH}-${hashFiles(requirements/conda.txt)}"
  - name: install
    run: pip install -r requirements/test.txt -e .
  - name: tests
    run: pytest --pycodestyle --cov=. --cov-report=xml
  - name: upload coverage
    uses: coverage
    file: coverage.xml
    flags: unittests
    upload-name: codecov-umbrella
`

func writeWorkflow(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadAll_Minimal(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "minimal.yml", minimalWorkflow)

	workflows, errs := NewLoader(dir).LoadAll()

	require.Empty(t, errs)
	require.Len(t, workflows, 1)

	wf := workflows[0]
	assert.Equal(t, "minimal", wf.Name)
	assert.Equal(t, "PMEAL/porespy", wf.RepoFullName)
	assert.Equal(t, "dev", wf.Branch)
	assert.Equal(t, []string{"ci min"}, wf.Gate.Require)
	assert.Equal(t, []string{"ci skip", "ci examples"}, wf.Gate.SkipMarkers)
	assert.Equal(t, 1, wf.Matrix.MaxParallel)
	assert.Equal(t, []string{"3.8"}, wf.Matrix.Axes["python"])
	assert.False(t, wf.Scheduled())

	require.Len(t, wf.Steps, 5)
	assert.Equal(t, model.StepKindCheckout, wf.Steps[0].Kind)
	assert.Equal(t, model.StepKindCache, wf.Steps[1].Kind)
	assert.Equal(t, ".conda_pkgs", wf.Steps[1].CachePath)
	assert.Equal(t, "${os}-conda-${env.CACHE_EPOCH}-${hashFiles(requirements/conda.txt)}", wf.Steps[1].CacheKey)
	assert.Equal(t, model.StepKindRun, wf.Steps[2].Kind)
	assert.Equal(t, model.StepKindCoverage, wf.Steps[4].Kind)
	assert.Equal(t, "coverage.xml", wf.Steps[4].CoverageFile)
	assert.Equal(t, "unittests", wf.Steps[4].Flags)
	assert.Equal(t, "codecov-umbrella", wf.Steps[4].UploadName)
}

func TestLoadAll_BadFileDoesNotBlockOthers(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "good.yml", minimalWorkflow)
	writeWorkflow(t, dir, "bad.yml", "repo: not-a-slug\nsteps:\n  - run: echo hi\n")

	workflows, errs := NewLoader(dir).LoadAll()

	require.Len(t, workflows, 1)
	assert.Equal(t, "minimal", workflows[0].Name)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "bad.yml")
}

func TestLoadAll_UnknownStepKind(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf.yml", `
repo: a/b
steps:
  - name: weird
    uses: teleport
`)

	workflows, errs := NewLoader(dir).LoadAll()

	assert.Empty(t, workflows)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), `unknown step kind "teleport"`)
}

func TestLoadAll_InvalidSchedule(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf.yml", `
repo: a/b
schedule: "whenever"
steps:
  - run: echo hi
`)

	workflows, errs := NewLoader(dir).LoadAll()

	assert.Empty(t, workflows)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "invalid schedule")
}

func TestLoadAll_ValidSchedule(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf.yml", `
name: nightly
repo: a/b
schedule: "@daily"
steps:
  - run: echo hi
`)

	workflows, errs := NewLoader(dir).LoadAll()

	require.Empty(t, errs)
	require.Len(t, workflows, 1)
	assert.True(t, workflows[0].Scheduled())
}

func TestLoadAll_DefaultsNameAndBranch(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "nightly-build.yaml", `
repo: a/b
steps:
  - run: make test
`)

	workflows, errs := NewLoader(dir).LoadAll()

	require.Empty(t, errs)
	require.Len(t, workflows, 1)
	assert.Equal(t, "nightly-build", workflows[0].Name)
	assert.Equal(t, "main", workflows[0].Branch)
	// Unnamed run steps get their kind as name.
	assert.Equal(t, "run", workflows[0].Steps[0].Name)
}

func TestLoadAll_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "a.yml", "name: same\nrepo: a/b\nsteps:\n  - run: echo a\n")
	writeWorkflow(t, dir, "b.yml", "name: same\nrepo: a/b\nsteps:\n  - run: echo b\n")

	workflows, errs := NewLoader(dir).LoadAll()

	require.Len(t, workflows, 1)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "duplicate name")
}

func TestLoadAll_EscapingCachePathRejected(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "wf.yml", `
repo: a/b
steps:
  - uses: cache
    path: ../outside
    key: k
`)

	workflows, errs := NewLoader(dir).LoadAll()

	assert.Empty(t, workflows)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "workspace-relative")
}

func TestLoadAll_IgnoresNonYAML(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "notes.txt", "not yaml")
	writeWorkflow(t, dir, "wf.yml", "repo: a/b\nsteps:\n  - run: echo hi\n")

	workflows, errs := NewLoader(dir).LoadAll()

	require.Empty(t, errs)
	assert.Len(t, workflows, 1)
}

func TestLoadAll_MissingDir(t *testing.T) {
	workflows, errs := NewLoader(filepath.Join(t.TempDir(), "absent")).LoadAll()

	assert.Empty(t, workflows)
	require.Len(t, errs, 1)
}
