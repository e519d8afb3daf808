package model

// Workflow is a declarative pipeline bound to a repository branch. Workflows
// are loaded from YAML files at startup; a push to the bound branch whose
// commit message passes the gate creates one run per matrix variant.
type Workflow struct {
	Name         string
	RepoFullName string // "owner/name"
	Branch       string
	Gate         Gate
	Schedule     string // optional cron spec; empty means push-only
	Matrix       Matrix
	Env          map[string]string
	Steps        []Step
}

// Step is a single unit of work within a job. Exactly one of the kind-specific
// field groups is meaningful, selected by Kind.
type Step struct {
	Name string
	Kind StepKind

	// Run is the shell command for StepKindRun steps.
	Run string

	// CachePath and CacheKey configure StepKindCache steps: the directory
	// restored into (and saved from) the workspace, and the key template
	// rendered per job (supports ${os}, ${env.X}, ${matrix.X}, ${hashFiles(...)}).
	CachePath string
	CacheKey  string

	// CoverageFile, Flags and UploadName configure StepKindCoverage steps.
	CoverageFile string
	Flags        string
	UploadName   string
}

// Scheduled reports whether the workflow also runs on a cron schedule.
func (w Workflow) Scheduled() bool {
	return w.Schedule != ""
}
