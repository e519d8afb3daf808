package driven

import "context"

// CoverageReport describes one report file to publish after a test step.
type CoverageReport struct {
	FilePath     string // path to the report inside the job workspace
	RepoFullName string
	SHA          string
	Branch       string
	Flags        string // e.g. "unittests"
	Name         string // e.g. "codecov-umbrella"
}

// CoverageUploader defines the driven port for publishing coverage reports to
// an external service (the coverage step).
type CoverageUploader interface {
	// Configured reports whether an upload token is available. Coverage
	// steps are skipped, not failed, when it returns false.
	Configured() bool

	Upload(ctx context.Context, report CoverageReport) error
}
