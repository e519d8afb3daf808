// Package codecov implements the CoverageUploader port against the Codecov
// upload API.
package codecov

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CoverageUploader = (*Uploader)(nil)

// Uploader posts coverage report files to a Codecov-compatible endpoint.
type Uploader struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewUploader creates an Uploader. An empty token means uploads are not
// configured; coverage steps will be skipped rather than failed.
func NewUploader(baseURL, token string) *Uploader {
	return &Uploader{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Configured reports whether an upload token is available.
func (u *Uploader) Configured() bool {
	return u.token != ""
}

// Upload posts the report file with its commit and repository identity.
// A non-2xx response is an error.
func (u *Uploader) Upload(ctx context.Context, report driven.CoverageReport) error {
	file, err := os.Open(report.FilePath)
	if err != nil {
		return fmt.Errorf("open coverage report: %w", err)
	}
	defer file.Close()

	endpoint, err := url.Parse(u.baseURL + "/upload/v2")
	if err != nil {
		return fmt.Errorf("parse upload URL: %w", err)
	}

	q := endpoint.Query()
	q.Set("commit", report.SHA)
	q.Set("slug", report.RepoFullName)
	q.Set("branch", report.Branch)
	q.Set("flags", report.Flags)
	q.Set("name", report.Name)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), file)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "token "+u.token)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload coverage for %s@%s: %w", report.RepoFullName, report.SHA, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coverage upload rejected with status %d: %s", resp.StatusCode, body)
	}

	return nil
}
