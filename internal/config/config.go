// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken  string
	PollInterval time.Duration
	ListenAddr   string
	DBPath       string

	// WorkflowDir holds the workflow YAML definitions.
	WorkflowDir string
	// WorkspaceDir is where job workspaces are created and torn down.
	WorkspaceDir string
	// CacheDir is the root of the keyed directory cache.
	CacheDir string
	// CacheEpoch is the cache-invalidation counter interpolated into cache
	// keys as ${env.CACHE_EPOCH}. Bumping it orphans every existing entry.
	CacheEpoch string

	// RunnerOS is the value substituted for ${os} in cache keys and exported
	// to run steps. Defaults to runtime.GOOS.
	RunnerOS string

	// CloneBaseURL is the base URL checkout steps clone from. Points at a
	// local directory in tests and on mirrors.
	CloneBaseURL string

	CodecovToken string
	CodecovURL   string
}

// HasGitHubToken returns true when a GitHub API token is configured. Without
// one, push polling is disabled and runs can only be dispatched manually.
func (c *Config) HasGitHubToken() bool {
	return c.GitHubToken != ""
}

// Load reads configuration from the environment and returns a validated
// Config. A .env file in the working directory is loaded first when present.
// Optional variables with defaults: CONVEYOR_POLL_INTERVAL (2m),
// CONVEYOR_LISTEN_ADDR (127.0.0.1:8080), CONVEYOR_DB_PATH (conveyor.db),
// CONVEYOR_WORKFLOW_DIR (workflows), CONVEYOR_WORKSPACE_DIR (workspaces),
// CONVEYOR_CACHE_DIR (cache), CONVEYOR_CACHE_EPOCH (0),
// CONVEYOR_CLONE_BASE_URL (https://github.com),
// CONVEYOR_CODECOV_URL (https://codecov.io).
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	pollInterval := 2 * time.Minute
	if v, ok := os.LookupEnv("CONVEYOR_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("CONVEYOR_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("CONVEYOR_POLL_INTERVAL must be positive, got %q", v)
		}
		pollInterval = parsed
	}

	cfg := &Config{
		GitHubToken:  os.Getenv("CONVEYOR_GITHUB_TOKEN"),
		PollInterval: pollInterval,
		ListenAddr:   envOrDefault("CONVEYOR_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:       envOrDefault("CONVEYOR_DB_PATH", "conveyor.db"),
		WorkflowDir:  envOrDefault("CONVEYOR_WORKFLOW_DIR", "workflows"),
		WorkspaceDir: envOrDefault("CONVEYOR_WORKSPACE_DIR", "workspaces"),
		CacheDir:     envOrDefault("CONVEYOR_CACHE_DIR", "cache"),
		CacheEpoch:   envOrDefault("CONVEYOR_CACHE_EPOCH", "0"),
		RunnerOS:     envOrDefault("CONVEYOR_RUNNER_OS", runtime.GOOS),
		CloneBaseURL: envOrDefault("CONVEYOR_CLONE_BASE_URL", "https://github.com"),
		CodecovToken: os.Getenv("CONVEYOR_CODECOV_TOKEN"),
		CodecovURL:   envOrDefault("CONVEYOR_CODECOV_URL", "https://codecov.io"),
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
