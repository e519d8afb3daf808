package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/conveyorci/conveyor/internal/adapter/driven/cachedir"
	"github.com/conveyorci/conveyor/internal/adapter/driven/codecov"
	githubadapter "github.com/conveyorci/conveyor/internal/adapter/driven/github"
	"github.com/conveyorci/conveyor/internal/adapter/driven/gitsource"
	sqliteadapter "github.com/conveyorci/conveyor/internal/adapter/driven/sqlite"
	"github.com/conveyorci/conveyor/internal/adapter/driven/workflowfs"
	httphandler "github.com/conveyorci/conveyor/internal/adapter/driving/http"
	"github.com/conveyorci/conveyor/internal/application"
	"github.com/conveyorci/conveyor/internal/config"
	"github.com/conveyorci/conveyor/internal/domain/model"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"workflow_dir", cfg.WorkflowDir,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Load workflow definitions. Invalid files are reported and skipped;
	// the runner still starts with the valid ones.
	workflows, loadErrs := workflowfs.NewLoader(cfg.WorkflowDir).LoadAll()
	for _, loadErr := range loadErrs {
		slog.Error("workflow rejected", "error", loadErr)
	}
	slog.Info("workflows loaded", "count", len(workflows))

	// 6. Wire driven adapters.
	runStore := sqliteadapter.NewRunRepo(db)
	repoStore := sqliteadapter.NewRepoRepo(db)
	cacheStore := cachedir.NewStore(cfg.CacheDir)
	fetcher := gitsource.NewFetcher(cfg.CloneBaseURL, cfg.GitHubToken)
	uploader := codecov.NewUploader(cfg.CodecovURL, cfg.CodecovToken)
	ghClient := githubadapter.NewClient(cfg.GitHubToken)

	if !cfg.HasGitHubToken() {
		slog.Warn("no github token configured, API requests are unauthenticated and rate limited")
	}
	if !uploader.Configured() {
		slog.Info("no codecov token configured, coverage steps will be skipped")
	}

	// 7. Watch every repository referenced by a workflow. Repositories added
	// later through the API survive restarts; these seeds keep the two lists
	// consistent with the workflow files.
	for _, wf := range workflows {
		if err := watchWorkflowRepo(ctx, repoStore, wf); err != nil {
			slog.Error("watch workflow repo", "workflow", wf.Name, "error", err)
		}
	}

	// 8. Create and start services.
	runSvc := application.NewRunService(
		runStore, fetcher, cacheStore, uploader,
		cfg.WorkspaceDir, cfg.RunnerOS, cfg.CacheEpoch,
	)
	go runSvc.Start(ctx)

	pollSvc := application.NewPollService(ghClient, repoStore, runSvc, workflows, cfg.PollInterval)
	go pollSvc.Start(ctx)

	schedSvc := application.NewScheduleService(repoStore, runSvc, workflows)
	go schedSvc.Start(ctx)

	statusSvc := application.NewStatusService(runStore, repoStore, workflows)

	// 9. Create HTTP handler and server.
	apiHandler := httphandler.NewHandler(runStore, repoStore, statusSvc, pollSvc, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("conveyor started",
		"listen_addr", cfg.ListenAddr,
		"poll_interval", cfg.PollInterval,
		"workflows", len(workflows),
	)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// watchWorkflowRepo adds the workflow's repository branch to the watch list
// unless an entry already exists, preserving its poll cursor.
func watchWorkflowRepo(ctx context.Context, repoStore *sqliteadapter.RepoRepo, wf model.Workflow) error {
	existing, err := repoStore.GetByFullName(ctx, wf.RepoFullName)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	owner, name, err := model.SplitRepo(wf.RepoFullName)
	if err != nil {
		return err
	}

	return repoStore.Upsert(ctx, model.Repository{
		FullName: wf.RepoFullName,
		Owner:    owner,
		Name:     name,
		Branch:   wf.Branch,
		AddedAt:  time.Now().UTC(),
	})
}
