package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conveyorci/conveyor/internal/domain/model"
	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoStore = (*RepoRepo)(nil)

// RepoRepo is the SQLite implementation of the RepoStore port interface.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

// Upsert inserts or updates a watched repository. The last-seen SHA is
// preserved on update so re-loading workflows does not re-trigger runs.
func (r *RepoRepo) Upsert(ctx context.Context, repo model.Repository) error {
	const query = `
		INSERT INTO repositories (full_name, owner, name, branch, last_seen_sha, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(full_name) DO UPDATE SET
			owner = excluded.owner,
			name = excluded.name,
			branch = excluded.branch
	`

	addedAt := repo.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		repo.FullName, repo.Owner, repo.Name, repo.Branch, repo.LastSeenSHA, addedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert repository %s: %w", repo.FullName, err)
	}

	return nil
}

// Remove deletes a repository by full name. Returns an error if it does not exist.
func (r *RepoRepo) Remove(ctx context.Context, fullName string) error {
	const query = `DELETE FROM repositories WHERE full_name = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, fullName)
	if err != nil {
		return fmt.Errorf("delete repository %s: %w", fullName, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("repository %s not found", fullName)
	}

	return nil
}

// GetByFullName retrieves a repository by full name. Returns nil, nil if the
// repository is not watched.
func (r *RepoRepo) GetByFullName(ctx context.Context, fullName string) (*model.Repository, error) {
	const query = `
		SELECT full_name, owner, name, branch, last_seen_sha, added_at
		FROM repositories
		WHERE full_name = ?
	`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, fullName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", fullName, err)
	}

	return repo, nil
}

// ListAll returns all watched repositories ordered by full name.
func (r *RepoRepo) ListAll(ctx context.Context) ([]model.Repository, error) {
	const query = `
		SELECT full_name, owner, name, branch, last_seen_sha, added_at
		FROM repositories
		ORDER BY full_name
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}

	return repos, nil
}

// SetLastSeenSHA records the most recently observed head commit for a repository.
func (r *RepoRepo) SetLastSeenSHA(ctx context.Context, fullName, sha string) error {
	const query = `UPDATE repositories SET last_seen_sha = ? WHERE full_name = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, sha, fullName)
	if err != nil {
		return fmt.Errorf("set last seen sha for %s: %w", fullName, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("repository %s not found", fullName)
	}

	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(s scanner) (*model.Repository, error) {
	var repo model.Repository
	var addedAt string

	err := s.Scan(&repo.FullName, &repo.Owner, &repo.Name, &repo.Branch, &repo.LastSeenSHA, &addedAt)
	if err != nil {
		return nil, err
	}

	repo.AddedAt, err = parseTime(addedAt)
	if err != nil {
		return nil, fmt.Errorf("parse added_at: %w", err)
	}

	return &repo, nil
}

// parseTime handles the timestamp formats SQLite may hand back depending on
// how the value was bound.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}

// nullableTime converts a zero time to NULL for TEXT timestamp columns.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// parseNullableTime converts a NULL-able TEXT timestamp back to a time value.
func parseNullableTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return parseTime(s.String)
}
