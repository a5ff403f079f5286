// Package store is the deduplication and persistence gate. PostgreSQL owns
// record lifetime; the unique constraint on project_url is the correctness
// boundary for dedup, and the in-process cache only saves round trips.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"uniscrape/models"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5 * time.Minute
	defaultPingTimeout     = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id            BIGSERIAL PRIMARY KEY,
	project_url   VARCHAR(500) UNIQUE NOT NULL,
	workspace_id  VARCHAR(100) NOT NULL,
	project_id    VARCHAR(100) NOT NULL,
	title         VARCHAR(255),
	author        VARCHAR(255),
	image_count   INTEGER,
	model_count   INTEGER,
	classes       TEXT[],
	downloaded    BOOLEAN NOT NULL DEFAULT FALSE,
	download_path VARCHAR(500),
	created_at    TIMESTAMP NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_workspace_project
	ON projects (workspace_id, project_id);

CREATE INDEX IF NOT EXISTS idx_projects_downloaded
	ON projects (downloaded);

CREATE TABLE IF NOT EXISTS search_history (
	id            BIGSERIAL PRIMARY KEY,
	search_term   VARCHAR(255) NOT NULL,
	results_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL DEFAULT NOW()
);
`

// Connect opens a PostgreSQL connection pool from a DATABASE_URL-style DSN.
func Connect(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// Store handles database operations for projects and search history.
type Store struct {
	db   *sqlx.DB
	seen *lru.Cache[string, struct{}]
}

// New builds a store around an established connection pool.
func New(db *sqlx.DB, seenCacheSize int) (*Store, error) {
	if seenCacheSize <= 0 {
		seenCacheSize = 1024
	}
	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}
	return &Store{db: db, seen: seen}, nil
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Reconcile inserts unseen records and refreshes metadata on known ones, in
// batch order, then appends one search_history row for the term. The
// returned slice holds only the newly inserted records, preserving order;
// these are the download candidates.
func (s *Store) Reconcile(ctx context.Context, term string, batch []*models.Project) ([]*models.Project, error) {
	fresh := []*models.Project{}

	for _, project := range batch {
		if s.seen.Contains(project.ProjectURL) {
			if err := s.refresh(ctx, project); err != nil {
				return nil, err
			}
			continue
		}

		inserted, err := s.insert(ctx, project)
		if err != nil {
			return nil, err
		}
		s.seen.Add(project.ProjectURL, struct{}{})
		if inserted {
			fresh = append(fresh, project)
			continue
		}
		// Lost the insert to an earlier run or a concurrent writer; the
		// unique constraint already holds the row, so refresh it instead.
		if err := s.refresh(ctx, project); err != nil {
			return nil, err
		}
	}

	if err := s.addSearchEvent(ctx, term, len(batch)); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Store) insert(ctx context.Context, project *models.Project) (bool, error) {
	query := `
		INSERT INTO projects (project_url, workspace_id, project_id, title, author,
		                      image_count, model_count, classes, downloaded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)
		ON CONFLICT (project_url) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowxContext(
		ctx,
		query,
		project.ProjectURL,
		project.WorkspaceID,
		project.ProjectID,
		nullString(project.Title),
		nullString(project.Author),
		nullInt(project.ImageCount),
		nullInt(project.ModelCount),
		pq.Array(project.Classes),
	).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert project %s: %w", project.ProjectURL, err)
	}

	project.Downloaded = false
	project.DownloadPath = ""
	return true, nil
}

// refresh updates mutable metadata on an existing row. Incoming unknowns
// leave the stored values alone, and the download state is never touched.
func (s *Store) refresh(ctx context.Context, project *models.Project) error {
	query := `
		UPDATE projects SET
			title       = COALESCE(NULLIF($2, ''), title),
			author      = COALESCE(NULLIF($3, ''), author),
			image_count = COALESCE($4, image_count),
			model_count = COALESCE($5, model_count),
			classes     = CASE WHEN cardinality($6::text[]) > 0 THEN $6::text[] ELSE classes END,
			updated_at  = NOW()
		WHERE project_url = $1
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		project.ProjectURL,
		project.Title,
		project.Author,
		nullInt(project.ImageCount),
		nullInt(project.ModelCount),
		pq.Array(project.Classes),
	)
	if err != nil {
		return fmt.Errorf("refresh project %s: %w", project.ProjectURL, err)
	}
	return nil
}

func (s *Store) addSearchEvent(ctx context.Context, term string, resultsCount int) error {
	query := `INSERT INTO search_history (search_term, results_count) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, term, resultsCount); err != nil {
		return fmt.Errorf("add search history for %q: %w", term, err)
	}
	return nil
}

// MarkDownloaded records a successful dataset download for a project.
func (s *Store) MarkDownloaded(ctx context.Context, projectURL, downloadPath string) error {
	query := `
		UPDATE projects
		SET downloaded = TRUE, download_path = $2, updated_at = NOW()
		WHERE project_url = $1
	`

	result, err := s.db.ExecContext(ctx, query, projectURL, downloadPath)
	if err != nil {
		return fmt.Errorf("mark downloaded %s: %w", projectURL, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark downloaded rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("project not found: %s", projectURL)
	}
	return nil
}

// PendingDownloads lists records that still await a successful download,
// oldest first.
func (s *Store) PendingDownloads(ctx context.Context) ([]*models.Project, error) {
	query := `
		SELECT id, project_url, workspace_id, project_id, title, author,
		       image_count, model_count, classes, downloaded, download_path,
		       created_at, updated_at
		FROM projects
		WHERE downloaded = FALSE
		ORDER BY created_at ASC
	`

	var rows []projectRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list pending downloads: %w", err)
	}

	projects := make([]*models.Project, 0, len(rows))
	for i := range rows {
		projects = append(projects, rows[i].toProject())
	}
	return projects, nil
}

// GetByURL retrieves one project by its identity key.
func (s *Store) GetByURL(ctx context.Context, projectURL string) (*models.Project, error) {
	query := `
		SELECT id, project_url, workspace_id, project_id, title, author,
		       image_count, model_count, classes, downloaded, download_path,
		       created_at, updated_at
		FROM projects
		WHERE project_url = $1
	`

	var row projectRow
	if err := s.db.GetContext(ctx, &row, query, projectURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project not found: %s", projectURL)
		}
		return nil, fmt.Errorf("get project %s: %w", projectURL, err)
	}
	return row.toProject(), nil
}

// projectRow is the scan target; nullable columns stay nullable here and
// collapse to Go-side unknowns in toProject.
type projectRow struct {
	ID           int64          `db:"id"`
	ProjectURL   string         `db:"project_url"`
	WorkspaceID  string         `db:"workspace_id"`
	ProjectID    string         `db:"project_id"`
	Title        sql.NullString `db:"title"`
	Author       sql.NullString `db:"author"`
	ImageCount   sql.NullInt64  `db:"image_count"`
	ModelCount   sql.NullInt64  `db:"model_count"`
	Classes      pq.StringArray `db:"classes"`
	Downloaded   bool           `db:"downloaded"`
	DownloadPath sql.NullString `db:"download_path"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r *projectRow) toProject() *models.Project {
	return &models.Project{
		ID:           r.ID,
		ProjectURL:   r.ProjectURL,
		WorkspaceID:  r.WorkspaceID,
		ProjectID:    r.ProjectID,
		Title:        r.Title.String,
		Author:       r.Author.String,
		ImageCount:   intFromNull(r.ImageCount),
		ModelCount:   intFromNull(r.ModelCount),
		Classes:      []string(r.Classes),
		Downloaded:   r.Downloaded,
		DownloadPath: r.DownloadPath.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	value := int(n.Int64)
	return &value
}
