// Package models defines data structures for the scraper.
package models

import "time"

// Project represents one dataset listing on the catalog. ProjectURL is the
// identity key; the (WorkspaceID, ProjectID) pair is derived from it and is
// equally unique.
type Project struct {
	ID           int64     `db:"id" json:"id"`
	ProjectURL   string    `db:"project_url" json:"project_url"`
	WorkspaceID  string    `db:"workspace_id" json:"workspace_id"`
	ProjectID    string    `db:"project_id" json:"project_id"`
	Title        string    `db:"title" json:"title"`
	Author       string    `db:"author" json:"author"`
	ImageCount   *int      `db:"image_count" json:"image_count"`
	ModelCount   *int      `db:"model_count" json:"model_count"`
	Classes      []string  `db:"-" json:"classes"`
	Downloaded   bool      `db:"downloaded" json:"downloaded"`
	DownloadPath string    `db:"download_path" json:"download_path"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SearchEvent is one append-only search_history row. It records how many
// listings a search surfaced, new or not; it plays no part in dedup.
type SearchEvent struct {
	ID           int64     `db:"id" json:"id"`
	SearchTerm   string    `db:"search_term" json:"search_term"`
	ResultsCount int       `db:"results_count" json:"results_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TermResult holds everything one search term produced: the concatenated
// batch in page order plus how far pagination got.
type TermResult struct {
	Term         string
	Projects     []*Project
	PagesVisited int
	HitPageCap   bool
	Dropped      int
}

// RunResult aggregates counters across a full run.
type RunResult struct {
	StartTime       time.Time
	EndTime         time.Time
	TermsProcessed  int
	TermsFailed     int
	ProjectsFound   int
	ProjectsSaved   int
	Downloaded      int
	DownloadsFailed int
	PagesVisited    int
}
