package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"uniscrape/browser"
	"uniscrape/config"
	"uniscrape/models"
	"uniscrape/roboflow"
	"uniscrape/scraper"
)

func proj(workspace, project string) *models.Project {
	return &models.Project{
		ProjectURL:  fmt.Sprintf("https://u.test/%s/%s", workspace, project),
		WorkspaceID: workspace,
		ProjectID:   project,
		Classes:     []string{},
	}
}

// fakeCrawler returns a scripted batch per term.
type fakeCrawler struct {
	batches map[string][]*models.Project
	errs    map[string]error
	calls   []string
}

func (f *fakeCrawler) Crawl(ctx context.Context, term string) (*models.TermResult, error) {
	f.calls = append(f.calls, term)
	if err := f.errs[term]; err != nil {
		return nil, err
	}
	batch := f.batches[term]
	return &models.TermResult{Term: term, Projects: batch, PagesVisited: 1}, nil
}

// fakeGate reimplements reconciliation over an in-memory map.
type fakeGate struct {
	seen       map[string]*models.Project
	downloaded map[string]string
	events     []models.SearchEvent
}

func newFakeGate() *fakeGate {
	return &fakeGate{
		seen:       map[string]*models.Project{},
		downloaded: map[string]string{},
	}
}

func (f *fakeGate) Reconcile(ctx context.Context, term string, batch []*models.Project) ([]*models.Project, error) {
	fresh := []*models.Project{}
	for _, p := range batch {
		if _, ok := f.seen[p.ProjectURL]; ok {
			continue
		}
		f.seen[p.ProjectURL] = p
		fresh = append(fresh, p)
	}
	f.events = append(f.events, models.SearchEvent{SearchTerm: term, ResultsCount: len(batch)})
	return fresh, nil
}

func (f *fakeGate) MarkDownloaded(ctx context.Context, projectURL, downloadPath string) error {
	if _, ok := f.seen[projectURL]; !ok {
		return fmt.Errorf("project not found: %s", projectURL)
	}
	f.downloaded[projectURL] = downloadPath
	return nil
}

func (f *fakeGate) PendingDownloads(ctx context.Context) ([]*models.Project, error) {
	pending := []*models.Project{}
	for url, p := range f.seen {
		if _, ok := f.downloaded[url]; !ok {
			pending = append(pending, p)
		}
	}
	return pending, nil
}

// fakeDownloader fails for project IDs listed in failFor.
type fakeDownloader struct {
	hasKey   bool
	failFor  map[string]bool
	attempts []string
}

func (f *fakeDownloader) HasKey() bool { return f.hasKey }

func (f *fakeDownloader) Download(ctx context.Context, workspaceID, projectID, format string) (string, error) {
	f.attempts = append(f.attempts, projectID)
	if !f.hasKey {
		return "", roboflow.ErrNoAPIKey
	}
	if f.failFor[projectID] {
		return "", errors.New("api unavailable")
	}
	return fmt.Sprintf("/results/%s_%s/%s_%s", workspaceID, projectID, projectID, format), nil
}

func testRunner(crawler Crawler, gate Gate, downloader Downloader, terms ...string) *Runner {
	cfg := config.DefaultConfig()
	cfg.SearchTerms = terms
	cfg.DownloadDelay = 0
	cfg.TermDelay = 0
	return NewRunner(cfg, crawler, gate, downloader, scraper.NewMetrics())
}

func TestRunDownloadsNewProjects(t *testing.T) {
	batch := []*models.Project{proj("ws", "p1"), proj("ws", "p2")}
	crawler := &fakeCrawler{batches: map[string][]*models.Project{"bottle": batch}}
	gate := newFakeGate()
	dl := &fakeDownloader{hasKey: true}

	result, err := testRunner(crawler, gate, dl, "bottle").Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ProjectsFound != 2 || result.ProjectsSaved != 2 || result.Downloaded != 2 {
		t.Fatalf("result = %+v, want 2 found/saved/downloaded", result)
	}
	if len(gate.downloaded) != 2 {
		t.Fatalf("downloaded = %v", gate.downloaded)
	}
	if gate.downloaded["https://u.test/ws/p1"] != "/results/ws_p1/p1_yolov8" {
		t.Fatalf("unexpected path %q", gate.downloaded["https://u.test/ws/p1"])
	}
}

func TestRunIsIdempotent(t *testing.T) {
	batch := []*models.Project{proj("ws", "p1"), proj("ws", "p2")}
	crawler := &fakeCrawler{batches: map[string][]*models.Project{"bottle": batch}}
	gate := newFakeGate()
	dl := &fakeDownloader{hasKey: true}
	runner := testRunner(crawler, gate, dl, "bottle")

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstAttempts := len(dl.attempts)

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.ProjectsSaved != 0 {
		t.Errorf("second run saved %d, want 0", result.ProjectsSaved)
	}
	if len(dl.attempts) != firstAttempts {
		t.Errorf("second run triggered %d downloads, want 0", len(dl.attempts)-firstAttempts)
	}
	if len(gate.events) != 2 {
		t.Errorf("search events = %d, want one per run", len(gate.events))
	}
	for _, e := range gate.events {
		if e.ResultsCount != 2 {
			t.Errorf("event count = %d, want full batch size both times", e.ResultsCount)
		}
	}
}

func TestRunPartialDownloadFailure(t *testing.T) {
	batch := []*models.Project{proj("ws", "p1"), proj("ws", "p2"), proj("ws", "p3")}
	crawler := &fakeCrawler{batches: map[string][]*models.Project{"bottle": batch}}
	gate := newFakeGate()
	dl := &fakeDownloader{hasKey: true, failFor: map[string]bool{"p2": true}}

	result, err := testRunner(crawler, gate, dl, "bottle").Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := gate.downloaded["https://u.test/ws/p1"]; !ok {
		t.Errorf("p1 should be downloaded")
	}
	if _, ok := gate.downloaded["https://u.test/ws/p3"]; !ok {
		t.Errorf("p3 should be downloaded despite p2 failing")
	}
	if _, ok := gate.downloaded["https://u.test/ws/p2"]; ok {
		t.Errorf("p2 must stay pending")
	}
	if result.Downloaded != 2 {
		t.Errorf("downloaded = %d, want 2", result.Downloaded)
	}

	// The failed record is retried on the next run's pending sweep.
	dl.failFor = nil
	if _, err := testRunner(crawler, gate, dl, "bottle").Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if _, ok := gate.downloaded["https://u.test/ws/p2"]; !ok {
		t.Errorf("p2 should be downloaded on retry")
	}
}

func TestRunSessionErrorAborts(t *testing.T) {
	crawler := &fakeCrawler{
		errs: map[string]error{"bottle": browser.SessionError{Err: errors.New("browser gone")}},
	}
	runner := testRunner(crawler, newFakeGate(), &fakeDownloader{hasKey: true}, "bottle", "cans")

	if _, err := runner.Run(context.Background()); !browser.IsSession(err) {
		t.Fatalf("expected session error, got %v", err)
	}
	if len(crawler.calls) != 1 {
		t.Fatalf("terms attempted = %d, want 1 (run aborted)", len(crawler.calls))
	}
}

func TestRunTermFailureContinues(t *testing.T) {
	crawler := &fakeCrawler{
		batches: map[string][]*models.Project{"cans": {proj("ws", "p1")}},
		errs:    map[string]error{"bottle": errors.New("reconcile exploded")},
	}
	gate := newFakeGate()
	runner := testRunner(crawler, gate, &fakeDownloader{hasKey: true}, "bottle", "cans")

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TermsFailed != 1 || result.TermsProcessed != 1 {
		t.Fatalf("terms = %d failed / %d processed, want 1/1", result.TermsFailed, result.TermsProcessed)
	}
	if len(gate.downloaded) != 1 {
		t.Fatalf("the healthy term should still download, got %v", gate.downloaded)
	}
}

func TestRunWithoutAPIKeySkipsSweep(t *testing.T) {
	batch := []*models.Project{proj("ws", "p1")}
	crawler := &fakeCrawler{batches: map[string][]*models.Project{"bottle": batch}}
	gate := newFakeGate()
	dl := &fakeDownloader{hasKey: false}

	result, err := testRunner(crawler, gate, dl, "bottle").Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ProjectsSaved != 1 {
		t.Fatalf("saved = %d, want 1", result.ProjectsSaved)
	}
	if result.Downloaded != 0 || result.DownloadsFailed != 0 {
		t.Errorf("result = %+v, want no download activity counted", result)
	}
	if len(gate.downloaded) != 0 {
		t.Errorf("nothing should be marked downloaded without a key")
	}
	if len(dl.attempts) != 1 {
		t.Errorf("attempts = %d, want 1 (no pending sweep without a key)", len(dl.attempts))
	}
}
