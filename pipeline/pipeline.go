// Package pipeline coordinates a full run: crawl each configured search
// term, reconcile the batches against the store, and trigger downloads for
// the records that survived deduplication.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"uniscrape/browser"
	"uniscrape/config"
	"uniscrape/models"
	"uniscrape/roboflow"
	"uniscrape/scraper"
)

// Crawler produces the per-term batch. *scraper.Scraper satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, term string) (*models.TermResult, error)
}

// Gate is the dedup/persistence surface. *store.Store satisfies it.
type Gate interface {
	Reconcile(ctx context.Context, term string, batch []*models.Project) ([]*models.Project, error)
	MarkDownloaded(ctx context.Context, projectURL, downloadPath string) error
	PendingDownloads(ctx context.Context) ([]*models.Project, error)
}

// Downloader triggers dataset downloads. *roboflow.Client satisfies it.
type Downloader interface {
	HasKey() bool
	Download(ctx context.Context, workspaceID, projectID, format string) (string, error)
}

// Runner drives the whole run, one term at a time.
type Runner struct {
	cfg        *config.Config
	crawler    Crawler
	gate       Gate
	downloader Downloader
	metrics    *scraper.Metrics
}

// NewRunner wires the orchestrator.
func NewRunner(cfg *config.Config, crawler Crawler, gate Gate, downloader Downloader, metrics *scraper.Metrics) *Runner {
	return &Runner{
		cfg:        cfg,
		crawler:    crawler,
		gate:       gate,
		downloader: downloader,
		metrics:    metrics,
	}
}

// Run processes every configured search term in order, then retries any
// records still pending a download. Only session loss or cancellation stops
// a run early; per-term and per-record failures are logged and skipped.
func (r *Runner) Run(ctx context.Context) (*models.RunResult, error) {
	result := &models.RunResult{StartTime: time.Now()}
	defer func() { result.EndTime = time.Now() }()

	for i, term := range r.cfg.SearchTerms {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if i > 0 {
			if err := sleepCtx(ctx, r.cfg.TermDelay); err != nil {
				return result, err
			}
		}

		if err := r.runTerm(ctx, term, result); err != nil {
			if browser.IsSession(err) || errors.Is(err, context.Canceled) {
				return result, err
			}
			result.TermsFailed++
			slog.Error("search term failed, continuing with next",
				slog.String("term", term),
				slog.Any("error", err),
			)
			continue
		}
		result.TermsProcessed++
	}

	if err := r.retryPending(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Runner) runTerm(ctx context.Context, term string, result *models.RunResult) error {
	termResult, err := r.crawler.Crawl(ctx, term)
	if err != nil {
		return err
	}
	result.PagesVisited += termResult.PagesVisited
	result.ProjectsFound += len(termResult.Projects)

	fresh, err := r.gate.Reconcile(ctx, term, termResult.Projects)
	if err != nil {
		return err
	}
	result.ProjectsSaved += len(fresh)
	r.metrics.AddNewProjects(len(fresh))

	slog.Info("term reconciled",
		slog.String("term", term),
		slog.Int("found", len(termResult.Projects)),
		slog.Int("new", len(fresh)),
	)

	for _, project := range fresh {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.download(ctx, project, result)
		if err := sleepCtx(ctx, r.cfg.DownloadDelay); err != nil {
			return err
		}
	}
	return nil
}

// download attempts one dataset download. Failure leaves the record pending
// so a later run (or this run's retry sweep) picks it up again.
func (r *Runner) download(ctx context.Context, project *models.Project, result *models.RunResult) {
	path, err := r.downloader.Download(ctx, project.WorkspaceID, project.ProjectID, r.cfg.DownloadFormat)
	if err != nil {
		if errors.Is(err, roboflow.ErrNoAPIKey) {
			slog.Debug("no API key, dataset recorded without download",
				slog.String("project", project.ProjectURL))
			return
		}
		result.DownloadsFailed++
		r.metrics.IncDownload("failure")
		slog.Warn("dataset download failed, will retry on a later run",
			slog.String("project", project.ProjectURL),
			slog.Any("error", err),
		)
		return
	}

	if err := r.gate.MarkDownloaded(ctx, project.ProjectURL, path); err != nil {
		result.DownloadsFailed++
		r.metrics.IncDownload("failure")
		slog.Error("failed to record download status",
			slog.String("project", project.ProjectURL),
			slog.Any("error", err),
		)
		return
	}

	result.Downloaded++
	r.metrics.IncDownload("success")
	slog.Info("dataset downloaded",
		slog.String("project", project.ProjectURL),
		slog.String("path", path),
	)
}

// retryPending sweeps records that previous runs (or earlier terms of this
// run) left undownloaded.
func (r *Runner) retryPending(ctx context.Context, result *models.RunResult) error {
	if !r.downloader.HasKey() {
		return nil
	}

	pending, err := r.gate.PendingDownloads(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	slog.Info("retrying pending downloads", slog.Int("count", len(pending)))
	for _, project := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.download(ctx, project, result)
		if err := sleepCtx(ctx, r.cfg.DownloadDelay); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
