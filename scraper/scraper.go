// Package scraper drives one search term through paginated results and
// assembles the extracted records into a single batch.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"uniscrape/browser"
	"uniscrape/config"
	"uniscrape/extractor"
	"uniscrape/models"
)

// Navigator is the browser surface the controller needs. *browser.Session
// satisfies it; tests substitute scripted fakes.
type Navigator interface {
	Search(ctx context.Context, term string) error
	NextPage(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
}

// termState tracks pagination progress for one search term.
type termState int

const (
	stateIdle termState = iota
	stateFetching
	stateHasMore
	stateExhausted
	stateDone
)

func (s termState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateFetching:
		return "fetching"
	case stateHasMore:
		return "has_more"
	case stateExhausted:
		return "exhausted"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Scraper runs the per-term pagination state machine.
type Scraper struct {
	cfg     *config.Config
	nav     Navigator
	Metrics *Metrics
}

// New builds a scraper around an open navigator session.
func New(cfg *config.Config, nav Navigator, metrics *Metrics) *Scraper {
	return &Scraper{cfg: cfg, nav: nav, Metrics: metrics}
}

// Crawl walks the result pages for term, strictly in increasing page order,
// until the results run out or the page cap is reached. Navigation trouble
// on a page degrades to end-of-results for this term; only session loss
// propagates as an error.
func (s *Scraper) Crawl(ctx context.Context, term string) (*models.TermResult, error) {
	start := time.Now()
	result := &models.TermResult{Term: term, Projects: []*models.Project{}}
	state := stateIdle

	log := slog.With(slog.String("term", term))

	if err := s.nav.Search(ctx, term); err != nil {
		if browser.IsSession(err) {
			return nil, err
		}
		// No result cards rendered within the bounded wait. The term
		// yielded nothing usable; the run continues.
		s.Metrics.IncError("navigation")
		log.Warn("search navigation failed, treating term as empty", slog.Any("error", err))
		return result, nil
	}

	for page := 1; page <= s.cfg.MaxPages; page++ {
		state = stateFetching
		log.Debug("fetching results page",
			slog.Int("page", page),
			slog.String("state", state.String()),
		)

		batch, dropped, err := s.extractPage(ctx, term, page)
		if err != nil {
			if browser.IsSession(err) {
				return nil, err
			}
			s.Metrics.IncError("extraction")
			log.Warn("page extraction failed", slog.Int("page", page), slog.Any("error", err))
			state = stateExhausted
			break
		}

		result.PagesVisited = page
		result.Projects = append(result.Projects, batch...)
		result.Dropped += dropped
		s.Metrics.IncPages()
		s.Metrics.AddListings(len(batch), dropped)

		if len(batch) == 0 {
			state = stateExhausted
			log.Info("no listings on page, results exhausted", slog.Int("page", page))
			break
		}
		if page == s.cfg.MaxPages {
			result.HitPageCap = true
			state = stateDone
			log.Info("page cap reached", slog.Int("page", page))
			break
		}

		switch err := s.nav.NextPage(ctx); {
		case err == nil:
			state = stateHasMore
		case errors.Is(err, browser.ErrNoNextPage):
			state = stateExhausted
			log.Info("no next page control, results exhausted", slog.Int("page", page))
		case browser.IsSession(err):
			return nil, err
		default:
			s.Metrics.IncError("pagination")
			log.Warn("pagination failed", slog.Int("page", page), slog.Any("error", err))
			state = stateExhausted
		}

		if state == stateExhausted {
			break
		}
	}

	state = stateDone
	s.Metrics.ObserveSearch(time.Since(start))
	log.Info("term crawl complete",
		slog.String("state", state.String()),
		slog.Int("pages", result.PagesVisited),
		slog.Int("listings", len(result.Projects)),
		slog.Int("dropped", result.Dropped),
		slog.Bool("hit_page_cap", result.HitPageCap),
	)
	return result, nil
}

func (s *Scraper) extractPage(ctx context.Context, term string, page int) ([]*models.Project, int, error) {
	pageHTML, err := s.nav.HTML(ctx)
	if err != nil {
		return nil, 0, err
	}

	batch, dropped, err := extractor.Extract(pageHTML, s.cfg.BaseURL)
	if err != nil {
		return nil, 0, err
	}
	if dropped > 0 {
		slog.Warn("dropped listings without parsable identity",
			slog.String("term", term),
			slog.Int("page", page),
			slog.Int("dropped", dropped),
		)
	}
	return batch, dropped, nil
}
