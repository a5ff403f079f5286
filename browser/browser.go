// Package browser owns the single Chrome session used for a run and exposes
// the navigation primitives the pagination controller needs. All operations
// block until the page is interactable or a bounded wait elapses.
package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"

	"uniscrape/config"
)

const cardSelector = ".projectCard"

// nextPageJS locates the next-page control and clicks it in one round trip.
// Returns false when no enabled control exists.
const nextPageJS = `
(() => {
	const next = document.querySelector(
		'button[aria-label="Go to next page"], a[aria-label="Go to next page"], .pagination .next');
	if (!next || next.disabled) {
		return false;
	}
	next.click();
	return true;
})()
`

// Session is one exclusive browser session. It is not safe for concurrent
// use; pagination is strictly sequential by design.
type Session struct {
	cfg *config.Config

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewSession prepares an unopened session from cfg.
func NewSession(cfg *config.Config) *Session {
	return &Session{cfg: cfg}
}

// Open launches the browser. Failure is a SessionError: without an engine
// there is nothing to recover.
func (s *Session) Open(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.UserAgent(s.cfg.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	if s.cfg.Debug {
		opts = append(opts,
			chromedp.Flag("headless", false),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run with no actions forces the process to start now, so launch
	// failures surface here instead of on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return SessionError{Err: err}
	}

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	return nil
}

// Close releases the browser session. Safe to call on an unopened session.
func (s *Session) Close() {
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
}

// Search loads the search entry point for term and waits for result cards to
// render. A term with zero results never renders a card, so a wait timeout
// maps to NavigationError and the caller treats the term as empty.
func (s *Session) Search(ctx context.Context, term string) error {
	if err := ctx.Err(); err != nil {
		return NavigationError{Err: err}
	}

	searchURL := s.cfg.SearchURL(term)
	slog.Debug("navigating to search page", slog.String("url", searchURL))

	opCtx, cancel := s.opContext()
	defer cancel()

	err := chromedp.Run(opCtx,
		chromedp.Navigate(searchURL),
		chromedp.WaitVisible(cardSelector, chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
	)
	if err != nil {
		if s.browserCtx.Err() != nil {
			return SessionError{Err: s.browserCtx.Err()}
		}
		return NavigationError{URL: searchURL, Err: err}
	}
	return nil
}

// NextPage clicks the next-page control and waits for the new page to
// settle. Returns ErrNoNextPage when the control is absent or disabled.
func (s *Session) NextPage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NavigationError{Err: err}
	}

	opCtx, cancel := s.opContext()
	defer cancel()

	var clicked bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(nextPageJS, &clicked)); err != nil {
		if s.browserCtx.Err() != nil {
			return SessionError{Err: s.browserCtx.Err()}
		}
		return NavigationError{Err: err}
	}
	if !clicked {
		return ErrNoNextPage
	}

	err := chromedp.Run(opCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.PageDelay),
	)
	if err != nil {
		if s.browserCtx.Err() != nil {
			return SessionError{Err: s.browserCtx.Err()}
		}
		return NavigationError{Err: err}
	}
	return nil
}

// HTML returns the rendered document markup for the current page.
func (s *Session) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NavigationError{Err: err}
	}

	opCtx, cancel := s.opContext()
	defer cancel()

	var pageHTML string
	if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery)); err != nil {
		if s.browserCtx.Err() != nil {
			return "", SessionError{Err: s.browserCtx.Err()}
		}
		return "", NavigationError{Err: err}
	}
	return pageHTML, nil
}

func (s *Session) opContext() (context.Context, context.CancelFunc) {
	timeout := s.cfg.NavTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(s.browserCtx, timeout)
}
