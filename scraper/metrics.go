package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry               *prometheus.Registry
	PagesScrapedTotal      prometheus.Counter
	ListingsExtractedTotal prometheus.Counter
	ListingsDroppedTotal   prometheus.Counter
	ProjectsNewTotal       prometheus.Counter
	DownloadsTotal         *prometheus.CounterVec
	SearchDuration         prometheus.Histogram
	ErrorsTotal            *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_scraped_total",
			Help: "Total result pages fetched and extracted.",
		},
	)
	extracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_listings_extracted_total",
			Help: "Total listings successfully extracted into records.",
		},
	)
	dropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_listings_dropped_total",
			Help: "Total listings dropped for missing identity.",
		},
	)
	newProjects := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_projects_new_total",
			Help: "Total records newly inserted by reconciliation.",
		},
	)
	downloads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_downloads_total",
			Help: "Total dataset download attempts by outcome.",
		},
		[]string{"status"},
	)
	searchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_search_duration_seconds",
			Help:    "Wall time spent crawling one search term.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(pages, extracted, dropped, newProjects, downloads, searchDuration, errorsTotal)

	return &Metrics{
		Registry:               registry,
		PagesScrapedTotal:      pages,
		ListingsExtractedTotal: extracted,
		ListingsDroppedTotal:   dropped,
		ProjectsNewTotal:       newProjects,
		DownloadsTotal:         downloads,
		SearchDuration:         searchDuration,
		ErrorsTotal:            errorsTotal,
	}
}

// IncPages increments the pages scraped counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesScrapedTotal.Inc()
}

// AddListings records extracted and dropped listing counts for one page.
func (m *Metrics) AddListings(extracted, dropped int) {
	if m == nil {
		return
	}
	m.ListingsExtractedTotal.Add(float64(extracted))
	m.ListingsDroppedTotal.Add(float64(dropped))
}

// AddNewProjects increments the newly inserted record counter.
func (m *Metrics) AddNewProjects(n int) {
	if m == nil {
		return
	}
	m.ProjectsNewTotal.Add(float64(n))
}

// IncDownload records a download attempt outcome ("success" or "failure").
func (m *Metrics) IncDownload(status string) {
	if m == nil {
		return
	}
	m.DownloadsTotal.WithLabelValues(status).Inc()
}

// ObserveSearch records the wall time of one term crawl.
func (m *Metrics) ObserveSearch(d time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
