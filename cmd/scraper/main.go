package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"uniscrape/browser"
	"uniscrape/config"
	"uniscrape/models"
	"uniscrape/pipeline"
	"uniscrape/roboflow"
	"uniscrape/scraper"
	"uniscrape/store"
)

func main() {
	envCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	terms := flag.String("terms", "", "Comma-separated search terms (overrides SEARCH_TERMS)")
	maxPages := flag.Int("pages", envCfg.MaxPages, "Maximum result pages per search term")
	baseURL := flag.String("base-url", envCfg.BaseURL, "Catalog base URL")
	databaseURL := flag.String("database-url", envCfg.DatabaseURL, "PostgreSQL connection string")
	format := flag.String("format", envCfg.DownloadFormat, "Dataset export format (e.g. yolov8, coco)")
	resultsDir := flag.String("results-dir", envCfg.ResultsDir, "Directory for downloaded datasets")
	metricsAddr := flag.String("metrics-addr", envCfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	debug := flag.Bool("debug", envCfg.Debug, "Run the browser headful for debugging")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg := envCfg
	cfg.MaxPages = *maxPages
	cfg.BaseURL = *baseURL
	cfg.DatabaseURL = *databaseURL
	cfg.DownloadFormat = *format
	cfg.ResultsDir = *resultsDir
	cfg.MetricsAddr = *metricsAddr
	cfg.Debug = *debug
	cfg.Verbose = *verbose
	if *terms != "" {
		cfg.SearchTerms = config.SplitTerms(*terms)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting run",
		slog.String("base_url", cfg.BaseURL),
		slog.Any("terms", cfg.SearchTerms),
		slog.Int("max_pages", cfg.MaxPages),
		slog.String("format", cfg.DownloadFormat),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing in-flight work")
	}()

	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connecting to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("close database", slog.Any("error", err))
		}
	}()

	gate, err := store.New(db, cfg.SeenCacheSize)
	if err != nil {
		slog.Error("initialising store", slog.Any("error", err))
		os.Exit(1)
	}
	if err := gate.EnsureSchema(ctx); err != nil {
		slog.Error("applying schema", slog.Any("error", err))
		os.Exit(1)
	}

	client := roboflow.NewClient(cfg.APIBaseURL, cfg.APIKey, cfg.ResultsDir)
	if !client.HasKey() {
		slog.Warn("no API key configured, datasets will be recorded but not downloaded")
	} else if !client.ValidateKey(ctx) {
		slog.Warn("API key validation failed, downloads may be rejected")
	}

	session := browser.NewSession(cfg)
	if err := session.Open(ctx); err != nil {
		slog.Error("launching browser", slog.Any("error", err))
		os.Exit(1)
	}
	defer session.Close()

	metrics := scraper.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	crawler := scraper.New(cfg, session, metrics)
	runner := pipeline.NewRunner(cfg, crawler, gate, client, metrics)

	result, err := runner.Run(ctx)
	if err != nil {
		slog.Error("run failed", slog.Any("error", err))
		printSummary(result)
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result)
}

func printSummary(result *models.RunResult) {
	if result == nil {
		return
	}
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Run complete")
	fmt.Printf("  Terms:          %d processed, %d failed\n", result.TermsProcessed, result.TermsFailed)
	fmt.Printf("  Pages visited:  %d\n", result.PagesVisited)
	fmt.Printf("  Listings found: %d\n", result.ProjectsFound)
	fmt.Printf("  New projects:   %d\n", result.ProjectsSaved)
	fmt.Printf("  Downloads:      %d ok, %d failed\n", result.Downloaded, result.DownloadsFailed)
	fmt.Printf("  Duration:       %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
