package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deusflow/dailynews/internal/api"
	"github.com/deusflow/dailynews/internal/app"
	"github.com/deusflow/dailynews/internal/config"
	"github.com/deusflow/dailynews/internal/gemini"
	"github.com/deusflow/dailynews/internal/gpt"
	"github.com/deusflow/dailynews/internal/logger"
	"github.com/deusflow/dailynews/internal/metrics"
	"github.com/deusflow/dailynews/internal/ratelimit"
	"github.com/deusflow/dailynews/internal/retry"
	"github.com/deusflow/dailynews/internal/rss"
	"github.com/deusflow/dailynews/internal/scraper"
	"github.com/deusflow/dailynews/internal/sources"
	"github.com/deusflow/dailynews/internal/storage"
	"github.com/deusflow/dailynews/internal/summary"
	"github.com/deusflow/dailynews/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retryCfg := retry.RetryConfig{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay, Backoff: true}

	fetcher := rss.NewFetcher(rss.Options{
		Concurrency:  cfg.FetchConcurrency,
		Timeout:      cfg.FetchTimeout,
		HostInterval: cfg.HostRequestInterval,
		Retry:        retryCfg,
		Logger:       logger.With("component", "rss"),
		Metrics:      metrics.Global,
	})

	var (
		gen    summary.Generator
		budget *ratelimit.Budget
	)
	if cfg.AIEnabled() {
		budget = ratelimit.NewBudget("gemini", cfg.MaxGeminiRequests, logger.With("component", "budget"))
		client, err := newGemini(ctx, cfg, budget, retryCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		gen = client
	} else {
		logger.Warn("GEMINI_API_KEY not set, serving offline summaries")
	}

	deps := app.Deps{
		Registry:   registry,
		Fetcher:    fetcher,
		Summarizer: summary.New(gen, logger.With("component", "summary"), metrics.Global),
		Scraper:    scraper.New(&http.Client{Timeout: cfg.FetchTimeout}, rss.DefaultUserAgent, logger.With("component", "scraper")),
		Options:    cfg.PipelineOptions(),
		CacheTTL:   cfg.CacheTTL,
		Logger:     logger.With("component", "app"),
		Metrics:    metrics.Global,
	}

	store, err := openAnalysisStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		deps.Store = store
		go cleanupAnalyses(ctx, store, time.Hour)
	}

	if cfg.TelegramEnabled() {
		notifier, err := telegram.NewClient(telegram.Config{
			Token:  cfg.TelegramToken,
			ChatID: cfg.TelegramChatID,
			Retry:  retry.RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true},
			Logger: logger.With("component", "telegram"),
		})
		if err != nil {
			return err
		}
		deps.Notifier = notifier
	}

	svc, err := app.NewService(deps)
	if err != nil {
		return err
	}
	svc.StartCleanup(ctx, cfg.CacheTTL)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(svc, api.Options{
			StaticDir: cfg.StaticDir,
			Logger:    logger.With("component", "api"),
			Metrics:   metrics.Global,
			Budget:    budget,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("daily news agent started",
			"addr", srv.Addr,
			"sources", registry.Len(),
			"categories", len(registry.Categories()),
			"ai", cfg.AIEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	go svc.Preload(ctx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newGemini(ctx context.Context, cfg *config.Config, budget *ratelimit.Budget, retryCfg retry.RetryConfig) (*gemini.Client, error) {
	gcfg := gemini.Config{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.GeminiModel,
		Language: cfg.SummaryLanguage,
		Budget:   budget,
		Retry:    retryCfg,
		Logger:   logger.With("component", "gemini"),
		Metrics:  metrics.Global,
	}

	if cfg.FallbackEnabled() {
		fallback, err := gpt.NewClient(gpt.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		gcfg.Fallback = fallback.Generate
		gcfg.FallbackName = "openai/" + fallback.Model()
		logger.Info("openai fallback enabled", "model", fallback.Model())
	}

	return gemini.NewClient(ctx, gcfg)
}

type analysisStore interface {
	app.AnalysisStore
	Cleanup(ctx context.Context) (int64, error)
	Close() error
}

// openAnalysisStore picks Postgres when DATABASE_URL is set, then the
// JSON file. Without either analyses are not persisted.
func openAnalysisStore(ctx context.Context, cfg *config.Config) (analysisStore, error) {
	switch {
	case cfg.DatabaseURL != "":
		return storage.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.AnalysisCacheTTL, logger.With("component", "storage"))
	case cfg.AnalysisCacheFile != "":
		logger.Info("using file analysis store", "path", cfg.AnalysisCacheFile)
		return storage.OpenFileStore(cfg.AnalysisCacheFile, cfg.AnalysisCacheTTL)
	default:
		return nil, nil
	}
}

func cleanupAnalyses(ctx context.Context, store analysisStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.Cleanup(ctx); err != nil {
				logger.Warn("analysis store cleanup failed", "error", err)
			}
		}
	}
}

func loadRegistry(cfg *config.Config) (*sources.Registry, error) {
	if cfg.SourcesConfigPath == "" {
		return sources.Default()
	}
	logger.Info("loading sources", "path", cfg.SourcesConfigPath)
	return sources.Load(cfg.SourcesConfigPath)
}
