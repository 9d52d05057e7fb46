// Package app wires the registry, feed fetcher, selection pipeline and
// summarizer into the service behind the HTTP API. Results are cached and
// concurrent refreshes collapse into one pipeline run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/deusflow/dailynews/internal/cache"
	"github.com/deusflow/dailynews/internal/metrics"
	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/scraper"
	"github.com/deusflow/dailynews/internal/sources"
	"github.com/deusflow/dailynews/internal/summary"
)

const (
	newsKey      = "news"
	summariesKey = "summaries"

	DefaultTopLimit = 5
	// chatArticles is how many top articles are given to the chat as context.
	chatArticles = 20
	// minScrapedContent is the page length needed to replace a feed snippet.
	minScrapedContent = 200
	// refreshTimeout bounds a shared news or summary run. Shared runs are
	// detached from the caller that started them.
	refreshTimeout = 3 * time.Minute
)

var (
	ErrArticleNotFound        = errors.New("article not found")
	ErrSummaryNotFound        = errors.New("summary not found")
	ErrMarketRecapUnavailable = errors.New("market recap not available")
)

// Fetcher downloads the articles of a set of sources.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []news.Source) []news.Article
}

// PageExtractor reads the full text of an article page.
type PageExtractor interface {
	Extract(ctx context.Context, url string) (*scraper.Page, error)
}

type Deps struct {
	Registry   *sources.Registry
	Fetcher    Fetcher
	Summarizer *summary.Summarizer
	// Scraper is optional; without it analyses use the feed content.
	Scraper PageExtractor
	// Store is optional; with it analyses survive restarts and repeated
	// requests skip the AI.
	Store AnalysisStore
	// Notifier is optional; without it SendDigest fails.
	Notifier Notifier
	Options  news.Options
	// CacheTTL defaults to 30 minutes.
	CacheTTL time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

type Service struct {
	registry   *sources.Registry
	fetcher    Fetcher
	pipeline   *news.Pipeline
	summarizer *summary.Summarizer
	scraper    PageExtractor
	store      AnalysisStore
	notifier   Notifier
	opts       news.Options

	newsCache    *cache.Cache[*news.Result]
	summaryCache *cache.Cache[*summary.Summaries]
	group        singleflight.Group

	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// CategoryStats summarizes one category of the current selection.
type CategoryStats struct {
	Category news.Category `json:"category"`
	Count    int           `json:"count"`
	AvgScore float64       `json:"avgScore"`
}

type Stats struct {
	Stats          news.Stats      `json:"stats"`
	CategoryCounts []CategoryStats `json:"categoryCounts"`
	// CacheAge is in seconds; nil when nothing is cached.
	CacheAge *int64 `json:"cacheAge"`
}

type ChatAnswer struct {
	Response      string    `json:"response"`
	ArticlesCount int       `json:"articlesCount"`
	Timestamp     time.Time `json:"timestamp"`
}

type AnalyzedArticle struct {
	Article  news.Article      `json:"article"`
	Analysis *summary.Analysis `json:"analysis"`
	// Enriched is true when the content was replaced by the scraped page.
	Enriched bool `json:"enriched"`
	// Cached is true when the analysis came from the analysis store.
	Cached bool `json:"cached"`
}

func NewService(d Deps) (*Service, error) {
	if d.Registry == nil {
		return nil, errors.New("app: registry is required")
	}
	if d.Fetcher == nil {
		return nil, errors.New("app: fetcher is required")
	}
	if err := d.Options.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Global
	}
	if d.Summarizer == nil {
		d.Summarizer = summary.New(nil, d.Logger, d.Metrics)
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = 30 * time.Minute
	}

	return &Service{
		registry:     d.Registry,
		fetcher:      d.Fetcher,
		pipeline:     news.NewPipeline(d.Registry.Lookup, d.Registry.Keywords, d.Logger),
		summarizer:   d.Summarizer,
		scraper:      d.Scraper,
		store:        d.Store,
		notifier:     d.Notifier,
		opts:         d.Options,
		newsCache:    cache.New[*news.Result](d.CacheTTL),
		summaryCache: cache.New[*summary.Summaries](d.CacheTTL),
		log:          d.Logger,
		metrics:      d.Metrics,
		now:          time.Now,
	}, nil
}

// StartCleanup evicts expired cache entries every interval until ctx is done.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	s.newsCache.StartCleanup(ctx, interval)
	s.summaryCache.StartCleanup(ctx, interval)
}

// AIEnabled reports whether summaries, chat and analysis use the AI.
func (s *Service) AIEnabled() bool {
	return s.summarizer.Available()
}

// Categories lists the categories with at least one source.
func (s *Service) Categories() []news.Category {
	return s.registry.Categories()
}

func (s *Service) run(ctx context.Context, srcs []news.Source, opts news.Options) (*news.Result, error) {
	start := s.now()
	if opts.Now.IsZero() {
		opts.Now = start
	}

	raw := s.fetcher.FetchAll(ctx, srcs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.pipeline.Select(raw, opts)
	if err != nil {
		s.metrics.SetError(err.Error())
		return nil, err
	}

	s.metrics.IncrementPipelineRuns()
	s.metrics.AddArticlesSelected(len(result.Articles))
	s.metrics.AddDuplicatesFiltered(result.Stats.AfterImportanceFilter - result.Stats.AfterDeduplication)
	s.metrics.RecordProcessingTime(time.Since(start))
	s.metrics.SetLastRun()
	return result, nil
}

// News returns the current selection over all sources. The bool is true
// when it came from the cache.
func (s *Service) News(ctx context.Context, refresh bool) (*news.Result, bool, error) {
	if !refresh {
		if result, ok := s.newsCache.Get(newsKey); ok {
			s.metrics.IncrementCacheHits()
			s.log.Debug("returning cached news")
			return result, true, nil
		}
	}
	s.metrics.IncrementCacheMisses()

	v, err := s.shared(ctx, newsKey, func(runCtx context.Context) (interface{}, error) {
		s.log.Info("fetching fresh news", "sources", s.registry.Len())
		result, err := s.run(runCtx, s.registry.ByPriority(), s.opts)
		if err != nil {
			return nil, err
		}
		s.newsCache.Put(newsKey, result)
		s.summaryCache.Delete(summariesKey)
		return result, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("refresh news: %w", err)
	}
	return v.(*news.Result), false, nil
}

// shared runs fn once per key for all concurrent callers. fn gets a context
// detached from any single caller, so one caller leaving does not fail the
// others; a caller whose ctx ends stops waiting and gets ctx.Err().
func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := s.group.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return fn(runCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// CategoryNews returns the selected articles of c, empty for unknown
// categories.
func (s *Service) CategoryNews(ctx context.Context, c news.Category, refresh bool) ([]news.Article, error) {
	result, _, err := s.News(ctx, refresh)
	if err != nil {
		return nil, err
	}
	return result.CategoryArticles(c), nil
}

// Top runs a fresh selection over the sources of category ("" or "all"
// for every source) and returns its limit best articles.
func (s *Service) Top(ctx context.Context, category string, limit int) ([]news.Article, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	srcs, err := s.registry.Resolve(category)
	if err != nil {
		return nil, err
	}

	opts := s.opts
	opts.MaxArticlesPerCategory = limit
	result, err := s.run(ctx, srcs, opts)
	if err != nil {
		return nil, fmt.Errorf("top %s: %w", category, err)
	}
	return result.Top(limit), nil
}

// Summaries returns the summary set of the current selection, generating
// it when the cache holds none.
func (s *Service) Summaries(ctx context.Context, refresh bool) (*summary.Summaries, error) {
	if !refresh {
		if sums, ok := s.summaryCache.Get(summariesKey); ok {
			s.metrics.IncrementCacheHits()
			return sums, nil
		}
	}

	result, _, err := s.News(ctx, refresh)
	if err != nil {
		return nil, err
	}

	v, err := s.shared(ctx, summariesKey, func(runCtx context.Context) (interface{}, error) {
		sums := s.summarizer.GenerateAll(runCtx, result)
		// Offline text produced because the run timed out is not kept.
		if runCtx.Err() == nil {
			s.summaryCache.Put(summariesKey, sums)
		}
		return sums, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*summary.Summaries), nil
}

func (s *Service) CategorySummary(ctx context.Context, c news.Category, refresh bool) (string, error) {
	sums, err := s.Summaries(ctx, refresh)
	if err != nil {
		return "", err
	}
	text, ok := sums.Category(c)
	if !ok {
		return "", fmt.Errorf("%w for category: %s", ErrSummaryNotFound, c)
	}
	return text, nil
}

func (s *Service) MarketRecap(ctx context.Context, refresh bool) (string, error) {
	sums, err := s.Summaries(ctx, refresh)
	if err != nil {
		return "", err
	}
	if sums.MarketRecap == "" {
		return "", ErrMarketRecapUnavailable
	}
	return sums.MarketRecap, nil
}

// Stats reports the pipeline counters, per-category counts and average
// scores, and the age of the cached selection.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	result, _, err := s.News(ctx, false)
	if err != nil {
		return nil, err
	}

	out := &Stats{
		Stats:          result.Stats,
		CategoryCounts: make([]CategoryStats, 0, len(result.Categories)),
	}
	for _, c := range result.Categories {
		articles := result.CategoryArticles(c)
		if len(articles) == 0 {
			continue
		}
		total := 0.0
		for _, a := range articles {
			total += a.ImportanceScore
		}
		out.CategoryCounts = append(out.CategoryCounts, CategoryStats{
			Category: c,
			Count:    len(articles),
			AvgScore: news.RoundScore(total / float64(len(articles))),
		})
	}

	if item, ok := s.newsCache.Entry(newsKey); ok {
		age := int64(item.Age(s.now()) / time.Second)
		out.CacheAge = &age
	}
	return out, nil
}

// Chat answers message with the top articles and the daily summary as
// context.
func (s *Service) Chat(ctx context.Context, message string, history []summary.Message) (*ChatAnswer, error) {
	if strings.TrimSpace(message) == "" {
		return nil, summary.ErrEmptyMessage
	}
	if !s.summarizer.Available() {
		return nil, summary.ErrUnavailable
	}

	result, _, err := s.News(ctx, false)
	if err != nil {
		return nil, err
	}
	sums, err := s.Summaries(ctx, false)
	if err != nil {
		return nil, err
	}

	top := result.Top(chatArticles)
	response, err := s.summarizer.Chat(ctx, summary.ChatRequest{
		Message:      message,
		History:      history,
		Articles:     top,
		DailySummary: sums.Daily,
		Date:         s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("chat response generated", "message", summary.Excerpt(message, 50), "articles", len(top))
	return &ChatAnswer{Response: response, ArticlesCount: len(top), Timestamp: s.now()}, nil
}

// Analyze runs the AI analysis of the selected article with the given
// link, on its scraped page when that yields enough text. Stored
// analyses are reused.
func (s *Service) Analyze(ctx context.Context, link string) (*AnalyzedArticle, error) {
	if !s.summarizer.Available() {
		return nil, summary.ErrUnavailable
	}

	result, _, err := s.News(ctx, false)
	if err != nil {
		return nil, err
	}

	var (
		article news.Article
		found   bool
	)
	for _, a := range result.Articles {
		if a.Link == link {
			article, found = a, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrArticleNotFound, link)
	}

	if analysis, ok := s.storedAnalysis(ctx, link); ok {
		return &AnalyzedArticle{Article: article, Analysis: analysis, Cached: true}, nil
	}

	enriched := false
	if s.scraper != nil && link != "" {
		page, err := s.scraper.Extract(ctx, link)
		switch {
		case err != nil:
			s.log.Debug("scrape failed, using feed content", "link", link, "error", err)
		case len(page.Content) > minScrapedContent:
			article.Content = page.Content
			enriched = true
		}
	}

	analysis, err := s.summarizer.Analyze(ctx, article)
	if err != nil {
		return nil, err
	}
	s.saveAnalysis(ctx, article, analysis)
	return &AnalyzedArticle{Article: article, Analysis: analysis, Enriched: enriched}, nil
}

// Refresh forces a new selection and regenerates its summaries.
func (s *Service) Refresh(ctx context.Context) (*news.Result, error) {
	result, _, err := s.News(ctx, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.Summaries(ctx, false); err != nil {
		return nil, err
	}
	return result, nil
}

// Preload fills the news cache, logging instead of failing.
func (s *Service) Preload(ctx context.Context) {
	s.log.Info("pre-loading news")
	result, _, err := s.News(ctx, false)
	if err != nil {
		s.log.Error("error pre-loading news", "error", err)
		return
	}
	s.log.Info("news pre-loaded and ready", "articles", len(result.Articles))
}
