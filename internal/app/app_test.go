package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/dailynews/internal/metrics"
	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/scraper"
	"github.com/deusflow/dailynews/internal/sources"
	"github.com/deusflow/dailynews/internal/summary"
)

const testRegistry = `
sources:
  finance:
    - name: Wire
      url: https://wire.example/rss
      priority: 9
  ai:
    - name: Lab
      url: https://lab.example/rss
      priority: 8
`

type fakeFetcher struct {
	calls    atomic.Int32
	articles []news.Article
	entered  chan struct{}
	release  chan struct{}
}

func (f *fakeFetcher) FetchAll(ctx context.Context, srcs []news.Source) []news.Article {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	wanted := make(map[string]bool)
	for _, s := range srcs {
		wanted[s.Name] = true
	}
	var out []news.Article
	for _, a := range f.articles {
		if wanted[a.SourceName] {
			out = append(out, a)
		}
	}
	return out
}

type fakeGenerator struct {
	analyzed news.Article
}

func (g *fakeGenerator) DailySummary(ctx context.Context, articles []news.Article) (string, error) {
	return "daily", nil
}

func (g *fakeGenerator) CategorySummary(ctx context.Context, c news.Category, articles []news.Article) (string, error) {
	return "category " + string(c), nil
}

func (g *fakeGenerator) MarketRecap(ctx context.Context, articles []news.Article) (string, error) {
	return "recap", nil
}

func (g *fakeGenerator) AnalyzeArticle(ctx context.Context, a news.Article) (*summary.Analysis, error) {
	g.analyzed = a
	return &summary.Analysis{Summary: "analysis of " + a.Title}, nil
}

func (g *fakeGenerator) Chat(ctx context.Context, req summary.ChatRequest) (string, error) {
	return "answer with " + req.DailySummary, nil
}

type fakeScraper struct {
	content string
	err     error
}

func (s *fakeScraper) Extract(ctx context.Context, url string) (*scraper.Page, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &scraper.Page{URL: url, Content: s.content}, nil
}

type fakeStore struct {
	mu     sync.Mutex
	items  map[string]*summary.Analysis
	getErr error
}

func (s *fakeStore) Get(ctx context.Context, link string) (*summary.Analysis, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	a, ok := s.items[link]
	return a, ok, nil
}

func (s *fakeStore) Put(ctx context.Context, article news.Article, analysis *summary.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[string]*summary.Analysis)
	}
	s.items[article.Link] = analysis
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testArticles() []news.Article {
	var out []news.Article
	for _, title := range []string{"alpha alpha", "bravo bravo", "charlie charlie"} {
		out = append(out, news.Article{
			Title:      title,
			Link:       "https://wire.example/" + strings.ReplaceAll(title, " ", "-"),
			SourceName: "Wire",
			Category:   news.CategoryFinance,
		})
	}
	out = append(out, news.Article{
		Title:      "delta delta",
		Link:       "https://lab.example/delta",
		SourceName: "Lab",
		Category:   news.CategoryAI,
	})
	return out
}

func newTestService(t *testing.T, fetcher *fakeFetcher, gen summary.Generator, sc PageExtractor) *Service {
	t.Helper()

	registry, err := sources.Parse([]byte(testRegistry))
	require.NoError(t, err)

	opts := news.DefaultOptions()
	opts.OnlyYesterday = false

	m := metrics.New()
	svc, err := NewService(Deps{
		Registry:   registry,
		Fetcher:    fetcher,
		Summarizer: summary.New(gen, discardLogger(), m),
		Scraper:    sc,
		Options:    opts,
		Logger:     discardLogger(),
		Metrics:    m,
	})
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	registry, err := sources.Parse([]byte(testRegistry))
	require.NoError(t, err)

	_, err = NewService(Deps{Fetcher: &fakeFetcher{}})
	assert.Error(t, err)

	_, err = NewService(Deps{Registry: registry})
	assert.Error(t, err)

	opts := news.DefaultOptions()
	opts.MaxArticlesPerCategory = -1
	_, err = NewService(Deps{Registry: registry, Fetcher: &fakeFetcher{}, Options: opts})
	assert.ErrorIs(t, err, news.ErrInvalidOptions)

	svc, err := NewService(Deps{Registry: registry, Fetcher: &fakeFetcher{}})
	require.NoError(t, err)
	assert.False(t, svc.AIEnabled())
	assert.Equal(t, []news.Category{news.CategoryFinance, news.CategoryAI}, svc.Categories())
}

func TestNews_Caches(t *testing.T) {
	fetcher := &fakeFetcher{articles: testArticles()}
	svc := newTestService(t, fetcher, nil, nil)
	ctx := context.Background()

	result, cached, err := svc.News(ctx, false)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, result.Articles, 4)
	assert.Equal(t, 9.0, result.Articles[0].ImportanceScore)

	again, cached, err := svc.News(ctx, false)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Same(t, result, again)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	_, cached, err = svc.News(ctx, true)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestNews_ConcurrentCallsShareOneRun(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: testArticles(),
		entered:  make(chan struct{}, 10),
		release:  make(chan struct{}),
	}
	svc := newTestService(t, fetcher, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.News(context.Background(), false)
			assert.NoError(t, err)
		}()
	}

	<-fetcher.entered
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestNews_CanceledContext(t *testing.T) {
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.News(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNews_CallerLeavingDoesNotFailSharedRun(t *testing.T) {
	fetcher := &fakeFetcher{
		articles: testArticles(),
		entered:  make(chan struct{}, 10),
		release:  make(chan struct{}),
	}
	svc := newTestService(t, fetcher, nil, nil)

	leaving, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := svc.News(leaving, false)
		firstErr <- err
	}()
	<-fetcher.entered

	type outcome struct {
		result *news.Result
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		result, _, err := svc.News(context.Background(), false)
		second <- outcome{result, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(fetcher.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Len(t, got.result.Articles, 4)

	_, cached, err := svc.News(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestCategoryNews(t *testing.T) {
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, nil, nil)

	finance, err := svc.CategoryNews(context.Background(), news.CategoryFinance, false)
	require.NoError(t, err)
	assert.Len(t, finance, 3)

	unknown, err := svc.CategoryNews(context.Background(), "sports", false)
	require.NoError(t, err)
	assert.NotNil(t, unknown)
	assert.Empty(t, unknown)
}

func TestTop(t *testing.T) {
	fetcher := &fakeFetcher{articles: testArticles()}
	svc := newTestService(t, fetcher, nil, nil)

	top, err := svc.Top(context.Background(), "finance", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	for _, a := range top {
		assert.Equal(t, news.CategoryFinance, a.Category)
	}

	top, err = svc.Top(context.Background(), "all", 0)
	require.NoError(t, err)
	assert.Len(t, top, 4)

	_, err = svc.Top(context.Background(), "sports", 3)
	assert.ErrorIs(t, err, sources.ErrUnknownCategory)

	// Top never touches the shared cache.
	assert.Equal(t, 0, svc.newsCache.Len())
}

func TestSummaries_Offline(t *testing.T) {
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, nil, nil)
	ctx := context.Background()

	sums, err := svc.Summaries(ctx, false)
	require.NoError(t, err)
	assert.False(t, sums.AIGenerated)
	assert.Contains(t, sums.Daily, "# Résumé Quotidien")

	again, err := svc.Summaries(ctx, false)
	require.NoError(t, err)
	assert.Same(t, sums, again)

	text, err := svc.CategorySummary(ctx, news.CategoryAI, false)
	require.NoError(t, err)
	assert.Contains(t, text, "delta delta")

	_, err = svc.CategorySummary(ctx, news.CategoryTech, false)
	assert.ErrorIs(t, err, ErrSummaryNotFound)

	_, err = svc.MarketRecap(ctx, false)
	assert.ErrorIs(t, err, ErrMarketRecapUnavailable)
}

func TestSummaries_RegeneratedAfterNewsRefresh(t *testing.T) {
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, &fakeGenerator{}, nil)
	ctx := context.Background()

	first, err := svc.Summaries(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "daily", first.Daily)

	recap, err := svc.MarketRecap(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "recap", recap)

	_, err = svc.Refresh(ctx)
	require.NoError(t, err)

	second, err := svc.Summaries(ctx, false)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

// slowGenerator blocks its daily summary until released and fails when
// its context ends first.
type slowGenerator struct {
	fakeGenerator
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *slowGenerator) DailySummary(ctx context.Context, articles []news.Article) (string, error) {
	g.calls.Add(1)
	g.entered <- struct{}{}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-g.release:
		return "daily", nil
	}
}

func TestSummaries_CallerLeavingDoesNotCacheFallback(t *testing.T) {
	gen := &slowGenerator{entered: make(chan struct{}, 10), release: make(chan struct{})}
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, gen, nil)

	_, _, err := svc.News(context.Background(), false)
	require.NoError(t, err)

	leaving, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Summaries(leaving, false)
		firstErr <- err
	}()
	<-gen.entered

	type outcome struct {
		sums *summary.Summaries
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		sums, err := svc.Summaries(context.Background(), false)
		second <- outcome{sums, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gen.release)
	got := <-second
	require.NoError(t, got.err)
	assert.True(t, got.sums.AIGenerated)
	assert.Equal(t, "daily", got.sums.Daily)

	again, err := svc.Summaries(context.Background(), false)
	require.NoError(t, err)
	assert.Same(t, got.sums, again)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestSummaries_CanceledCallerGeneratesNothing(t *testing.T) {
	gen := &slowGenerator{entered: make(chan struct{}, 10), release: make(chan struct{})}
	close(gen.release)
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, gen, nil)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Summaries(canceled, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, svc.summaryCache.Len())

	sums, err := svc.Summaries(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, sums.AIGenerated)
	assert.Equal(t, "daily", sums.Daily)
}

func TestStats(t *testing.T) {
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, nil, nil)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Stats.TotalFetched)
	assert.Equal(t, 4, stats.Stats.Final)
	assert.Equal(t, []CategoryStats{
		{Category: news.CategoryFinance, Count: 3, AvgScore: 9},
		{Category: news.CategoryAI, Count: 1, AvgScore: 8},
	}, stats.CategoryCounts)
	require.NotNil(t, stats.CacheAge)
	assert.GreaterOrEqual(t, *stats.CacheAge, int64(0))
}

func TestChat(t *testing.T) {
	ctx := context.Background()

	offline := newTestService(t, &fakeFetcher{articles: testArticles()}, nil, nil)
	_, err := offline.Chat(ctx, "hello", nil)
	assert.ErrorIs(t, err, summary.ErrUnavailable)

	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, &fakeGenerator{}, nil)
	_, err = svc.Chat(ctx, " ", nil)
	assert.ErrorIs(t, err, summary.ErrEmptyMessage)

	answer, err := svc.Chat(ctx, "what happened?", []summary.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "answer with daily", answer.Response)
	assert.Equal(t, 4, answer.ArticlesCount)
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()
	link := "https://wire.example/alpha-alpha"

	offline := newTestService(t, &fakeFetcher{articles: testArticles()}, nil, nil)
	_, err := offline.Analyze(ctx, link)
	assert.ErrorIs(t, err, summary.ErrUnavailable)

	gen := &fakeGenerator{}
	page := strings.Repeat("Full article text. ", 20)
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, gen, &fakeScraper{content: page})

	_, err = svc.Analyze(ctx, "https://nowhere.example")
	assert.ErrorIs(t, err, ErrArticleNotFound)

	out, err := svc.Analyze(ctx, link)
	require.NoError(t, err)
	assert.True(t, out.Enriched)
	assert.Equal(t, "analysis of alpha alpha", out.Analysis.Summary)
	assert.Equal(t, page, gen.analyzed.Content)
}

func TestAnalyze_ScrapeFallback(t *testing.T) {
	ctx := context.Background()
	link := "https://lab.example/delta"

	for name, sc := range map[string]*fakeScraper{
		"error": {err: errors.New("403")},
		"short": {content: "too short"},
	} {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerator{}
			svc := newTestService(t, &fakeFetcher{articles: testArticles()}, gen, sc)

			out, err := svc.Analyze(ctx, link)
			require.NoError(t, err)
			assert.False(t, out.Enriched)
			assert.Empty(t, gen.analyzed.Content)
		})
	}
}

func TestAnalyze_Store(t *testing.T) {
	ctx := context.Background()
	link := "https://lab.example/delta"

	gen := &fakeGenerator{}
	store := &fakeStore{}
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, gen, nil)
	svc.store = store

	out, err := svc.Analyze(ctx, link)
	require.NoError(t, err)
	assert.False(t, out.Cached)
	require.Contains(t, store.items, link)

	gen.analyzed = news.Article{}
	out, err = svc.Analyze(ctx, link)
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Equal(t, "analysis of delta delta", out.Analysis.Summary)
	assert.Empty(t, gen.analyzed.Title, "stored analyses skip the generator")
	assert.Equal(t, "delta delta", out.Article.Title)
}

func TestAnalyze_StoreErrorIsMiss(t *testing.T) {
	gen := &fakeGenerator{}
	svc := newTestService(t, &fakeFetcher{articles: testArticles()}, gen, nil)
	svc.store = &fakeStore{getErr: errors.New("connection refused")}

	out, err := svc.Analyze(context.Background(), "https://lab.example/delta")
	require.NoError(t, err)
	assert.False(t, out.Cached)
	assert.Equal(t, "delta delta", gen.analyzed.Title)
}

func TestPreload(t *testing.T) {
	fetcher := &fakeFetcher{articles: testArticles()}
	svc := newTestService(t, fetcher, nil, nil)

	svc.Preload(context.Background())
	_, cached, err := svc.News(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}
