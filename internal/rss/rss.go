// Package rss downloads registry feeds and maps their items to articles.
package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/dailynews/internal/metrics"
	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/ratelimit"
	"github.com/deusflow/dailynews/internal/retry"
)

const (
	DefaultUserAgent   = "Mozilla/5.0 (compatible; NewsAgent/1.0)"
	defaultConcurrency = 8
	defaultTimeout     = 10 * time.Second
	maxFeedBytes       = 10 << 20
)

// ErrHTTPStatus is wrapped by errors for non-2xx feed responses.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

type Options struct {
	Concurrency  int
	Timeout      time.Duration
	HostInterval time.Duration
	Retry        retry.RetryConfig
	UserAgent    string
	HTTPClient   *http.Client
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Fetcher downloads feeds concurrently. A failing feed yields no articles
// and never aborts the others.
type Fetcher struct {
	client      *http.Client
	limiter     *ratelimit.HostLimiter
	retry       retry.RetryConfig
	concurrency int
	timeout     time.Duration
	userAgent   string
	log         *slog.Logger
	metrics     *metrics.Metrics
}

func NewFetcher(opts Options) *Fetcher {
	f := &Fetcher{
		client:      opts.HTTPClient,
		limiter:     ratelimit.NewHostLimiter(opts.HostInterval),
		retry:       opts.Retry,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		userAgent:   opts.UserAgent,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.concurrency <= 0 {
		f.concurrency = defaultConcurrency
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	if f.metrics == nil {
		f.metrics = metrics.Global
	}
	return f
}

// FetchAll fetches every source and returns their articles concatenated
// in source order.
func (f *Fetcher) FetchAll(ctx context.Context, sources []news.Source) []news.Article {
	results := make([][]news.Article, len(sources))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			results[i] = f.FetchSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	var all []news.Article
	failed := 0
	for _, r := range results {
		if len(r) == 0 {
			failed++
		}
		all = append(all, r...)
	}
	f.metrics.AddArticlesFetched(len(all))
	f.log.Info("feeds processed", "sources", len(sources), "empty", failed, "articles", len(all))

	if all == nil {
		all = []news.Article{}
	}
	return all
}

// FetchSource downloads one feed. Errors are logged and counted; the
// result is then empty.
func (f *Fetcher) FetchSource(ctx context.Context, src news.Source) []news.Article {
	feed, err := f.fetchFeed(ctx, src.URL)
	if err != nil {
		f.metrics.IncrementFeedFailures()
		f.log.Warn("feed fetch failed", "source", src.Name, "url", src.URL, "error", err)
		return []news.Article{}
	}

	articles := make([]news.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		articles = append(articles, ToArticle(item, src))
	}
	f.log.Debug("feed loaded", "source", src.Name, "count", len(articles))
	return articles
}

func (f *Fetcher) fetchFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	var feed *gofeed.Feed
	err := retry.WithRetry(ctx, f.retry, func() error {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return retry.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("error loading feed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(statusErr)
			}
			return statusErr
		}

		// gofeed parsers keep per-document state, so one per call.
		parsed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return retry.Permanent(fmt.Errorf("error parsing feed: %w", err))
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// ToArticle maps a feed item onto an article of src.
func ToArticle(item *gofeed.Item, src news.Source) news.Article {
	a := news.Article{
		Title:      strings.TrimSpace(item.Title),
		Link:       strings.TrimSpace(item.Link),
		SourceName: src.Name,
		Category:   src.Category,
		Author:     authorOf(item),
		Image:      imageOf(item),
	}

	switch {
	case item.PublishedParsed != nil:
		a.PublishedAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		a.PublishedAt = *item.UpdatedParsed
	}

	a.Content = item.Content
	if a.Content == "" {
		a.Content = item.Description
	}
	if item.Description != "" {
		a.ContentSnippet = PlainText(item.Description)
	} else {
		a.ContentSnippet = PlainText(item.Content)
	}
	return a
}

func authorOf(item *gofeed.Item) string {
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	if item.Author != nil {
		return item.Author.Name
	}
	return ""
}

func imageOf(item *gofeed.Item) string {
	for _, e := range item.Enclosures {
		if e != nil && e.URL != "" {
			return e.URL
		}
	}
	if item.Image != nil {
		return item.Image.URL
	}
	return ""
}

// PlainText strips markup from an HTML fragment and collapses whitespace.
func PlainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	// keep block boundaries as word boundaries
	doc.Find("p, br, div, li, h1, h2, h3, h4, h5, h6, tr").AfterHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}
