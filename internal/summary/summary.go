// Package summary turns a pipeline result into daily, per-category and
// market summaries. An AI Generator is optional: without one, or when it
// fails, deterministic offline summaries are produced instead.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/dailynews/internal/metrics"
	"github.com/deusflow/dailynews/internal/news"
)

var (
	// ErrUnavailable means the operation needs an AI generator and none is configured.
	ErrUnavailable  = errors.New("ai generator not configured")
	ErrEmptyMessage = errors.New("message is required")
)

const categoryWorkers = 3

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the question and the news context for Chat.
type ChatRequest struct {
	Message      string
	History      []Message
	Articles     []news.Article
	DailySummary string
	Date         time.Time
}

// Analysis is the AI reading of a single article.
type Analysis struct {
	Summary      string   `json:"summary"`
	KeyPoints    []string `json:"keyPoints"`
	WhyImportant string   `json:"whyImportant"`
	Impact       string   `json:"impact,omitempty"`
}

// Generator produces AI text. Implementations must be safe for concurrent use.
type Generator interface {
	DailySummary(ctx context.Context, articles []news.Article) (string, error)
	CategorySummary(ctx context.Context, category news.Category, articles []news.Article) (string, error)
	MarketRecap(ctx context.Context, articles []news.Article) (string, error)
	AnalyzeArticle(ctx context.Context, article news.Article) (*Analysis, error)
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Summaries is the full summary set of one pipeline result.
type Summaries struct {
	Daily       string                   `json:"daily"`
	ByCategory  map[news.Category]string `json:"byCategory"`
	MarketRecap string                   `json:"marketRecap,omitempty"`
	AIGenerated bool                     `json:"aiGenerated"`
	GeneratedAt time.Time                `json:"generatedAt"`
}

// Category returns the summary of c.
func (s *Summaries) Category(c news.Category) (string, bool) {
	if s == nil {
		return "", false
	}
	text, ok := s.ByCategory[c]
	return text, ok
}

type Summarizer struct {
	gen     Generator
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New returns a Summarizer. gen may be nil for offline mode.
func New(gen Generator, logger *slog.Logger, m *metrics.Metrics) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Global
	}
	return &Summarizer{gen: gen, log: logger, metrics: m, now: time.Now}
}

// Available reports whether an AI generator is configured.
func (s *Summarizer) Available() bool {
	return s.gen != nil
}

// GenerateAll builds the daily summary, one summary per non-empty
// category and, with AI only, a market recap over finance and bourse
// articles. It never fails; AI errors fall back to offline text.
// AIGenerated is set when at least one AI call succeeded.
func (s *Summarizer) GenerateAll(ctx context.Context, result *news.Result) *Summaries {
	out := &Summaries{
		ByCategory:  make(map[news.Category]string),
		GeneratedAt: s.now(),
	}
	if result == nil {
		out.Daily = BasicDaily(nil)
		return out
	}

	out.Daily, out.AIGenerated = s.daily(ctx, result.Articles)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(categoryWorkers)
	for _, c := range result.Categories {
		articles := result.CategoryArticles(c)
		if len(articles) == 0 {
			continue
		}
		g.Go(func() error {
			text, ai := s.category(ctx, c, articles)
			mu.Lock()
			out.ByCategory[c] = text
			out.AIGenerated = out.AIGenerated || ai
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if s.gen != nil {
		var market []news.Article
		market = append(market, result.CategoryArticles(news.CategoryFinance)...)
		market = append(market, result.CategoryArticles(news.CategoryBourse)...)
		if len(market) > 0 {
			recap, err := s.gen.MarketRecap(ctx, market)
			if err != nil {
				s.log.Warn("market recap failed", "error", err)
			} else {
				out.MarketRecap = recap
				out.AIGenerated = true
				s.metrics.IncrementSummariesGenerated()
			}
		}
	}

	s.log.Info("summaries generated", "categories", len(out.ByCategory), "ai", out.AIGenerated, "market_recap", out.MarketRecap != "")
	return out
}

// daily returns the daily summary and whether the AI wrote it.
func (s *Summarizer) daily(ctx context.Context, articles []news.Article) (string, bool) {
	if s.gen == nil {
		s.metrics.IncrementSummaryFallbacks()
		return BasicDaily(articles), false
	}
	text, err := s.gen.DailySummary(ctx, articles)
	if err != nil || strings.TrimSpace(text) == "" {
		s.log.Warn("daily summary failed, using offline summary", "error", err)
		s.metrics.IncrementSummaryFallbacks()
		return BasicDaily(articles), false
	}
	s.metrics.IncrementSummariesGenerated()
	return text, true
}

func (s *Summarizer) category(ctx context.Context, c news.Category, articles []news.Article) (string, bool) {
	if s.gen == nil {
		s.metrics.IncrementSummaryFallbacks()
		return BasicCategory(c, articles), false
	}
	text, err := s.gen.CategorySummary(ctx, c, articles)
	if err != nil || strings.TrimSpace(text) == "" {
		s.log.Warn("category summary failed, using offline summary", "category", c, "error", err)
		s.metrics.IncrementSummaryFallbacks()
		return BasicCategory(c, articles), false
	}
	s.metrics.IncrementSummariesGenerated()
	return text, true
}

// Analyze asks the generator for an analysis of a.
func (s *Summarizer) Analyze(ctx context.Context, a news.Article) (*Analysis, error) {
	if s.gen == nil {
		return nil, ErrUnavailable
	}
	analysis, err := s.gen.AnalyzeArticle(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("analyze %q: %w", a.Title, err)
	}
	s.metrics.IncrementArticlesAnalyzed()
	return analysis, nil
}

// Chat answers a question about the current news.
func (s *Summarizer) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", ErrEmptyMessage
	}
	if s.gen == nil {
		return "", ErrUnavailable
	}
	if req.Date.IsZero() {
		req.Date = s.now()
	}
	s.metrics.IncrementChatRequests()

	answer, err := s.gen.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return answer, nil
}
