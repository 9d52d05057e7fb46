// Package gemini implements summary.Generator on top of Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/deusflow/dailynews/internal/metrics"
	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/ratelimit"
	"github.com/deusflow/dailynews/internal/retry"
	"github.com/deusflow/dailynews/internal/summary"
)

const (
	DefaultModel    = "gemini-1.5-flash"
	DefaultLanguage = "French"
)

var (
	ErrMissingAPIKey = errors.New("gemini api key is required")
	ErrEmptyResponse = errors.New("no response from Gemini")
)

type Config struct {
	APIKey   string
	Model    string
	Language string
	// Budget caps requests per day; nil means unlimited.
	Budget  *ratelimit.Budget
	Retry   retry.RetryConfig
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Fallback is tried once when Gemini fails or the budget is spent.
	Fallback     GenerateFunc
	FallbackName string
}

// GenerateFunc turns a prompt into text.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

type Client struct {
	client   *genai.Client
	model    string
	language string
	budget   *ratelimit.Budget
	retry    retry.RetryConfig
	log      *slog.Logger
	metrics  *metrics.Metrics
	generate GenerateFunc
	fallback GenerateFunc
	fbName   string
}

var _ summary.Generator = (*Client)(nil)

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := newClient(cfg, nil)
	c.client = client
	c.generate = c.generateContent
	return c, nil
}

func newClient(cfg Config, gen GenerateFunc) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global
	}
	if cfg.FallbackName == "" {
		cfg.FallbackName = "fallback"
	}
	return &Client{
		model:    cfg.Model,
		language: cfg.Language,
		budget:   cfg.Budget,
		retry:    cfg.Retry,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		generate: gen,
		fallback: cfg.Fallback,
		fbName:   cfg.FallbackName,
	}
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *Client) generateContent(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	return b.String(), nil
}

// generateText runs one prompt through the budget and retry policy.
// Budget exhaustion is not retried.
func (c *Client) generateText(ctx context.Context, kind, prompt string) (string, error) {
	start := time.Now()

	var text string
	err := retry.WithRetry(ctx, c.retry, func() error {
		if c.budget != nil {
			if err := c.budget.Use(); err != nil {
				return retry.Permanent(err)
			}
		}
		c.metrics.IncrementAIRequests()

		out, err := c.generate(ctx, prompt)
		if err != nil {
			return err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return ErrEmptyResponse
		}
		text = out
		return nil
	})
	if err != nil {
		c.metrics.IncrementAIFailures()
		c.log.Warn("gemini request failed", "kind", kind, "error", err)
		if out, ok := c.tryFallback(ctx, kind, prompt); ok {
			return out, nil
		}
		return "", fmt.Errorf("gemini %s: %w", kind, err)
	}

	c.log.Debug("gemini response", "kind", kind, "chars", len(text), "duration", time.Since(start))
	return text, nil
}

func (c *Client) tryFallback(ctx context.Context, kind, prompt string) (string, bool) {
	if c.fallback == nil || ctx.Err() != nil {
		return "", false
	}

	c.metrics.IncrementAIRequests()
	out, err := c.fallback(ctx, prompt)
	out = strings.TrimSpace(out)
	if err == nil && out == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		c.metrics.IncrementAIFailures()
		c.log.Warn("fallback request failed", "provider", c.fbName, "kind", kind, "error", err)
		return "", false
	}

	c.log.Info("answered by fallback provider", "provider", c.fbName, "kind", kind)
	return out, true
}

func (c *Client) DailySummary(ctx context.Context, articles []news.Article) (string, error) {
	return c.generateText(ctx, "daily summary", dailyPrompt(articles, c.language))
}

func (c *Client) CategorySummary(ctx context.Context, category news.Category, articles []news.Article) (string, error) {
	return c.generateText(ctx, "category summary", categoryPrompt(category, articles, c.language))
}

func (c *Client) MarketRecap(ctx context.Context, articles []news.Article) (string, error) {
	return c.generateText(ctx, "market recap", marketRecapPrompt(articles, c.language))
}

func (c *Client) AnalyzeArticle(ctx context.Context, article news.Article) (*summary.Analysis, error) {
	text, err := c.generateText(ctx, "analysis", analysisPrompt(article, c.language))
	if err != nil {
		return nil, err
	}
	return parseAnalysis(text)
}

func (c *Client) Chat(ctx context.Context, req summary.ChatRequest) (string, error) {
	return c.generateText(ctx, "chat", chatPrompt(req, c.language))
}
