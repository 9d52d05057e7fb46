// Package telegram posts the daily digest to a Telegram chat or channel
// through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/retry"
	"github.com/deusflow/dailynews/internal/summary"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	// maxMessageLength is the Bot API limit for one text message.
	maxMessageLength = 4096
	maxSummaryLength = 2500
	digestArticles   = 10
)

var (
	ErrMissingCredentials = errors.New("telegram token and chat id are required")
	ErrAPI                = errors.New("telegram API error")
)

type Config struct {
	Token   string
	ChatID  string
	BaseURL string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	Retry      retry.RetryConfig
	Logger     *slog.Logger
}

type Client struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	retry   retry.RetryConfig
	log     *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.HTTPClient,
		retry:   cfg.Retry,
		log:     cfg.Logger,
	}, nil
}

// SendMessage sends an HTML text message, retrying transient failures.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	attempt := 0
	err := retry.WithRetry(ctx, c.retry, func() error {
		attempt++
		err := c.sendMessageOnce(ctx, text)
		if err != nil {
			c.log.Warn("error sending to Telegram", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("can't send message to Telegram: %w", err)
	}
	c.log.Info("message sent to Telegram", "attempt", attempt, "chars", len(text))
	return nil
}

func (c *Client) sendMessageOnce(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)

	payload := map[string]interface{}{
		"chat_id":                  c.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("error make JSON: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error HTTP request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(statusErr)
		}
		return statusErr
	}
	return nil
}

// SendDigest posts the daily summary followed by the top articles.
func (c *Client) SendDigest(ctx context.Context, daily string, articles []news.Article, date time.Time) error {
	return c.SendMessage(ctx, FormatDigest(daily, articles, date))
}

// FormatDigest renders the digest as Telegram HTML. The summary markdown
// is flattened to text and the message stays within the Bot API limit.
func FormatDigest(daily string, articles []news.Article, date time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📰 <b>Résumé du %s</b>\n\n", date.Format("02/01/2006"))

	if text := summary.StripMarkdown(daily); text != "" {
		b.WriteString(html.EscapeString(summary.Excerpt(text, maxSummaryLength)))
		b.WriteString("\n\n")
	}

	if len(articles) > digestArticles {
		articles = articles[:digestArticles]
	}
	if len(articles) > 0 {
		b.WriteString("<b>À la une</b>\n")
	}

	for i, a := range articles {
		line := fmt.Sprintf("%d. <a href=\"%s\">%s</a> (%s, %s/10)\n",
			i+1,
			html.EscapeString(a.Link),
			html.EscapeString(a.Title),
			html.EscapeString(a.SourceName),
			summary.FormatScore(a.ImportanceScore))
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(line) > maxMessageLength {
			break
		}
		b.WriteString(line)
	}

	return strings.TrimSpace(b.String())
}
