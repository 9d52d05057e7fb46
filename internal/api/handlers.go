package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deusflow/dailynews/internal/app"
	"github.com/deusflow/dailynews/internal/metrics"
	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/ratelimit"
	"github.com/deusflow/dailynews/internal/sources"
	"github.com/deusflow/dailynews/internal/summary"
)

type Handler struct {
	svc     Service
	metrics *metrics.Metrics
	budget  *ratelimit.Budget
	log     *slog.Logger
	now     func() time.Time
}

func NewHandler(svc Service, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, metrics: m, log: logger, now: time.Now}
}

type chatRequest struct {
	Message             string            `json:"message"`
	ConversationHistory []summary.Message `json:"conversationHistory"`
}

type analyzeRequest struct {
	Link string `json:"link"`
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

func (h *Handler) ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      data,
		"timestamp": h.timestamp(),
	})
}

// fail maps service errors onto HTTP status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case errors.Is(err, summary.ErrEmptyMessage):
		status = http.StatusBadRequest
		message = "Message is required"
	case errors.Is(err, summary.ErrUnavailable):
		status = http.StatusServiceUnavailable
		message = "Gemini API key not configured"
	case errors.Is(err, app.ErrNotifierUnavailable):
		status = http.StatusServiceUnavailable
		message = "Telegram notifier not configured"
	case errors.Is(err, app.ErrArticleNotFound),
		errors.Is(err, app.ErrSummaryNotFound),
		errors.Is(err, app.ErrMarketRecapUnavailable),
		errors.Is(err, sources.ErrUnknownCategory):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"success": false, "error": message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}

func refresh(c *gin.Context) bool {
	return c.Query("refresh") == "true"
}

func wantsHTML(c *gin.Context) bool {
	return c.Query("format") == "html"
}

func category(c *gin.Context) news.Category {
	return news.Category(strings.ToLower(strings.TrimSpace(c.Param("category"))))
}

func (h *Handler) News(c *gin.Context) {
	forceRefresh := refresh(c)
	result, cached, err := h.svc.News(c.Request.Context(), forceRefresh)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"articles":           result.Articles,
			"articlesByCategory": result.ArticlesByCategory,
			"stats":              result.Stats,
		},
		"cached":    cached,
		"timestamp": h.timestamp(),
	})
}

func (h *Handler) CategoryNews(c *gin.Context) {
	cat := category(c)
	articles, err := h.svc.CategoryNews(c.Request.Context(), cat, refresh(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"category": cat, "articles": articles, "count": len(articles)})
}

func (h *Handler) Top(c *gin.Context) {
	limit := app.DefaultTopLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	cat := category(c)
	articles, err := h.svc.Top(c.Request.Context(), string(cat), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, gin.H{"category": cat, "articles": articles, "count": len(articles)})
}

func (h *Handler) Summary(c *gin.Context) {
	sums, err := h.svc.Summaries(c.Request.Context(), refresh(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	data := gin.H{
		"summary":     sums.Daily,
		"type":        "daily",
		"aiGenerated": sums.AIGenerated,
	}
	if wantsHTML(c) {
		data["html"] = summary.ToHTML(sums.Daily)
	}
	h.ok(c, data)
}

func (h *Handler) CategorySummary(c *gin.Context) {
	cat := category(c)
	text, err := h.svc.CategorySummary(c.Request.Context(), cat, refresh(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	data := gin.H{"category": cat, "summary": text}
	if wantsHTML(c) {
		data["html"] = summary.ToHTML(text)
	}
	h.ok(c, data)
}

func (h *Handler) MarketRecap(c *gin.Context) {
	recap, err := h.svc.MarketRecap(c.Request.Context(), refresh(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	data := gin.H{"marketRecap": recap}
	if wantsHTML(c) {
		data["html"] = summary.ToHTML(recap)
	}
	h.ok(c, data)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, stats)
}

func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	answer, err := h.svc.Chat(c.Request.Context(), req.Message, req.ConversationHistory)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, answer)
}

func (h *Handler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Link) == "" {
		badRequest(c, "Link is required")
		return
	}

	analyzed, err := h.svc.Analyze(c.Request.Context(), req.Link)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, analyzed)
}

func (h *Handler) Refresh(c *gin.Context) {
	h.log.Info("manual refresh requested", "request_id", c.GetString("request_id"))

	result, err := h.svc.Refresh(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cache refreshed successfully",
		"data": gin.H{
			"articlesCount": len(result.Articles),
			"stats":         result.Stats,
		},
		"timestamp": h.timestamp(),
	})
}

func (h *Handler) Digest(c *gin.Context) {
	report, err := h.svc.SendDigest(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, report)
}

func (h *Handler) Health(c *gin.Context) {
	stats := h.metrics.GetStats()

	status := "ok"
	code := http.StatusOK
	if !h.metrics.Healthy() {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	})
}

func (h *Handler) Metrics(c *gin.Context) {
	stats := h.metrics.GetStats()
	if h.budget != nil {
		stats["gemini_budget"] = h.budget.GetStats()
	}
	c.JSON(http.StatusOK, stats)
}
