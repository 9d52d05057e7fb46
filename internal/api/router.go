// Package api exposes the news service over HTTP with gin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deusflow/dailynews/internal/app"
	"github.com/deusflow/dailynews/internal/metrics"
	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/ratelimit"
	"github.com/deusflow/dailynews/internal/summary"
)

const requestIDHeader = "X-Request-ID"

// Service is what the handlers need from app.Service.
type Service interface {
	News(ctx context.Context, refresh bool) (*news.Result, bool, error)
	CategoryNews(ctx context.Context, c news.Category, refresh bool) ([]news.Article, error)
	Top(ctx context.Context, category string, limit int) ([]news.Article, error)
	Summaries(ctx context.Context, refresh bool) (*summary.Summaries, error)
	CategorySummary(ctx context.Context, c news.Category, refresh bool) (string, error)
	MarketRecap(ctx context.Context, refresh bool) (string, error)
	Stats(ctx context.Context) (*app.Stats, error)
	Chat(ctx context.Context, message string, history []summary.Message) (*app.ChatAnswer, error)
	Analyze(ctx context.Context, link string) (*app.AnalyzedArticle, error)
	Refresh(ctx context.Context) (*news.Result, error)
	SendDigest(ctx context.Context) (*app.DigestReport, error)
}

type Options struct {
	// StaticDir is served for unmatched GET requests when it exists.
	StaticDir string
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	// Budget is the Gemini request budget shown in /metrics; nil hides it.
	Budget *ratelimit.Budget
}

func NewRouter(svc Service, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(loggingMiddleware(opts.Logger))
	r.Use(corsMiddleware())

	h := NewHandler(svc, opts.Metrics, opts.Logger)
	h.budget = opts.Budget

	api := r.Group("/api")
	{
		api.GET("/news", h.News)
		api.GET("/news/:category", h.CategoryNews)
		api.GET("/top/:category", h.Top)
		api.GET("/summary", h.Summary)
		api.GET("/summary/:category", h.CategorySummary)
		api.GET("/market-recap", h.MarketRecap)
		api.GET("/stats", h.Stats)
		api.POST("/chat", h.Chat)
		api.POST("/analyze", h.Analyze)
		api.POST("/refresh", h.Refresh)
		api.POST("/digest", h.Digest)
	}

	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)
	r.GET("/metrics/prometheus", gin.WrapH(promhttp.HandlerFor(metrics.NewRegistry(opts.Metrics), promhttp.HandlerOpts{})))

	r.NoRoute(staticHandler(opts.StaticDir))

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware reuses the caller's X-Request-ID or generates one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}

func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"request_id", c.GetString("request_id"),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", attrs...)
		case strings.HasPrefix(c.Request.URL.Path, "/api/"):
			logger.Info("request", attrs...)
		default:
			logger.Debug("request", attrs...)
		}
	}
}

// staticHandler serves the dashboard for unmatched GET requests. API
// paths and other methods get a JSON 404.
func staticHandler(dir string) gin.HandlerFunc {
	var files http.Handler
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			files = http.FileServer(http.Dir(dir))
		}
	}

	return func(c *gin.Context) {
		if files == nil || c.Request.Method != http.MethodGet || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}
