package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/dailynews/internal/app"
	"github.com/deusflow/dailynews/internal/metrics"
	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/ratelimit"
	"github.com/deusflow/dailynews/internal/sources"
	"github.com/deusflow/dailynews/internal/summary"
)

type stubService struct {
	result    *news.Result
	sums      *summary.Summaries
	err       error
	refreshed bool
	topLimit  int
	chatMsg   string
	link      string
	notifier  bool
}

func (s *stubService) News(ctx context.Context, refresh bool) (*news.Result, bool, error) {
	s.refreshed = refresh
	return s.result, !refresh, s.err
}

func (s *stubService) CategoryNews(ctx context.Context, c news.Category, refresh bool) ([]news.Article, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result.CategoryArticles(c), nil
}

func (s *stubService) Top(ctx context.Context, category string, limit int) ([]news.Article, error) {
	s.topLimit = limit
	if category == "sports" {
		return nil, fmt.Errorf("%w: %s", sources.ErrUnknownCategory, category)
	}
	return s.result.Top(limit), s.err
}

func (s *stubService) Summaries(ctx context.Context, refresh bool) (*summary.Summaries, error) {
	return s.sums, s.err
}

func (s *stubService) CategorySummary(ctx context.Context, c news.Category, refresh bool) (string, error) {
	text, ok := s.sums.Category(c)
	if !ok {
		return "", fmt.Errorf("%w for category: %s", app.ErrSummaryNotFound, c)
	}
	return text, nil
}

func (s *stubService) MarketRecap(ctx context.Context, refresh bool) (string, error) {
	if s.sums.MarketRecap == "" {
		return "", app.ErrMarketRecapUnavailable
	}
	return s.sums.MarketRecap, nil
}

func (s *stubService) Stats(ctx context.Context) (*app.Stats, error) {
	return &app.Stats{Stats: s.result.Stats, CategoryCounts: []app.CategoryStats{}}, s.err
}

func (s *stubService) Chat(ctx context.Context, message string, history []summary.Message) (*app.ChatAnswer, error) {
	s.chatMsg = message
	if strings.TrimSpace(message) == "" {
		return nil, summary.ErrEmptyMessage
	}
	if s.err != nil {
		return nil, s.err
	}
	return &app.ChatAnswer{Response: fmt.Sprintf("%d turns", len(history)), ArticlesCount: 1}, nil
}

func (s *stubService) Analyze(ctx context.Context, link string) (*app.AnalyzedArticle, error) {
	s.link = link
	if s.err != nil {
		return nil, s.err
	}
	if link != "https://x.example/a" {
		return nil, app.ErrArticleNotFound
	}
	return &app.AnalyzedArticle{Analysis: &summary.Analysis{Summary: "ok"}}, nil
}

func (s *stubService) Refresh(ctx context.Context) (*news.Result, error) {
	return s.result, s.err
}

func (s *stubService) SendDigest(ctx context.Context) (*app.DigestReport, error) {
	if !s.notifier {
		return nil, app.ErrNotifierUnavailable
	}
	if s.err != nil {
		return nil, s.err
	}
	return &app.DigestReport{ArticlesCount: len(s.result.Articles), AIGenerated: true}, nil
}

func newStub() *stubService {
	articles := []news.Article{
		{Title: "A", Link: "https://x.example/a", Category: news.CategoryFinance, ImportanceScore: 9},
		{Title: "B", Link: "https://x.example/b", Category: news.CategoryAI, ImportanceScore: 8},
	}
	return &stubService{
		result: &news.Result{
			Articles: articles,
			ArticlesByCategory: map[news.Category][]news.Article{
				news.CategoryFinance: {articles[0]},
				news.CategoryAI:      {articles[1]},
			},
			Stats:      news.Stats{TotalFetched: 10, Final: 2},
			Categories: []news.Category{news.CategoryFinance, news.CategoryAI},
		},
		sums: &summary.Summaries{
			Daily:      "# Résumé\n\n**Marchés** en hausse.",
			ByCategory: map[news.Category]string{news.CategoryFinance: "finance summary"},
		},
	}
}

func newTestRouter(svc Service, m *metrics.Metrics, staticDir string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(svc, Options{
		StaticDir: staticDir,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   m,
	})
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestNews(t *testing.T) {
	stub := newStub()
	r := newTestRouter(stub, metrics.New(), "")

	w, body := do(t, r, http.MethodGet, "/api/news", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["cached"])
	assert.NotEmpty(t, body["timestamp"])
	data := body["data"].(map[string]any)
	assert.Len(t, data["articles"], 2)
	assert.Equal(t, 10.0, data["stats"].(map[string]any)["totalFetched"])

	w, body = do(t, r, http.MethodGet, "/api/news?refresh=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, stub.refreshed)
	assert.Equal(t, false, body["cached"])
}

func TestCategoryNews(t *testing.T) {
	r := newTestRouter(newStub(), metrics.New(), "")

	_, body := do(t, r, http.MethodGet, "/api/news/FINANCE", "")
	data := body["data"].(map[string]any)
	assert.Equal(t, "finance", data["category"])
	assert.Equal(t, 1.0, data["count"])

	_, body = do(t, r, http.MethodGet, "/api/news/sports", "")
	data = body["data"].(map[string]any)
	assert.Equal(t, 0.0, data["count"])
	assert.Equal(t, []any{}, data["articles"])
}

func TestTop(t *testing.T) {
	stub := newStub()
	r := newTestRouter(stub, metrics.New(), "")

	w, _ := do(t, r, http.MethodGet, "/api/top/finance", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, app.DefaultTopLimit, stub.topLimit)

	w, body := do(t, r, http.MethodGet, "/api/top/all?limit=1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, stub.topLimit)
	assert.Equal(t, 1.0, body["data"].(map[string]any)["count"])

	w, _ = do(t, r, http.MethodGet, "/api/top/finance?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, r, http.MethodGet, "/api/top/sports", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])
}

func TestSummary(t *testing.T) {
	r := newTestRouter(newStub(), metrics.New(), "")

	_, body := do(t, r, http.MethodGet, "/api/summary", "")
	data := body["data"].(map[string]any)
	assert.Equal(t, "daily", data["type"])
	assert.Contains(t, data["summary"], "**Marchés**")
	assert.NotContains(t, data, "html")

	_, body = do(t, r, http.MethodGet, "/api/summary?format=html", "")
	data = body["data"].(map[string]any)
	assert.Contains(t, data["html"], "<strong>Marchés</strong>")

	w, body := do(t, r, http.MethodGet, "/api/summary/finance", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "finance summary", body["data"].(map[string]any)["summary"])

	w, body = do(t, r, http.MethodGet, "/api/summary/tech", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "summary not found for category: tech", body["error"])
}

func TestMarketRecap(t *testing.T) {
	stub := newStub()
	r := newTestRouter(stub, metrics.New(), "")

	w, body := do(t, r, http.MethodGet, "/api/market-recap", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "market recap not available", body["error"])

	stub.sums.MarketRecap = "📈 **EQUITY**"
	w, body = do(t, r, http.MethodGet, "/api/market-recap", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "📈 **EQUITY**", body["data"].(map[string]any)["marketRecap"])
}

func TestStats(t *testing.T) {
	r := newTestRouter(newStub(), metrics.New(), "")

	w, body := do(t, r, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Nil(t, data["cacheAge"])
	assert.Equal(t, 2.0, data["stats"].(map[string]any)["final"])
}

func TestChat(t *testing.T) {
	stub := newStub()
	r := newTestRouter(stub, metrics.New(), "")

	w, _ := do(t, r, http.MethodPost, "/api/chat", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := do(t, r, http.MethodPost, "/api/chat", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Message is required", body["error"])

	w, body = do(t, r, http.MethodPost, "/api/chat", `{"message":"hi","conversationHistory":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2 turns", body["data"].(map[string]any)["response"])
	assert.Equal(t, "hi", stub.chatMsg)

	stub.err = summary.ErrUnavailable
	w, body = do(t, r, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Gemini API key not configured", body["error"])
}

func TestAnalyze(t *testing.T) {
	stub := newStub()
	r := newTestRouter(stub, metrics.New(), "")

	w, _ := do(t, r, http.MethodPost, "/api/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/analyze", `{"link":"https://x.example/zzz"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := do(t, r, http.MethodPost, "/api/analyze", `{"link":"https://x.example/a"}`)
	require.Equal(t, http.StatusOK, w.Code)
	analysis := body["data"].(map[string]any)["analysis"].(map[string]any)
	assert.Equal(t, "ok", analysis["summary"])
}

func TestRefresh(t *testing.T) {
	r := newTestRouter(newStub(), metrics.New(), "")

	w, body := do(t, r, http.MethodPost, "/api/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Cache refreshed successfully", body["message"])
	assert.Equal(t, 2.0, body["data"].(map[string]any)["articlesCount"])
}

func TestDigest(t *testing.T) {
	stub := newStub()
	r := newTestRouter(stub, metrics.New(), "")

	w, body := do(t, r, http.MethodPost, "/api/digest", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Telegram notifier not configured", body["error"])

	stub.notifier = true
	w, body = do(t, r, http.MethodPost, "/api/digest", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, 2.0, data["articlesCount"])
	assert.Equal(t, true, data["aiGenerated"])
}

func TestServiceErrors(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("boom")
	r := newTestRouter(stub, metrics.New(), "")

	w, body := do(t, r, http.MethodGet, "/api/news", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "boom", body["error"])

	stub.err = fmt.Errorf("refresh news: %w", context.DeadlineExceeded)
	w, _ = do(t, r, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.New()
	r := newTestRouter(newStub(), m, "")

	w, body := do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	m.AddArticlesFetched(7)
	m.SetError("feeds down")
	w, body = do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "feeds down", body["last_error"])

	w, body = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7.0, body["articles_fetched"])

	w, _ = do(t, r, http.MethodGet, "/metrics/prometheus", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dailynews_articles_fetched_total 7")
	assert.Contains(t, w.Body.String(), "dailynews_healthy 0")
	assert.NotContains(t, body, "gemini_budget")
}

func TestMetrics_GeminiBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	budget := ratelimit.NewBudget("gemini", 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, budget.Use())

	r := NewRouter(newStub(), Options{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.New(),
		Budget:  budget,
	})

	w, body := do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	section, ok := body["gemini_budget"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "gemini", section["provider"])
	assert.Equal(t, 1.0, section["used"])
	assert.Equal(t, 3.0, section["limit"])
	assert.Equal(t, 0.0, section["rejected"])
}

func TestMiddleware(t *testing.T) {
	r := newTestRouter(newStub(), metrics.New(), "")

	w, _ := do(t, r, http.MethodGet, "/api/news", "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Len(t, w.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/news", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))

	w, _ = do(t, r, http.MethodOptions, "/api/chat", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>dashboard</h1>"), 0o644))
	r := newTestRouter(newStub(), metrics.New(), dir)

	w, _ := do(t, r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dashboard")

	w, body := do(t, r, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])

	noStatic := newTestRouter(newStub(), metrics.New(), filepath.Join(dir, "missing"))
	w, _ = do(t, noStatic, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
