package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	PipelineRuns       int64
	ArticlesFetched    int64
	ArticlesSelected   int64
	FeedFailures       int64
	DuplicatesFiltered int64
	SummariesGenerated int64
	SummaryFallbacks   int64
	AIRequests         int64
	AIFailures         int64
	ChatRequests       int64
	ArticlesAnalyzed   int64
	CacheHits          int64
	CacheMisses        int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = New()

func New() *Metrics {
	return &Metrics{IsHealthy: true}
}

func (m *Metrics) add(counter *int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*counter += int64(n)
}

func (m *Metrics) IncrementPipelineRuns() { m.add(&m.PipelineRuns, 1) }
func (m *Metrics) AddArticlesFetched(n int) { m.add(&m.ArticlesFetched, n) }
func (m *Metrics) AddArticlesSelected(n int) { m.add(&m.ArticlesSelected, n) }
func (m *Metrics) IncrementFeedFailures() { m.add(&m.FeedFailures, 1) }
func (m *Metrics) AddDuplicatesFiltered(n int) { m.add(&m.DuplicatesFiltered, n) }
func (m *Metrics) IncrementSummariesGenerated() { m.add(&m.SummariesGenerated, 1) }
func (m *Metrics) IncrementSummaryFallbacks() { m.add(&m.SummaryFallbacks, 1) }
func (m *Metrics) IncrementAIRequests() { m.add(&m.AIRequests, 1) }
func (m *Metrics) IncrementAIFailures() { m.add(&m.AIFailures, 1) }
func (m *Metrics) IncrementChatRequests() { m.add(&m.ChatRequests, 1) }
func (m *Metrics) IncrementArticlesAnalyzed() { m.add(&m.ArticlesAnalyzed, 1) }
func (m *Metrics) IncrementCacheHits() { m.add(&m.CacheHits, 1) }
func (m *Metrics) IncrementCacheMisses() { m.add(&m.CacheMisses, 1) }

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++
	m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

// Healthy reports whether the last pipeline run succeeded.
func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"pipeline_runs":              m.PipelineRuns,
		"articles_fetched":           m.ArticlesFetched,
		"articles_selected":          m.ArticlesSelected,
		"feed_failures":              m.FeedFailures,
		"duplicates_filtered":        m.DuplicatesFiltered,
		"summaries_generated":        m.SummariesGenerated,
		"summary_fallbacks":          m.SummaryFallbacks,
		"ai_requests":                m.AIRequests,
		"ai_failures":                m.AIFailures,
		"chat_requests":              m.ChatRequests,
		"articles_analyzed":          m.ArticlesAnalyzed,
		"cache_hits":                 m.CacheHits,
		"cache_misses":               m.CacheMisses,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              formatTime(m.LastRunTime),
		"last_error_time":            formatTime(m.LastErrorTime),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}
