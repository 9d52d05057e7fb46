package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dailynews"

type promMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(m *Metrics) float64
}

func newPromMetric(name, help string, t prometheus.ValueType, value func(m *Metrics) float64) promMetric {
	return promMetric{
		desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		valueType: t,
		value:     value,
	}
}

func counter(name, help string, value func(m *Metrics) int64) promMetric {
	return newPromMetric(name, help, prometheus.CounterValue, func(m *Metrics) float64 {
		return float64(value(m))
	})
}

// Collector exposes a Metrics snapshot in the Prometheus format.
type Collector struct {
	m       *Metrics
	metrics []promMetric
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(m *Metrics) *Collector {
	return &Collector{
		m: m,
		metrics: []promMetric{
			counter("pipeline_runs_total", "Completed selection pipeline runs.", func(m *Metrics) int64 { return m.PipelineRuns }),
			counter("articles_fetched_total", "Articles downloaded from feeds.", func(m *Metrics) int64 { return m.ArticlesFetched }),
			counter("articles_selected_total", "Articles kept by the pipeline.", func(m *Metrics) int64 { return m.ArticlesSelected }),
			counter("feed_failures_total", "Feeds that failed to download or parse.", func(m *Metrics) int64 { return m.FeedFailures }),
			counter("duplicates_filtered_total", "Articles dropped as near-duplicates.", func(m *Metrics) int64 { return m.DuplicatesFiltered }),
			counter("summaries_generated_total", "Summaries written by the AI.", func(m *Metrics) int64 { return m.SummariesGenerated }),
			counter("summary_fallbacks_total", "Summaries replaced by the offline text.", func(m *Metrics) int64 { return m.SummaryFallbacks }),
			counter("ai_requests_total", "Requests sent to AI providers.", func(m *Metrics) int64 { return m.AIRequests }),
			counter("ai_failures_total", "Failed AI generations.", func(m *Metrics) int64 { return m.AIFailures }),
			counter("chat_requests_total", "Chat questions answered.", func(m *Metrics) int64 { return m.ChatRequests }),
			counter("articles_analyzed_total", "Article analyses produced.", func(m *Metrics) int64 { return m.ArticlesAnalyzed }),
			counter("cache_hits_total", "Requests served from a cache.", func(m *Metrics) int64 { return m.CacheHits }),
			counter("cache_misses_total", "Requests that ran the pipeline.", func(m *Metrics) int64 { return m.CacheMisses }),
			newPromMetric("last_processing_seconds", "Duration of the last pipeline run.", prometheus.GaugeValue, func(m *Metrics) float64 {
				return m.LastProcessingTime.Seconds()
			}),
			newPromMetric("average_processing_seconds", "Average pipeline run duration.", prometheus.GaugeValue, func(m *Metrics) float64 {
				return m.AverageProcessingTime.Seconds()
			}),
			newPromMetric("last_run_timestamp_seconds", "Unix time of the last successful run.", prometheus.GaugeValue, func(m *Metrics) float64 {
				if m.LastRunTime.IsZero() {
					return 0
				}
				return float64(m.LastRunTime.Unix())
			}),
			newPromMetric("healthy", "1 when the last pipeline run succeeded.", prometheus.GaugeValue, func(m *Metrics) float64 {
				if m.IsHealthy {
					return 1
				}
				return 0
			}),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, pm := range c.metrics {
		ch <- pm.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()

	for _, pm := range c.metrics {
		ch <- prometheus.MustNewConstMetric(pm.desc, pm.valueType, pm.value(c.m))
	}
}

// NewRegistry returns a registry holding the collector of m.
func NewRegistry(m *Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(m))
	return reg
}
