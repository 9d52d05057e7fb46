package app

import (
	"context"

	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/summary"
)

// AnalysisStore persists article analyses by link. storage.FileStore and
// storage.PostgresStore implement it.
type AnalysisStore interface {
	Get(ctx context.Context, link string) (*summary.Analysis, bool, error)
	Put(ctx context.Context, article news.Article, analysis *summary.Analysis) error
}

// storedAnalysis looks link up in the store. Store errors count as a miss.
func (s *Service) storedAnalysis(ctx context.Context, link string) (*summary.Analysis, bool) {
	if s.store == nil {
		return nil, false
	}
	analysis, ok, err := s.store.Get(ctx, link)
	if err != nil {
		s.log.Warn("analysis store lookup failed", "link", link, "error", err)
		return nil, false
	}
	if ok {
		s.metrics.IncrementCacheHits()
	}
	return analysis, ok
}

func (s *Service) saveAnalysis(ctx context.Context, article news.Article, analysis *summary.Analysis) {
	if s.store == nil {
		return
	}
	if err := s.store.Put(ctx, article, analysis); err != nil {
		s.log.Warn("failed to store analysis", "link", article.Link, "error", err)
	}
}
