package app

import (
	"context"
	"errors"
	"time"

	"github.com/deusflow/dailynews/internal/news"
)

// digestArticles is how many top articles go into the published digest.
const digestArticles = 10

var ErrNotifierUnavailable = errors.New("digest notifier not configured")

// Notifier publishes the daily digest. telegram.Client implements it.
type Notifier interface {
	SendDigest(ctx context.Context, daily string, articles []news.Article, date time.Time) error
}

type DigestReport struct {
	ArticlesCount int       `json:"articlesCount"`
	AIGenerated   bool      `json:"aiGenerated"`
	SentAt        time.Time `json:"sentAt"`
}

// SendDigest publishes the daily summary and the top articles of the
// current selection.
func (s *Service) SendDigest(ctx context.Context) (*DigestReport, error) {
	if s.notifier == nil {
		return nil, ErrNotifierUnavailable
	}

	result, _, err := s.News(ctx, false)
	if err != nil {
		return nil, err
	}
	sums, err := s.Summaries(ctx, false)
	if err != nil {
		return nil, err
	}

	top := result.Top(digestArticles)
	now := s.now()
	if err := s.notifier.SendDigest(ctx, sums.Daily, top, now); err != nil {
		return nil, err
	}

	s.log.Info("digest published", "articles", len(top), "ai", sums.AIGenerated)
	return &DigestReport{ArticlesCount: len(top), AIGenerated: sums.AIGenerated, SentAt: now}, nil
}
