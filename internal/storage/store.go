// Package storage persists AI article analyses so that a link analyzed
// once is not sent to the model again while its record is fresh.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/summary"
)

// Record is one stored analysis.
type Record struct {
	Hash       string           `json:"hash"`
	Link       string           `json:"link"`
	Title      string           `json:"title"`
	Source     string           `json:"source"`
	Category   news.Category    `json:"category"`
	Analysis   summary.Analysis `json:"analysis"`
	CreatedAt  time.Time        `json:"created_at"`
	LastUsedAt time.Time        `json:"last_used_at"`
	UseCount   int              `json:"use_count"`
}

func newRecord(article news.Article, analysis *summary.Analysis, now time.Time) Record {
	return Record{
		Hash:       HashLink(article.Link),
		Link:       article.Link,
		Title:      article.Title,
		Source:     article.SourceName,
		Category:   article.Category,
		Analysis:   *analysis,
		CreatedAt:  now,
		LastUsedAt: now,
		UseCount:   1,
	}
}

// HashLink creates a stable key for an article link. The scheme, a
// "www." prefix, host case, trailing slashes and fragments are ignored.
func HashLink(link string) string {
	h := sha256.New()
	h.Write([]byte(normalizeLink(link)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func normalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if i := strings.IndexByte(link, '#'); i >= 0 {
		link = link[:i]
	}
	link = strings.TrimPrefix(link, "http://")
	link = strings.TrimPrefix(link, "https://")

	host, path, _ := strings.Cut(link, "/")
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return host
	}
	return host + "/" + path
}
