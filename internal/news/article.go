package news

import (
	"strings"
	"time"
)

// Category is a topical bucket shared by sources and selected articles.
type Category string

const (
	CategoryFinance    Category = "finance"
	CategoryAI         Category = "ai"
	CategoryHealthcare Category = "healthcare"
	CategoryTech       Category = "tech"
	CategoryGeneral    Category = "general"
	CategoryEurope     Category = "europe"
	CategoryFrance     Category = "france"
	CategoryMonde      Category = "monde"
	CategoryBourse     Category = "bourse"
	CategoryAdtech     Category = "adtech"
)

var allCategories = []Category{
	CategoryFinance,
	CategoryAI,
	CategoryHealthcare,
	CategoryTech,
	CategoryGeneral,
	CategoryEurope,
	CategoryFrance,
	CategoryMonde,
	CategoryBourse,
	CategoryAdtech,
}

// AllCategories returns every known category in display order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory resolves a case-insensitive category name.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", false
	}
	return c, true
}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// Article is a single feed item, enriched with an importance score once
// it went through a pipeline run.
type Article struct {
	Title          string    `json:"title"`
	Link           string    `json:"link"`
	PublishedAt    time.Time `json:"pubDate"`
	Content        string    `json:"content"`
	ContentSnippet string    `json:"contentSnippet"`
	SourceName     string    `json:"source"`
	Category       Category  `json:"category"`
	Author         string    `json:"author,omitempty"`
	Image          string    `json:"image,omitempty"`

	ImportanceScore float64 `json:"importanceScore"`
}

// HasDate reports whether the publication timestamp was parsed.
func (a Article) HasDate() bool {
	return !a.PublishedAt.IsZero()
}

// Text returns the short body used for scoring: the snippet, or the raw
// content when the feed provided no snippet.
func (a Article) Text() string {
	if a.ContentSnippet != "" {
		return a.ContentSnippet
	}
	return a.Content
}

// Source is a statically configured RSS feed.
type Source struct {
	Name        string   `json:"name" yaml:"name"`
	URL         string   `json:"url" yaml:"url"`
	Category    Category `json:"category" yaml:"category"`
	Priority    int      `json:"priority" yaml:"priority"`
	Description string   `json:"description,omitempty" yaml:"description"`
}
