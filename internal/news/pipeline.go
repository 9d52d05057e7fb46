package news

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
)

const (
	DefaultMinImportanceScore     = 6.0
	DefaultMaxArticlesPerCategory = 10
	// FallbackCategoryMinScore applies to categories without a tuned floor.
	FallbackCategoryMinScore = 7.0
)

// ErrInvalidOptions is returned by Select for unusable options.
var ErrInvalidOptions = errors.New("invalid pipeline options")

// DefaultMinScore is the per-category floor applied after deduplication.
// Niche categories are more lenient than the headline ones.
func DefaultMinScore(c Category) float64 {
	switch c {
	case CategoryAdtech:
		return 6.0
	case CategoryHealthcare:
		return 6.5
	case CategoryTech, CategoryAI, CategoryEurope, CategoryFrance:
		return 7.0
	case CategoryFinance, CategoryBourse, CategoryMonde, CategoryGeneral:
		return 7.5
	default:
		return FallbackCategoryMinScore
	}
}

// Options tunes one pipeline run.
type Options struct {
	MinImportanceScore     float64
	MaxArticlesPerCategory int
	OnlyYesterday          bool
	// CategoryMinScores overrides DefaultMinScore per category.
	CategoryMinScores   map[Category]float64
	SimilarityThreshold float64

	// Now is the evaluation time; zero means time.Now().
	Now time.Time
	// Location defines calendar days for OnlyYesterday; nil means time.Local.
	Location *time.Location
}

// DefaultOptions mirrors the settings the server runs with.
func DefaultOptions() Options {
	return Options{
		MinImportanceScore:     DefaultMinImportanceScore,
		MaxArticlesPerCategory: DefaultMaxArticlesPerCategory,
		OnlyYesterday:          true,
		SimilarityThreshold:    DefaultSimilarityThreshold,
	}
}

// Validate reports configuration errors. A zero cap or threshold is not an
// error; Select substitutes the defaults.
func (o Options) Validate() error {
	if o.MaxArticlesPerCategory < 0 {
		return fmt.Errorf("%w: maxArticlesPerCategory must be >= 0, got %d", ErrInvalidOptions, o.MaxArticlesPerCategory)
	}
	if !validScore(o.MinImportanceScore) {
		return fmt.Errorf("%w: minImportanceScore must be within [0,10], got %v", ErrInvalidOptions, o.MinImportanceScore)
	}
	if math.IsNaN(o.SimilarityThreshold) || o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarityThreshold must be within [0,1], got %v", ErrInvalidOptions, o.SimilarityThreshold)
	}
	for c, v := range o.CategoryMinScores {
		if !validScore(v) {
			return fmt.Errorf("%w: min score for %q must be within [0,10], got %v", ErrInvalidOptions, c, v)
		}
	}
	return nil
}

func validScore(v float64) bool {
	return !math.IsNaN(v) && v >= MinScore && v <= MaxScore
}

// MinScoreFor resolves the floor of category c.
func (o Options) MinScoreFor(c Category) float64 {
	if v, ok := o.CategoryMinScores[c]; ok {
		return v
	}
	return DefaultMinScore(c)
}

func (o Options) withDefaults() Options {
	if o.MaxArticlesPerCategory == 0 {
		o.MaxArticlesPerCategory = DefaultMaxArticlesPerCategory
	}
	if o.SimilarityThreshold == 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Stats counts articles surviving each stage.
type Stats struct {
	TotalFetched          int `json:"totalFetched"`
	AfterDateFilter       int `json:"afterDateFilter"`
	AfterImportanceFilter int `json:"afterImportanceFilter"`
	AfterDeduplication    int `json:"afterDeduplication"`
	Final                 int `json:"final"`
}

// Result is the outcome of a pipeline run.
type Result struct {
	Articles           []Article              `json:"articles"`
	ArticlesByCategory map[Category][]Article `json:"articlesByCategory"`
	Stats              Stats                  `json:"stats"`

	// Categories lists the keys of ArticlesByCategory in bucket order.
	Categories []Category `json:"-"`
}

// CategoryArticles returns the bucket for c, never nil.
func (r *Result) CategoryArticles(c Category) []Article {
	if r == nil || r.ArticlesByCategory[c] == nil {
		return []Article{}
	}
	return r.ArticlesByCategory[c]
}

// Top returns at most limit of the highest ranked articles.
func (r *Result) Top(limit int) []Article {
	if r == nil || limit <= 0 {
		return []Article{}
	}
	if limit > len(r.Articles) {
		limit = len(r.Articles)
	}
	return r.Articles[:limit]
}

// SourceLookup finds a registered source by name. sources.Registry.Lookup
// is one.
type SourceLookup func(name string) (Source, bool)

// Pipeline turns fetched articles into a ranked, deduplicated,
// category-bounded selection. It holds no per-run state.
type Pipeline struct {
	lookup SourceLookup
	scorer *Scorer
	log    *slog.Logger
}

// NewPipeline matches articles to sources with lookup and scores with the
// keyword lookup. A nil lookup leaves every article unmatched.
func NewPipeline(lookup SourceLookup, keywordsFor func(Category) []string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		lookup: lookup,
		scorer: NewScorer(keywordsFor),
		log:    logger,
	}
}

// sourceFor returns the registered source of a, or a stand-in with the
// default priority and the article's own category.
func (p *Pipeline) sourceFor(a Article) Source {
	if p.lookup != nil {
		if s, ok := p.lookup(a.SourceName); ok {
			return s
		}
	}
	return Source{Name: a.SourceName, Category: a.Category, Priority: DefaultPriority}
}

// Select runs the date filter, scoring, global threshold, ranking,
// deduplication and per-category floor and cap, in that order.
func (p *Pipeline) Select(raw []Article, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	stats := Stats{TotalFetched: len(raw)}

	candidates := raw
	if opts.OnlyYesterday {
		candidates = FilterYesterday(raw, opts.Now, opts.Location)
	}
	stats.AfterDateFilter = len(candidates)

	important := make([]Article, 0, len(candidates))
	for _, a := range candidates {
		a.ImportanceScore = RoundScore(p.scorer.Score(a, p.sourceFor(a), opts.Now))
		if a.ImportanceScore >= opts.MinImportanceScore {
			important = append(important, a)
		}
	}
	stats.AfterImportanceFilter = len(important)
	p.log.Debug("importance filter applied", "min_score", opts.MinImportanceScore, "kept", len(important))

	SortByScore(important)

	unique := Deduplicate(important, opts.SimilarityThreshold)
	stats.AfterDeduplication = len(unique)
	p.log.Debug("deduplication done", "before", len(important), "after", len(unique))

	byCategory := make(map[Category][]Article)
	var order []Category
	for _, a := range unique {
		if a.ImportanceScore < opts.MinScoreFor(a.Category) {
			continue
		}
		bucket, seen := byCategory[a.Category]
		if !seen {
			order = append(order, a.Category)
		}
		if len(bucket) < opts.MaxArticlesPerCategory {
			byCategory[a.Category] = append(bucket, a)
		}
	}

	final := make([]Article, 0, len(unique))
	for _, c := range order {
		p.log.Debug("category selected", "category", c, "count", len(byCategory[c]), "min_score", opts.MinScoreFor(c))
		final = append(final, byCategory[c]...)
	}
	SortByScore(final)
	stats.Final = len(final)

	p.log.Info("selection complete",
		"fetched", stats.TotalFetched,
		"after_date", stats.AfterDateFilter,
		"after_importance", stats.AfterImportanceFilter,
		"after_dedup", stats.AfterDeduplication,
		"final", stats.Final)

	return &Result{
		Articles:           final,
		ArticlesByCategory: byCategory,
		Stats:              stats,
		Categories:         order,
	}, nil
}

// FilterYesterday keeps articles published in [yesterday 00:00, today
// 00:00) of loc, relative to now. Undated articles are dropped.
func FilterYesterday(articles []Article, now time.Time, loc *time.Location) []Article {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	yesterday := time.Date(local.Year(), local.Month(), local.Day()-1, 0, 0, 0, 0, loc)

	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		if !a.HasDate() {
			continue
		}
		if !a.PublishedAt.Before(yesterday) && a.PublishedAt.Before(today) {
			out = append(out, a)
		}
	}
	return out
}

// SortByScore orders articles by descending score; equal scores keep their
// input order.
func SortByScore(articles []Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].ImportanceScore > articles[j].ImportanceScore
	})
}
