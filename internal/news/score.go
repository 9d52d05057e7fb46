package news

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloudflare/ahocorasick"
)

const (
	// DefaultPriority is the base score for articles whose source is
	// unknown or has no priority.
	DefaultPriority = 5

	MinScore = 0.0
	MaxScore = 10.0

	keywordPoints    = 0.5
	maxKeywordPoints = 3.0
	titleSignalBonus = 0.5
	freshnessBonus   = 0.5
	numericBonus     = 0.5
	freshnessWindow  = 24 * time.Hour
)

// titleSignals are phrases that mark a headline as high-signal. Each one
// found in the lower-cased title adds half a point.
var titleSignals = []string{
	"breaking", "urgent", "major", "historic", "unprecedented",
	"exclusive", "revealed", "announces", "launches",
	"billion", "trillion", "milliard", "record",
	"exclusif", "historique", "sans précédent", "révélé",
}

var numericData = regexp.MustCompile(`\d+%|\$\d+|\d+\s*(million|billion|trillion|milliard)`)

// KeywordMatcher counts distinct keywords contained in a text. The
// automaton keeps per-match state, so Count is serialized.
type KeywordMatcher struct {
	mu      sync.Mutex
	matcher *ahocorasick.Matcher
	size    int
}

// NewKeywordMatcher builds a matcher over the lower-cased, de-duplicated
// keyword list. Blank keywords are ignored.
func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	seen := make(map[string]struct{}, len(keywords))
	dict := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		dict = append(dict, k)
	}

	km := &KeywordMatcher{size: len(dict)}
	if len(dict) > 0 {
		km.matcher = ahocorasick.NewStringMatcher(dict)
	}
	return km
}

// Len returns the number of distinct keywords.
func (k *KeywordMatcher) Len() int {
	if k == nil {
		return 0
	}
	return k.size
}

// Count returns how many distinct keywords occur in text as substrings.
// text is expected to be lower-cased already.
func (k *KeywordMatcher) Count(text string) int {
	if k == nil || k.matcher == nil || text == "" {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.matcher.Match([]byte(text)))
}

// Scorer computes importance scores. Keyword matchers are built lazily per
// category from keywordsFor and reused across runs.
type Scorer struct {
	keywordsFor func(Category) []string

	mu       sync.Mutex
	matchers map[Category]*KeywordMatcher
}

// NewScorer returns a scorer using keywordsFor as the category keyword
// lookup. A nil lookup disables the keyword signal.
func NewScorer(keywordsFor func(Category) []string) *Scorer {
	return &Scorer{
		keywordsFor: keywordsFor,
		matchers:    make(map[Category]*KeywordMatcher),
	}
}

func (s *Scorer) matcherFor(c Category) *KeywordMatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.matchers[c]; ok {
		return m
	}
	var keywords []string
	if s.keywordsFor != nil {
		keywords = s.keywordsFor(c)
	}
	m := NewKeywordMatcher(keywords)
	s.matchers[c] = m
	return m
}

// Score returns the unrounded importance of a in [0,10] as evaluated at
// now. Missing fields only remove the corresponding bonus.
func (s *Scorer) Score(a Article, src Source, now time.Time) float64 {
	return ScoreArticle(a, src, s.matcherFor(src.Category), now)
}

// ScoreArticle is the additive importance heuristic. Clamping happens once,
// on the final sum.
func ScoreArticle(a Article, src Source, keywords *KeywordMatcher, now time.Time) float64 {
	score := float64(src.Priority)
	if src.Priority <= 0 {
		score = DefaultPriority
	}

	title := strings.ToLower(a.Title)
	body := strings.ToLower(a.Text())
	fullText := title + " " + body

	matches := keywords.Count(fullText)
	score += math.Min(float64(matches)*keywordPoints, maxKeywordPoints)

	length := utf8.RuneCountInString(body)
	if length > 500 {
		score++
	}
	if length > 1000 {
		score++
	}

	for _, signal := range titleSignals {
		if strings.Contains(title, signal) {
			score += titleSignalBonus
		}
	}

	if a.HasDate() && now.Sub(a.PublishedAt) < freshnessWindow {
		score += freshnessBonus
	}

	if numericData.MatchString(fullText) {
		score += numericBonus
	}

	return ClampScore(score)
}

// ClampScore bounds s to [MinScore, MaxScore].
func ClampScore(s float64) float64 {
	if math.IsNaN(s) {
		return MinScore
	}
	return math.Min(math.Max(s, MinScore), MaxScore)
}

// RoundScore rounds s to one decimal place.
func RoundScore(s float64) float64 {
	return math.Round(s*10) / 10
}
