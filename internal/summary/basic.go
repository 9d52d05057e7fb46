package summary

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deusflow/dailynews/internal/news"
)

var categoryNames = map[news.Category]string{
	news.CategoryFinance:    "📊 FINANCE & ÉCONOMIE",
	news.CategoryAI:         "🤖 INTELLIGENCE ARTIFICIELLE",
	news.CategoryHealthcare: "🏥 SANTÉ & BIOTECH",
	news.CategoryTech:       "💻 TECHNOLOGIE",
	news.CategoryGeneral:    "🌍 ACTUALITÉS GÉNÉRALES",
	news.CategoryEurope:     "🇪🇺 EUROPE",
	news.CategoryFrance:     "🇫🇷 FRANCE",
	news.CategoryMonde:      "🌐 MONDE",
	news.CategoryBourse:     "📈 BOURSE & MARCHÉS",
	news.CategoryAdtech:     "📣 ADTECH & MÉDIAS",
}

// DisplayName is the heading used for c in summaries. Categories outside
// the table get the generic newspaper icon.
func DisplayName(c news.Category) string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "📰 " + strings.ToUpper(string(c))
}

// FormatScore prints a score without a trailing ".0".
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// Excerpt cuts s to at most n runes, adding "..." when it was cut.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

// BasicDaily is the offline daily summary: per category, in order of
// first appearance, the article count and the top three titles.
func BasicDaily(articles []news.Article) string {
	var b strings.Builder
	b.WriteString("# Résumé Quotidien\n\n")

	if len(articles) == 0 {
		b.WriteString("Aucun article important trouvé.\n")
	}

	var order []news.Category
	byCategory := make(map[news.Category][]news.Article)
	for _, a := range articles {
		if _, seen := byCategory[a.Category]; !seen {
			order = append(order, a.Category)
		}
		byCategory[a.Category] = append(byCategory[a.Category], a)
	}

	for _, c := range order {
		arts := byCategory[c]
		fmt.Fprintf(&b, "## %s\n", DisplayName(c))
		fmt.Fprintf(&b, "%d articles importants\n\n", len(arts))
		for i, a := range arts {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "- **%s** (%s, score: %s/10)\n", a.Title, a.SourceName, FormatScore(a.ImportanceScore))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n💡 **Note**: Configurez GEMINI_API_KEY pour des résumés IA détaillés.\n")
	return b.String()
}

// BasicCategory is the offline summary of one category: the top five
// articles with their lead sentences.
func BasicCategory(c news.Category, articles []news.Article) string {
	if len(articles) == 0 {
		return fmt.Sprintf("Aucun article important trouvé dans la catégorie %s.", c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d articles importants dans %s:\n\n", len(articles), c)
	for i, a := range articles {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, a.Title)
		fmt.Fprintf(&b, "   Score: %s/10 | %s\n", FormatScore(a.ImportanceScore), a.SourceName)
		if lead := LeadSentences(a.ContentSnippet, 2, 150); lead != "" {
			fmt.Fprintf(&b, "   %s\n", lead)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// LeadSentences returns up to n sentences of at least 25 bytes from text.
// Without such sentences it falls back to an excerpt of limit runes.
func LeadSentences(text string, n, limit int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	var picked []string
	for _, s := range strings.Split(text, ".") {
		s = strings.TrimSpace(s)
		if len(s) < 25 {
			continue
		}
		picked = append(picked, s)
		if len(picked) >= n {
			break
		}
	}
	if len(picked) == 0 {
		return Excerpt(text, limit)
	}
	return strings.Join(picked, ". ") + "."
}
