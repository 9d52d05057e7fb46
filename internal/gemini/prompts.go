package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/deusflow/dailynews/internal/news"
	"github.com/deusflow/dailynews/internal/summary"
)

const (
	dailyArticles    = 30
	categoryArticles = 15
	marketArticles   = 20
	chatArticles     = 20
	maxAnalysisChars = 6000
)

var ErrInvalidAnalysis = errors.New("could not parse Gemini analysis")

func articleList(articles []news.Article, limit, snippet int, withCategory bool) string {
	if len(articles) > limit {
		articles = articles[:limit]
	}

	var b strings.Builder
	for i, a := range articles {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if withCategory {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, strings.ToUpper(string(a.Category)), a.Title)
			fmt.Fprintf(&b, "   Source: %s | Score: %s/10\n", a.SourceName, summary.FormatScore(a.ImportanceScore))
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a.Title)
			fmt.Fprintf(&b, "   Score: %s/10 | Source: %s\n", summary.FormatScore(a.ImportanceScore), a.SourceName)
		}
		fmt.Fprintf(&b, "   %s", summary.Excerpt(a.ContentSnippet, snippet))
	}
	return b.String()
}

func dailyPrompt(articles []news.Article, language string) string {
	return fmt.Sprintf(`Tu es un analyste financier et technologique expert. Voici les actualités les plus importantes d'hier.

ARTICLES (%d au total, top %d affichés):
%s

MISSION:
Génère un résumé quotidien structuré pour un professionnel de la finance qui se prépare à des entretiens. Le résumé doit être:
1. **Concis mais informatif** (300-400 mots maximum)
2. **Orienté finance et business**, avec l'accent sur l'impact économique
3. **Structuré** avec des sections claires
4. **Actionnable**: pourquoi ces infos sont importantes

STRUCTURE REQUISE:
📊 **FINANCE & ÉCONOMIE**
[2-3 phrases sur les événements financiers majeurs]

🤖 **TECHNOLOGIE & IA**
[2-3 phrases sur les développements tech importants]

🌍 **ÉVÉNEMENTS MAJEURS**
[2-3 phrases sur les autres actualités importantes]

💡 **POINTS CLÉS À RETENIR**
- [3-5 points essentiels à connaître pour un entretien]

Sois précis, factuel et professionnel. Utilise des chiffres quand disponibles.
Langue de la réponse: %s.`,
		len(articles), min(len(articles), dailyArticles),
		articleList(articles, dailyArticles, 200, true),
		language)
}

func categoryPrompt(category news.Category, articles []news.Article, language string) string {
	return fmt.Sprintf(`Tu es un expert en %s. Voici les actualités les plus importantes d'hier dans ce domaine.

ARTICLES (%d au total):
%s

MISSION:
Génère un résumé concis et professionnel (150-200 mots) qui:
1. Identifie les 2-3 tendances ou événements majeurs
2. Explique pourquoi c'est important
3. Donne le contexte nécessaire pour comprendre l'impact
4. Utilise un ton professionnel adapté à un entretien en finance

Sois précis, factuel, et mets l'accent sur l'impact business/économique.
Langue de la réponse: %s.`,
		summary.DisplayName(category), len(articles),
		articleList(articles, categoryArticles, 150, false),
		language)
}

func marketRecapPrompt(articles []news.Article, language string) string {
	return fmt.Sprintf(`Tu es un stratégiste de marché dans une banque d'investissement. Voici les actualités financières et boursières d'hier.

ARTICLES (%d au total):
%s

MISSION:
Rédige un market recap concis (200-300 mots) organisé par classe d'actifs:

📈 **EQUITY**
[indices, secteurs et valeurs qui ont bougé, et pourquoi]

💱 **FX**
[devises majeures et facteurs]

🏦 **CREDIT**
[spreads, émissions, défauts]

📉 **RATES**
[banques centrales, taux souverains, inflation]

Si une classe d'actifs n'est couverte par aucun article, indique-le en une phrase.
Langue de la réponse: %s.`,
		len(articles),
		articleList(articles, marketArticles, 200, true),
		language)
}

func analysisPrompt(article news.Article, language string) string {
	content := article.Content
	if len([]rune(content)) < len([]rune(article.ContentSnippet)) {
		content = article.ContentSnippet
	}
	content = summary.Excerpt(strings.Join(strings.Fields(content), " "), maxAnalysisChars)

	return fmt.Sprintf(`Analyse cet article et fournis une réponse JSON structurée.

ARTICLE:
Titre: %s
Catégorie: %s
Source: %s
Contenu: %s

MISSION:
Fournis une analyse JSON avec:
{
  "summary": "Résumé en 2-3 phrases",
  "keyPoints": ["Point clé 1", "Point clé 2", "Point clé 3"],
  "whyImportant": "Pourquoi c'est important en 1 phrase",
  "impact": "Impact économique/business en 1 phrase"
}

Langue des valeurs: %s.
Réponds UNIQUEMENT avec le JSON, sans texte additionnel.`,
		article.Title, article.Category, article.SourceName, content, language)
}

func chatPrompt(req summary.ChatRequest, language string) string {
	var b strings.Builder
	b.WriteString("Tu es un assistant IA expert en actualités financières, technologiques et mondiales. Tu aides les utilisateurs à comprendre et analyser l'actualité.\n\n")
	fmt.Fprintf(&b, "CONTEXTE - ACTUALITÉS DU JOUR (%s):\n", req.Date.Format("02/01/2006"))
	b.WriteString(articleList(req.Articles, chatArticles, 150, true))
	b.WriteString("\n\n")

	if daily := summary.StripMarkdown(req.DailySummary); daily != "" {
		fmt.Fprintf(&b, "RÉSUMÉ QUOTIDIEN:\n%s\n\n", summary.Excerpt(daily, 500))
	}

	if len(req.History) > 0 {
		b.WriteString("HISTORIQUE DE CONVERSATION:\n")
		for i, msg := range req.History {
			if i > 0 {
				b.WriteString("\n\n")
			}
			speaker := "Assistant"
			if msg.Role == "user" {
				speaker = "Utilisateur"
			}
			fmt.Fprintf(&b, "%s: %s", speaker, msg.Content)
		}
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "QUESTION DE L'UTILISATEUR:\n%s\n\n", req.Message)
	fmt.Fprintf(&b, `INSTRUCTIONS:
1. Réponds en %s de manière professionnelle et concise
2. Utilise les actualités ci-dessus comme contexte principal
3. Si la question porte sur une actualité spécifique, cite la source
4. Si tu ne trouves pas l'info dans les actualités, dis-le clairement
5. Limite ta réponse à 200-300 mots maximum

Réponds maintenant:`, language)
	return b.String()
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// parseAnalysis extracts the JSON object of an analysis answer, which the
// model may wrap in prose or code fences.
func parseAnalysis(text string) (*summary.Analysis, error) {
	raw := jsonObject.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidAnalysis)
	}

	var analysis summary.Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}
	if strings.TrimSpace(analysis.Summary) == "" {
		return nil, fmt.Errorf("%w: empty summary", ErrInvalidAnalysis)
	}
	if analysis.KeyPoints == nil {
		analysis.KeyPoints = []string{}
	}
	return &analysis, nil
}
