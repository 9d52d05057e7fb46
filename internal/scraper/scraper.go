package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	nurl "net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
)

const (
	defaultTimeout = 15 * time.Second
	maxPageBytes   = 5 << 20
	maxContentLen  = 1800
	trimContentLen = 1600
)

var ErrNoContent = errors.New("no article content found")

// Page is the readable part of an article page.
type Page struct {
	Title   string
	Content string
	URL     string
}

type Scraper struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

// New returns a scraper. A nil client gets a 15s timeout.
func New(client *http.Client, userAgent string, logger *slog.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{client: client, userAgent: userAgent, log: logger}
}

// Extract gets the title and paragraph text of the page at url.
func (s *Scraper) Extract(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}

	page := ParseDocument(doc, url)
	if page.Content == "" {
		// Pages without paragraph markup go through readability.
		page.Content = readableContent(raw, url)
		if page.Content != "" {
			s.log.Debug("content extracted with readability", "url", url)
		}
	}
	if page.Content == "" {
		return nil, fmt.Errorf("%s: %w", url, ErrNoContent)
	}
	s.log.Debug("page extracted", "url", url, "chars", len(page.Content))
	return page, nil
}

// ParseDocument extracts a Page from an already parsed document.
func ParseDocument(doc *goquery.Document, url string) *Page {
	doc.Find("script, style, noscript, nav, footer, aside, form").Remove()
	return &Page{
		Title:   extractTitle(doc),
		Content: cleanContent(extractContent(doc)),
		URL:     url,
	}
}

// extractContent tries common article selectors, widest last, and stops
// at the first one yielding three paragraphs.
func extractContent(doc *goquery.Document) string {
	selectors := []string{
		"article p",
		".article-body p",
		".article p",
		".content p",
		".post-content p",
		".entry-content p",
		"main p",
		"#content p",
		".text p",
		"p",
	}

	var best []string
	for _, selector := range selectors {
		var paragraphs []string
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			text := strings.Join(strings.Fields(s.Text()), " ")
			if len(text) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > len(best) {
			best = paragraphs
		}
		if len(best) >= 3 {
			break
		}
	}

	return strings.Join(best, "\n\n")
}

// readableContent runs go-readability over the raw page and returns its
// text split into paragraphs, cleaned like the selector output.
func readableContent(raw []byte, pageURL string) string {
	u, _ := nurl.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(raw), u)
	if err != nil {
		return ""
	}

	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return ""
	}

	var paragraphs []string
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			paragraphs = append(paragraphs, line)
		}
	}
	return cleanContent(strings.Join(paragraphs, "\n\n"))
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}

	selectors := []string{
		"h1",
		".article-title",
		".headline",
		".entry-title",
		"title",
	}

	for _, selector := range selectors {
		title := strings.TrimSpace(doc.Find(selector).First().Text())
		if title != "" {
			return title
		}
	}
	return ""
}

var junkIndicators = []string{
	"cookie", "gdpr", "newsletter", "subscribe", "sign up", "log in",
	"advertisement", "read more", "share this", "all rights reserved",
	"abonnez-vous", "lire aussi", "publicité", "connectez-vous",
}

// cleanContent drops boilerplate paragraphs and bounds the length on a
// paragraph boundary.
func cleanContent(content string) string {
	if content == "" {
		return ""
	}

	var kept []string
	for _, paragraph := range strings.Split(content, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if len(paragraph) < 30 {
			continue
		}
		lower := strings.ToLower(paragraph)
		junk := false
		for _, indicator := range junkIndicators {
			if strings.Contains(lower, indicator) {
				junk = true
				break
			}
		}
		if !junk {
			kept = append(kept, paragraph)
		}
	}

	result := strings.Join(kept, "\n\n")
	if len(result) <= maxContentLen {
		return result
	}

	var selected []string
	total := 0
	for _, paragraph := range kept {
		if total+len(paragraph) >= trimContentLen {
			break
		}
		selected = append(selected, paragraph)
		total += len(paragraph) + 2
	}
	if len(selected) == 0 {
		return truncateRunes(kept[0], trimContentLen)
	}
	return strings.Join(selected, "\n\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
