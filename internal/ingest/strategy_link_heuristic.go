package ingest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/models"
)

var trailingDate = regexp.MustCompile(`\d{1,2}[/\-]\d{1,2}[/\-]\d{4}`)

// LinkHeuristicStrategy reads a single page without stable markup and keeps
// the links whose text or href looks like a call for projects. The nearest
// list item, div or article around each link provides the summary and the
// deadline.
type LinkHeuristicStrategy struct{}

func (s *LinkHeuristicStrategy) Collect(ctx context.Context, config SourceConfig, f Fetcher, logger *zap.Logger) ([]models.RawRecord, error) {
	pageURL := config.ListingPage()
	body, fetched, err := readAll(ctx, f, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	content := doc.Find("main").First()
	if content.Length() == 0 {
		content = doc.Find("div.content").First()
	}
	if content.Length() == 0 {
		logger.Warn("no main content area, scanning whole page", zap.String("url", pageURL))
		content = doc.Find("body")
	}

	base := config.BaseURL
	if base == "" {
		base = pageURL
	}
	minTitle := config.Links.MinTitleLength
	if minTitle <= 0 {
		minTitle = 10
	}

	var records []models.RawRecord
	seen := make(map[string]bool)
	content.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		title := cleanText(a.Text())
		if !isRelevantLink(href, title, config.Links) {
			return
		}
		if utf8.RuneCountInString(title) < minTitle {
			return
		}

		sourceURL := resolveURL(base, href)
		if seen[sourceURL] {
			return
		}
		seen[sourceURL] = true

		raw := models.RawRecord{
			Title:            title,
			SourceURL:        sourceURL,
			SourceID:         config.ID,
			OrganizationName: config.Defaults.Organization,
			GeoScopeText:     config.Defaults.GeoLabel,
			TargetAudience:   append([]string(nil), config.Defaults.Audience...),
			FetchedAt:        fetched.FetchedAt,
		}

		if container := a.Closest("li, div, article"); container.Length() > 0 {
			text := cleanText(container.Text())
			if utf8.RuneCountInString(text) > utf8.RuneCountInString(title) {
				raw.SummaryText = truncateRunes(strings.TrimSpace(strings.Replace(text, title, "", 1)), models.MaxResumeLength)
			}
			if dates := trailingDate.FindAllString(text, -1); len(dates) > 0 {
				raw.DeadlineText = strings.ReplaceAll(dates[len(dates)-1], "-", "/")
			}
		}

		records = append(records, raw)
	})

	logger.Info("links scanned", zap.String("url", pageURL), zap.Int("records", len(records)))
	return records, nil
}

// isRelevantLink keeps links mentioning an include keyword in href or text,
// and drops navigation links by href.
func isRelevantLink(href, text string, cfg LinkConfig) bool {
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return false
	}
	hrefLower := strings.ToLower(href)
	textLower := strings.ToLower(text)

	matched := len(cfg.Include) == 0
	for _, k := range cfg.Include {
		k = strings.ToLower(k)
		if strings.Contains(hrefLower, k) || strings.Contains(textLower, k) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, e := range cfg.Exclude {
		if strings.Contains(hrefLower, strings.ToLower(e)) {
			return false
		}
	}
	return true
}

// truncateRunes cuts text to at most n runes without an ellipsis.
func truncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
