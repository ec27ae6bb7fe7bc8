package ingest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/models"
)

// dottedDate matches listing dates written "31.03.2026".
var dottedDate = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})`)

// HTMLListingStrategy scrapes card-style listing pages described by CSS
// selectors, follows numbered pagination and optionally visits each detail
// page.
type HTMLListingStrategy struct{}

func (s *HTMLListingStrategy) Collect(ctx context.Context, config SourceConfig, f Fetcher, logger *zap.Logger) ([]models.RawRecord, error) {
	if config.Selectors.Container == "" {
		return nil, fmt.Errorf("selector 'container' is required for html_listing strategy")
	}

	maxPages := config.MaxPages
	if maxPages == 0 {
		maxPages = 1
	}

	var pagePattern *regexp.Regexp
	if config.Pagination.PagePattern != "" {
		var err error
		if pagePattern, err = regexp.Compile(config.Pagination.PagePattern); err != nil {
			return nil, fmt.Errorf("invalid page_pattern: %w", err)
		}
	}

	var records []models.RawRecord
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	listing := config.ListingPage()

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		pageURL := listing
		if page > 1 {
			if config.Pagination.PathTemplate == "" {
				break
			}
			pageURL = fmt.Sprintf(config.Pagination.PathTemplate, strings.TrimRight(listing, "/"), page)
		}

		canonPage := CanonicalizeURL(pageURL)
		if visited[canonPage] {
			logger.Info("pagination cycle detected", zap.String("url", canonPage))
			break
		}
		visited[canonPage] = true

		body, fetched, err := readAll(ctx, f, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("fetch listing %s: %w", pageURL, err)
			}
			logger.Warn("listing page failed", zap.Int("page", page), zap.String("url", pageURL), zap.Error(err))
			break
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("parse listing %s: %w", pageURL, err)
			}
			logger.Warn("listing page unparsable", zap.Int("page", page), zap.Error(err))
			break
		}

		cards := parseListingCards(doc, config, pageURL, fetched.FetchedAt)
		added := 0
		for _, card := range cards {
			if seen[card.SourceURL] {
				continue
			}
			seen[card.SourceURL] = true
			records = append(records, card)
			added++
		}
		logger.Info("listing page parsed",
			zap.Int("page", page),
			zap.Int("cards", len(cards)),
			zap.Int("new", added))

		if added == 0 || pagePattern == nil || !hasLaterPage(doc, pagePattern, page) {
			break
		}
	}

	if config.Detail.Enabled {
		for i := range records {
			if err := ctx.Err(); err != nil {
				return records, err
			}
			if err := s.enrichFromDetail(ctx, &records[i], config.Detail, f); err != nil {
				logger.Warn("detail fetch failed", zap.String("url", records[i].SourceURL), zap.Error(err))
			}
		}
	}

	return records, nil
}

// parseListingCards extracts one RawRecord per card container. Cards without
// a title or a link are skipped.
func parseListingCards(doc *goquery.Document, config SourceConfig, pageURL string, fetchedAt time.Time) []models.RawRecord {
	sel := config.Selectors
	linkAttr := sel.LinkAttr
	if linkAttr == "" {
		linkAttr = "href"
	}

	var out []models.RawRecord
	doc.Find(sel.Container).Each(func(_ int, card *goquery.Selection) {
		var link string
		if sel.Link == "" || sel.Link == "." {
			link = strings.TrimSpace(card.AttrOr(linkAttr, ""))
		} else {
			link = strings.TrimSpace(card.Find(sel.Link).First().AttrOr(linkAttr, ""))
		}

		title := ""
		if sel.Title != "" {
			title = cleanText(card.Find(sel.Title).First().Text())
		}
		if title == "" && sel.Link != "" && sel.Link != "." {
			title = cleanText(card.Find(sel.Link).First().Text())
		}
		if title == "" || link == "" {
			return
		}

		raw := models.RawRecord{
			Title:            title,
			SourceURL:        CanonicalizeURL(resolveURL(pageURL, link)),
			SourceID:         config.ID,
			OrganizationName: config.Defaults.Organization,
			GeoScopeText:     config.Defaults.GeoLabel,
			TargetAudience:   append([]string(nil), config.Defaults.Audience...),
			FetchedAt:        fetchedAt,
		}
		if sel.Summary != "" {
			raw.SummaryText = truncateText(cleanText(card.Find(sel.Summary).Text()), models.MaxResumeLength)
		}
		if sel.Publication != "" {
			raw.PublicationDateText = listingDate(card.Find(sel.Publication).Text())
		}
		if sel.Deadline != "" {
			raw.DeadlineText = listingDate(card.Find(sel.Deadline).Text())
		}
		if sel.Organization != "" {
			if org := cleanText(card.Find(sel.Organization).First().Text()); org != "" {
				raw.OrganizationName = org
			}
		}

		out = append(out, raw)
	})
	return out
}

// listingDate rewrites dotted dates to the slash form and keeps any other
// text as-is for the date parser.
func listingDate(text string) string {
	text = cleanText(text)
	if m := dottedDate.FindStringSubmatch(text); m != nil {
		return m[1] + "/" + m[2] + "/" + m[3]
	}
	return text
}

// hasLaterPage reports whether any link on the page points to a page
// number greater than current.
func hasLaterPage(doc *goquery.Document, pattern *regexp.Regexp, current int) bool {
	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		m := pattern.FindStringSubmatch(a.AttrOr("href", ""))
		if len(m) < 2 {
			return true
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > current {
			found = true
			return false
		}
		return true
	})
	return found
}

// enrichFromDetail fetches the record's page and fills description, contact
// and application link. PDF detail pages are read with the PDF extractor.
func (s *HTMLListingStrategy) enrichFromDetail(ctx context.Context, raw *models.RawRecord, config DetailConfig, f Fetcher) error {
	body, fetched, err := readAll(ctx, f, raw.SourceURL)
	if err != nil {
		return err
	}

	if isPDF(fetched.ContentType, body) {
		pdf, err := ExtractPDFText(body)
		if err != nil {
			return err
		}
		if pdf.Text != "" {
			raw.DescriptionText = pdf.Text
		}
		fillFromText(raw, pdf.Text)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return err
	}
	extractDetailContent(raw, config, doc)
	return nil
}

func extractDetailContent(raw *models.RawRecord, config DetailConfig, doc *goquery.Document) {
	content := doc.Find("body")
	if config.Description != "" {
		if found := doc.Find(config.Description); found.Length() > 0 {
			content = found
		}
	}

	if html, err := content.Html(); err == nil {
		if text := stripHTML(html); text != "" {
			raw.DescriptionText = text
		}
	}

	doc.Find(`a[href^="mailto:"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		addr := strings.TrimPrefix(a.AttrOr("href", ""), "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if email := extractEmail(addr); email != "" && raw.ContactEmail == "" {
			raw.ContactEmail = email
			return false
		}
		return true
	})

	if raw.ApplicationURL == "" && config.Application != "" {
		if href := doc.Find(config.Application).First().AttrOr("href", ""); href != "" {
			raw.ApplicationURL = resolveURL(raw.SourceURL, href)
		}
	}
	if raw.ApplicationURL == "" {
		doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			label := strings.ToLower(a.Text())
			if strings.Contains(label, "candidat") || strings.Contains(label, "postuler") || strings.Contains(label, "déposer") {
				raw.ApplicationURL = resolveURL(raw.SourceURL, a.AttrOr("href", ""))
				return false
			}
			return true
		})
	}

	fillFromText(raw, raw.DescriptionText)
}

// fillFromText derives contact, deadline and amounts from free text when the source
// did not state them.
func fillFromText(raw *models.RawRecord, text string) {
	if text == "" {
		return
	}
	if raw.ContactEmail == "" {
		raw.ContactEmail = extractEmail(text)
	}
	if raw.DeadlineText == "" {
		raw.DeadlineText = deadlineMention(text)
	}
	if raw.AmountMin == nil && raw.AmountMax == nil {
		raw.AmountMin, raw.AmountMax = parseAmountRange(amountContext(text))
	}
}

// amountContext narrows text to the sentences that talk about money, so
// dates and phone numbers are not read as amounts.
func amountContext(text string) string {
	var parts []string
	text = strings.NewReplacer(";", ". ", "\n", ". ").Replace(text)
	for _, sentence := range strings.Split(text, ". ") {
		lower := strings.ToLower(sentence)
		if strings.Contains(lower, "€") || strings.Contains(lower, "euro") || strings.Contains(lower, "montant") || strings.Contains(lower, "subvention") {
			parts = append(parts, sentence)
		}
	}
	return strings.Join(parts, " ")
}

func isPDF(contentType string, body []byte) bool {
	return strings.Contains(strings.ToLower(contentType), "application/pdf") || bytes.HasPrefix(body, []byte("%PDF-"))
}
