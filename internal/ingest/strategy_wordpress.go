package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/models"
)

// WordPressStrategy reads posts from a WordPress REST API
// (/wp-json/wp/v2/posts).
type WordPressStrategy struct{}

type wpPost struct {
	ID    int    `json:"id"`
	Date  string `json:"date"`
	Link  string `json:"link"`
	Title struct {
		Rendered string `json:"rendered"`
	} `json:"title"`
	Content struct {
		Rendered string `json:"rendered"`
	} `json:"content"`
	Excerpt struct {
		Rendered string `json:"rendered"`
	} `json:"excerpt"`
	Status string `json:"status"`
}

func (s *WordPressStrategy) Collect(ctx context.Context, config SourceConfig, f Fetcher, logger *zap.Logger) ([]models.RawRecord, error) {
	apiURL, err := wpPostsURL(config.BaseURL)
	if err != nil {
		return nil, err
	}

	maxPages := config.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}
	const perPage = 20

	var records []models.RawRecord
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		pagedURL := fmt.Sprintf("%s?page=%d&per_page=%d", apiURL, page, perPage)
		body, fetched, err := readAll(ctx, f, pagedURL)
		if err != nil {
			// WordPress answers 400 past the last page.
			if page > 1 && (strings.Contains(err.Error(), "400") || strings.Contains(err.Error(), "404")) {
				break
			}
			if page == 1 {
				return nil, fmt.Errorf("fetch posts: %w", err)
			}
			logger.Warn("posts page failed", zap.Int("page", page), zap.Error(err))
			break
		}

		var posts []wpPost
		if err := json.Unmarshal(body, &posts); err != nil {
			if page == 1 {
				return nil, fmt.Errorf("decode posts: %w", err)
			}
			logger.Warn("posts page undecodable", zap.Int("page", page), zap.Error(err))
			break
		}
		if len(posts) == 0 {
			break
		}

		for _, post := range posts {
			if post.Status != "" && post.Status != "publish" {
				continue
			}
			records = append(records, mapWPPost(post, config, fetched))
		}
		logger.Info("posts page fetched", zap.Int("page", page), zap.Int("posts", len(posts)))

		if len(posts) < perPage {
			break
		}
	}

	return records, nil
}

func wpPostsURL(base string) (string, error) {
	if strings.Contains(base, "wp-json") {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", base)
	}
	return strings.TrimRight(u.String(), "/") + "/wp-json/wp/v2/posts", nil
}

func mapWPPost(post wpPost, config SourceConfig, fetched *FetchedDocument) models.RawRecord {
	description := stripHTML(post.Content.Rendered)
	raw := models.RawRecord{
		Title:               stripHTML(post.Title.Rendered),
		SourceURL:           CanonicalizeURL(post.Link),
		SourceID:            config.ID,
		PublicationDateText: isoDay(post.Date),
		OrganizationName:    config.Defaults.Organization,
		SummaryText:         truncateText(stripHTML(post.Excerpt.Rendered), models.MaxResumeLength),
		DescriptionText:     description,
		GeoScopeText:        config.Defaults.GeoLabel,
		TargetAudience:      append([]string(nil), config.Defaults.Audience...),
		FetchedAt:           fetched.FetchedAt,
	}
	if urls := extractURLs(post.Content.Rendered); len(urls) > 0 {
		for _, u := range urls {
			if strings.Contains(u, "candidat") || strings.Contains(u, "formulaire") {
				raw.ApplicationURL = u
				break
			}
		}
	}
	fillFromText(&raw, description)
	return raw
}
