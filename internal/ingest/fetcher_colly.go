package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// CollyFetcher implements Fetcher using Colly. It honors robots.txt and
// applies a per-domain delay, which suits HTML listings that paginate over
// many pages of the same host.
type CollyFetcher struct {
	UserAgent         string
	MaxRetries        int
	RequestTimeout    time.Duration
	DomainDelay       time.Duration
	RandomDelayFactor float64
	MaxBodySize       int // bytes, 0 = unlimited
	IgnoreRobotsTxt   bool
	AcceptLanguage    string

	logger *zap.Logger
}

// NewCollyFetcher creates a CollyFetcher from a source's fetch settings.
func NewCollyFetcher(cfg FetchConfig, logger *zap.Logger) *CollyFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &CollyFetcher{
		UserAgent:         userAgent,
		MaxRetries:        3,
		RequestTimeout:    30 * time.Second,
		DomainDelay:       time.Second,
		RandomDelayFactor: 0.5,
		MaxBodySize:       10 * 1024 * 1024,
		AcceptLanguage:    defaultAcceptLanguage,
		logger:            logger.Named("colly"),
	}
	if cfg.TimeoutSeconds > 0 {
		f.RequestTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.RateLimitRPS > 0 {
		f.DomainDelay = time.Duration(float64(time.Second) / cfg.RateLimitRPS)
	}
	if cfg.MaxRetries > 0 {
		f.MaxRetries = cfg.MaxRetries
	}
	if cfg.AcceptLanguage != "" {
		f.AcceptLanguage = cfg.AcceptLanguage
	}
	return f
}

func (f *CollyFetcher) buildCollector(ctx context.Context, domain string) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
		colly.AllowedDomains(domain),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	}
	if f.IgnoreRobotsTxt {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}

	c := colly.NewCollector(opts...)
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       f.DomainDelay,
		RandomDelay: time.Duration(float64(f.DomainDelay) * f.RandomDelayFactor),
	})
	c.SetRequestTimeout(f.RequestTimeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", f.AcceptLanguage)
	})
	return c
}

// Fetch visits targetURL synchronously and returns the buffered response.
func (f *CollyFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	c := f.buildCollector(ctx, parsedURL.Hostname())

	var (
		result   *FetchedDocument
		fetchErr error
	)

	c.OnResponse(func(r *colly.Response) {
		fetchErr = nil
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
			Headers:     map[string][]string(r.Headers.Clone()),
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if !retryable(err, r.StatusCode) && r.StatusCode != 0 {
			return
		}
		retries, _ := r.Request.Ctx.GetAny("retries").(int)
		if retries >= f.MaxRetries || ctx.Err() != nil {
			return
		}
		r.Request.Ctx.Put("retries", retries+1)
		f.logger.Debug("retrying",
			zap.String("url", r.Request.URL.String()),
			zap.Int("attempt", retries+1),
			zap.Int("status", r.StatusCode),
			zap.Error(err))
		time.Sleep(time.Duration(retries+1) * time.Second)
		_ = r.Request.Retry()
	})

	if err := c.Visit(targetURL); err != nil && fetchErr == nil {
		return nil, fmt.Errorf("visit failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", targetURL, fetchErr)
	}
	if result == nil {
		return nil, fmt.Errorf("no response received for %s", targetURL)
	}
	return result, nil
}
