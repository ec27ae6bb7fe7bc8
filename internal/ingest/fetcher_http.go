package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	userAgent             = "AAP-Watch/1.0 (+https://github.com/david/aap-watch)"
	defaultAcceptLanguage = "fr-FR,fr;q=0.9,en;q=0.5"
	defaultBackoff        = 500 * time.Millisecond
	maxRedirects          = 10
)

// ErrBlockedAddress is returned when a URL or redirect points at a loopback,
// private or otherwise internal address.
var ErrBlockedAddress = errors.New("blocked internal address")

// Ranges not covered by the netip.Addr predicates.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
}

// RateLimitedFetcher is the default Fetcher. Each domain gets its own client
// and ticker, transient failures are retried with exponential backoff, and
// connections to internal addresses are refused unless AllowPrivate is set.
type RateLimitedFetcher struct {
	// AllowPrivate lets requests reach loopback and private networks.
	AllowPrivate bool
	// Backoff is the delay before the first retry; it doubles on each
	// further attempt.
	Backoff time.Duration

	defaults FetchConfig
	configs  map[string]FetchConfig
	domains  map[string]*domainState
	resolver *net.Resolver
	logger   *zap.Logger
	mu       sync.Mutex
}

type domainState struct {
	client *http.Client
	ticker *time.Ticker
	config FetchConfig
}

func NewRateLimitedFetcher(defaults FetchConfig, logger *zap.Logger) *RateLimitedFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.TimeoutSeconds <= 0 {
		defaults.TimeoutSeconds = 30
	}
	if defaults.MaxRetries <= 0 {
		defaults.MaxRetries = 3
	}
	if defaults.RateLimitRPS <= 0 {
		defaults.RateLimitRPS = 1.0
	}
	if defaults.AcceptLanguage == "" {
		defaults.AcceptLanguage = defaultAcceptLanguage
	}

	return &RateLimitedFetcher{
		Backoff:  defaultBackoff,
		defaults: defaults,
		configs:  make(map[string]FetchConfig),
		domains:  make(map[string]*domainState),
		resolver: net.DefaultResolver,
		logger:   logger.Named("fetch"),
	}
}

// Configure registers source-specific settings for the domain of rawURL.
// Zero fields fall back to the fetcher defaults. It must be called before
// the first request to that domain.
func (f *RateLimitedFetcher) Configure(rawURL string, cfg FetchConfig) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	merged := f.defaults
	if cfg.TimeoutSeconds > 0 {
		merged.TimeoutSeconds = cfg.TimeoutSeconds
	}
	if cfg.MaxRetries > 0 {
		merged.MaxRetries = cfg.MaxRetries
	}
	if cfg.RateLimitRPS > 0 {
		merged.RateLimitRPS = cfg.RateLimitRPS
	}
	if cfg.ProxyURL != "" {
		merged.ProxyURL = cfg.ProxyURL
	}
	if cfg.AcceptLanguage != "" {
		merged.AcceptLanguage = cfg.AcceptLanguage
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[u.Host] = merged
	return nil
}

// Close stops the per-domain rate limiters.
func (f *RateLimitedFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.domains {
		d.ticker.Stop()
	}
}

// Fetch implements Fetcher. Only a 200 response is a document; 429 and 5xx
// answers and network timeouts are retried up to MaxRetries times.
func (f *RateLimitedFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	d := f.domain(u.Host)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.ticker.C:
	}

	var lastErr error
	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.backoff(attempt)):
			}
		}

		doc, err := f.get(ctx, d, rawURL)
		if err == nil {
			return doc, nil
		}
		var se *statusError
		status := 0
		if errors.As(err, &se) {
			status = se.code
		}
		if !retryable(err, status) {
			return nil, err
		}
		lastErr = err
		f.logger.Debug("retrying", zap.String("url", rawURL), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", d.config.MaxRetries+1, lastErr)
}

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.code, e.url)
}

func (f *RateLimitedFetcher) get(ctx context.Context, d *domainState, rawURL string) (*FetchedDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json,application/pdf;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", d.config.AcceptLanguage)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &statusError{url: rawURL, code: resp.StatusCode}
	}
	return &FetchedDocument{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
		FetchedAt:   time.Now(),
		Headers:     resp.Header,
	}, nil
}

func (f *RateLimitedFetcher) backoff(attempt int) time.Duration {
	base := f.Backoff
	if base <= 0 {
		base = defaultBackoff
	}
	return base<<(attempt-1) + rand.N(base/5+1)
}

// domain returns the client and limiter of host, creating them on first use.
func (f *RateLimitedFetcher) domain(host string) *domainState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.domains[host]; ok {
		return d
	}

	cfg, ok := f.configs[host]
	if !ok {
		cfg = f.defaults
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           f.dialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	interval := time.Duration(float64(time.Second) / cfg.RateLimitRPS)
	if interval <= 0 {
		interval = time.Second
	}

	d := &domainState{
		client: &http.Client{
			Timeout:       time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport:     transport,
			CheckRedirect: f.checkRedirect,
		},
		ticker: time.NewTicker(interval),
		config: cfg,
	}
	f.domains[host] = d
	return d
}

// dialContext resolves addr once, checks every address and dials the
// checked ones, so a second lookup cannot swap in an internal address.
func (f *RateLimitedFetcher) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	addrs, err := f.checkHost(ctx, host)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	var lastErr error
	for _, a := range addrs {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(a.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *RateLimitedFetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to %q scheme blocked", req.URL.Scheme)
	}
	_, err := f.checkHost(req.Context(), req.URL.Hostname())
	return err
}

// checkHost resolves host and fails with ErrBlockedAddress when any of its
// addresses is internal.
func (f *RateLimitedFetcher) checkHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if host == "" {
		return nil, errors.New("missing host")
	}
	lower := strings.ToLower(host)
	if !f.AllowPrivate && (lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".local")) {
		return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}

	var addrs []netip.Addr
	if a, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{a}
	} else {
		addrs, err = f.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, err
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%s resolved to no addresses", host)
	}
	if f.AllowPrivate {
		return addrs, nil
	}
	for _, a := range addrs {
		if blockedAddr(a) {
			return nil, fmt.Errorf("%w: %s resolves to %s", ErrBlockedAddress, host, a)
		}
	}
	return addrs, nil
}

func blockedAddr(a netip.Addr) bool {
	a = a.Unmap()
	if !a.IsValid() || a.IsLoopback() || a.IsPrivate() || a.IsUnspecified() ||
		a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() || a.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// retryable reports whether a failed request is worth another attempt.
func retryable(err error, status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	var netErr net.Error
	return err != nil && errors.As(err, &netErr) && netErr.Timeout()
}
