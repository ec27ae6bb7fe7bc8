package ingest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLocalFetcher returns a fetcher that may reach httptest servers and
// retries without waiting.
func newLocalFetcher(t *testing.T, maxRetries int) *RateLimitedFetcher {
	t.Helper()
	f := NewRateLimitedFetcher(FetchConfig{RateLimitRPS: 1000, MaxRetries: maxRetries, TimeoutSeconds: 5}, nil)
	f.AllowPrivate = true
	f.Backoff = time.Millisecond
	t.Cleanup(f.Close)
	return f
}

func TestRateLimitedFetcher_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			assert.Equal(t, defaultAcceptLanguage, r.Header.Get("Accept-Language"))
			assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, "<h1>Appels à projets</h1>")
		}
	}))
	defer srv.Close()

	doc, err := newLocalFetcher(t, 3).Fetch(context.Background(), srv.URL+"/appels")
	require.NoError(t, err)
	defer doc.Body.Close()

	body, err := io.ReadAll(doc.Body)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Appels à projets</h1>", string(body))
	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", doc.ContentType)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRateLimitedFetcher_StatusHandling(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		hits    int32
		wantErr string
	}{
		{"server errors exhaust retries", http.StatusBadGateway, 3, "giving up after 3 attempts"},
		{"not found is final", http.StatusNotFound, 1, "unexpected status 404"},
		{"forbidden is final", http.StatusForbidden, 1, "unexpected status 403"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newLocalFetcher(t, 2).Fetch(context.Background(), srv.URL)
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Equal(t, tt.hits, hits.Load())
		})
	}
}

func TestRateLimitedFetcher_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newLocalFetcher(t, 3)
	f.Backoff = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimitedFetcher_RefusesInternalAddresses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := NewRateLimitedFetcher(FetchConfig{RateLimitRPS: 1000, MaxRetries: 2}, nil)
	f.Backoff = time.Millisecond
	defer f.Close()

	for _, target := range []string{srv.URL, "http://localhost:1/", "http://[::1]:1/", "http://169.254.169.254/latest/meta-data"} {
		_, err := f.Fetch(context.Background(), target)
		assert.ErrorIs(t, err, ErrBlockedAddress, target)
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestRateLimitedFetcher_CheckRedirect(t *testing.T) {
	f := NewRateLimitedFetcher(FetchConfig{}, nil)
	defer f.Close()

	redirect := func(raw string) *http.Request {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return (&http.Request{URL: u}).WithContext(context.Background())
	}

	assert.ErrorIs(t, f.checkRedirect(redirect("http://10.0.0.1/admin"), nil), ErrBlockedAddress)
	assert.ErrorIs(t, f.checkRedirect(redirect("https://intranet.local/"), nil), ErrBlockedAddress)
	assert.ErrorContains(t, f.checkRedirect(redirect("ftp://93.184.216.34/file"), nil), "scheme blocked")
	assert.NoError(t, f.checkRedirect(redirect("https://93.184.216.34/aap"), nil))

	via := make([]*http.Request, maxRedirects)
	assert.ErrorContains(t, f.checkRedirect(redirect("https://93.184.216.34/aap"), via), "stopped after")
}

func TestBlockedAddr(t *testing.T) {
	tests := []struct {
		addr    string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.10", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"::ffff:10.0.0.1", true},
		{"93.184.216.34", false},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.blocked, blockedAddr(netip.MustParseAddr(tt.addr)))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(nil, http.StatusTooManyRequests))
	assert.True(t, retryable(nil, http.StatusGatewayTimeout))
	assert.False(t, retryable(nil, http.StatusNotFound))
	assert.False(t, retryable(ErrBlockedAddress, 0))
	assert.True(t, retryable(&url.Error{Op: "Get", URL: "https://x", Err: context.DeadlineExceeded}, 0))
}
