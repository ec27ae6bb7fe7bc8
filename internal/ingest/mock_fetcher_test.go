package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// MockFetcher serves canned bodies by exact URL and records every request.
type MockFetcher struct {
	Data  map[string][]byte
	Types map[string]string

	mu    sync.Mutex
	Calls []string
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, url)
	m.mu.Unlock()

	content, ok := m.Data[url]
	if !ok {
		return nil, fmt.Errorf("mock 404: %s", url)
	}
	return &FetchedDocument{
		URL:         url,
		StatusCode:  200,
		ContentType: m.Types[url],
		Body:        io.NopCloser(bytes.NewReader(content)),
		Headers:     make(http.Header),
		FetchedAt:   parseTimeOrNow("2026-03-01T08:00:00Z"),
	}, nil
}

func parseTimeOrNow(s string) (t time.Time) {
	t, _ = time.Parse(time.RFC3339, s)
	if t.IsZero() {
		t = time.Now()
	}
	return
}
