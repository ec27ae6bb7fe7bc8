package ingest

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrNotPDF        = errors.New("content is not a PDF document")
)

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// IngestionStats holds metrics about one connector run.
type IngestionStats struct {
	SourceID   string
	TotalFound int
	TotalSaved int
	Skipped    int
	Errors     int
	Duration   time.Duration
}

func readAll(ctx context.Context, f Fetcher, url string) ([]byte, *FetchedDocument, error) {
	doc, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	defer doc.Body.Close()
	body, err := io.ReadAll(doc.Body)
	if err != nil {
		return nil, doc, err
	}
	return body, doc, nil
}
