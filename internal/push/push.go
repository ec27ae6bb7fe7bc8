// Package push delivers exported records to external record-keeping
// systems: CSV and JSON files, a Google Sheets spreadsheet and MongoDB.
package push

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/david/aap-watch/internal/models"
)

// Pusher sends a full export to one target. Rows are in the order they
// should appear in the target.
type Pusher interface {
	Push(ctx context.Context, rows []models.ExportRow) (Result, error)
}

// Result summarizes a push.
type Result struct {
	Target   string
	Rows     int
	Inserted int
	Updated  int
	Batches  int
}

// tableValues renders the header followed by one line per row, in
// ExportColumns order.
func tableValues(rows []models.ExportRow) [][]string {
	values := make([][]string, 0, len(rows)+1)
	values = append(values, append([]string(nil), models.ExportColumns...))
	for _, row := range rows {
		values = append(values, row.Strings())
	}
	return values
}

// RetryOptions configures withRetry.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// withRetry runs op until it succeeds, the attempts are exhausted or ctx is
// done. The delay grows by Multiplier after each failure.
func withRetry(ctx context.Context, logger *zap.Logger, op func() error, opts RetryOptions) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}

	delay := opts.InitialDelay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if attempt == opts.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		logger.Warn("operation failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * opts.Multiplier)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
