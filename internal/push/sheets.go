package push

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/david/aap-watch/internal/models"
)

// SheetsConfig holds the Google Sheets target settings. Authentication is
// either a service account key file or an OAuth2 refresh token.
type SheetsConfig struct {
	ServiceAccountPath string
	ClientID           string
	ClientSecret       string
	RefreshToken       string

	SpreadsheetID string
	SheetName     string
	BatchSize     int
	RetryAttempts int
	RetryDelay    time.Duration
}

func DefaultSheetsConfig() SheetsConfig {
	return SheetsConfig{
		SheetName:     "AAP",
		BatchSize:     500,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

func (c SheetsConfig) Validate() error {
	hasOAuth := c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
	hasServiceAccount := c.ServiceAccountPath != ""

	if !hasOAuth && !hasServiceAccount {
		return errors.New("no Google Sheets authentication configured: set a service account path or OAuth2 credentials")
	}
	if hasOAuth && hasServiceAccount {
		return errors.New("multiple Google Sheets authentication methods configured; use either OAuth2 or a service account")
	}
	if c.SpreadsheetID == "" {
		return errors.New("spreadsheet id is required")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if c.RetryAttempts < 0 {
		return errors.New("retry attempts cannot be negative")
	}
	return nil
}

// NewSheetsService builds an authenticated Sheets API client.
func NewSheetsService(ctx context.Context, cfg SheetsConfig) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if cfg.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(cfg.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		client := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}
		tokenSource = client.TokenSource(ctx, &oauth2.Token{
			RefreshToken: cfg.RefreshToken,
			TokenType:    "Bearer",
		})
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource)))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	return srv, nil
}

// SheetsPusher replaces the content of one sheet with the export.
type SheetsPusher struct {
	service *sheets.Service
	config  SheetsConfig
	logger  *zap.Logger

	// OnBatch is called with the number of data rows written by each batch.
	OnBatch func(rows int)
}

func NewSheetsPusher(service *sheets.Service, cfg SheetsConfig, logger *zap.Logger) (*SheetsPusher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sheets config: %w", err)
	}
	return &SheetsPusher{
		service: service,
		config:  cfg,
		logger:  nopIfNil(logger).Named("push.sheets"),
	}, nil
}

func (p *SheetsPusher) Push(ctx context.Context, rows []models.ExportRow) (Result, error) {
	res := Result{Target: "sheets", Rows: len(rows)}
	p.logger.Info("pushing to spreadsheet",
		zap.String("spreadsheet_id", p.config.SpreadsheetID),
		zap.String("sheet", p.config.SheetName),
		zap.Int("rows", len(rows)))

	retryOpts := RetryOptions{
		MaxAttempts:  p.config.RetryAttempts,
		InitialDelay: p.config.RetryDelay,
	}

	if err := withRetry(ctx, p.logger, func() error { return p.clearSheet(ctx) }, retryOpts); err != nil {
		return res, fmt.Errorf("failed to clear sheet: %w", err)
	}

	values := tableValues(rows)
	for start := 0; start < len(values); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(values))
		batch := values[start:end]

		err := withRetry(ctx, p.logger, func() error {
			return p.writeBatch(ctx, start, batch)
		}, retryOpts)
		if err != nil {
			return res, fmt.Errorf("failed to write batch starting at row %d: %w", start+1, err)
		}
		res.Batches++

		written := len(batch)
		if start == 0 {
			written-- // header
		}
		res.Inserted += written
		if p.OnBatch != nil {
			p.OnBatch(written)
		}
		p.logger.Debug("wrote batch", zap.Int("start_row", start+1), zap.Int("rows", len(batch)))
	}

	p.logger.Info("push completed", zap.Int("rows_written", res.Inserted), zap.Int("batches", res.Batches))
	return res, nil
}

func (p *SheetsPusher) clearSheet(ctx context.Context) error {
	_, err := p.service.Spreadsheets.Values.
		Clear(p.config.SpreadsheetID, p.config.SheetName, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	return err
}

func (p *SheetsPusher) writeBatch(ctx context.Context, start int, batch [][]string) error {
	rangeStr := fmt.Sprintf("%s!A%d", p.config.SheetName, start+1)
	_, err := p.service.Spreadsheets.Values.
		Update(p.config.SpreadsheetID, rangeStr, &sheets.ValueRange{Values: sheetValues(batch)}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	return err
}

func sheetValues(lines [][]string) [][]interface{} {
	out := make([][]interface{}, len(lines))
	for i, line := range lines {
		row := make([]interface{}, len(line))
		for j, cell := range line {
			row[j] = cell
		}
		out[i] = row
	}
	return out
}
