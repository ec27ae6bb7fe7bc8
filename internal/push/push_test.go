package push

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/david/aap-watch/internal/models"
)

var asOf = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func sampleRows() []models.ExportRow {
	deadline := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	ceiling := 15000.0
	records := []models.CanonicalRecord{
		{
			Title:        "Fonds pour l'inclusion numérique",
			SourceURL:    "https://example.org/aap/inclusion",
			Source:       models.SourceInfo{ID: "carenews", Name: "Carenews"},
			Organization: models.Organization{Name: "Fondation Orange"},
			Deadline:     &deadline,
			Categories:   []models.Category{models.CategoryNumerique, models.CategorySolidariteInclusion},
			Tags:         []string{"numérique", "inclusion"},
			AmountMax:    &ceiling,
			Status:       models.StatusOpen,
		},
		{
			Title:        "Appel permanent, \"vie associative\"",
			SourceURL:    "https://example.org/aap/permanent",
			Source:       models.SourceInfo{ID: "paris_fr", Name: "Ville de Paris"},
			Organization: models.Organization{Name: "Ville de Paris"},
			Status:       models.StatusPermanent,
		},
	}
	rows := make([]models.ExportRow, len(records))
	for i, r := range records {
		rows[i] = r.Export(asOf)
	}
	return rows
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	res, err := (&CSVWriter{W: &buf}).Push(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.Equal(t, Result{Target: "csv", Rows: 2, Inserted: 2, Batches: 1}, res)

	lines, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, models.ExportColumns, lines[0])

	col := func(name string) int {
		for i, c := range models.ExportColumns {
			if c == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}
	assert.Equal(t, "numerique, solidarite-inclusion", lines[1][col("categories")])
	assert.Equal(t, "2026-03-20", lines[1][col("deadline")])
	assert.Equal(t, "15000", lines[1][col("amount_max")])
	assert.Equal(t, "", lines[1][col("amount_min")])
	assert.Equal(t, "19", lines[1][col("days_remaining")])
	assert.Equal(t, `Appel permanent, "vie associative"`, lines[2][col("title")])
	assert.Equal(t, "permanent", lines[2][col("urgency")])
}

func TestJSONWriter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "export.json")

	res, err := (&JSONWriter{Path: path}).Push(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "Fondation Orange", decoded[0]["organization"])
	assert.Equal(t, []any{"numérique", "inclusion"}, decoded[0]["tags"])
	assert.Nil(t, decoded[1]["deadline"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file left behind")
}

func TestJSONWriter_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	_, err := (&JSONWriter{W: &buf}).Push(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", buf.String())
}

func TestWithRetry(t *testing.T) {
	fast := RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), zap.NewNop(), func() error {
			calls++
			if calls < 3 {
				return errors.New("quota exceeded")
			}
			return nil
		}, fast)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := withRetry(context.Background(), zap.NewNop(), func() error {
			calls++
			return boom
		}, fast)
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := withRetry(ctx, zap.NewNop(), func() error { return errors.New("fail") },
			RetryOptions{MaxAttempts: 5, InitialDelay: time.Hour})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSheetsConfig_Validate(t *testing.T) {
	valid := DefaultSheetsConfig()
	valid.ServiceAccountPath = "/secrets/sa.json"
	valid.SpreadsheetID = "sheet-123"

	tests := []struct {
		name    string
		mutate  func(*SheetsConfig)
		wantErr string
	}{
		{"service account", func(*SheetsConfig) {}, ""},
		{"oauth", func(c *SheetsConfig) {
			c.ServiceAccountPath = ""
			c.ClientID, c.ClientSecret, c.RefreshToken = "id", "secret", "refresh"
		}, ""},
		{"no auth", func(c *SheetsConfig) { c.ServiceAccountPath = "" }, "no Google Sheets authentication"},
		{"both auth", func(c *SheetsConfig) {
			c.ClientID, c.ClientSecret, c.RefreshToken = "id", "secret", "refresh"
		}, "multiple"},
		{"no spreadsheet", func(c *SheetsConfig) { c.SpreadsheetID = "" }, "spreadsheet id"},
		{"zero batch", func(c *SheetsConfig) { c.BatchSize = 0 }, "batch size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

type sheetsCall struct {
	method string
	path   string
	query  string
	rows   int
}

func TestSheetsPusher_Push(t *testing.T) {
	var (
		mu       sync.Mutex
		calls    []sheetsCall
		failOnce = true
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()

		if r.Method == http.MethodPut && failOnce {
			failOnce = false
			http.Error(w, `{"error": {"code": 503, "message": "backend error"}}`, http.StatusServiceUnavailable)
			return
		}

		call := sheetsCall{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if r.Method == http.MethodPut {
			var vr sheets.ValueRange
			require.NoError(t, json.Unmarshal(body, &vr))
			call.rows = len(vr.Values)
		}
		calls = append(calls, call)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	cfg := SheetsConfig{
		ServiceAccountPath: "unused.json",
		SpreadsheetID:      "sheet-123",
		SheetName:          "AAP",
		BatchSize:          2,
		RetryAttempts:      2,
		RetryDelay:         time.Millisecond,
	}
	p, err := NewSheetsPusher(svc, cfg, zap.NewNop())
	require.NoError(t, err)

	var progress []int
	p.OnBatch = func(n int) { progress = append(progress, n) }

	rows := append(sampleRows(), sampleRows()...)
	res, err := p.Push(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, Result{Target: "sheets", Rows: 4, Inserted: 4, Batches: 3}, res)
	assert.Equal(t, []int{1, 2, 1}, progress)

	require.Len(t, calls, 4)
	assert.Equal(t, http.MethodPost, calls[0].method)
	assert.True(t, strings.HasSuffix(calls[0].path, ":clear"), calls[0].path)
	assert.Contains(t, calls[0].path, "sheet-123")
	for _, c := range calls[1:] {
		assert.Equal(t, http.MethodPut, c.method)
		assert.Contains(t, c.query, "valueInputOption=USER_ENTERED")
	}
	assert.Equal(t, []int{2, 2, 1}, []int{calls[1].rows, calls[2].rows, calls[3].rows})
	assert.True(t, strings.HasSuffix(calls[3].path, "AAP!A5"), calls[3].path)
}

func TestUpsertModels(t *testing.T) {
	rows := sampleRows()
	rows = append(rows, models.ExportRow{"title": "sans empreinte"})
	pushedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writes := upsertModels(rows, pushedAt)
	require.Len(t, writes, 2)

	m, ok := writes[0].(*mongo.ReplaceOneModel)
	require.True(t, ok)
	require.NotNil(t, m.Upsert)
	assert.True(t, *m.Upsert)
	assert.Equal(t, bson.D{{Key: "fingerprint", Value: rows[0]["fingerprint"]}}, m.Filter)

	doc, ok := m.Replacement.(bson.M)
	require.True(t, ok)
	assert.Equal(t, pushedAt, doc["pushed_at"])
	assert.Equal(t, "Fondation Orange", doc["organization"])
	_, ok = rows[0]["pushed_at"]
	assert.False(t, ok, "rows are not modified")
}

func TestMongoPusher_Integration(t *testing.T) {
	uri := os.Getenv("AAPWATCH_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("AAPWATCH_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	p, err := NewMongoPusher(ctx, MongoConfig{
		URI:        uri,
		Database:   "aapwatch_test",
		Collection: "records_" + time.Now().Format("150405"),
		Clear:      true,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.coll.Drop(ctx)
		_ = p.Close(ctx)
	})

	res, err := p.Push(ctx, sampleRows())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	res, err = p.Push(ctx, sampleRows())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted, "cleared before the second push")

	n, err := p.coll.CountDocuments(ctx, bson.D{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
