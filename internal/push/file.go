package push

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/david/aap-watch/internal/models"
)

// CSVWriter writes the export as CSV with a header line. When Path is set
// the file is replaced, otherwise the rows go to W.
type CSVWriter struct {
	Path string
	W    io.Writer
}

func (c *CSVWriter) Push(ctx context.Context, rows []models.ExportRow) (Result, error) {
	res := Result{Target: "csv", Rows: len(rows)}
	err := writeTo(c.Path, c.W, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		for _, line := range tableValues(rows) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := cw.Write(line); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return res, fmt.Errorf("write csv: %w", err)
	}
	res.Inserted = len(rows)
	res.Batches = 1
	return res, nil
}

// JSONWriter writes the export as an indented JSON array of objects.
type JSONWriter struct {
	Path string
	W    io.Writer
}

func (j *JSONWriter) Push(_ context.Context, rows []models.ExportRow) (Result, error) {
	res := Result{Target: "json", Rows: len(rows)}
	if rows == nil {
		rows = []models.ExportRow{}
	}
	err := writeTo(j.Path, j.W, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(rows)
	})
	if err != nil {
		return res, fmt.Errorf("write json: %w", err)
	}
	res.Inserted = len(rows)
	res.Batches = 1
	return res, nil
}

// writeTo writes through a temporary file renamed into place, so a failed
// export never leaves a truncated file behind.
func writeTo(path string, w io.Writer, fn func(io.Writer) error) error {
	if path == "" {
		if w == nil {
			w = os.Stdout
		}
		return fn(w)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := fn(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
