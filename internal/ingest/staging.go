package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/david/aap-watch/internal/models"
)

const (
	stagingMetadataFile = "metadata.json"
	stagingContentDir   = "content"
)

// StagingStore persists connector output between the fetch and build
// stages. Each source gets <root>/<source>/metadata.json with every record
// minus its description, and description blobs under content/, addressed
// by content hash.
type StagingStore struct {
	Root string
}

// StagedSource is the metadata.json document of one source.
type StagedSource struct {
	SourceID  string         `json:"source_id"`
	FetchedAt time.Time      `json:"fetched_at"`
	Records   []stagedRecord `json:"records"`
}

type stagedRecord struct {
	models.RawRecord
	ContentID string `json:"content_id,omitempty"`
}

func NewStagingStore(root string) *StagingStore {
	return &StagingStore{Root: root}
}

// ContentID returns the blob name for text: the first 16 hex chars of its
// SHA-256.
func ContentID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// Save replaces the staged records of sourceID. Content blobs are written
// once and never rewritten.
func (s *StagingStore) Save(sourceID string, raws []models.RawRecord) error {
	dir := filepath.Join(s.Root, sourceID)
	contentDir := filepath.Join(dir, stagingContentDir)
	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	doc := StagedSource{
		SourceID:  sourceID,
		FetchedAt: time.Now().UTC(),
		Records:   make([]stagedRecord, 0, len(raws)),
	}
	for _, raw := range raws {
		rec := stagedRecord{RawRecord: raw}
		if raw.DescriptionText != "" {
			rec.ContentID = ContentID(raw.DescriptionText)
			if err := writeBlobOnce(filepath.Join(contentDir, rec.ContentID+".txt"), raw.DescriptionText); err != nil {
				return err
			}
			rec.DescriptionText = ""
		}
		doc.Records = append(doc.Records, rec)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode staging metadata: %w", err)
	}
	tmp := filepath.Join(dir, stagingMetadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write staging metadata: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, stagingMetadataFile)); err != nil {
		return fmt.Errorf("write staging metadata: %w", err)
	}
	return nil
}

func writeBlobOnce(path, text string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write content blob: %w", err)
	}
	return nil
}

// Load returns the staged records of sourceID with descriptions restored.
// A missing blob leaves the description empty.
func (s *StagingStore) Load(sourceID string) ([]models.RawRecord, error) {
	dir := filepath.Join(s.Root, sourceID)
	data, err := os.ReadFile(filepath.Join(dir, stagingMetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: nothing staged for %s", ErrUnknownSource, sourceID)
		}
		return nil, fmt.Errorf("read staging metadata: %w", err)
	}

	var doc StagedSource
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode staging metadata: %w", err)
	}

	raws := make([]models.RawRecord, 0, len(doc.Records))
	for _, rec := range doc.Records {
		raw := rec.RawRecord
		if raw.SourceID == "" {
			raw.SourceID = doc.SourceID
		}
		if rec.ContentID != "" {
			blob, err := os.ReadFile(filepath.Join(dir, stagingContentDir, rec.ContentID+".txt"))
			if err == nil {
				raw.DescriptionText = string(blob)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read content blob %s: %w", rec.ContentID, err)
			}
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// Sources lists the source ids that have staged records, sorted.
func (s *StagingStore) Sources() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read staging root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.Root, e.Name(), stagingMetadataFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
