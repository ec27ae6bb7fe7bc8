package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
)

func (s *PostgresStore) SaveEmbedding(ctx context.Context, fingerprint string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for %s", fingerprint)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO record_embeddings (fingerprint, embedding, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (fingerprint) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = NOW()
	`, fingerprint, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("save embedding %s: %w", fingerprint, err)
	}
	return nil
}

// similarQuery ranks records by cosine similarity to $1.
func similarQuery() string {
	cols := make([]string, len(recordColumns))
	for i, c := range recordColumns {
		cols[i] = "r." + c
	}
	return fmt.Sprintf(`
		SELECT %s, 1 - (e.embedding <=> $1) AS similarity
		FROM record_embeddings e
		JOIN records r ON r.fingerprint = e.fingerprint
		ORDER BY e.embedding <=> $1
		LIMIT $2
	`, strings.Join(cols, ", "))
}

// Similar returns the records closest to embedding.
func (s *PostgresStore) Similar(ctx context.Context, embedding []float32, limit int) ([]SimilarRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, similarQuery(), pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	var out []SimilarRecord
	for rows.Next() {
		var similarity float64
		rec, err := scanRecord(func(dest ...any) error {
			return rows.Scan(append(dest, &similarity)...)
		})
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, SimilarRecord{Record: rec, Similarity: similarity})
	}
	return out, rows.Err()
}
