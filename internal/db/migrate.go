package db

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded migrations of the store's dialect that are
// not yet recorded in schema_migrations, in file name order.
func (s *sqlStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	files, err := migrationFiles(s.dialect)
	if err != nil {
		return err
	}

	for _, fileName := range files {
		existsSQL, args, err := s.builder().
			Select("COUNT(*)").From("schema_migrations").
			Where(sq.Eq{"filename": fileName}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build migration check: %w", err)
		}
		var applied int
		if err := s.db.QueryRowContext(ctx, existsSQL, args...).Scan(&applied); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", fileName, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(s.dialect.migrations + "/" + fileName)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", fileName, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", fileName, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", fileName, err)
		}
		markSQL, markArgs, err := s.builder().Insert("schema_migrations").Columns("filename").Values(fileName).ToSql()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("build migration mark: %w", err)
		}
		if _, err := tx.ExecContext(ctx, markSQL, markArgs...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to mark migration %s as applied: %w", fileName, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", fileName, err)
		}
	}

	return nil
}

func migrationFiles(d dialect) ([]string, error) {
	entries, err := migrationsFS.ReadDir(d.migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
