package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const runsTable = "runs"

// Run status values.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one entry of the run ledger: a fetch, build, enrich or push.
type Run struct {
	ID         int64
	Kind       string
	SourceID   string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	ItemsFound int
	ItemsSaved int
	Errors     int
	Details    map[string]any
}

// RunResult closes a run.
type RunResult struct {
	ItemsFound int
	ItemsSaved int
	Errors     int
	Err        error
	Details    map[string]any
}

// Status derives the final status: failed when the run returned an error
// or saved nothing out of something found.
func (r RunResult) Status() string {
	if r.Err != nil {
		return RunFailed
	}
	if r.Errors > 0 && r.ItemsSaved == 0 && r.ItemsFound > 0 {
		return RunFailed
	}
	return RunCompleted
}

func (s *sqlStore) StartRun(ctx context.Context, kind, sourceID string) (int64, error) {
	query, args, err := s.builder().Insert(runsTable).
		Columns("kind", "source_id", "status", "started_at").
		Values(kind, sourceID, RunRunning, s.now()).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build start run: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

func (s *sqlStore) FinishRun(ctx context.Context, id int64, result RunResult) error {
	details := map[string]any{}
	for k, v := range result.Details {
		details[k] = v
	}
	if result.Err != nil {
		details["error"] = result.Err.Error()
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode run details: %w", err)
	}

	query, args, err := s.builder().Update(runsTable).
		Set("status", result.Status()).
		Set("finished_at", s.now()).
		Set("items_found", result.ItemsFound).
		Set("items_saved", result.ItemsSaved).
		Set("errors", result.Errors).
		Set("details", string(encoded)).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build finish run: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("finish run %d: %w", id, err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *sqlStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := s.builder().
		Select("id", "kind", "source_id", "status", "started_at", "finished_at", "items_found", "items_saved", "errors", "details").
		From(runsTable).
		OrderBy("id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			finished sql.NullTime
			details  sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Kind, &run.SourceID, &run.Status, &run.StartedAt, &finished,
			&run.ItemsFound, &run.ItemsSaved, &run.Errors, &details); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &run.Details)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
