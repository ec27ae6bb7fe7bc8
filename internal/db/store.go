package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/david/aap-watch/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Store persists canonical records and the run ledger.
type Store interface {
	Migrate(ctx context.Context) error
	UpsertRecords(ctx context.Context, records []models.CanonicalRecord) (UpsertStats, error)
	ListRecords(ctx context.Context, params ListParams) ([]models.CanonicalRecord, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (models.CanonicalRecord, error)
	MarkEnriched(ctx context.Context, fingerprint string, at time.Time) error
	StartRun(ctx context.Context, kind, sourceID string) (int64, error)
	FinishRun(ctx context.Context, id int64, result RunResult) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// VectorStore is implemented by stores that can hold record embeddings.
type VectorStore interface {
	SaveEmbedding(ctx context.Context, fingerprint string, embedding []float32) error
	Similar(ctx context.Context, embedding []float32, limit int) ([]SimilarRecord, error)
}

// UpsertStats counts the outcome of an UpsertRecords call.
type UpsertStats struct {
	Inserted int
	Updated  int
	Failed   int
	Errors   []error
}

type ListParams struct {
	SourceIDs   []string
	Query       string
	NotEnriched bool
	Limit       int
	Offset      int
}

type SimilarRecord struct {
	Record     models.CanonicalRecord
	Similarity float64
}

const recordsTable = "records"

// recordColumns is the column order shared by inserts and selects.
var recordColumns = []string{
	"fingerprint", "id", "title", "source_url",
	"source_id", "source_name", "source_listing_url", "fetched_at",
	"organization", "organization_url",
	"publication_date", "deadline",
	"categories", "tags", "eligibility", "target_audience",
	"geo_scope", "geo_label", "amount_min", "amount_max",
	"resume", "description", "application_url", "contact_email",
	"status", "closed_explicitly",
}

// fillEmptyAssignments keeps every stored value and only takes the incoming
// one where the stored column is empty. Status is a build-time snapshot and
// follows the latest build; an explicit closure is never undone.
var fillEmptyAssignments = []string{
	"fetched_at = COALESCE(records.fetched_at, excluded.fetched_at)",
	"organization_url = COALESCE(NULLIF(records.organization_url, ''), excluded.organization_url)",
	"publication_date = COALESCE(records.publication_date, excluded.publication_date)",
	"categories = CASE WHEN records.categories IN ('', '[]') THEN excluded.categories ELSE records.categories END",
	"tags = CASE WHEN records.tags IN ('', '[]') THEN excluded.tags ELSE records.tags END",
	"eligibility = CASE WHEN records.eligibility IN ('', '[]') THEN excluded.eligibility ELSE records.eligibility END",
	"target_audience = CASE WHEN records.target_audience IN ('', '[]') THEN excluded.target_audience ELSE records.target_audience END",
	"geo_scope = COALESCE(NULLIF(records.geo_scope, ''), excluded.geo_scope)",
	"geo_label = COALESCE(NULLIF(records.geo_label, ''), excluded.geo_label)",
	"amount_min = COALESCE(records.amount_min, excluded.amount_min)",
	"amount_max = COALESCE(records.amount_max, excluded.amount_max)",
	"resume = COALESCE(NULLIF(records.resume, ''), excluded.resume)",
	"description = COALESCE(NULLIF(records.description, ''), excluded.description)",
	"application_url = COALESCE(NULLIF(records.application_url, ''), excluded.application_url)",
	"contact_email = COALESCE(NULLIF(records.contact_email, ''), excluded.contact_email)",
	"status = excluded.status",
	"closed_explicitly = records.closed_explicitly OR excluded.closed_explicitly",
	"updated_at = excluded.updated_at",
}

func upsertSuffix() string {
	return "ON CONFLICT (fingerprint) DO UPDATE SET " + strings.Join(fillEmptyAssignments, ", ")
}

type dialect struct {
	name        string
	placeholder sq.PlaceholderFormat
	migrations  string
}

var (
	postgresDialect = dialect{name: "postgres", placeholder: sq.Dollar, migrations: "migrations/postgres"}
	sqliteDialect   = dialect{name: "sqlite", placeholder: sq.Question, migrations: "migrations/sqlite"}
)

// sqlStore implements Store over database/sql. Queries are portable
// between Postgres and SQLite; only placeholders and DDL differ.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStore(conn *sql.DB, d dialect) *sqlStore {
	return &sqlStore{db: conn, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

func (s *sqlStore) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(s.dialect.placeholder)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// UpsertRecords stores records keyed by fingerprint. Existing rows are only
// completed, never overwritten. A failing record is counted and skipped.
func (s *sqlStore) UpsertRecords(ctx context.Context, records []models.CanonicalRecord) (UpsertStats, error) {
	var stats UpsertStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		fp := rec.Fingerprint()

		existsSQL, existsArgs, err := s.builder().Select("1").From(recordsTable).Where(sq.Eq{"fingerprint": fp}).ToSql()
		if err != nil {
			return stats, fmt.Errorf("build exists query: %w", err)
		}
		var one int
		existed := true
		if err := tx.QueryRowContext(ctx, existsSQL, existsArgs...).Scan(&one); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return stats, fmt.Errorf("check %s: %w", fp, err)
			}
			existed = false
		}

		query, args, err := s.upsertQuery(rec, fp)
		if err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, fmt.Errorf("record %s: %w", fp, err))
			continue
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return stats, fmt.Errorf("upsert %s: %w", fp, err)
		}
		if existed {
			stats.Updated++
		} else {
			stats.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertStats{}, fmt.Errorf("commit upsert: %w", err)
	}
	return stats, nil
}

func (s *sqlStore) upsertQuery(rec models.CanonicalRecord, fp string) (string, []any, error) {
	lists := make([]string, 0, 4)
	for _, v := range []any{rec.Categories, rec.Tags, rec.Eligibility, rec.TargetAudience} {
		encoded, err := encodeList(v)
		if err != nil {
			return "", nil, err
		}
		lists = append(lists, encoded)
	}

	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := s.now()

	return s.builder().
		Insert(recordsTable).
		Columns(append(append([]string(nil), recordColumns...), "created_at", "updated_at")...).
		Values(
			fp, id.String(), rec.Title, rec.SourceURL,
			rec.Source.ID, rec.Source.Name, rec.Source.URL, nullTime(&rec.Source.FetchedAt),
			rec.Organization.Name, rec.Organization.URL,
			nullTime(rec.PublicationDate), nullTime(rec.Deadline),
			lists[0], lists[1], lists[2], lists[3],
			string(rec.GeoScope), rec.GeoLabel, nullFloat(rec.AmountMin), nullFloat(rec.AmountMax),
			rec.Resume, rec.Description, rec.ApplicationURL, rec.ContactEmail,
			string(rec.Status), rec.ClosedExplicitly,
			now, now,
		).
		Suffix(upsertSuffix()).
		ToSql()
}

// listQuery builds the ListRecords query. Records come back in deadline
// order with permanent calls last.
func (s *sqlStore) listQuery(params ListParams) (string, []any, error) {
	q := s.builder().Select(recordColumns...).From(recordsTable)

	if len(params.SourceIDs) > 0 {
		q = q.Where(sq.Eq{"source_id": params.SourceIDs})
	}
	if query := strings.TrimSpace(params.Query); query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		q = q.Where(sq.Or{
			sq.Expr("LOWER(title) LIKE ?", pattern),
			sq.Expr("LOWER(resume) LIKE ?", pattern),
			sq.Expr("LOWER(tags) LIKE ?", pattern),
		})
	}
	if params.NotEnriched {
		q = q.Where(sq.Eq{"enriched_at": nil})
	}

	q = q.OrderBy("deadline IS NULL", "deadline ASC", "title ASC")
	if params.Limit > 0 {
		q = q.Limit(uint64(params.Limit))
	}
	if params.Offset > 0 {
		q = q.Offset(uint64(params.Offset))
	}
	return q.ToSql()
}

func (s *sqlStore) ListRecords(ctx context.Context, params ListParams) ([]models.CanonicalRecord, error) {
	query, args, err := s.listQuery(params)
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	records := []models.CanonicalRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return records, nil
}

func (s *sqlStore) GetByFingerprint(ctx context.Context, fingerprint string) (models.CanonicalRecord, error) {
	query, args, err := s.builder().Select(recordColumns...).From(recordsTable).Where(sq.Eq{"fingerprint": fingerprint}).ToSql()
	if err != nil {
		return models.CanonicalRecord{}, fmt.Errorf("build get query: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CanonicalRecord{}, fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
	}
	if err != nil {
		return models.CanonicalRecord{}, fmt.Errorf("get %s: %w", fingerprint, err)
	}
	return rec, nil
}

func (s *sqlStore) MarkEnriched(ctx context.Context, fingerprint string, at time.Time) error {
	query, args, err := s.builder().Update(recordsTable).
		Set("enriched_at", at.UTC()).
		Where(sq.Eq{"fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark enriched %s: %w", fingerprint, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
	}
	return nil
}

func scanRecord(scan func(dest ...any) error) (models.CanonicalRecord, error) {
	var (
		rec                  models.CanonicalRecord
		fingerprint, id      string
		geoScope, status     string
		categories, tags     string
		eligibility          string
		audience             string
		fetchedAt            sql.NullTime
		publication          sql.NullTime
		deadline             sql.NullTime
		amountMin, amountMax sql.NullFloat64
	)

	err := scan(
		&fingerprint, &id, &rec.Title, &rec.SourceURL,
		&rec.Source.ID, &rec.Source.Name, &rec.Source.URL, &fetchedAt,
		&rec.Organization.Name, &rec.Organization.URL,
		&publication, &deadline,
		&categories, &tags, &eligibility, &audience,
		&geoScope, &rec.GeoLabel, &amountMin, &amountMax,
		&rec.Resume, &rec.Description, &rec.ApplicationURL, &rec.ContactEmail,
		&status, &rec.ClosedExplicitly,
	)
	if err != nil {
		return rec, err
	}

	if parsed, err := uuid.Parse(id); err == nil {
		rec.ID = parsed
	}
	if fetchedAt.Valid {
		rec.Source.FetchedAt = fetchedAt.Time.UTC()
	}
	if publication.Valid {
		rec.PublicationDate = models.DatePtr(&publication.Time)
	}
	if deadline.Valid {
		rec.Deadline = models.DatePtr(&deadline.Time)
	}
	if amountMin.Valid {
		v := amountMin.Float64
		rec.AmountMin = &v
	}
	if amountMax.Valid {
		v := amountMax.Float64
		rec.AmountMax = &v
	}
	rec.GeoScope = models.GeoScope(geoScope)
	rec.Status = models.Status(status)

	if err := decodeList(categories, &rec.Categories); err != nil {
		return rec, fmt.Errorf("decode categories: %w", err)
	}
	if err := decodeList(tags, &rec.Tags); err != nil {
		return rec, fmt.Errorf("decode tags: %w", err)
	}
	if err := decodeList(eligibility, &rec.Eligibility); err != nil {
		return rec, fmt.Errorf("decode eligibility: %w", err)
	}
	if err := decodeList(audience, &rec.TargetAudience); err != nil {
		return rec, fmt.Errorf("decode target audience: %w", err)
	}
	return rec, nil
}

// encodeList stores list fields as JSON arrays; nil becomes "[]".
func encodeList(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

func decodeList[T any](raw string, dest *[]T) error {
	*dest = []T{}
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
