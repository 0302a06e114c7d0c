// Package results persists validation runs and answers the dashboard's
// aggregate queries. Writes go to Postgres; when Postgres is unreachable the
// store degrades to an in-memory SQLite cache and tags responses so callers
// can surface the degraded mode. Cached data is lost on restart.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"idx-validator/internal/rules"
	"idx-validator/internal/store"
	"idx-validator/internal/validator"
)

// Source tags where a read or write landed.
const (
	SourceDatabase = "database"
	SourceLocal    = "local_storage"
)

// Stats backs the dashboard summary cards.
type Stats struct {
	TotalTables       int        `json:"total_tables"`
	ValidatedToday    int        `json:"validated_today"`
	AnomaliesDetected int        `json:"anomalies_detected"`
	EmailsSent        int        `json:"emails_sent"`
	LastValidation    *time.Time `json:"last_validation"`
}

// Trends is the validation-volume time series for the dashboard line chart.
type Trends struct {
	Dates       []string `json:"dates"`
	Validations []int    `json:"validations"`
	Anomalies   []int    `json:"anomalies"`
}

// TableStatus counts tables by their most recent run status.
type TableStatus struct {
	Healthy int `json:"healthy"`
	Warning int `json:"warning"`
	Error   int `json:"error"`
}

type Store struct {
	db       *store.Store
	fallback *fallbackStore
	log      *zap.Logger
}

func New(db *store.Store, log *zap.Logger) (*Store, error) {
	fb, err := newFallbackStore()
	if err != nil {
		return nil, fmt.Errorf("init fallback cache: %w", err)
	}
	return &Store{db: db, fallback: fb, log: log}, nil
}

func (s *Store) Close() {
	s.fallback.Close()
}

// Append persists one run record. On a primary failure the record lands in
// the ephemeral cache instead; the returned source reports where it went.
// A write never fails outright unless both tiers reject it.
func (s *Store) Append(ctx context.Context, r *validator.ValidationResult) (string, error) {
	performed, _ := json.Marshal(r.ValidationsPerformed)
	anomalies, _ := json.Marshal(r.Anomalies)

	_, err := store.Exec(ctx, s.db.Pool, `
		INSERT INTO validation_results
			(id, table_name, status, validations_performed, total_rows,
			 anomalies_count, anomalies, email_sent, validation_timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.TableName, string(r.Status), performed, r.TotalRows,
		r.AnomaliesCount, anomalies, r.EmailSent, r.ValidationTimestamp, r.CreatedAt)
	if err == nil {
		return SourceDatabase, nil
	}

	s.log.Warn("primary result store unavailable, caching locally",
		zap.String("table", r.TableName),
		zap.Error(err))
	if fbErr := s.fallback.append(r); fbErr != nil {
		return "", fmt.Errorf("append result: primary: %v, fallback: %w", err, fbErr)
	}
	return SourceLocal, nil
}

// MarkEmailSent flips the email flag on an already-appended result.
func (s *Store) MarkEmailSent(ctx context.Context, id string) error {
	n, err := store.Exec(ctx, s.db.Pool,
		`UPDATE validation_results SET email_sent = TRUE WHERE id = $1`, id)
	if err != nil {
		return s.fallback.markEmailSent(id)
	}
	if n == 0 {
		return s.fallback.markEmailSent(id)
	}
	return nil
}

// Recent returns results newest-first, optionally filtered to one table.
func (s *Store) Recent(ctx context.Context, tableName string, limit int) ([]validator.ValidationResult, string, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, table_name, status, validations_performed, total_rows,
		       anomalies_count, anomalies, email_sent, validation_timestamp, created_at
		FROM validation_results`
	var args []any
	if tableName != "" {
		query += ` WHERE table_name = $1`
		args = append(args, tableName)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := store.QueryRows(ctx, s.db.Pool, query, args...)
	if err != nil {
		s.log.Warn("primary result store unavailable, reading local cache", zap.Error(err))
		out, fbErr := s.fallback.recent(tableName, limit)
		if fbErr != nil {
			return nil, "", fmt.Errorf("recent results: primary: %v, fallback: %w", err, fbErr)
		}
		return out, SourceLocal, nil
	}

	out := make([]validator.ValidationResult, 0, len(rows))
	for _, row := range rows {
		r, err := scanResult(row)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	return out, SourceDatabase, nil
}

// Stats aggregates the dashboard summary. totalTables counts distinct tables
// that have ever been validated; validatedToday counts runs since UTC
// midnight.
func (s *Store) Stats(ctx context.Context) (*Stats, string, error) {
	row, err := store.QueryRow(ctx, s.db.Pool, `
		SELECT COUNT(DISTINCT table_name)                                         AS total_tables,
		       COUNT(*) FILTER (WHERE created_at >= date_trunc('day', now()))     AS validated_today,
		       COALESCE(SUM(anomalies_count), 0)                                  AS anomalies_detected,
		       COUNT(*) FILTER (WHERE email_sent)                                 AS emails_sent,
		       MAX(validation_timestamp)                                          AS last_validation
		FROM validation_results`)
	if err != nil {
		s.log.Warn("primary result store unavailable, reading local cache", zap.Error(err))
		st, fbErr := s.fallback.stats()
		if fbErr != nil {
			return nil, "", fmt.Errorf("stats: primary: %v, fallback: %w", err, fbErr)
		}
		return st, SourceLocal, nil
	}

	st := &Stats{
		TotalTables:       toInt(row["total_tables"]),
		ValidatedToday:    toInt(row["validated_today"]),
		AnomaliesDetected: toInt(row["anomalies_detected"]),
		EmailsSent:        toInt(row["emails_sent"]),
	}
	if ts, ok := row["last_validation"].(time.Time); ok {
		st.LastValidation = &ts
	}
	return st, SourceDatabase, nil
}

// Trends returns daily run and anomaly counts for the trailing window.
func (s *Store) Trends(ctx context.Context, days int) (*Trends, string, error) {
	if days <= 0 {
		days = 7
	}

	rows, err := store.QueryRows(ctx, s.db.Pool, `
		SELECT to_char(created_at::date, 'YYYY-MM-DD') AS day,
		       COUNT(*)                                AS validations,
		       COALESCE(SUM(anomalies_count), 0)       AS anomalies
		FROM validation_results
		WHERE created_at >= now() - make_interval(days => $1)
		GROUP BY day
		ORDER BY day ASC`, days)
	if err != nil {
		s.log.Warn("primary result store unavailable, reading local cache", zap.Error(err))
		tr, fbErr := s.fallback.trends(days)
		if fbErr != nil {
			return nil, "", fmt.Errorf("trends: primary: %v, fallback: %w", err, fbErr)
		}
		return tr, SourceLocal, nil
	}

	tr := &Trends{Dates: []string{}, Validations: []int{}, Anomalies: []int{}}
	for _, row := range rows {
		tr.Dates = append(tr.Dates, toStr(row["day"]))
		tr.Validations = append(tr.Validations, toInt(row["validations"]))
		tr.Anomalies = append(tr.Anomalies, toInt(row["anomalies"]))
	}
	return tr, SourceDatabase, nil
}

// TableStatus buckets each table by the status of its newest run. Success
// maps to the dashboard's "healthy" bucket.
func (s *Store) TableStatus(ctx context.Context) (*TableStatus, string, error) {
	rows, err := store.QueryRows(ctx, s.db.Pool, `
		SELECT DISTINCT ON (table_name) status
		FROM validation_results
		ORDER BY table_name, created_at DESC`)
	if err != nil {
		s.log.Warn("primary result store unavailable, reading local cache", zap.Error(err))
		ts, fbErr := s.fallback.tableStatus()
		if fbErr != nil {
			return nil, "", fmt.Errorf("table status: primary: %v, fallback: %w", err, fbErr)
		}
		return ts, SourceLocal, nil
	}

	ts := &TableStatus{}
	for _, row := range rows {
		bucketStatus(ts, toStr(row["status"]))
	}
	return ts, SourceDatabase, nil
}

func bucketStatus(ts *TableStatus, status string) {
	switch validator.Status(status) {
	case validator.StatusSuccess:
		ts.Healthy++
	case validator.StatusWarning:
		ts.Warning++
	case validator.StatusError:
		ts.Error++
	}
}

func scanResult(row map[string]any) (validator.ValidationResult, error) {
	r := validator.ValidationResult{
		ID:             toStr(row["id"]),
		TableName:      toStr(row["table_name"]),
		Status:         validator.Status(toStr(row["status"])),
		TotalRows:      toInt(row["total_rows"]),
		AnomaliesCount: toInt(row["anomalies_count"]),
	}
	if b, ok := row["email_sent"].(bool); ok {
		r.EmailSent = b
	}
	if ts, ok := row["validation_timestamp"].(time.Time); ok {
		r.ValidationTimestamp = ts
	}
	if ts, ok := row["created_at"].(time.Time); ok {
		r.CreatedAt = ts
	}
	if err := decodeJSONB(row["validations_performed"], &r.ValidationsPerformed); err != nil {
		return r, fmt.Errorf("decode validations_performed for %s: %w", r.ID, err)
	}
	if err := decodeJSONB(row["anomalies"], &r.Anomalies); err != nil {
		return r, fmt.Errorf("decode anomalies for %s: %w", r.ID, err)
	}
	if r.ValidationsPerformed == nil {
		r.ValidationsPerformed = []string{}
	}
	if r.Anomalies == nil {
		r.Anomalies = []rules.Anomaly{}
	}
	return r, nil
}

func decodeJSONB(v any, dst any) error {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(t, dst)
	case string:
		return json.Unmarshal([]byte(t), dst)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dst)
	}
}

func toInt(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int32:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
