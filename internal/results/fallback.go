package results

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"idx-validator/internal/rules"
	"idx-validator/internal/validator"
)

// fallbackStore is an in-memory SQLite cache used while Postgres is down.
// Best-effort only: its contents vanish on restart.
type fallbackStore struct {
	mu sync.Mutex
	db *sql.DB
}

func newFallbackStore() (*fallbackStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	// The in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	schema := `CREATE TABLE IF NOT EXISTS validation_results (
		id TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		status TEXT NOT NULL,
		validations_performed TEXT NOT NULL,
		total_rows INTEGER NOT NULL,
		anomalies_count INTEGER NOT NULL,
		anomalies TEXT NOT NULL,
		email_sent INTEGER NOT NULL DEFAULT 0,
		validation_timestamp DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &fallbackStore{db: db}, nil
}

func (f *fallbackStore) Close() {
	f.db.Close()
}

func (f *fallbackStore) append(r *validator.ValidationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	performed, _ := json.Marshal(r.ValidationsPerformed)
	anomalies, _ := json.Marshal(r.Anomalies)
	_, err := f.db.Exec(`
		INSERT INTO validation_results
			(id, table_name, status, validations_performed, total_rows,
			 anomalies_count, anomalies, email_sent, validation_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TableName, string(r.Status), string(performed), r.TotalRows,
		r.AnomaliesCount, string(anomalies), r.EmailSent, r.ValidationTimestamp, r.CreatedAt)
	return err
}

func (f *fallbackStore) markEmailSent(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.db.Exec(`UPDATE validation_results SET email_sent = 1 WHERE id = ?`, id)
	return err
}

func (f *fallbackStore) recent(tableName string, limit int) ([]validator.ValidationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	query := `
		SELECT id, table_name, status, validations_performed, total_rows,
		       anomalies_count, anomalies, email_sent, validation_timestamp, created_at
		FROM validation_results`
	var args []any
	if tableName != "" {
		query += ` WHERE table_name = ?`
		args = append(args, tableName)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	sqlRows, err := f.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer sqlRows.Close()

	var out []validator.ValidationResult
	for sqlRows.Next() {
		var r validator.ValidationResult
		var status, performed, anomalies string
		if err := sqlRows.Scan(&r.ID, &r.TableName, &status, &performed, &r.TotalRows,
			&r.AnomaliesCount, &anomalies, &r.EmailSent, &r.ValidationTimestamp, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Status = validator.Status(status)
		if err := json.Unmarshal([]byte(performed), &r.ValidationsPerformed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(anomalies), &r.Anomalies); err != nil {
			return nil, err
		}
		if r.ValidationsPerformed == nil {
			r.ValidationsPerformed = []string{}
		}
		if r.Anomalies == nil {
			r.Anomalies = []rules.Anomaly{}
		}
		out = append(out, r)
	}
	return out, sqlRows.Err()
}

func (f *fallbackStore) stats() (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	row := f.db.QueryRow(`
		SELECT COUNT(DISTINCT table_name),
		       COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(anomalies_count), 0),
		       COALESCE(SUM(email_sent), 0),
		       MAX(validation_timestamp)
		FROM validation_results`, dayStart)

	st := &Stats{}
	// MAX() strips the column decltype, so the sqlite driver returns the
	// stored text instead of a time.Time; scan the string and parse it.
	var last sql.NullString
	if err := row.Scan(&st.TotalTables, &st.ValidatedToday, &st.AnomaliesDetected, &st.EmailsSent, &last); err != nil {
		return nil, err
	}
	if last.Valid {
		t, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", last.String)
		if err != nil {
			return nil, fmt.Errorf("parse last validation timestamp: %w", err)
		}
		st.LastValidation = &t
	}
	return st, nil
}

func (f *fallbackStore) trends(days int) (*Trends, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	since := time.Now().UTC().AddDate(0, 0, -days)
	sqlRows, err := f.db.Query(`
		SELECT strftime('%Y-%m-%d', created_at), COUNT(*), COALESCE(SUM(anomalies_count), 0)
		FROM validation_results
		WHERE created_at >= ?
		GROUP BY 1
		ORDER BY 1 ASC`, since)
	if err != nil {
		return nil, err
	}
	defer sqlRows.Close()

	tr := &Trends{Dates: []string{}, Validations: []int{}, Anomalies: []int{}}
	for sqlRows.Next() {
		var day string
		var validations, anomalies int
		if err := sqlRows.Scan(&day, &validations, &anomalies); err != nil {
			return nil, err
		}
		tr.Dates = append(tr.Dates, day)
		tr.Validations = append(tr.Validations, validations)
		tr.Anomalies = append(tr.Anomalies, anomalies)
	}
	return tr, sqlRows.Err()
}

func (f *fallbackStore) tableStatus() (*TableStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sqlRows, err := f.db.Query(`
		SELECT status FROM validation_results r
		WHERE created_at = (
			SELECT MAX(created_at) FROM validation_results
			WHERE table_name = r.table_name
		)`)
	if err != nil {
		return nil, err
	}
	defer sqlRows.Close()

	ts := &TableStatus{}
	for sqlRows.Next() {
		var status string
		if err := sqlRows.Scan(&status); err != nil {
			return nil, err
		}
		bucketStatus(ts, status)
	}
	return ts, sqlRows.Err()
}
