package results

import (
	"testing"
	"time"

	"idx-validator/internal/rules"
	"idx-validator/internal/validator"
)

func cachedResult(id, table string, status validator.Status, anomalies int, createdAt time.Time) *validator.ValidationResult {
	anoms := make([]rules.Anomaly, anomalies)
	for i := range anoms {
		anoms[i] = rules.Anomaly{Type: "extreme_daily_price_change", Severity: rules.SeverityWarning}
	}
	return &validator.ValidationResult{
		ID:                   id,
		TableName:            table,
		Status:               status,
		ValidationsPerformed: []string{"extreme_daily_price_change"},
		TotalRows:            10,
		AnomaliesCount:       anomalies,
		Anomalies:            anoms,
		ValidationTimestamp:  createdAt,
		CreatedAt:            createdAt,
	}
}

func TestFallbackAppendAndRecent(t *testing.T) {
	fb, err := newFallbackStore()
	if err != nil {
		t.Fatalf("newFallbackStore: %v", err)
	}
	defer fb.Close()

	base := time.Date(2025, 8, 5, 10, 0, 0, 0, time.UTC)
	if err := fb.append(cachedResult("a", "idx_daily_data", validator.StatusSuccess, 0, base)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := fb.append(cachedResult("b", "idx_daily_data", validator.StatusWarning, 2, base.Add(time.Hour))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := fb.append(cachedResult("c", "idx_dividend", validator.StatusError, 7, base.Add(2*time.Hour))); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := fb.recent("", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 results, got %d", len(all))
	}
	if all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("expected newest-first ordering, got %s..%s", all[0].ID, all[2].ID)
	}

	daily, err := fb.recent("idx_daily_data", 10)
	if err != nil {
		t.Fatalf("recent filtered: %v", err)
	}
	if len(daily) != 2 {
		t.Fatalf("expected 2 daily results, got %d", len(daily))
	}
	if daily[0].AnomaliesCount != len(daily[0].Anomalies) {
		t.Fatalf("anomalies_count %d does not match anomalies length %d",
			daily[0].AnomaliesCount, len(daily[0].Anomalies))
	}
}

func TestFallbackRecentLimit(t *testing.T) {
	fb, err := newFallbackStore()
	if err != nil {
		t.Fatalf("newFallbackStore: %v", err)
	}
	defer fb.Close()

	base := time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := cachedResult("id-"+string(rune('a'+i)), "idx_daily_data", validator.StatusSuccess, 0, base.Add(time.Duration(i)*time.Minute))
		if err := fb.append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := fb.recent("", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(got))
	}
}

func TestFallbackStats(t *testing.T) {
	fb, err := newFallbackStore()
	if err != nil {
		t.Fatalf("newFallbackStore: %v", err)
	}
	defer fb.Close()

	now := time.Now().UTC()
	if err := fb.append(cachedResult("a", "idx_daily_data", validator.StatusWarning, 3, now)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := fb.append(cachedResult("b", "idx_dividend", validator.StatusSuccess, 0, now)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := fb.markEmailSent("a"); err != nil {
		t.Fatalf("markEmailSent: %v", err)
	}

	st, err := fb.stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalTables != 2 {
		t.Fatalf("expected 2 tables, got %d", st.TotalTables)
	}
	if st.ValidatedToday != 2 {
		t.Fatalf("expected 2 validated today, got %d", st.ValidatedToday)
	}
	if st.AnomaliesDetected != 3 {
		t.Fatalf("expected 3 anomalies, got %d", st.AnomaliesDetected)
	}
	if st.EmailsSent != 1 {
		t.Fatalf("expected 1 email sent, got %d", st.EmailsSent)
	}
	if st.LastValidation == nil {
		t.Fatal("expected last validation timestamp")
	}
}

func TestFallbackTableStatusUsesLatestRun(t *testing.T) {
	fb, err := newFallbackStore()
	if err != nil {
		t.Fatalf("newFallbackStore: %v", err)
	}
	defer fb.Close()

	base := time.Date(2025, 8, 5, 0, 0, 0, 0, time.UTC)
	if err := fb.append(cachedResult("old", "idx_daily_data", validator.StatusError, 9, base)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := fb.append(cachedResult("new", "idx_daily_data", validator.StatusSuccess, 0, base.Add(time.Hour))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := fb.append(cachedResult("w", "idx_dividend", validator.StatusWarning, 1, base)); err != nil {
		t.Fatalf("append: %v", err)
	}

	ts, err := fb.tableStatus()
	if err != nil {
		t.Fatalf("tableStatus: %v", err)
	}
	if ts.Healthy != 1 || ts.Warning != 1 || ts.Error != 0 {
		t.Fatalf("expected healthy=1 warning=1 error=0, got %+v", ts)
	}
}
