package validator

import (
	"errors"
	"testing"
	"time"

	"idx-validator/internal/catalog"
	"idx-validator/internal/rules"
	"idx-validator/internal/valconfig"
)

func setup(t *testing.T, tableName string) (*Validator, *catalog.TableDescriptor, *valconfig.ValidationConfig) {
	t.Helper()
	cat := catalog.NewRegistry()
	table := cat.Get(tableName)
	if table == nil {
		t.Fatalf("unknown table %s", tableName)
	}
	return New(rules.NewRegistry()), table, valconfig.DefaultConfig(table)
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestValidate_EmptyRowsIsSuccess(t *testing.T) {
	v, table, cfg := setup(t, "idx_daily_data")

	result, err := v.Validate(table, cfg, nil, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("expected success for empty rows, got %s", result.Status)
	}
	if result.TotalRows != 0 || result.AnomaliesCount != 0 {
		t.Fatalf("expected zero counts, got rows=%d anomalies=%d", result.TotalRows, result.AnomaliesCount)
	}
	if result.Anomalies == nil {
		t.Fatal("anomalies must be an empty list, not nil")
	}
}

func TestValidate_CountMatchesAnomalies(t *testing.T) {
	v, table, cfg := setup(t, "idx_daily_data")
	rows := []rules.Row{
		{"symbol": "A.JK", "date": day("2024-03-01"), "close": float64(100)},
		{"symbol": "A.JK", "date": day("2024-03-02"), "close": float64(150)},
		{"symbol": "A.JK", "date": day("2024-03-03"), "close": float64(60)},
	}

	result, err := v.Validate(table, cfg, rows, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.AnomaliesCount != len(result.Anomalies) {
		t.Fatalf("anomalies_count %d != len(anomalies) %d", result.AnomaliesCount, len(result.Anomalies))
	}
	if result.AnomaliesCount == 0 {
		t.Fatal("expected anomalies for 50% and -60% moves")
	}
	if result.TotalRows != 3 {
		t.Fatalf("expected total_rows 3, got %d", result.TotalRows)
	}
}

func TestValidate_MissingRequiredColumnsIsError(t *testing.T) {
	v, table, cfg := setup(t, "idx_daily_data")
	// A renamed close column means schema drift, not a clean table.
	rows := []rules.Row{
		{"symbol": "A.JK", "date": day("2024-03-01"), "closing": float64(100)},
		{"symbol": "A.JK", "date": day("2024-03-02"), "closing": float64(250)},
	}

	result, err := v.Validate(table, cfg, rows, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Status != StatusError {
		t.Fatalf("expected error status for missing columns, got %s", result.Status)
	}
	if result.AnomaliesCount != 1 || result.Anomalies[0].Type != "missing_required_columns" {
		t.Fatalf("expected one missing_required_columns anomaly, got %+v", result.Anomalies)
	}
	if result.Anomalies[0].Severity != rules.SeverityError {
		t.Fatalf("expected error severity, got %s", result.Anomalies[0].Severity)
	}
	cols, _ := result.Anomalies[0].Extra["columns"].([]string)
	if len(cols) != 1 || cols[0] != "close" {
		t.Fatalf("expected the missing column named, got %v", result.Anomalies[0].Extra["columns"])
	}
}

func TestValidate_PresentColumnsPassRequiredGuard(t *testing.T) {
	v, table, cfg := setup(t, "idx_dividend")
	rows := []rules.Row{
		{"symbol": "A.JK", "date": day("2024-05-01"), "yield": 0.05},
	}

	result, err := v.Validate(table, cfg, rows, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, a := range result.Anomalies {
		if a.Type == "missing_required_columns" {
			t.Fatalf("unexpected missing-columns anomaly: %+v", a)
		}
	}
}

func TestValidate_StatusDerivation(t *testing.T) {
	v, table, cfg := setup(t, "idx_daily_data")
	// Two warning anomalies from two extreme moves.
	rows := []rules.Row{
		{"symbol": "A.JK", "date": day("2024-03-01"), "close": float64(100)},
		{"symbol": "A.JK", "date": day("2024-03-02"), "close": float64(150)},
		{"symbol": "A.JK", "date": day("2024-03-03"), "close": float64(60)},
	}

	// Below threshold: warning.
	cfg.ErrorThreshold = 5
	result, err := v.Validate(table, cfg, rows, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Status != StatusWarning {
		t.Fatalf("expected warning below threshold, got %s", result.Status)
	}

	// At threshold: error.
	cfg.ErrorThreshold = result.AnomaliesCount
	result, err = v.Validate(table, cfg, rows, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Status != StatusError {
		t.Fatalf("expected error at threshold, got %s", result.Status)
	}
}

func TestValidate_ErrorSeverityEscalates(t *testing.T) {
	v, table, cfg := setup(t, "idx_all_time_price")
	cfg.ErrorThreshold = 100 // count alone would stay warning
	rows := []rules.Row{
		{"symbol": "B.JK", "type": "90_d_high", "date": day("2024-03-01"), "price": float64(120)},
		{"symbol": "B.JK", "type": "52_w_high", "date": day("2024-03-01"), "price": float64(100)},
	}

	result, err := v.Validate(table, cfg, rows, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Status != StatusError {
		t.Fatalf("error-severity anomaly must escalate status, got %s", result.Status)
	}
}

func TestValidate_BrokenCustomRuleBecomesAnomaly(t *testing.T) {
	v, table, cfg := setup(t, "idx_daily_data")
	// Expression compiles but fails at runtime against these rows.
	cfg.Rules["custom_rules"] = []any{
		map[string]any{"name": "bad", "expression": `row.missing.deeper == "x"`},
	}
	rows := []rules.Row{
		{"symbol": "A.JK", "date": day("2024-03-01"), "close": float64(100)},
		{"symbol": "A.JK", "date": day("2024-03-02"), "close": float64(101)},
	}

	result, err := v.Validate(table, cfg, rows, nil)
	if err != nil {
		t.Fatalf("a broken rule must not fail the run: %v", err)
	}
	var found bool
	for _, a := range result.Anomalies {
		if a.Type == "validation_internal_error" {
			found = true
			if a.Severity != rules.SeverityError {
				t.Fatalf("internal error anomaly must be error severity, got %s", a.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("expected validation_internal_error anomaly, got %+v", result.Anomalies)
	}
}

func TestValidate_TimestampFromRows(t *testing.T) {
	v, table, cfg := setup(t, "idx_stock_split")
	rows := []rules.Row{
		{"symbol": "C.JK", "date": day("2024-05-01")},
		{"symbol": "C.JK", "date": day("2024-06-15")},
	}

	result, err := v.Validate(table, cfg, rows, nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.ValidationTimestamp.Equal(day("2024-06-15")) {
		t.Fatalf("expected timestamp from latest row date, got %v", result.ValidationTimestamp)
	}
}

func TestValidate_TimestampFromRangeWhenNoDates(t *testing.T) {
	v, table, cfg := setup(t, "idx_daily_data")
	end := day("2024-07-01")
	result, err := v.Validate(table, cfg, nil, &DateRange{End: &end})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.ValidationTimestamp.Equal(end) {
		t.Fatalf("expected range end timestamp, got %v", result.ValidationTimestamp)
	}
}

func TestDeriveStatus_ZeroThreshold(t *testing.T) {
	// Threshold 0 escalates any anomaly, but a clean run stays success.
	if got := deriveStatus(nil, 0); got != StatusSuccess {
		t.Fatalf("clean run with threshold 0 must be success, got %s", got)
	}
	anoms := []rules.Anomaly{{Type: "x", Severity: rules.SeverityWarning}}
	if got := deriveStatus(anoms, 0); got != StatusError {
		t.Fatalf("any anomaly with threshold 0 must be error, got %s", got)
	}
}

func TestRunCheck_RecoversPanic(t *testing.T) {
	check := rules.Check{Name: "explode", Fn: func(rows []rules.Row, cfg rules.RuleConfig) ([]rules.Anomaly, error) {
		panic("boom")
	}}
	anomalies := runCheck(check, []rules.Row{{}}, rules.RuleConfig{})
	if len(anomalies) != 1 || anomalies[0].Type != "validation_internal_error" {
		t.Fatalf("expected recovered panic anomaly, got %+v", anomalies)
	}
}

func TestRunCheck_ErrorBecomesAnomaly(t *testing.T) {
	check := rules.Check{Name: "failing", Fn: func(rows []rules.Row, cfg rules.RuleConfig) ([]rules.Anomaly, error) {
		return nil, errors.New("backend hiccup")
	}}
	anomalies := runCheck(check, []rules.Row{{}}, rules.RuleConfig{})
	if len(anomalies) != 1 || anomalies[0].Type != "validation_internal_error" {
		t.Fatalf("expected internal error anomaly, got %+v", anomalies)
	}
}
