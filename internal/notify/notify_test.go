package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"idx-validator/internal/config"
	"idx-validator/internal/rules"
	"idx-validator/internal/validator"
)

func sampleResult() *validator.ValidationResult {
	return &validator.ValidationResult{
		ID:             "run-1",
		TableName:      "idx_daily_data",
		Status:         validator.StatusWarning,
		TotalRows:      250,
		AnomaliesCount: 2,
		Anomalies: []rules.Anomaly{
			{Type: "extreme_daily_price_change", Severity: rules.SeverityWarning, Symbol: "BBCA", Message: "close moved 42.0% in one day"},
			{Type: "abnormal_volume_spike", Severity: rules.SeverityWarning, Symbol: "TLKM"},
		},
		ValidationTimestamp: time.Date(2025, 8, 5, 10, 0, 0, 0, time.UTC),
	}
}

func TestBuildEmailBodyListsAnomalies(t *testing.T) {
	body := buildEmailBody(sampleResult())

	for _, want := range []string{"idx_daily_data", "warning", "BBCA", "extreme_daily_price_change", "TLKM"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestBuildEmailBodyTruncatesLongLists(t *testing.T) {
	r := sampleResult()
	r.Anomalies = nil
	for i := 0; i < 30; i++ {
		r.Anomalies = append(r.Anomalies, rules.Anomaly{Type: "extreme_daily_price_change", Severity: rules.SeverityWarning})
	}
	r.AnomaliesCount = 30

	body := buildEmailBody(r)
	if !strings.Contains(body, "and 10 more") {
		t.Fatalf("expected truncation marker:\n%s", body)
	}
}

func TestNotifyAnomaliesDisabledEmail(t *testing.T) {
	svc := New(config.EmailConfig{Enabled: false}, nil, zap.NewNop())

	if svc.NotifyAnomalies(context.Background(), []string{"ops@example.com"}, sampleResult()) {
		t.Fatal("disabled email must report not sent")
	}
}

func TestNotifyAnomaliesNoRecipients(t *testing.T) {
	svc := New(config.EmailConfig{Enabled: true, Host: "localhost", Port: 2525}, nil, zap.NewNop())

	if svc.NotifyAnomalies(context.Background(), nil, sampleResult()) {
		t.Fatal("no recipients must report not sent")
	}
}

type fakeBus struct {
	subjects []string
}

func (f *fakeBus) Publish(subject string, _ any) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func TestRunCompletedPublishesCompletedAndAnomalies(t *testing.T) {
	bus := &fakeBus{}
	svc := New(config.EmailConfig{}, nil, zap.NewNop())
	svc.bus = bus

	svc.RunCompleted(context.Background(), sampleResult())

	if len(bus.subjects) != 2 || bus.subjects[0] != SubjectCompleted || bus.subjects[1] != SubjectAnomalies {
		t.Fatalf("expected completed+anomalies events, got %v", bus.subjects)
	}
}

func TestRunCompletedCleanRunPublishesCompletedOnly(t *testing.T) {
	bus := &fakeBus{}
	svc := New(config.EmailConfig{}, nil, zap.NewNop())
	svc.bus = bus

	r := sampleResult()
	r.Status = validator.StatusSuccess
	r.AnomaliesCount = 0
	r.Anomalies = nil
	svc.RunCompleted(context.Background(), r)

	if len(bus.subjects) != 1 || bus.subjects[0] != SubjectCompleted {
		t.Fatalf("expected only the completed event, got %v", bus.subjects)
	}
}

func TestRunCompletedNoBus(t *testing.T) {
	svc := New(config.EmailConfig{}, nil, zap.NewNop())
	// Must be a no-op rather than a panic when NATS is not configured.
	svc.RunCompleted(context.Background(), sampleResult())
}
