// Package notify delivers anomaly alerts over email and publishes run
// events to NATS. Delivery failures are logged and swallowed: alerting must
// never fail a validation run.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"idx-validator/internal/config"
	"idx-validator/internal/validator"
)

// Event subjects consumed downstream.
const (
	SubjectCompleted = "validation.completed"
	SubjectAnomalies = "validation.anomalies"
)

// eventBus is what the service needs from the NATS publisher.
type eventBus interface {
	Publish(subject string, payload any) error
}

type Service struct {
	email config.EmailConfig
	bus   eventBus
	log   *zap.Logger
}

// New builds the notification service. bus may be nil when NATS is not
// configured.
func New(email config.EmailConfig, bus *Publisher, log *zap.Logger) *Service {
	s := &Service{email: email, log: log}
	if bus != nil {
		s.bus = bus
	}
	return s
}

// RunCompleted publishes the run event for every finished run, plus an
// anomalies event when the run found any. Fires regardless of email
// configuration.
func (s *Service) RunCompleted(_ context.Context, r *validator.ValidationResult) {
	s.publishEvent(SubjectCompleted, r)
	if r.AnomaliesCount > 0 {
		s.publishEvent(SubjectAnomalies, r)
	}
}

// NotifyAnomalies emails the configured recipients about an anomalous run.
// Returns whether the email actually went out.
func (s *Service) NotifyAnomalies(_ context.Context, recipients []string, r *validator.ValidationResult) bool {
	if !s.email.Enabled || len(recipients) == 0 {
		return false
	}

	subject := fmt.Sprintf("[IDX Validation] %s: %d anomalies on %s",
		strings.ToUpper(string(r.Status)), r.AnomaliesCount, r.TableName)
	body := buildEmailBody(r)

	if err := s.send(recipients, subject, body); err != nil {
		s.log.Warn("anomaly email failed",
			zap.String("table", r.TableName),
			zap.Strings("recipients", recipients),
			zap.Error(err))
		return false
	}
	s.log.Info("anomaly email sent",
		zap.String("table", r.TableName),
		zap.Int("recipients", len(recipients)))
	return true
}

func (s *Service) publishEvent(subject string, r *validator.ValidationResult) {
	if s.bus == nil {
		return
	}
	event := map[string]any{
		"result_id":            r.ID,
		"table_name":           r.TableName,
		"status":               r.Status,
		"anomalies_count":      r.AnomaliesCount,
		"validation_timestamp": r.ValidationTimestamp,
	}
	if err := s.bus.Publish(subject, event); err != nil {
		s.log.Warn("event publish failed",
			zap.String("subject", subject),
			zap.String("table", r.TableName),
			zap.Error(err))
	}
}

func (s *Service) send(recipients []string, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.email.Host, s.email.Port)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.email.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.email.Username != "" {
		auth = smtp.PlainAuth("", s.email.Username, s.email.Password, s.email.Host)
	}
	return smtp.SendMail(addr, auth, s.email.From, recipients, []byte(msg.String()))
}

func buildEmailBody(r *validator.ValidationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Validation run for %s finished with status %s.\n\n", r.TableName, r.Status)
	fmt.Fprintf(&b, "Rows checked: %d\nAnomalies:    %d\nRun time:     %s\n\n",
		r.TotalRows, r.AnomaliesCount, r.ValidationTimestamp.Format("2006-01-02 15:04:05 MST"))

	limit := len(r.Anomalies)
	if limit > 20 {
		limit = 20
	}
	for _, a := range r.Anomalies[:limit] {
		fmt.Fprintf(&b, "- [%s] %s", a.Severity, a.Type)
		if a.Symbol != "" {
			fmt.Fprintf(&b, " (%s)", a.Symbol)
		}
		if a.Message != "" {
			fmt.Fprintf(&b, ": %s", a.Message)
		}
		b.WriteString("\n")
	}
	if len(r.Anomalies) > limit {
		fmt.Fprintf(&b, "... and %d more\n", len(r.Anomalies)-limit)
	}
	return b.String()
}
