// Package validator executes a table's rule set over a row batch and
// produces the immutable ValidationResult record.
package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"idx-validator/internal/catalog"
	"idx-validator/internal/rules"
	"idx-validator/internal/valconfig"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// ValidationResult is the outcome of one run against one table. Append-only:
// never mutated after creation.
type ValidationResult struct {
	ID                   string          `json:"id"`
	TableName            string          `json:"table_name"`
	Status               Status          `json:"status"`
	ValidationsPerformed []string        `json:"validations_performed"`
	TotalRows            int             `json:"total_rows"`
	AnomaliesCount       int             `json:"anomalies_count"`
	Anomalies            []rules.Anomaly `json:"anomalies"`
	EmailSent            bool            `json:"email_sent"`
	ValidationTimestamp  time.Time       `json:"validation_timestamp"`
	CreatedAt            time.Time       `json:"created_at"`
}

// DateRange is an optional filter the rows were fetched with.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

type Validator struct {
	rules *rules.Registry
}

func New(ruleRegistry *rules.Registry) *Validator {
	return &Validator{rules: ruleRegistry}
}

// Validate runs the table's rule set and derives the overall status. A
// failing check is absorbed as a validation_internal_error anomaly so one
// broken rule cannot null out an otherwise valid result. Empty input is a
// success with zero rows, not an anomaly.
func (v *Validator) Validate(table *catalog.TableDescriptor, cfg *valconfig.ValidationConfig, rows []rules.Row, dateRange *DateRange) (*ValidationResult, error) {
	set := v.rules.Get(table.RuleSetID)
	if set == nil {
		return nil, fmt.Errorf("no rule set registered for table %s (rule set %s)", table.Name, table.RuleSetID)
	}

	now := time.Now().UTC()
	result := &ValidationResult{
		ID:                   uuid.New().String(),
		TableName:            table.Name,
		Status:               StatusSuccess,
		ValidationsPerformed: []string{},
		TotalRows:            len(rows),
		Anomalies:            []rules.Anomaly{},
		ValidationTimestamp:  now,
		CreatedAt:            now,
	}

	if len(rows) == 0 {
		if dateRange != nil && dateRange.End != nil {
			result.ValidationTimestamp = *dateRange.End
		}
		return result, nil
	}

	// A batch missing required columns is a schema problem, not a clean
	// run. Reject it up front; the checks would silently no-op otherwise.
	if missing := rules.MissingColumns(rows, set.Required); len(missing) > 0 {
		result.ValidationsPerformed = append(result.ValidationsPerformed, "required_columns")
		result.Anomalies = append(result.Anomalies, rules.Anomaly{
			Type:     "missing_required_columns",
			Severity: rules.SeverityError,
			Message:  "Missing required columns: " + strings.Join(missing, ", "),
			Extra:    map[string]any{"columns": missing},
		})
		result.AnomaliesCount = len(result.Anomalies)
		result.Status = StatusError
		if latest := rules.LatestDate(rows); !latest.IsZero() {
			result.ValidationTimestamp = latest
		} else if dateRange != nil && dateRange.End != nil {
			result.ValidationTimestamp = *dateRange.End
		}
		return result, nil
	}

	for _, check := range set.Checks {
		result.ValidationsPerformed = append(result.ValidationsPerformed, check.Name)
		result.Anomalies = append(result.Anomalies, runCheck(check, rows, cfg.Rules)...)
	}

	customAnoms, customErr := rules.EvaluateCustomRules(rows, cfg.Rules)
	if customErr != nil || len(customAnoms) > 0 {
		result.ValidationsPerformed = append(result.ValidationsPerformed, "custom_rules")
		result.Anomalies = append(result.Anomalies, customAnoms...)
		if customErr != nil {
			result.Anomalies = append(result.Anomalies, internalError("custom_rules", customErr))
		}
	}

	result.AnomaliesCount = len(result.Anomalies)
	result.Status = deriveStatus(result.Anomalies, cfg.ErrorThreshold)

	if latest := rules.LatestDate(rows); !latest.IsZero() {
		result.ValidationTimestamp = latest
	} else if dateRange != nil && dateRange.End != nil {
		result.ValidationTimestamp = *dateRange.End
	}

	return result, nil
}

// runCheck isolates a single check: an error return or panic becomes one
// error-severity anomaly instead of aborting the sibling checks.
func runCheck(check rules.Check, rows []rules.Row, cfg rules.RuleConfig) (anomalies []rules.Anomaly) {
	defer func() {
		if r := recover(); r != nil {
			anomalies = []rules.Anomaly{internalError(check.Name, fmt.Errorf("panic: %v", r))}
		}
	}()

	anomalies, err := check.Fn(rows, cfg)
	if err != nil {
		anomalies = append(anomalies, internalError(check.Name, err))
	}
	return anomalies
}

func internalError(checkName string, err error) rules.Anomaly {
	return rules.Anomaly{
		Type:     "validation_internal_error",
		Severity: rules.SeverityError,
		Message:  fmt.Sprintf("check %s failed: %v", checkName, err),
		Extra:    map[string]any{"check": checkName},
	}
}

// deriveStatus applies the documented precedence: an error-severity anomaly
// always escalates; otherwise the configured count threshold decides. The
// threshold only applies once at least one anomaly exists, so threshold 0
// means "any anomaly is an error" rather than "error on clean runs".
func deriveStatus(anomalies []rules.Anomaly, errorThreshold int) Status {
	if len(anomalies) == 0 {
		return StatusSuccess
	}
	for _, a := range anomalies {
		if a.Severity == rules.SeverityError {
			return StatusError
		}
	}
	if len(anomalies) >= errorThreshold {
		return StatusError
	}
	return StatusWarning
}
