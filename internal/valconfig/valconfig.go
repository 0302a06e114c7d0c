// Package valconfig manages per-table validation configuration: thresholds,
// email recipients, custom rules, and the enabled flag.
package valconfig

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"idx-validator/internal/catalog"
	"idx-validator/internal/rules"
)

const (
	DefaultErrorThreshold = 5
	MaxErrorThreshold     = 1000
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationConfig is the full per-table configuration. Saved as a whole
// (full replace, not merge); created with defaults on first reference.
type ValidationConfig struct {
	TableName       string           `json:"table_name"`
	ErrorThreshold  int              `json:"error_threshold"`
	EmailRecipients []string         `json:"email_recipients"`
	Rules           rules.RuleConfig `json:"validation_rules"`
	Enabled         bool             `json:"enabled"`
}

// ConfigValidationError reports every invalid field of a rejected save.
type ConfigValidationError struct {
	Details []Detail
}

type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigValidationError) Error() string {
	msgs := make([]string, len(e.Details))
	for i, d := range e.Details {
		msgs[i] = fmt.Sprintf("%s: %s", d.Field, d.Message)
	}
	return "config validation failed: " + strings.Join(msgs, "; ")
}

// DefaultConfig returns the built-in configuration for a table. Thresholds
// mirror the documented rule defaults per rule set.
func DefaultConfig(table *catalog.TableDescriptor) *ValidationConfig {
	cfg := &ValidationConfig{
		TableName:       table.Name,
		ErrorThreshold:  DefaultErrorThreshold,
		EmailRecipients: []string{},
		Enabled:         true,
	}
	switch table.RuleSetID {
	case "financial_annual", "financial_quarterly":
		cfg.Rules = rules.RuleConfig{"change_threshold_pct": 50.0, "baseline_ratio": 1.5}
	case "daily_price":
		cfg.Rules = rules.RuleConfig{"price_change_threshold_pct": 35.0, "trailing_window_days": 7.0, "volume_spike_ratio": 5.0}
	case "dividend":
		cfg.Rules = rules.RuleConfig{"yield_ceiling": 0.30, "yield_change_threshold": 0.10}
	case "filings":
		cfg.Rules = rules.RuleConfig{"price_deviation_threshold_pct": 50.0}
	case "stock_split":
		cfg.Rules = rules.RuleConfig{"split_window_days": 14.0}
	default:
		cfg.Rules = rules.RuleConfig{}
	}
	return cfg
}

// Validate checks a config before save. All problems are reported at once.
func (c *ValidationConfig) Validate() *ConfigValidationError {
	var details []Detail

	if c.ErrorThreshold < 0 || c.ErrorThreshold > MaxErrorThreshold {
		details = append(details, Detail{
			Field:   "error_threshold",
			Message: fmt.Sprintf("must be between 0 and %d", MaxErrorThreshold),
		})
	}

	for _, email := range c.EmailRecipients {
		if !emailRegex.MatchString(email) {
			details = append(details, Detail{
				Field:   "email_recipients",
				Message: fmt.Sprintf("invalid email format: %s", email),
			})
		}
	}

	for key, value := range c.Rules {
		switch key {
		case "metrics":
			if _, err := cast.ToStringSliceE(value); err != nil {
				details = append(details, Detail{
					Field:   "validation_rules.metrics",
					Message: "must be a list of column names",
				})
			}
		case "custom_rules":
			if _, err := rules.ParseCustomRules(c.Rules); err != nil {
				details = append(details, Detail{
					Field:   "validation_rules.custom_rules",
					Message: err.Error(),
				})
			}
		default:
			f, err := cast.ToFloat64E(value)
			if err != nil {
				details = append(details, Detail{
					Field:   "validation_rules." + key,
					Message: "threshold must be numeric",
				})
			} else if math.IsNaN(f) || math.IsInf(f, 0) {
				details = append(details, Detail{
					Field:   "validation_rules." + key,
					Message: "threshold must be finite",
				})
			}
		}
	}

	if len(details) > 0 {
		return &ConfigValidationError{Details: details}
	}
	return nil
}
