package rules

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cast"
)

// CustomRule is an operator-defined expression rule carried in a table's
// validation config under "custom_rules". The expression is evaluated per
// row with env {row, prev}; a true result raises an anomaly.
type CustomRule struct {
	Name       string
	Expression string
	Message    string
	Severity   Severity

	compiled *vm.Program
}

// ParseCustomRules extracts and validates the custom_rules entries from a
// rule config. Each expression is compiled up front so malformed rules are
// rejected at save time, not detected mid-run.
func ParseCustomRules(cfg RuleConfig) ([]*CustomRule, error) {
	raw, ok := cfg["custom_rules"]
	if !ok || raw == nil {
		return nil, nil
	}
	entries, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, fmt.Errorf("custom_rules must be a list")
	}

	var out []*CustomRule
	for i, entry := range entries {
		m, err := cast.ToStringMapE(entry)
		if err != nil {
			return nil, fmt.Errorf("custom_rules[%d]: must be an object", i)
		}
		rule := &CustomRule{
			Name:       cast.ToString(m["name"]),
			Expression: cast.ToString(m["expression"]),
			Message:    cast.ToString(m["message"]),
			Severity:   parseSeverity(cast.ToString(m["severity"])),
		}
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("custom_rule_%d", i)
		}
		if rule.Expression == "" {
			return nil, fmt.Errorf("custom_rules[%d] (%s): expression is required", i, rule.Name)
		}
		prog, err := expr.Compile(rule.Expression, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("custom_rules[%d] (%s): compile: %w", i, rule.Name, err)
		}
		rule.compiled = prog
		out = append(out, rule)
	}
	return out, nil
}

// EvaluateCustomRules runs every custom rule against every row. A rule that
// fails to evaluate contributes a single error rather than aborting the
// remaining rules.
func EvaluateCustomRules(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	customRules, err := ParseCustomRules(cfg)
	if err != nil {
		return nil, err
	}
	if len(customRules) == 0 {
		return nil, nil
	}

	var anomalies []Anomaly
	var firstErr error
	for _, rule := range customRules {
		ruleAnoms, err := rule.apply(rows)
		if err != nil && firstErr == nil {
			firstErr = err
			continue
		}
		anomalies = append(anomalies, ruleAnoms...)
	}
	return anomalies, firstErr
}

func (r *CustomRule) apply(rows []Row) ([]Anomaly, error) {
	var anomalies []Anomaly
	var prev Row
	for _, row := range rows {
		env := map[string]any{"row": row, "prev": prev}
		result, err := expr.Run(r.compiled, env)
		if err != nil {
			return nil, fmt.Errorf("custom rule %s: %w", r.Name, err)
		}
		violated, _ := result.(bool)
		if violated {
			msg := r.Message
			if msg == "" {
				msg = fmt.Sprintf("Custom rule %s violated", r.Name)
			}
			d, _ := rowDate(row, "date")
			anomaly := Anomaly{
				Type:     "custom_rule_violation",
				Severity: r.Severity,
				Symbol:   rowString(row, "symbol"),
				Message:  msg,
				Extra:    map[string]any{"rule_name": r.Name},
			}
			if !d.IsZero() {
				anomaly.Date = d.Format(dateLayout)
			}
			anomalies = append(anomalies, anomaly)
		}
		prev = row
	}
	return anomalies, nil
}

func parseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityError:
		return Severity(s)
	default:
		return SeverityWarning
	}
}
