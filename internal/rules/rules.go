// Package rules implements the per-table validation rule sets. Each rule set
// is an ordered list of pure checks over a row batch; thresholds come from
// the table's validation config rather than being hard-coded.
package rules

import "github.com/spf13/cast"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Anomaly is one detected irregularity. Immutable once produced.
type Anomaly struct {
	Type          string         `json:"type"`
	Severity      Severity       `json:"severity"`
	Message       string         `json:"message"`
	Metric        string         `json:"metric,omitempty"`
	Symbol        string         `json:"symbol,omitempty"`
	Date          string         `json:"date,omitempty"`
	Difference    float64        `json:"difference,omitempty"`
	DifferencePct float64        `json:"difference_pct,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Row is one warehouse record keyed by column name.
type Row = map[string]any

// RuleConfig is the loosely-typed validation_rules body of a table's config.
// Numeric entries are thresholds; "metrics" is a column list; "custom_rules"
// holds operator-defined expression rules.
type RuleConfig map[string]any

// Threshold returns the numeric threshold stored under key, or def when the
// key is absent or not numeric.
func (c RuleConfig) Threshold(key string, def float64) float64 {
	v, ok := c[key]
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

// Metrics returns the configured metric column list, or def when unset.
func (c RuleConfig) Metrics(def []string) []string {
	v, ok := c["metrics"]
	if !ok {
		return def
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil || len(out) == 0 {
		return def
	}
	return out
}

// CheckFunc evaluates one rule against a row batch and returns zero or more
// anomalies. An error return never aborts sibling checks; the validator
// converts it into a validation_internal_error anomaly.
type CheckFunc func(rows []Row, cfg RuleConfig) ([]Anomaly, error)

type Check struct {
	Name string
	Fn   CheckFunc
}

// RuleSet is the ordered collection of checks for one table type. Required
// lists the columns the checks depend on; a batch missing any of them is
// rejected up front instead of silently validating clean.
type RuleSet struct {
	ID       string
	Required []string
	Checks   []Check
}

// MissingColumns reports which of cols appear in no row of the batch.
func MissingColumns(rows []Row, cols []string) []string {
	var missing []string
	for _, col := range cols {
		found := false
		for _, row := range rows {
			if _, ok := row[col]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, col)
		}
	}
	return missing
}

// Registry resolves rule sets by ID. The set of IDs is closed: every
// monitored table maps to exactly one of the sets registered here.
type Registry struct {
	sets map[string]*RuleSet
}

func NewRegistry() *Registry {
	r := &Registry{sets: make(map[string]*RuleSet)}
	r.register(&RuleSet{ID: "financial_annual",
		Required: []string{"date", "symbol", "revenue", "earnings", "total_assets"},
		Checks: []Check{
			{Name: "extreme_annual_change", Fn: checkFinancialAnnual},
		}})
	r.register(&RuleSet{ID: "financial_quarterly",
		Required: []string{"date", "symbol", "total_revenue", "earnings", "total_assets"},
		Checks: []Check{
			{Name: "extreme_quarterly_change", Fn: checkFinancialQuarterly},
		}})
	r.register(&RuleSet{ID: "daily_price",
		Required: []string{"date", "symbol", "close"},
		Checks: []Check{
			{Name: "extreme_daily_price_change", Fn: checkDailyPriceChange},
			{Name: "abnormal_volume_spike", Fn: checkVolumeSpike},
		}})
	r.register(&RuleSet{ID: "dividend",
		Required: []string{"symbol", "yield", "date"},
		Checks: []Check{
			{Name: "high_average_yield", Fn: checkDividendYieldCeiling},
			{Name: "large_yield_change", Fn: checkDividendYieldChange},
		}})
	r.register(&RuleSet{ID: "all_time_price",
		Required: []string{"symbol", "type", "date", "price"},
		Checks: []Check{
			{Name: "price_tier_consistency", Fn: checkPriceTierConsistency},
		}})
	r.register(&RuleSet{ID: "filings",
		Required: []string{"symbol", "date", "price"},
		Checks: []Check{
			{Name: "filing_price_deviation", Fn: checkFilingPriceDeviation},
		}})
	r.register(&RuleSet{ID: "stock_split",
		Required: []string{"symbol", "date"},
		Checks: []Check{
			{Name: "split_timing", Fn: checkSplitTiming},
		}})
	return r
}

func (r *Registry) register(set *RuleSet) {
	r.sets[set.ID] = set
}

// Get returns the rule set with the given ID, or nil.
func (r *Registry) Get(id string) *RuleSet {
	return r.sets[id]
}
