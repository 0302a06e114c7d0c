package rules

import (
	"fmt"
	"math"
	"strings"
)

var annualMetrics = []string{"revenue", "earnings", "total_assets", "total_equity", "operating_pnl"}
var quarterlyMetrics = []string{"total_revenue", "earnings", "total_assets", "total_equity", "operating_pnl"}

// checkFinancialAnnual flags extreme year-over-year changes in financial
// statement metrics. A change counts as extreme only when it exceeds the
// configured threshold AND stands well above the symbol's own average
// absolute change, which suppresses alerts on normally volatile series.
func checkFinancialAnnual(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	return checkFinancialChanges(rows, cfg, financialParams{
		metrics:    cfg.Metrics(annualMetrics),
		minPeriods: 2,
		anomaly:    "extreme_annual_change",
		periodWord: "annual",
	})
}

// checkFinancialQuarterly is the quarterly variant. It requires at least
// four periods so the baseline average reflects a full seasonal cycle.
func checkFinancialQuarterly(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	return checkFinancialChanges(rows, cfg, financialParams{
		metrics:    cfg.Metrics(quarterlyMetrics),
		minPeriods: 4,
		anomaly:    "extreme_quarterly_change",
		periodWord: "quarterly",
	})
}

type financialParams struct {
	metrics    []string
	minPeriods int
	anomaly    string
	periodWord string
}

func checkFinancialChanges(rows []Row, cfg RuleConfig, p financialParams) ([]Anomaly, error) {
	threshold := cfg.Threshold("change_threshold_pct", 50)
	baselineRatio := cfg.Threshold("baseline_ratio", 1.5)

	var anomalies []Anomaly
	groups := groupBySymbol(rows)
	for _, symbol := range sortedSymbols(groups) {
		group := groups[symbol]
		if len(group) < p.minPeriods {
			continue
		}
		for _, metric := range p.metrics {
			changes, dates := metricChanges(group, metric)
			if len(changes) == 0 {
				continue
			}

			var sumAbs float64
			for _, c := range changes {
				sumAbs += math.Abs(c)
			}
			avgAbs := sumAbs / float64(len(changes))

			var extreme []float64
			var affected []string
			for i, c := range changes {
				if math.Abs(c) > threshold && math.Abs(c) > avgAbs*baselineRatio {
					extreme = append(extreme, c)
					affected = append(affected, dates[i])
				}
			}
			if len(extreme) == 0 {
				continue
			}

			anomalies = append(anomalies, Anomaly{
				Type:          p.anomaly,
				Severity:      SeverityWarning,
				Metric:        metric,
				Symbol:        symbol,
				Date:          affected[len(affected)-1],
				DifferencePct: extreme[len(extreme)-1],
				Message: fmt.Sprintf("Symbol %s: %s shows extreme %s changes (>%.0f%%) in periods %s; average absolute change %.1f%%",
					symbol, metric, p.periodWord, threshold, strings.Join(affected, ", "), avgAbs),
				Extra: map[string]any{
					"periods_affected": affected,
					"avg_abs_change":   math.Round(avgAbs*100) / 100,
				},
			})
		}
	}
	return anomalies, nil
}

// metricChanges computes period-over-period percentage changes for one
// metric across an already date-sorted group. Rows missing the metric are
// skipped without breaking the series.
func metricChanges(group []Row, metric string) (changes []float64, dates []string) {
	var prev float64
	var havePrev bool
	for _, row := range group {
		val, ok := rowFloat(row, metric)
		if !ok {
			continue
		}
		if havePrev {
			if chg, ok := pctChange(prev, val); ok {
				changes = append(changes, chg)
				d, _ := rowDate(row, "date")
				dates = append(dates, d.Format(dateLayout))
			}
		}
		prev = val
		havePrev = true
	}
	return changes, dates
}
