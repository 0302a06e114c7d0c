package rules

import (
	"fmt"
	"math"
	"sort"
)

// checkDividendYieldCeiling flags years where a symbol's average dividend
// yield reaches the configured ceiling. Yields are stored as fractions
// (0.30 = 30%).
func checkDividendYieldCeiling(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	ceiling := cfg.Threshold("yield_ceiling", 0.30)

	var anomalies []Anomaly
	groups := groupBySymbol(rows)
	for _, symbol := range sortedSymbols(groups) {
		yearly := yearlyAverageYield(groups[symbol])
		for _, year := range sortedYears(yearly) {
			avg := yearly[year]
			if avg >= ceiling {
				anomalies = append(anomalies, Anomaly{
					Type:     "high_average_yield_per_year",
					Severity: SeverityWarning,
					Metric:   "yield",
					Symbol:   symbol,
					Date:     fmt.Sprintf("%d", year),
					Difference: avg - ceiling,
					Message: fmt.Sprintf("Symbol %s year %d: average yield %.2f%% >= %.0f%%",
						symbol, year, avg*100, ceiling*100),
				})
			}
		}
	}
	return anomalies, nil
}

// checkDividendYieldChange flags years where the average yield moved by at
// least the configured fraction against the prior year.
func checkDividendYieldChange(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	changeThreshold := cfg.Threshold("yield_change_threshold", 0.10)

	var anomalies []Anomaly
	groups := groupBySymbol(rows)
	for _, symbol := range sortedSymbols(groups) {
		yearly := yearlyAverageYield(groups[symbol])
		years := sortedYears(yearly)
		for i := 1; i < len(years); i++ {
			prev, cur := yearly[years[i-1]], yearly[years[i]]
			if prev == 0 {
				continue
			}
			change := math.Abs((cur - prev) / prev)
			if change >= changeThreshold {
				anomalies = append(anomalies, Anomaly{
					Type:          "large_average_yield_change_per_year",
					Severity:      SeverityWarning,
					Metric:        "yield",
					Symbol:        symbol,
					Date:          fmt.Sprintf("%d", years[i]),
					Difference:    cur - prev,
					DifferencePct: math.Round(change*10000) / 100,
					Message: fmt.Sprintf("Symbol %s year %d: average yield change %.2f%% >= %.0f%%",
						symbol, years[i], change*100, changeThreshold*100),
				})
			}
		}
	}
	return anomalies, nil
}

func yearlyAverageYield(group []Row) map[int]float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, row := range group {
		d, ok := rowDate(row, "date")
		if !ok {
			continue
		}
		y, ok := rowFloat(row, "yield")
		if !ok {
			continue
		}
		sums[d.Year()] += y
		counts[d.Year()]++
	}
	avgs := make(map[int]float64, len(sums))
	for year, sum := range sums {
		avgs[year] = sum / float64(counts[year])
	}
	return avgs
}

func sortedYears(m map[int]float64) []int {
	years := make([]int, 0, len(m))
	for y := range m {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
