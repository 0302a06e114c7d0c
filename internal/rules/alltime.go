package rules

import (
	"fmt"
	"sort"
	"strings"
)

var highTiers = []string{"90_d_high", "ytd_high", "52_w_high", "all_time_high"}
var lowTiers = []string{"90_d_low", "ytd_low", "52_w_low", "all_time_low"}

// checkPriceTierConsistency cross-checks the ordering invariant
// 90d <= YTD <= 52w <= all-time for highs (reversed for lows) per symbol.
// Rows are one price point each: {symbol, type, price}.
func checkPriceTierConsistency(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	bySymbol := make(map[string]map[string]float64)
	for _, row := range rows {
		symbol := rowString(row, "symbol")
		tier := rowString(row, "type")
		price, ok := rowFloat(row, "price")
		if symbol == "" || tier == "" || !ok {
			continue
		}
		if bySymbol[symbol] == nil {
			bySymbol[symbol] = make(map[string]float64)
		}
		// First value wins on duplicate tiers.
		if _, exists := bySymbol[symbol][tier]; !exists {
			bySymbol[symbol][tier] = price
		}
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var anomalies []Anomaly
	for _, symbol := range symbols {
		values := bySymbol[symbol]
		var issues []string

		issues = append(issues, tierViolations(values, highTiers, false)...)
		issues = append(issues, tierViolations(values, lowTiers, true)...)

		if len(issues) > 0 {
			anomalies = append(anomalies, Anomaly{
				Type:     "price_data_inconsistency",
				Severity: SeverityError,
				Metric:   "price",
				Symbol:   symbol,
				Message: fmt.Sprintf("Symbol %s: price data inconsistencies detected - %s",
					symbol, strings.Join(issues, "; ")),
				Extra: map[string]any{"issues": issues, "values": values},
			})
		}
	}
	return anomalies, nil
}

// tierViolations walks the tier hierarchy narrow-to-wide. For highs each
// tier must not exceed the next wider one; for lows the comparison flips.
func tierViolations(values map[string]float64, hierarchy []string, lows bool) []string {
	type tierValue struct {
		name  string
		value float64
	}
	var present []tierValue
	for _, tier := range hierarchy {
		if v, ok := values[tier]; ok {
			present = append(present, tierValue{tier, v})
		}
	}

	var issues []string
	for i := 0; i+1 < len(present); i++ {
		cur, next := present[i], present[i+1]
		if !lows && cur.value > next.value {
			issues = append(issues, fmt.Sprintf("%s (%g) > %s (%g)", cur.name, cur.value, next.name, next.value))
		}
		if lows && cur.value < next.value {
			issues = append(issues, fmt.Sprintf("%s (%g) < %s (%g)", cur.name, cur.value, next.name, next.value))
		}
	}
	return issues
}
