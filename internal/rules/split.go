package rules

import "fmt"

// checkSplitTiming flags symbols with more than one split event inside the
// configured window. Consecutive events closer than the window almost always
// indicate duplicate or erroneous ingestion rather than a real second split.
func checkSplitTiming(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	windowDays := int(cfg.Threshold("split_window_days", 14))

	var anomalies []Anomaly
	groups := groupBySymbol(rows)
	for _, symbol := range sortedSymbols(groups) {
		group := groups[symbol]
		for i := 1; i < len(group); i++ {
			prev, okPrev := rowDate(group[i-1], "date")
			cur, okCur := rowDate(group[i], "date")
			if !okPrev || !okCur {
				continue
			}
			gapDays := int(cur.Sub(prev).Hours() / 24)
			if gapDays < windowDays {
				anomalies = append(anomalies, Anomaly{
					Type:     "multiple_splits_in_window",
					Severity: SeverityWarning,
					Symbol:   symbol,
					Date:     cur.Format(dateLayout),
					Message: fmt.Sprintf("Symbol %s: splits on %s and %s are %d days apart (window %d days)",
						symbol, prev.Format(dateLayout), cur.Format(dateLayout), gapDays, windowDays),
					Extra: map[string]any{
						"first_split":  prev.Format(dateLayout),
						"second_split": cur.Format(dateLayout),
						"gap_days":     gapDays,
					},
				})
			}
		}
	}
	return anomalies, nil
}
