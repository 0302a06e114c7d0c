package rules

import (
	"fmt"
	"math"
)

// checkFilingPriceDeviation compares each filing's transaction price against
// the daily close at the filing date. The warehouse fetch joins the close in
// as daily_close; filings without a matching daily row are skipped.
func checkFilingPriceDeviation(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	threshold := cfg.Threshold("price_deviation_threshold_pct", 50)

	var anomalies []Anomaly
	for _, row := range rows {
		symbol := rowString(row, "symbol")
		price, okPrice := rowFloat(row, "price")
		close_, okClose := rowFloat(row, "daily_close")
		if symbol == "" || !okPrice || !okClose || close_ == 0 {
			continue
		}

		deviation := math.Abs((price - close_) / close_ * 100)
		if deviation < threshold {
			continue
		}

		d, _ := rowDate(row, "date")
		anomaly := Anomaly{
			Type:          "filing_price_deviation",
			Severity:      SeverityWarning,
			Metric:        "price",
			Symbol:        symbol,
			Date:          d.Format(dateLayout),
			Difference:    price - close_,
			DifferencePct: math.Round(deviation*100) / 100,
			Message: fmt.Sprintf("Symbol %s filing on %s: filing price %g deviates %.1f%% from daily close %g",
				symbol, d.Format(dateLayout), price, deviation, close_),
		}
		extra := map[string]any{}
		if before, ok := rowFloat(row, "holding_before"); ok {
			extra["holding_before"] = before
		}
		if after, ok := rowFloat(row, "holding_after"); ok {
			extra["holding_after"] = after
		}
		if len(extra) > 0 {
			anomaly.Extra = extra
		}
		anomalies = append(anomalies, anomaly)
	}
	return anomalies, nil
}
