package rules

import (
	"fmt"
	"math"
)

// checkDailyPriceChange flags day-over-day close price moves beyond the
// configured threshold, scoped to the trailing window ending at the latest
// row date so historical date-range runs behave the same as live ones.
func checkDailyPriceChange(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	threshold := cfg.Threshold("price_change_threshold_pct", 35)
	windowDays := int(cfg.Threshold("trailing_window_days", 7))

	windowed := trailingWindow(rows, windowDays)

	var anomalies []Anomaly
	groups := groupBySymbol(windowed)
	for _, symbol := range sortedSymbols(groups) {
		group := groups[symbol]
		if len(group) < 2 {
			continue
		}
		var prev float64
		var havePrev bool
		for _, row := range group {
			close_, ok := rowFloat(row, "close")
			if !ok {
				continue
			}
			if havePrev {
				if chg, ok := pctChange(prev, close_); ok && math.Abs(chg) > threshold {
					d, _ := rowDate(row, "date")
					anomalies = append(anomalies, Anomaly{
						Type:          "extreme_daily_price_change",
						Severity:      SeverityWarning,
						Metric:        "close",
						Symbol:        symbol,
						Date:          d.Format(dateLayout),
						Difference:    close_ - prev,
						DifferencePct: math.Round(chg*100) / 100,
						Message: fmt.Sprintf("Symbol %s on %s: close price changed by %.1f%% (close: %g)",
							symbol, d.Format(dateLayout), chg, close_),
					})
				}
			}
			prev = close_
			havePrev = true
		}
	}
	return anomalies, nil
}

// checkVolumeSpike flags days whose trading volume exceeds the trailing
// window average by the configured ratio.
func checkVolumeSpike(rows []Row, cfg RuleConfig) ([]Anomaly, error) {
	ratio := cfg.Threshold("volume_spike_ratio", 5)
	windowDays := int(cfg.Threshold("trailing_window_days", 7))

	windowed := trailingWindow(rows, windowDays)

	var anomalies []Anomaly
	groups := groupBySymbol(windowed)
	for _, symbol := range sortedSymbols(groups) {
		group := groups[symbol]
		if len(group) < 3 {
			continue
		}
		for i, row := range group {
			vol, ok := rowFloat(row, "volume")
			if !ok || i == 0 {
				continue
			}
			// Baseline is the average of prior days in the window.
			var sum float64
			var n int
			for _, prior := range group[:i] {
				if pv, ok := rowFloat(prior, "volume"); ok {
					sum += pv
					n++
				}
			}
			if n < 2 || sum == 0 {
				continue
			}
			avg := sum / float64(n)
			if vol > avg*ratio {
				d, _ := rowDate(row, "date")
				anomalies = append(anomalies, Anomaly{
					Type:          "abnormal_volume_spike",
					Severity:      SeverityWarning,
					Metric:        "volume",
					Symbol:        symbol,
					Date:          d.Format(dateLayout),
					Difference:    vol - avg,
					DifferencePct: math.Round((vol/avg-1)*10000) / 100,
					Message: fmt.Sprintf("Symbol %s on %s: volume %.0f is %.1fx the trailing average %.0f",
						symbol, d.Format(dateLayout), vol, vol/avg, avg),
				})
			}
		}
	}
	return anomalies, nil
}

// trailingWindow keeps rows within windowDays of the latest row date.
func trailingWindow(rows []Row, windowDays int) []Row {
	latest := LatestDate(rows)
	if latest.IsZero() || windowDays <= 0 {
		return rows
	}
	cutoff := latest.AddDate(0, 0, -windowDays)
	var out []Row
	for _, row := range rows {
		if d, ok := rowDate(row, "date"); ok && !d.Before(cutoff) {
			out = append(out, row)
		}
	}
	return out
}
